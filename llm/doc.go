// Package llm is a provider-neutral layer over chat completion APIs with
// tool use.
//
// Messages carry text, tool use and tool result blocks. A Client turns a
// Request (model, system prompt, messages, tool specs) into a Response.
// Provider adapters live in the anthropic, openai and ollama subpackages;
// ProviderRegistry picks one from an ordered preference list.
//
// Errors from adapters are *Error values. IsRetryableError tells callers
// whether a retry with backoff is worthwhile; this package never retries.
//
//	key, err := llm.NewProviderRegistry(cfg).Resolve(prefs)
//	client, err := anthropic.NewAnthropicClient(key.APIKey, key.Model, logger)
//	resp, err := client.Synchronous(ctx, &llm.Request{...})
package llm
