package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/mnemo/conversations"
	"github.com/aschepis/backscratcher/mnemo/memory"
)

const systemPrompt = `You will be given the conversation between a user and an assistant and some similar memories from the database. Decide how to combine the new information with the existing memories.

Actions:
- add_memory: add new information as a new memory.
- update_memory: replace an existing memory with richer or corrected information.
- delete_memories: remove memories that are no longer true because of the new information.
- noop: no action is required.

Rules:
- Only record information the user provides about themselves. Never store facts about the assistant or general world knowledge.
- If an existing memory already expresses the new information with no added detail, call noop. Do not add duplicates.
- Keep each memory a single atomic fact.
- Prefer the existing categories when one fits.
- Call one tool at a time. Refer to existing memories only by their memory_id.

When you are done, reply with plain text summarizing what you did in less than 10 words.`

type promptMemory struct {
	MemoryID         int      `json:"memory_id"`
	MemoryText       string   `json:"memory_text"`
	MemoryCategories []string `json:"memory_categories"`
}

// renderPrompt builds the user message for the first decision round.
func renderPrompt(messages []conversations.Message, candidates *memory.CandidateSet, categories []string) (string, error) {
	existing := make([]promptMemory, 0, candidates.Len())
	for i := 0; i < candidates.Len(); i++ {
		m, _ := candidates.At(i) //nolint:errcheck // i is in range
		cats := m.Categories
		if cats == nil {
			cats = []string{}
		}
		existing = append(existing, promptMemory{MemoryID: i, MemoryText: m.Text, MemoryCategories: cats})
	}
	if messages == nil {
		messages = []conversations.Message{}
	}
	if categories == nil {
		categories = []string{}
	}

	var b strings.Builder
	for _, section := range []struct {
		title string
		value any
	}{
		{"messages", messages},
		{"existing_memories", existing},
		{"existing_categories", categories},
	} {
		raw, err := json.MarshalIndent(section.value, "", "  ")
		if err != nil {
			return "", fmt.Errorf("render %s: %w", section.title, err)
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", section.title, raw)
	}
	return strings.TrimSpace(b.String()), nil
}
