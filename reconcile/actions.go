package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aschepis/backscratcher/mnemo/llm"
	"github.com/aschepis/backscratcher/mnemo/memory"
)

// Tool names the decision step may call.
const (
	ToolAddMemory      = "add_memory"
	ToolUpdateMemory   = "update_memory"
	ToolDeleteMemories = "delete_memories"
	ToolNoop           = "noop"
)

// Kind names an action variant.
type Kind string

const (
	KindAdd    Kind = "ADD"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
	KindNoop   Kind = "NOOP"
)

// Action is one decision of the reconciliation loop. The set of variants is
// closed: Add, Update, Delete and Noop.
type Action interface {
	Kind() Kind
	action()
}

// Add stores a new memory.
type Add struct {
	Text       string
	Categories []string
}

// Update replaces the candidate at Index with a new memory.
type Update struct {
	Index      int
	Text       string
	Categories []string
}

// Delete removes the candidates at Indices.
type Delete struct {
	Indices []int
}

// Noop changes nothing.
type Noop struct{}

func (Add) Kind() Kind    { return KindAdd }
func (Update) Kind() Kind { return KindUpdate }
func (Delete) Kind() Kind { return KindDelete }
func (Noop) Kind() Kind   { return KindNoop }

func (Add) action()    {}
func (Update) action() {}
func (Delete) action() {}
func (Noop) action()   {}

// ErrInvalidAction is returned for a tool call that is not a well formed
// action.
var ErrInvalidAction = errors.New("invalid action")

// DecodeError describes why a tool call could not be decoded.
type DecodeError struct {
	Tool   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v %q: %s", ErrInvalidAction, e.Tool, e.Reason)
}

func (e *DecodeError) Is(target error) bool { return target == ErrInvalidAction }

// DecodeAction turns a tool call into an Action.
func DecodeAction(call llm.ToolUseBlock) (Action, error) {
	fail := func(format string, args ...any) (Action, error) {
		return nil, &DecodeError{Tool: call.Name, Reason: fmt.Sprintf(format, args...)}
	}
	in := call.Input

	switch call.Name {
	case ToolAddMemory:
		text, ok := stringArg(in, "memory_text")
		if !ok {
			return fail("memory_text is required")
		}
		cats, err := stringsArg(in, "categories")
		if err != nil {
			return fail("%v", err)
		}
		return Add{Text: text, Categories: memory.NormalizeCategories(cats)}, nil

	case ToolUpdateMemory:
		idx, err := intArg(in["memory_id"])
		if err != nil {
			return fail("memory_id: %v", err)
		}
		text, ok := stringArg(in, "updated_memory_text")
		if !ok {
			return fail("updated_memory_text is required")
		}
		cats, err := stringsArg(in, "categories")
		if err != nil {
			return fail("%v", err)
		}
		return Update{Index: idx, Text: text, Categories: memory.NormalizeCategories(cats)}, nil

	case ToolDeleteMemories:
		raw, ok := in["memory_ids"].([]interface{})
		if !ok || len(raw) == 0 {
			return fail("memory_ids must be a non-empty list")
		}
		indices := make([]int, 0, len(raw))
		seen := make(map[int]bool, len(raw))
		for _, v := range raw {
			idx, err := intArg(v)
			if err != nil {
				return fail("memory_ids: %v", err)
			}
			if !seen[idx] {
				seen[idx] = true
				indices = append(indices, idx)
			}
		}
		return Delete{Indices: indices}, nil

	case ToolNoop:
		return Noop{}, nil
	}
	return fail("unknown tool")
}

func stringArg(in map[string]interface{}, key string) (string, bool) {
	s, ok := in[key].(string)
	s = strings.TrimSpace(s)
	return s, ok && s != ""
}

// stringsArg accepts a list of strings. Some models send a single string
// or a JSON-encoded list instead.
func stringsArg(in map[string]interface{}, key string) ([]string, error) {
	switch v := in[key].(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must contain strings, got %T", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		var list []string
		if err := json.Unmarshal([]byte(v), &list); err == nil {
			return list, nil
		}
		return []string{v}, nil
	}
	return nil, fmt.Errorf("%s must be a list of strings", key)
}

func intArg(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	case nil:
		return 0, errors.New("missing")
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

// describe renders an action for logs and summaries.
func describe(a Action) string {
	switch a := a.(type) {
	case Add:
		return fmt.Sprintf("ADD %q %v", a.Text, a.Categories)
	case Update:
		return fmt.Sprintf("UPDATE #%d to %q %v", a.Index, a.Text, a.Categories)
	case Delete:
		return fmt.Sprintf("DELETE %v", a.Indices)
	case Noop:
		return "NOOP"
	}
	return "unknown"
}
