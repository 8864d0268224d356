package retrieval

import (
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/mnemo/memory"
	"github.com/samber/lo"
)

// Format renders a memory for a model prompt. Downstream prompts depend on
// this exact shape:
//
//	<text> (Categories: <c1, c2>) Relevance: <score with 2 decimals>
func Format(m memory.RetrievedMemory) string {
	return fmt.Sprintf("%s (Categories: %s) Relevance: %.2f", m.Text, strings.Join(m.Categories, ", "), m.Score)
}

// FormatAll renders every candidate in order.
func FormatAll(set *memory.CandidateSet) []string {
	if set == nil {
		return nil
	}
	return lo.Map(set.Memories, func(m memory.RetrievedMemory, _ int) string {
		return Format(m)
	})
}
