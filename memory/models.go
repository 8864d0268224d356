package memory

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// DateLayout is the format of Record.CreatedAt.
const DateLayout = "2006-01-02 15:04"

// Record is the durable unit of memory: one atomic fact about an owner.
//
// An update is stored as delete-old plus insert-new, so CreatedAt of an
// updated record is the time of the update. There is no separate
// "last modified" field.
type Record struct {
	PointID    string    `json:"point_id"`
	OwnerID    string    `json:"owner_id"`
	Text       string    `json:"text"`
	Categories []string  `json:"categories"`
	CreatedAt  string    `json:"created_at"`
	Embedding  []float32 `json:"-"`
}

// RetrievedMemory is a read-only view of a Record produced by a search.
// Score is in [0,1], higher is more similar.
type RetrievedMemory struct {
	Record
	Score float64 `json:"score"`
}

// SearchQuery controls a similarity search.
type SearchQuery struct {
	Vector         []float32
	OwnerID        string
	Categories     []string // match any; empty searches all of the owner's records
	ScoreThreshold float64
	Limit          int
}

// Now returns the current time formatted for Record.CreatedAt.
func Now() string {
	return time.Now().UTC().Format(DateLayout)
}

// NormalizeCategories trims labels, drops empty ones and collapses
// duplicates, keeping first-seen order.
func NormalizeCategories(categories []string) []string {
	cleaned := lo.FilterMap(categories, func(c string, _ int) (string, bool) {
		c = strings.TrimSpace(c)
		return c, c != ""
	})
	return lo.Uniq(cleaned)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
