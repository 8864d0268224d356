package memtest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/aschepis/backscratcher/mnemo/memory"
)

// ConformanceDims is the vector size used by RunRepositoryConformance.
const ConformanceDims = 256

// RunRepositoryConformance checks the behavior every memory.Repository
// backend must share. newRepo must return an empty repository created
// with ConformanceDims and EnsureCollection already called.
func RunRepositoryConformance(t *testing.T, newRepo func(t *testing.T) memory.Repository) {
	t.Run("OwnerIsolation", func(t *testing.T) {
		h := newHarness(t, newRepo(t))
		h.insert("alice", "User lives in Tokyo", "location")
		for _, cats := range [][]string{nil, {"location"}} {
			for _, threshold := range []float64{0, 0.1, 0.9} {
				if n := h.search("bob", "User lives in Tokyo", threshold, 10, cats...).Len(); n != 0 {
					t.Fatalf("bob saw alice's memory (cats=%v threshold=%v)", cats, threshold)
				}
			}
		}
		if facet := h.facet("bob"); len(facet) != 0 {
			t.Fatalf("bob should have no categories, got %v", facet)
		}
	})

	t.Run("CategoryMatchAny", func(t *testing.T) {
		h := newHarness(t, newRepo(t))
		h.insert("u1", "User lives in Tokyo", "location")
		h.insert("u1", "User prefers green tea", "preferences")
		h.insert("u1", "User works as a nurse", "work")
		set := h.search("u1", "user", 0, 10, "preferences", "work")
		if set.Len() != 2 {
			t.Fatalf("expected 2 records matching any of [preferences work], got %d", set.Len())
		}
		for _, m := range set.Memories {
			if m.Categories[0] == "location" {
				t.Fatalf("category filter leaked %q", m.Text)
			}
		}
		if all := h.search("u1", "user", 0, 10); all.Len() != 3 {
			t.Fatalf("empty category filter should span all records, got %d", all.Len())
		}
	})

	t.Run("ThresholdAndLimitMonotonic", func(t *testing.T) {
		h := newHarness(t, newRepo(t))
		for _, text := range []string{
			"User likes hiking in the mountains",
			"User likes reading in the evening",
			"User likes cooking pasta",
			"User has a dog named Rex",
		} {
			h.insert("u1", text, "hobbies")
		}
		query := "what does the user like doing in the evening"
		prev := -1
		for _, threshold := range []float64{0, 0.1, 0.2, 0.4, 0.6, 0.8, 1.0} {
			set := h.search("u1", query, threshold, 10)
			for _, m := range set.Memories {
				if m.Score < threshold || m.Score > 1 {
					t.Fatalf("score %v outside [%v,1]", m.Score, threshold)
				}
			}
			if prev >= 0 && set.Len() > prev {
				t.Fatalf("raising threshold to %v increased results from %d to %d", threshold, prev, set.Len())
			}
			prev = set.Len()
		}
		prev = -1
		for limit := 4; limit >= 0; limit-- {
			n := h.search("u1", query, 0, limit).Len()
			if n > limit || (prev >= 0 && n > prev) {
				t.Fatalf("limit %d returned %d (previous %d)", limit, n, prev)
			}
			prev = n
		}
	})

	t.Run("ReplaceByDeleteThenInsert", func(t *testing.T) {
		h := newHarness(t, newRepo(t))
		old := h.insert("u1", "User prefers coffee", "preferences")
		if err := h.repo.Delete(h.ctx, []string{old.PointID}); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		repl := h.insert("u1", "User prefers tea", "preferences")
		if repl.PointID == old.PointID {
			t.Fatalf("replacement reused point id %s", old.PointID)
		}
		set := h.search("u1", "what does the user prefer", 0, 10)
		var tea int
		for _, m := range set.Memories {
			if m.PointID == old.PointID {
				t.Fatalf("old point id still resolves")
			}
			if strings.Contains(m.Text, "tea") {
				tea++
			}
		}
		if tea != 1 {
			t.Fatalf("expected exactly one tea record, got %d", tea)
		}
	})

	t.Run("DeleteIsBestEffort", func(t *testing.T) {
		h := newHarness(t, newRepo(t))
		rec := h.insert("u1", "User lives in Tokyo", "location")
		for _, ids := range [][]string{{"does-not-exist"}, {rec.PointID, "does-not-exist"}, {rec.PointID}} {
			if err := h.repo.Delete(h.ctx, ids); err != nil {
				t.Fatalf("Delete(%v): %v", ids, err)
			}
		}
		if n := h.search("u1", "Tokyo", 0, 10).Len(); n != 0 {
			t.Fatalf("expected no results after delete, got %d", n)
		}
		if facet := h.facet("u1"); len(facet) != 0 {
			t.Fatalf("deleted record's categories still faceted: %v", facet)
		}
	})

	t.Run("FacetCompleteness", func(t *testing.T) {
		h := newHarness(t, newRepo(t))
		h.insert("u1", "User lives in Osaka", "location")
		h.insert("u1", "User prefers tea", "preferences", "food")
		h.insert("u2", "User plays chess", "hobbies")

		got := h.facet("u1")
		sort.Strings(got)
		if strings.Join(got, ",") != "food,location,preferences" {
			t.Fatalf("facet for u1 = %v", got)
		}
		if global := h.facet(""); len(global) != 4 {
			t.Fatalf("global facet = %v, want 4 categories", global)
		}
		limited, err := h.repo.FacetCategories(h.ctx, "u1", 2)
		if err != nil {
			t.Fatalf("FacetCategories: %v", err)
		}
		if len(limited) != 2 {
			t.Fatalf("facet limit not applied: %v", limited)
		}
	})

	t.Run("ListAndDeleteOwner", func(t *testing.T) {
		h := newHarness(t, newRepo(t))
		first := h.insert("u1", "User lives in Osaka", "location")
		second := h.insert("u1", "User prefers tea", "preferences")
		h.insert("u2", "User plays chess", "hobbies")

		list, err := h.repo.ListOwner(h.ctx, "u1")
		if err != nil {
			t.Fatalf("ListOwner: %v", err)
		}
		if len(list) != 2 || list[0].PointID != first.PointID || list[1].PointID != second.PointID {
			t.Fatalf("ListOwner returned %v", list)
		}
		if err := h.repo.DeleteOwner(h.ctx, "u1"); err != nil {
			t.Fatalf("DeleteOwner: %v", err)
		}
		if list, _ := h.repo.ListOwner(h.ctx, "u1"); len(list) != 0 { //nolint:errcheck // checked above
			t.Fatalf("expected u1 to be empty, got %v", list)
		}
		if other, _ := h.repo.ListOwner(h.ctx, "u2"); len(other) != 1 { //nolint:errcheck // checked above
			t.Fatalf("DeleteOwner touched another owner: %v", other)
		}
	})

	t.Run("InsertValidation", func(t *testing.T) {
		h := newHarness(t, newRepo(t))
		_, err := h.repo.Insert(h.ctx, []memory.Record{{OwnerID: "u1", Text: "x", Embedding: []float32{1, 2}}})
		var dimErr *memory.DimensionError
		if !errors.As(err, &dimErr) {
			t.Fatalf("expected DimensionError, got %v", err)
		}
		_, err = h.repo.Insert(h.ctx, []memory.Record{{Text: "x", Embedding: make([]float32, ConformanceDims)}})
		if !errors.Is(err, memory.ErrMissingOwner) {
			t.Fatalf("expected ErrMissingOwner, got %v", err)
		}
	})
}

type harness struct {
	t    *testing.T
	ctx  context.Context
	repo memory.Repository
	emb  *HashEmbedder
}

func newHarness(t *testing.T, repo memory.Repository) *harness {
	t.Cleanup(func() { _ = repo.Close() }) //nolint:errcheck // test cleanup
	return &harness{t: t, ctx: context.Background(), repo: repo, emb: NewHashEmbedder(ConformanceDims)}
}

func (h *harness) insert(owner, text string, categories ...string) memory.Record {
	h.t.Helper()
	vec, err := memory.EmbedOne(h.ctx, h.emb, text)
	if err != nil {
		h.t.Fatalf("embed: %v", err)
	}
	recs, err := h.repo.Insert(h.ctx, []memory.Record{{OwnerID: owner, Text: text, Categories: categories, Embedding: vec}})
	if err != nil {
		h.t.Fatalf("Insert: %v", err)
	}
	return recs[0]
}

func (h *harness) search(owner, text string, threshold float64, limit int, categories ...string) *memory.CandidateSet {
	h.t.Helper()
	vec, err := memory.EmbedOne(h.ctx, h.emb, text)
	if err != nil {
		h.t.Fatalf("embed: %v", err)
	}
	set, err := h.repo.Search(h.ctx, memory.SearchQuery{
		Vector:         vec,
		OwnerID:        owner,
		Categories:     categories,
		ScoreThreshold: threshold,
		Limit:          limit,
	})
	if err != nil {
		h.t.Fatalf("Search: %v", err)
	}
	return set
}

func (h *harness) facet(owner string) []string {
	h.t.Helper()
	got, err := h.repo.FacetCategories(h.ctx, owner, memory.DefaultFacetLimit)
	if err != nil {
		h.t.Fatalf("FacetCategories: %v", err)
	}
	return got
}
