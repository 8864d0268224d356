// Package chromem is an in-process memory.Repository backed by chromem-go.
// Nothing is persisted; it suits development and single-process use.
package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/aschepis/backscratcher/mnemo/memory"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	backendName = "chromem"

	metaOwner      = "owner_id"
	metaCategories = "categories_json"
	metaCreatedAt  = "created_at"
	metaSeq        = "seq"
)

// entry is the owner index kept next to the chromem collection. chromem
// can only filter by exact metadata match and cannot list documents, so
// category "match any", facets and listing are answered from here.
type entry struct {
	categories []string
	seq        int64
}

// refuseEmbedding is installed as the collection's embedding function.
// Vectors always come from the memory.Gateway; chromem must never embed.
func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem store expects precomputed embeddings")
}

// Store implements memory.Repository.
type Store struct {
	db         *chromem.DB
	name       string
	dims       int
	logger     zerolog.Logger
	collection *chromem.Collection

	mu     sync.RWMutex
	owners map[string]map[string]entry
	seq    int64
}

// New creates a Store. EnsureCollection must be called before use.
func New(collection string, dims int, logger zerolog.Logger) *Store {
	logger = logger.With().Str("component", "memory_store").Str("backend", backendName).Logger()
	logger.Info().Str("collection", collection).Int("dims", dims).Msg("Initializing new chromem Store")
	return &Store{
		db:     chromem.NewDB(),
		name:   collection,
		dims:   dims,
		logger: logger,
		owners: make(map[string]map[string]entry),
	}
}

// EnsureCollection implements memory.Repository.
func (s *Store) EnsureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collection != nil {
		return nil
	}
	col, err := s.db.GetOrCreateCollection(s.name, map[string]string{"dims": strconv.Itoa(s.dims)}, refuseEmbedding)
	if err != nil {
		return memory.NewStorageError(backendName, "ensure collection", err)
	}
	s.collection = col
	return nil
}

func (s *Store) col(op string) (*chromem.Collection, error) {
	if s.collection == nil {
		return nil, memory.NewStorageError(backendName, op, fmt.Errorf("collection %q not initialized", s.name))
	}
	return s.collection, nil
}

// Insert implements memory.Repository.
func (s *Store) Insert(ctx context.Context, records []memory.Record) ([]memory.Record, error) {
	s.logger.Debug().Str("method", "Insert").Int("count", len(records)).Msg("called")
	if len(records) == 0 {
		return nil, nil
	}
	prepared, err := memory.PrepareRecords(records, s.dims, uuid.NewString)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.col("insert")
	if err != nil {
		return nil, err
	}

	docs := make([]chromem.Document, len(prepared))
	seqs := make([]int64, len(prepared))
	for i, r := range prepared {
		catsJSON, err := json.Marshal(r.Categories)
		if err != nil {
			return nil, fmt.Errorf("marshal categories: %w", err)
		}
		s.seq++
		seqs[i] = s.seq
		docs[i] = chromem.Document{
			ID:        r.PointID,
			Content:   r.Text,
			Embedding: r.Embedding,
			Metadata: map[string]string{
				metaOwner:      r.OwnerID,
				metaCategories: string(catsJSON),
				metaCreatedAt:  r.CreatedAt,
				metaSeq:        strconv.FormatInt(s.seq, 10),
			},
		}
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return nil, memory.NewStorageError(backendName, "insert", err)
	}
	for i, r := range prepared {
		ids, ok := s.owners[r.OwnerID]
		if !ok {
			ids = make(map[string]entry)
			s.owners[r.OwnerID] = ids
		}
		ids[r.PointID] = entry{categories: r.Categories, seq: seqs[i]}
	}
	return prepared, nil
}

// Search implements memory.Repository.
func (s *Store) Search(ctx context.Context, q memory.SearchQuery) (*memory.CandidateSet, error) {
	categories := memory.NormalizeCategories(q.Categories)
	s.logger.Debug().
		Str("method", "Search").
		Str("owner_id", q.OwnerID).
		Strs("categories", categories).
		Float64("score_threshold", q.ScoreThreshold).
		Int("limit", q.Limit).
		Msg("called")
	if q.Limit <= 0 {
		return memory.NewCandidateSet(nil), nil
	}
	if s.dims > 0 && len(q.Vector) != s.dims {
		return nil, &memory.DimensionError{Got: len(q.Vector), Want: s.dims}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	col, err := s.col("search")
	if err != nil {
		return nil, err
	}
	owned := s.owners[q.OwnerID]
	if len(owned) == 0 {
		return memory.NewCandidateSet(nil), nil
	}

	results, err := col.QueryEmbedding(ctx, q.Vector, len(owned), map[string]string{metaOwner: q.OwnerID}, nil)
	if err != nil {
		return nil, memory.NewStorageError(backendName, "search", err)
	}

	var out []memory.RetrievedMemory
	for _, res := range results {
		e, ok := owned[res.ID]
		if !ok {
			continue
		}
		if len(categories) > 0 && len(lo.Intersect(e.categories, categories)) == 0 {
			continue
		}
		score := memory.ClampScore(float64(res.Similarity))
		if score < q.ScoreThreshold {
			continue
		}
		out = append(out, memory.RetrievedMemory{
			Record: memory.Record{
				PointID:    res.ID,
				OwnerID:    res.Metadata[metaOwner],
				Text:       res.Content,
				Categories: e.categories,
				CreatedAt:  res.Metadata[metaCreatedAt],
				Embedding:  res.Embedding,
			},
			Score: score,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return memory.NewCandidateSet(out), nil
}

// Delete implements memory.Repository. Unknown ids are skipped.
func (s *Store) Delete(ctx context.Context, pointIDs []string) error {
	s.logger.Debug().Str("method", "Delete").Strs("point_ids", pointIDs).Msg("called")
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.col("delete")
	if err != nil {
		return err
	}

	want := lo.SliceToMap(pointIDs, func(id string) (string, struct{}) { return id, struct{}{} })
	var known []string
	for owner, ids := range s.owners {
		for id := range ids {
			if _, ok := want[id]; ok {
				known = append(known, id)
				delete(ids, id)
			}
		}
		if len(ids) == 0 {
			delete(s.owners, owner)
		}
	}
	if len(known) == 0 {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, known...); err != nil {
		return memory.NewStorageError(backendName, "delete", err)
	}
	return nil
}

// DeleteOwner implements memory.Repository.
func (s *Store) DeleteOwner(ctx context.Context, ownerID string) error {
	s.logger.Debug().Str("method", "DeleteOwner").Str("owner_id", ownerID).Msg("called")
	if ownerID == "" {
		return memory.ErrMissingOwner
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.col("delete owner")
	if err != nil {
		return err
	}
	if len(s.owners[ownerID]) == 0 {
		return nil
	}
	if err := col.Delete(ctx, map[string]string{metaOwner: ownerID}, nil); err != nil {
		return memory.NewStorageError(backendName, "delete owner", err)
	}
	delete(s.owners, ownerID)
	return nil
}

// FacetCategories implements memory.Repository.
func (s *Store) FacetCategories(ctx context.Context, ownerID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = memory.DefaultFacetLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	collect := func(ids map[string]entry) {
		for _, e := range ids {
			for _, c := range e.categories {
				seen[c] = struct{}{}
			}
		}
	}
	if ownerID != "" {
		collect(s.owners[ownerID])
	} else {
		for _, ids := range s.owners {
			collect(ids)
		}
	}
	out := lo.Keys(seen)
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListOwner implements memory.Repository.
func (s *Store) ListOwner(ctx context.Context, ownerID string) ([]memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, err := s.col("list")
	if err != nil {
		return nil, err
	}

	owned := s.owners[ownerID]
	ids := lo.Keys(owned)
	sort.Slice(ids, func(i, j int) bool { return owned[ids[i]].seq < owned[ids[j]].seq })

	out := make([]memory.Record, 0, len(ids))
	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			return nil, memory.NewStorageError(backendName, "list", err)
		}
		out = append(out, memory.Record{
			PointID:    doc.ID,
			OwnerID:    doc.Metadata[metaOwner],
			Text:       doc.Content,
			Categories: owned[id].categories,
			CreatedAt:  doc.Metadata[metaCreatedAt],
			Embedding:  doc.Embedding,
		})
	}
	return out, nil
}

// Close implements memory.Repository.
func (s *Store) Close() error { return nil }
