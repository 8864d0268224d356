// Package qdrant is a memory.Repository backed by a Qdrant server over gRPC.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aschepis/backscratcher/mnemo/memory"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	backendName = "qdrant"

	fieldOwner      = "owner_id"
	fieldText       = "text"
	fieldCategories = "categories"
	fieldCreatedAt  = "created_at"
	fieldInsertedAt = "inserted_at"

	// maxListPoints caps ListOwner; owners are expected to hold far fewer facts.
	maxListPoints = 10000
)

// Config holds connection settings.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Store implements memory.Repository.
type Store struct {
	client     *qdrant.Client
	collection string
	dims       int
	logger     zerolog.Logger
}

// New connects to Qdrant. The connection is lazy; failures surface on the
// first call.
func New(cfg Config, collection string, dims int, logger zerolog.Logger) (*Store, error) {
	logger = logger.With().Str("component", "memory_store").Str("backend", backendName).Logger()
	logger.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("collection", collection).Msg("Initializing new Qdrant Store")
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, memory.NewStorageError(backendName, "connect", err)
	}
	return &Store{client: client, collection: collection, dims: dims, logger: logger}, nil
}

// classify maps transport failures to memory.ErrStorageUnavailable and
// leaves request errors as they are.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return memory.NewStorageError(backendName, op, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
			return memory.NewStorageError(backendName, op, err)
		}
	}
	return fmt.Errorf("%s %s: %w", backendName, op, err)
}

// EnsureCollection implements memory.Repository.
func (s *Store) EnsureCollection(ctx context.Context) error {
	s.logger.Debug().Str("method", "EnsureCollection").Str("collection", s.collection).Msg("called")
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return classify("collection exists", err)
	}
	if !exists {
		s.logger.Info().Str("collection", s.collection).Msg("Creating collection")
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dims), // nolint:gosec // validated positive by config
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return classify("create collection", err)
		}
	}
	for _, field := range []string{fieldOwner, fieldCategories} {
		wait := true
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			Wait:           &wait,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return classify("create index "+field, err)
		}
	}
	return nil
}

// Insert implements memory.Repository. All records go in one upsert.
func (s *Store) Insert(ctx context.Context, records []memory.Record) ([]memory.Record, error) {
	s.logger.Debug().Str("method", "Insert").Int("count", len(records)).Msg("called")
	if len(records) == 0 {
		return nil, nil
	}
	prepared, err := memory.PrepareRecords(records, s.dims, uuid.NewString)
	if err != nil {
		return nil, err
	}

	insertedAt := time.Now().UnixNano()
	points := make([]*qdrant.PointStruct, len(prepared))
	for i, r := range prepared {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(r.PointID),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: buildPayload(r, insertedAt+int64(i)),
		}
	}
	wait := true
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return nil, classify("upsert", err)
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

	threshold := float32(q.ScoreThreshold)
	limit := uint64(q.Limit)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(q.Vector...),
		Filter:         buildFilter(q.OwnerID, categories),
		ScoreThreshold: &threshold,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, classify("query", err)
	}

	out := make([]memory.RetrievedMemory, 0, len(points))
	for _, p := range points {
		score := memory.ClampScore(float64(p.GetScore()))
		if score < q.ScoreThreshold {
			continue
		}
		out = append(out, memory.RetrievedMemory{
			Record: recordFromPayload(p.GetId().GetUuid(), p.GetPayload()),
			Score:  score,
		})
	}
	return memory.NewCandidateSet(out), nil
}

// Delete implements memory.Repository. Qdrant ignores unknown ids.
func (s *Store) Delete(ctx context.Context, pointIDs []string) error {
	s.logger.Debug().Str("method", "Delete").Strs("point_ids", pointIDs).Msg("called")
	if len(pointIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, len(pointIDs))
	for i, id := range pointIDs {
		ids[i] = qdrant.NewIDUUID(id)
	}
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(ids...),
	})
	return classify("delete", err)
}

// DeleteOwner implements memory.Repository.
func (s *Store) DeleteOwner(ctx context.Context, ownerID string) error {
	s.logger.Debug().Str("method", "DeleteOwner").Str("owner_id", ownerID).Msg("called")
	if ownerID == "" {
		return memory.ErrMissingOwner
	}
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(buildFilter(ownerID, nil)),
	})
	return classify("delete owner", err)
}

// FacetCategories implements memory.Repository.
func (s *Store) FacetCategories(ctx context.Context, ownerID string, limit int) ([]string, error) {
	s.logger.Debug().Str("method", "FacetCategories").Str("owner_id", ownerID).Int("limit", limit).Msg("called")
	if limit <= 0 {
		limit = memory.DefaultFacetLimit
	}
	lim := uint64(limit)
	req := &qdrant.FacetCounts{
		CollectionName: s.collection,
		Key:            fieldCategories,
		Limit:          &lim,
	}
	if ownerID != "" {
		req.Filter = buildFilter(ownerID, nil)
	}
	hits, err := s.client.Facet(ctx, req)
	if err != nil {
		return nil, classify("facet", err)
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if v := h.GetValue().GetStringValue(); v != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListOwner implements memory.Repository. Embeddings are not returned.
func (s *Store) ListOwner(ctx context.Context, ownerID string) ([]memory.Record, error) {
	s.logger.Debug().Str("method", "ListOwner").Str("owner_id", ownerID).Msg("called")
	limit := uint32(maxListPoints)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         buildFilter(ownerID, nil),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, classify("scroll", err)
	}
	type ordered struct {
		rec memory.Record
		at  int64
	}
	rows := make([]ordered, len(points))
	for i, p := range points {
		rows[i] = ordered{
			rec: recordFromPayload(p.GetId().GetUuid(), p.GetPayload()),
			at:  p.GetPayload()[fieldInsertedAt].GetIntegerValue(),
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].at < rows[j].at })
	out := make([]memory.Record, len(rows))
	for i, r := range rows {
		out[i] = r.rec
	}
	return out, nil
}

// Close implements memory.Repository.
func (s *Store) Close() error {
	return s.client.Close()
}
