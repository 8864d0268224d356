package memory

import (
	"context"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
)

// Search implements Repository. Candidates are narrowed in SQL by owner
// and categories, then scored in Go.
func (s *SQLiteStore) Search(ctx context.Context, q SearchQuery) (*CandidateSet, error) {
	categories := NormalizeCategories(q.Categories)
	s.logger.Debug().
		Str("method", "Search").
		Str("owner_id", q.OwnerID).
		Strs("categories", categories).
		Float64("score_threshold", q.ScoreThreshold).
		Int("limit", q.Limit).
		Msg("called")
	if q.Limit <= 0 {
		return NewCandidateSet(nil), nil
	}
	if s.dims > 0 && len(q.Vector) != s.dims {
		return nil, &DimensionError{Got: len(q.Vector), Want: s.dims}
	}

	where, err := s.buildFilterWhere(q.OwnerID, categories)
	if err != nil {
		return nil, err
	}
	queryStr, args, err := StatementBuilder().
		Select(SelectRecordColumns()...).
		From(recordsTable + " r").
		Where(where).
		OrderBy("r.inserted_at", "r.rowid").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, s.storageErr("search", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, s.storageErr("search", err)
	}

	scored := RankByCosine(records, q.Vector, q.ScoreThreshold, q.Limit)
	s.logger.Info().
		Str("owner_id", q.OwnerID).
		Int("scanned", len(records)).
		Int("returned", len(scored)).
		Msg("Search completed")
	return NewCandidateSet(scored), nil
}

// buildFilterWhere restricts to the owner and, when categories are given,
// to records carrying at least one of them.
func (s *SQLiteStore) buildFilterWhere(ownerID string, categories []string) (sq.Sqlizer, error) {
	where := sq.And{sq.Eq{"r.collection": s.collection, "r.owner_id": ownerID}}
	if len(categories) == 0 {
		return where, nil
	}
	sub, subArgs, err := StatementBuilder().
		Select("point_id").
		From(categoriesTable).
		Where(sq.Eq{"collection": s.collection, "owner_id": ownerID, "category": categories}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build category filter: %w", err)
	}
	return append(where, sq.Expr("r.point_id IN ("+sub+")", subArgs...)), nil
}

// RankByCosine scores records against vector, drops those below threshold
// and returns at most limit, best first. Equal scores keep input order.
func RankByCosine(records []Record, vector []float32, threshold float64, limit int) []RetrievedMemory {
	scored := make([]RetrievedMemory, 0, len(records))
	for _, r := range records {
		score := ClampScore(CosineSimilarity(vector, r.Embedding))
		if score < threshold {
			continue
		}
		scored = append(scored, RetrievedMemory{Record: r, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if limit >= 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
