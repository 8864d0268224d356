package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const backendSQLite = "sqlite"

// SQLiteStore is a Repository over a sqlite database. Vectors are stored
// as little-endian float32 blobs and ranked in Go by cosine similarity.
type SQLiteStore struct {
	db         *sql.DB
	collection string
	dims       int
	ownsDB     bool
	logger     zerolog.Logger
}

// NewSQLiteStore creates a store over an already-migrated database. The
// caller keeps ownership of db.
func NewSQLiteStore(db *sql.DB, collection string, dims int, logger zerolog.Logger) *SQLiteStore {
	logger = logger.With().Str("component", "memory_store").Str("backend", backendSQLite).Logger()
	logger.Info().Str("collection", collection).Int("dims", dims).Msg("Initializing new SQLiteStore")
	return &SQLiteStore{db: db, collection: collection, dims: dims, logger: logger}
}

// OwnDB makes Close also close the underlying database.
func (s *SQLiteStore) OwnDB() *SQLiteStore {
	s.ownsDB = true
	return s
}

func (s *SQLiteStore) storageErr(op string, err error) error {
	return NewStorageError(backendSQLite, op, err)
}

// EnsureCollection implements Repository. The owner and category indexes
// are part of the schema; this records the collection's dimension and
// rejects a mismatch with an existing collection of the same name.
func (s *SQLiteStore) EnsureCollection(ctx context.Context) error {
	s.logger.Debug().Str("method", "EnsureCollection").Str("collection", s.collection).Msg("called")

	insert := StatementBuilder().
		Insert("memory_collections").
		Options("OR IGNORE").
		Columns("name", "dimensions", "distance", "created_at").
		Values(s.collection, s.dims, "cosine", time.Now().Unix())
	queryStr, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return s.storageErr("ensure collection", err)
	}

	var dims int
	queryStr, args, err = StatementBuilder().
		Select("dimensions").
		From("memory_collections").
		Where(sq.Eq{"name": s.collection}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, queryStr, args...).Scan(&dims); err != nil {
		return s.storageErr("ensure collection", err)
	}
	if dims != s.dims {
		return fmt.Errorf("collection %q exists with dimension %d: %w",
			s.collection, dims, &DimensionError{Got: s.dims, Want: dims})
	}
	return nil
}

// Insert implements Repository. All records are written in one transaction.
func (s *SQLiteStore) Insert(ctx context.Context, records []Record) ([]Record, error) {
	s.logger.Debug().Str("method", "Insert").Int("count", len(records)).Msg("called")
	if len(records) == 0 {
		return nil, nil
	}
	prepared, err := PrepareRecords(records, s.dims, uuid.NewString)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.storageErr("insert", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	insertedAt := time.Now().UnixNano()
	for i, r := range prepared {
		catsJSON, err := json.Marshal(r.Categories)
		if err != nil {
			return nil, fmt.Errorf("marshal categories: %w", err)
		}
		_, err = StatementBuilder().
			Insert(recordsTable).
			Columns("point_id", "collection", "owner_id", "text", "categories_json", "created_at", "inserted_at", "embedding").
			Values(r.PointID, s.collection, r.OwnerID, r.Text, string(catsJSON), r.CreatedAt, insertedAt+int64(i), EncodeEmbedding(r.Embedding)).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return nil, s.storageErr("insert", err)
		}
		for _, c := range r.Categories {
			_, err = StatementBuilder().
				Insert(categoriesTable).
				Columns("point_id", "collection", "owner_id", "category").
				Values(r.PointID, s.collection, r.OwnerID, c).
				RunWith(tx).
				ExecContext(ctx)
			if err != nil {
				return nil, s.storageErr("insert", err)
			}
		}
		s.logger.Info().
			Str("point_id", r.PointID).
			Str("owner_id", r.OwnerID).
			Str("text", truncateString(r.Text, 40)).
			Strs("categories", r.Categories).
			Msg("Inserted memory")
	}

	if err := tx.Commit(); err != nil {
		return nil, s.storageErr("insert", err)
	}
	return prepared, nil
}

// Delete implements Repository.
func (s *SQLiteStore) Delete(ctx context.Context, pointIDs []string) error {
	s.logger.Debug().Str("method", "Delete").Strs("point_ids", pointIDs).Msg("called")
	if len(pointIDs) == 0 {
		return nil
	}
	return s.deleteWhere(ctx, "delete", sq.Eq{"point_id": pointIDs})
}

// DeleteOwner implements Repository.
func (s *SQLiteStore) DeleteOwner(ctx context.Context, ownerID string) error {
	s.logger.Debug().Str("method", "DeleteOwner").Str("owner_id", ownerID).Msg("called")
	if ownerID == "" {
		return ErrMissingOwner
	}
	return s.deleteWhere(ctx, "delete owner", sq.Eq{"owner_id": ownerID})
}

func (s *SQLiteStore) deleteWhere(ctx context.Context, op string, pred sq.Eq) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storageErr(op, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	where := sq.And{sq.Eq{"collection": s.collection}, pred}
	for _, table := range []string{categoriesTable, recordsTable} {
		res, err := StatementBuilder().Delete(table).Where(where).RunWith(tx).ExecContext(ctx)
		if err != nil {
			return s.storageErr(op, err)
		}
		if table == recordsTable {
			n, _ := res.RowsAffected() //nolint:errcheck // sqlite always reports it
			s.logger.Info().Str("op", op).Int64("deleted", n).Msg("Deleted memories")
		}
	}
	if err := tx.Commit(); err != nil {
		return s.storageErr(op, err)
	}
	return nil
}

// FacetCategories implements Repository.
func (s *SQLiteStore) FacetCategories(ctx context.Context, ownerID string, limit int) ([]string, error) {
	s.logger.Debug().Str("method", "FacetCategories").Str("owner_id", ownerID).Int("limit", limit).Msg("called")
	if limit <= 0 {
		limit = DefaultFacetLimit
	}
	where := sq.And{sq.Eq{"collection": s.collection}}
	if ownerID != "" {
		where = append(where, sq.Eq{"owner_id": ownerID})
	}
	queryStr, args, err := StatementBuilder().
		Select("category").
		Distinct().
		From(categoriesTable).
		Where(where).
		OrderBy("category").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, s.storageErr("facet", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, s.storageErr("facet", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storageErr("facet", err)
	}
	return out, nil
}

// ListOwner implements Repository.
func (s *SQLiteStore) ListOwner(ctx context.Context, ownerID string) ([]Record, error) {
	s.logger.Debug().Str("method", "ListOwner").Str("owner_id", ownerID).Msg("called")
	queryStr, args, err := StatementBuilder().
		Select(SelectRecordColumns()...).
		From(recordsTable + " r").
		Where(sq.Eq{"r.collection": s.collection, "r.owner_id": ownerID}).
		OrderBy("r.inserted_at", "r.rowid").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, s.storageErr("list", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, s.storageErr("list", err)
	}
	return records, nil
}

// Close implements Repository.
func (s *SQLiteStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	if err := s.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}
