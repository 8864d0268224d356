package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const (
	recordsTable    = "memory_records"
	categoriesTable = "memory_record_categories"
)

// StatementBuilder returns a Squirrel StatementBuilder configured for SQLite.
// SQLite uses '?' as placeholders, which is Squirrel's default.
func StatementBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder
}

// SelectRecordColumns returns the standard column list for memory_records SELECT queries.
func SelectRecordColumns() []string {
	return []string{
		"r.point_id", "r.owner_id", "r.text", "r.categories_json", "r.created_at", "r.embedding",
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		r        Record
		catsJSON string
		blob     []byte
	)
	if err := row.Scan(&r.PointID, &r.OwnerID, &r.Text, &catsJSON, &r.CreatedAt, &blob); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(catsJSON), &r.Categories); err != nil {
		return Record{}, fmt.Errorf("decode categories of %s: %w", r.PointID, err)
	}
	emb, err := DecodeEmbedding(blob)
	if err != nil {
		return Record{}, fmt.Errorf("decode embedding of %s: %w", r.PointID, err)
	}
	r.Embedding = emb
	return r, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close() //nolint:errcheck // no remedy for rows close error
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
