package conversations

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
)

const transcriptTable = "transcript"

// Roles accepted by the transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one transcript turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store persists chat turns per owner.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a new Store over a migrated database.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger.With().Str("component", "transcript").Logger()}
}

// Append saves one turn.
func (s *Store) Append(ctx context.Context, ownerID, role, content string) error {
	if ownerID == "" {
		return fmt.Errorf("owner id is required")
	}
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("unknown role %q", role)
	}

	queryStr, args, err := sq.Insert(transcriptTable).
		Columns("owner_id", "role", "content", "created_at").
		Values(ownerID, role, content, time.Now().Unix()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// AppendTurn saves a user message and the reply to it.
func (s *Store) AppendTurn(ctx context.Context, ownerID, question, answer string) error {
	if err := s.Append(ctx, ownerID, RoleUser, question); err != nil {
		return err
	}
	return s.Append(ctx, ownerID, RoleAssistant, answer)
}

// Recent returns the last n turns of an owner, oldest first. n <= 0
// returns the whole transcript.
func (s *Store) Recent(ctx context.Context, ownerID string, n int) ([]Message, error) {
	query := sq.Select("role", "content").
		From(transcriptTable).
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("id DESC")
	if n > 0 {
		query = query.Limit(uint64(n))
	}

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Clear removes the transcript of an owner.
func (s *Store) Clear(ctx context.Context, ownerID string) error {
	queryStr, args, err := sq.Delete(transcriptTable).Where(sq.Eq{"owner_id": ownerID}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // informational
	s.logger.Debug().Str("owner_id", ownerID).Int64("rows", n).Msg("Transcript cleared")
	return nil
}

// Window returns the last n messages of msgs.
func Window(msgs []Message, n int) []Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// LatestUserMessage returns the content of the last user turn.
func LatestUserMessage(msgs []Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content, true
		}
	}
	return "", false
}
