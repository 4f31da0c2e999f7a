// Package chatlog persists conversation transcripts to PostgreSQL so they
// can be reviewed and mined for training data later. Persistence is
// best-effort from the API's point of view: a failed write is logged, not
// surfaced to the chat caller.
package chatlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Record is one persisted conversation snapshot.
type Record struct {
	ID        int64
	SessionID string
	Messages  []string
	IsJudged  bool
	IsUsed    bool
	CreatedAt time.Time
}

// Store writes and reads chat records.
type Store struct {
	db     Querier
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New creates a Store.
func New(db Querier, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Store{db: db, logger: logger}, nil
}

// Save stores one conversation snapshot. Messages are kept as a JSON array
// in insertion order.
func (s *Store) Save(ctx context.Context, sessionID string, messages []string) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encoding messages: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO chat_records (session_id, messages) VALUES ($1, $2)`,
		sessionID, string(payload))
	if err != nil {
		return fmt.Errorf("inserting chat record: %w", err)
	}
	return nil
}

// SaveAsync persists in the background and only logs failures, so the chat
// path never waits on or fails because of the database.
func (s *Store) SaveAsync(ctx context.Context, sessionID string, messages []string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.Save(saveCtx, sessionID, messages); err != nil {
			s.logger.Warn("persisting chat record", "session_id", sessionID, "error", err)
		}
	}()
}

// Wait blocks until all background saves have finished. Called during
// shutdown.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Recent returns the newest records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, COALESCE(session_id, ''), messages, is_judged, is_used, created_at
		 FROM chat_records ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying chat records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec     Record
			payload string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &payload, &rec.IsJudged, &rec.IsUsed, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat record: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Messages); err != nil {
			// Old rows may predate the JSON format; keep the raw text.
			rec.Messages = []string{payload}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chat records: %w", err)
	}
	return records, nil
}

// BySession returns all records for one session, oldest first.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, COALESCE(session_id, ''), messages, is_judged, is_used, created_at
		 FROM chat_records WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying session records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec     Record
			payload string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &payload, &rec.IsJudged, &rec.IsUsed, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat record: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Messages); err != nil {
			rec.Messages = []string{payload}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading session records: %w", err)
	}
	return records, nil
}
