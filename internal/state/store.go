package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ccrvlh/codey-sub000/internal/engine"
)

var ErrNotFound = errors.New("not found")

// Store persists tasks, their conversation history, and the user-visible
// transcript. It implements engine.Store.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) SaveTask(ctx context.Context, snap engine.TaskSnapshot) error {
	now := nowUTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (id, prompt, status, input_tokens, output_tokens, cache_writes, cache_reads, cost, mistakes, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  input_tokens = excluded.input_tokens,
  output_tokens = excluded.output_tokens,
  cache_writes = excluded.cache_writes,
  cache_reads = excluded.cache_reads,
  cost = excluded.cost,
  mistakes = excluded.mistakes,
  updated_at = excluded.updated_at`,
		snap.ID, snap.Prompt, string(snap.Status),
		snap.Usage.InputTokens, snap.Usage.OutputTokens, snap.Usage.CacheWrites, snap.Usage.CacheReads, snap.Usage.Cost,
		snap.Mistakes, now, now)
	if err != nil {
		return fmt.Errorf("save task %s: %w", snap.ID, err)
	}
	return nil
}

// SaveHistory replaces the full message ledger for a task. The history is
// small (already truncation-bounded) and mutated in non-append ways by
// truncation and repair, so replace-all keeps the store trivially consistent.
func (s *Store) SaveHistory(ctx context.Context, taskID string, history []engine.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("clear history for %s: %w", taskID, err)
	}
	for i, msg := range history {
		parts, err := encodeParts(msg.Parts)
		if err != nil {
			return fmt.Errorf("encode message %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (task_id, seq, role, parts) VALUES (?, ?, ?, ?)`,
			taskID, i, string(msg.Role), parts); err != nil {
			return fmt.Errorf("insert message %d for %s: %w", i, taskID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history for %s: %w", taskID, err)
	}
	return nil
}

func (s *Store) LoadHistory(ctx context.Context, taskID string) ([]engine.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, parts FROM messages WHERE task_id = ? ORDER BY seq`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []engine.Message
	for rows.Next() {
		var role, parts string
		if err := rows.Scan(&role, &parts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		decoded, err := decodeParts(parts)
		if err != nil {
			return nil, fmt.Errorf("decode message parts: %w", err)
		}
		out = append(out, engine.Message{Role: engine.Role(role), Parts: decoded})
	}
	return out, rows.Err()
}

func (s *Store) AppendTranscript(ctx context.Context, entry engine.TranscriptEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript (task_id, kind, body, created_at) VALUES (?, ?, ?, ?)`,
		entry.TaskID, entry.Kind, entry.Text, entry.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append transcript for %s: %w", entry.TaskID, err)
	}
	return nil
}

func (s *Store) LoadTask(ctx context.Context, taskID string) (engine.TaskSnapshot, error) {
	var snap engine.TaskSnapshot
	var status string
	err := s.db.QueryRowContext(ctx, `
SELECT id, prompt, status, input_tokens, output_tokens, cache_writes, cache_reads, cost, mistakes
FROM tasks WHERE id = ?`, taskID).Scan(
		&snap.ID, &snap.Prompt, &status,
		&snap.Usage.InputTokens, &snap.Usage.OutputTokens, &snap.Usage.CacheWrites, &snap.Usage.CacheReads, &snap.Usage.Cost,
		&snap.Mistakes)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.TaskSnapshot{}, ErrNotFound
	}
	if err != nil {
		return engine.TaskSnapshot{}, fmt.Errorf("load task %s: %w", taskID, err)
	}
	snap.Status = engine.Status(status)
	return snap, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]engine.TaskSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, prompt, status, input_tokens, output_tokens, cache_writes, cache_reads, cost, mistakes
FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []engine.TaskSnapshot
	for rows.Next() {
		var snap engine.TaskSnapshot
		var status string
		if err := rows.Scan(&snap.ID, &snap.Prompt, &status,
			&snap.Usage.InputTokens, &snap.Usage.OutputTokens, &snap.Usage.CacheWrites, &snap.Usage.CacheReads, &snap.Usage.Cost,
			&snap.Mistakes); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		snap.Status = engine.Status(status)
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Store) LoadTranscript(ctx context.Context, taskID string) ([]engine.TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, body, created_at FROM transcript WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load transcript for %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []engine.TranscriptEntry
	for rows.Next() {
		var entry engine.TranscriptEntry
		var createdAt string
		if err := rows.Scan(&entry.Kind, &entry.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript entry: %w", err)
		}
		entry.TaskID = taskID
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			entry.CreatedAt = ts
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
