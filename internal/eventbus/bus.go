// Package eventbus fans task events out to live subscribers and persists
// them for catch-up reads. Subscribers that fall behind drop events rather
// than block the task loop.
package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type Bus struct {
	db *sql.DB

	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	streams map[string]struct{}
	taskID  string
	ch      chan Event
}

func NewBus(db *sql.DB) *Bus {
	return &Bus{db: db, subs: map[string]*subscriber{}}
}

func (b *Bus) Push(ctx context.Context, input EventInput) (Event, error) {
	if strings.TrimSpace(input.Stream) == "" {
		return Event{}, fmt.Errorf("stream is required")
	}
	if strings.TrimSpace(input.TaskID) == "" {
		return Event{}, fmt.Errorf("task id is required")
	}

	event := Event{
		ID:        ulid.Make().String(),
		Stream:    input.Stream,
		TaskID:    input.TaskID,
		Subject:   input.Subject,
		Body:      input.Body,
		Payload:   input.Payload,
		CreatedAt: time.Now().UTC(),
	}

	if !input.Ephemeral {
		payloadJSON, err := encodeJSON(input.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("encode payload: %w", err)
		}
		_, err = b.db.ExecContext(ctx, `
		INSERT INTO events (id, stream, scope_type, scope_id, subject, body, metadata, payload, created_at)
		VALUES (?, ?, 'task', ?, ?, ?, NULL, ?, ?)
	`, event.ID, event.Stream, event.TaskID, nullString(event.Subject), event.Body, payloadJSON, event.CreatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return Event{}, fmt.Errorf("insert event: %w", err)
		}
	}

	b.broadcast(event)
	return event, nil
}

func (b *Bus) List(ctx context.Context, stream string, opts ListOptions) ([]Event, error) {
	if strings.TrimSpace(stream) == "" {
		return nil, fmt.Errorf("stream is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	order := strings.ToLower(opts.Order)
	if order == "" {
		order = DefaultOrder(stream)
	}
	orderBy := "created_at DESC"
	if order == "fifo" {
		orderBy = "created_at ASC"
	}

	where := "WHERE stream = ?"
	args := []any{stream}
	if opts.TaskID != "" {
		where += " AND scope_id = ?"
		args = append(args, opts.TaskID)
	}
	query := fmt.Sprintf(`SELECT id, stream, scope_id, subject, body, payload, created_at FROM events %s ORDER BY %s LIMIT ?`, where, orderBy)
	args = append(args, limit)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var subject, payload sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Stream, &e.TaskID, &subject, &e.Body, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Subject = subject.String
		e.Payload = decodeJSONMap(payload.String)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Subscribe delivers matching events until ctx ends. Empty streams means all
// streams; empty taskID means all tasks.
func (b *Bus) Subscribe(ctx context.Context, streams []string, taskID string) <-chan Event {
	ch := make(chan Event, 64)
	streamSet := map[string]struct{}{}
	for _, s := range streams {
		if s == "" {
			continue
		}
		streamSet[s] = struct{}{}
	}
	id := ulid.Make().String()

	sub := &subscriber{streams: streamSet, taskID: taskID, ch: ch}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if len(sub.streams) > 0 {
			if _, ok := sub.streams[event.Stream]; !ok {
				continue
			}
		}
		if sub.taskID != "" && sub.taskID != event.TaskID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Drop if subscriber is slow.
		}
	}
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSONMap(v string) map[string]any {
	if v == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil
	}
	return out
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
