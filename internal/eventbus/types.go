package eventbus

import "time"

// Streams carried by the bus. Say and ask events form the user-visible
// transcript; status events track task lifecycle transitions.
const (
	StreamSay    = "say"
	StreamAsk    = "ask"
	StreamAnswer = "answer"
	StreamStatus = "status"
)

type Event struct {
	ID        string         `json:"id"`
	Stream    string         `json:"stream"`
	TaskID    string         `json:"task_id"`
	Subject   string         `json:"subject,omitempty"`
	Body      string         `json:"body"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type EventInput struct {
	Stream  string
	TaskID  string
	Subject string
	Body    string
	Payload map[string]any
	// Ephemeral events (partial say updates) are broadcast to subscribers
	// but never persisted; the finalized event follows.
	Ephemeral bool
}

type ListOptions struct {
	TaskID string
	Limit  int
	Order  string
}
