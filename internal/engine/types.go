// Package engine contains the agent orchestration core: the per-turn block
// presentation sequencer, the task loop state machine, and the conversation
// ledger the loop mutates. External collaborators (model backend, approval
// surface, persistence, transcript emitter) are injected as interfaces.
package engine

import (
	"context"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type PartKind string

const (
	PartText       PartKind = "text"
	PartImage      PartKind = "image"
	PartToolUse    PartKind = "tool_use"
	PartToolResult PartKind = "tool_result"
)

// Part is one typed element of a conversation message. Tool-use parts in an
// assistant message must be answered by a tool-result part carrying the same
// ToolID before the next assistant message; RepairHistory restores that
// pairing after an interrupted turn.
type Part struct {
	Kind      PartKind `json:"kind"`
	Text      string   `json:"text,omitempty"`
	ImageData string   `json:"image_data,omitempty"`
	MediaType string   `json:"media_type,omitempty"`
	ToolID    string   `json:"tool_id,omitempty"`
	ToolName  string   `json:"tool_name,omitempty"`
}

type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

func ToolResultPart(toolID, toolName, text string) Part {
	return Part{Kind: PartToolResult, ToolID: toolID, ToolName: toolName, Text: text}
}

type ChunkKind string

const (
	ChunkText  ChunkKind = "text"
	ChunkUsage ChunkKind = "usage"
	ChunkError ChunkKind = "error"
)

type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CacheWrites  int     `json:"cache_writes"`
	CacheReads   int     `json:"cache_reads"`
	Cost         float64 `json:"cost"`
}

func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheWrites + u.CacheReads
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheWrites += other.CacheWrites
	u.CacheReads += other.CacheReads
	u.Cost += other.Cost
}

// Chunk is one streamed element from the model backend. Chunks arrive in
// generation order; the engine never reorders.
type Chunk struct {
	Kind  ChunkKind
	Text  string
	Usage Usage
	Err   error
}

// Provider streams one model turn. A non-nil error means the request never
// produced a first chunk; a transport failure after partial output arrives
// as an error chunk instead.
type Provider interface {
	StreamTurn(ctx context.Context, system string, history []Message) (<-chan Chunk, error)
}

type SayKind string

const (
	SayText          SayKind = "text"
	SayTool          SayKind = "tool"
	SayCommandOutput SayKind = "command_output"
	SayCompletion    SayKind = "completion_result"
	SayError         SayKind = "error"
	SayStatus        SayKind = "status"
)

type AskKind string

const (
	AskTool            AskKind = "tool"
	AskCommand         AskKind = "command"
	AskFollowup        AskKind = "followup"
	AskCompletion      AskKind = "completion_result"
	AskAPIRetry        AskKind = "api_req_failed"
	AskMistakeGuidance AskKind = "mistake_limit_reached"
)

type AskOutcome string

const (
	AskApproved AskOutcome = "approved"
	AskDenied   AskOutcome = "denied"
	AskFeedback AskOutcome = "feedback"
)

type AskRequest struct {
	TaskID  string  `json:"task_id"`
	AskID   string  `json:"ask_id"`
	Kind    AskKind `json:"kind"`
	Payload string  `json:"payload"`
	Partial bool    `json:"partial"`
}

type AskResponse struct {
	Response AskOutcome `json:"response"`
	Text     string     `json:"text,omitempty"`
	Images   []string   `json:"images,omitempty"`
}

// Approver blocks until the human (or an auto-approve policy) answers. The
// engine always consults it before any irreversible tool effect.
type Approver interface {
	Ask(ctx context.Context, req AskRequest) (AskResponse, error)
}

// Emitter receives the user-visible transcript. Implementations must not
// block the engine; failures are theirs to log.
type Emitter interface {
	Say(ctx context.Context, taskID string, kind SayKind, text string, partial bool)
}

type TranscriptEntry struct {
	TaskID    string    `json:"task_id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	Partial   bool      `json:"partial"`
	CreatedAt time.Time `json:"created_at"`
}

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusFailed    Status = "failed"
)

type TaskSnapshot struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Status    Status    `json:"status"`
	Usage     Usage     `json:"usage"`
	Mistakes  int       `json:"mistakes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists the ledger after every mutation. Saves are best-effort: the
// engine logs failures and moves on.
type Store interface {
	SaveTask(ctx context.Context, snap TaskSnapshot) error
	SaveHistory(ctx context.Context, taskID string, history []Message) error
	AppendTranscript(ctx context.Context, entry TranscriptEntry) error
	LoadHistory(ctx context.Context, taskID string) ([]Message, error)
}

// Environment supplies the workspace snapshot appended to each outgoing user
// message.
type Environment interface {
	Snapshot(ctx context.Context) string
}
