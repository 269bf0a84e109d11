package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccrvlh/codey-sub000/internal/idgen"
	"github.com/ccrvlh/codey-sub000/internal/parser"
)

// Dispatcher executes one tool-use block against the workspace. Partial
// blocks get a best-effort preview; complete blocks go through validation,
// approval and execution. Implemented by the tools package.
type Dispatcher interface {
	Execute(ctx context.Context, task *Task, block parser.ContentBlock)
}

type Settings struct {
	ContextWindow int
	MistakeLimit  int
	WorkspaceDir  string
	SystemPrompt  string
}

type Deps struct {
	Provider   Provider
	Dispatcher Dispatcher
	Approver   Approver
	Emitter    Emitter
	Store      Store
	Env        Environment
	Log        *logrus.Entry
}

// Task owns one conversation: its history, streaming cursor, and state
// flags. One loop runs per task; all mutation happens on the loop goroutine
// or under mu from presentation callbacks.
type Task struct {
	ID     string
	Prompt string

	settings Settings
	deps     Deps
	log      *logrus.Entry

	mu      sync.Mutex
	history []Message
	status  Status
	usage   Usage

	// Per-turn streaming state, reset by resetTurn.
	blocks         []parser.ContentBlock
	toolIDs        map[int]string
	cursorIndex    int
	presentLocked  bool
	pendingUpdate  bool
	streamDone     bool
	ready          bool
	readyCh        chan struct{}
	didReject      bool
	toolInFlight   bool
	activeToolID   string
	activeToolName string
	pendingResults []Part
	completed      bool
	usedTool       bool

	mistakes          int
	lastRequestTokens int

	abort     atomic.Bool
	abandoned atomic.Bool
	doneCh    chan struct{}
}

func NewTask(id, prompt string, settings Settings, deps Deps) *Task {
	if settings.MistakeLimit <= 0 {
		settings.MistakeLimit = 3
	}
	if settings.ContextWindow <= 0 {
		settings.ContextWindow = 200000
	}
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Task{
		ID:       id,
		Prompt:   prompt,
		settings: settings,
		deps:     deps,
		log:      log.WithField("task_id", id),
		status:   StatusRunning,
		readyCh:  make(chan struct{}),
		toolIDs:  map[int]string{},
		doneCh:   make(chan struct{}),
	}
}

// NewResumedTask builds a task over a previously persisted history. The
// pairing invariant is repaired before the loop touches the ledger.
func NewResumedTask(id, prompt string, history []Message, settings Settings, deps Deps) *Task {
	t := NewTask(id, prompt, settings, deps)
	t.history = RepairHistory(history)
	return t
}

// Abort requests cooperative cancellation. The loop observes the flag at the
// top of each iteration and inside the chunk-consumption loop.
func (t *Task) Abort() {
	t.abort.Store(true)
}

// Abandon suppresses all further outbound side effects. Used when a new task
// replaces this one while its stream is still unwinding in the background.
func (t *Task) Abandon() {
	t.abandoned.Store(true)
	t.abort.Store(true)
}

func (t *Task) Aborted() bool   { return t.abort.Load() }
func (t *Task) Abandoned() bool { return t.abandoned.Load() }

// Done is closed when the loop has fully finished, including abort cleanup.
func (t *Task) Done() <-chan struct{} { return t.doneCh }

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) Snapshot() TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskSnapshot{
		ID:        t.ID,
		Prompt:    t.Prompt,
		Status:    t.status,
		Usage:     t.usage,
		Mistakes:  t.mistakes,
		UpdatedAt: time.Now().UTC(),
	}
}

func (t *Task) History() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Task) WorkspaceDir() string { return t.settings.WorkspaceDir }

// Say emits a transcript entry. A no-op when the task has been abandoned:
// the host surface now belongs to a newer task.
func (t *Task) Say(ctx context.Context, kind SayKind, text string, partial bool) {
	if t.abandoned.Load() {
		return
	}
	if t.deps.Emitter != nil {
		t.deps.Emitter.Say(ctx, t.ID, kind, text, partial)
	}
	if t.deps.Store != nil && !partial {
		entry := TranscriptEntry{
			TaskID:    t.ID,
			Kind:      string(kind),
			Text:      text,
			Partial:   partial,
			CreatedAt: time.Now().UTC(),
		}
		if err := t.deps.Store.AppendTranscript(ctx, entry); err != nil {
			t.log.WithError(err).Warn("persist transcript entry")
		}
	}
}

// Ask blocks until the approver answers.
func (t *Task) Ask(ctx context.Context, kind AskKind, payload string) (AskResponse, error) {
	if t.abandoned.Load() {
		return AskResponse{Response: AskDenied}, nil
	}
	req := AskRequest{
		TaskID:  t.ID,
		AskID:   idgen.New(),
		Kind:    kind,
		Payload: payload,
	}
	return t.deps.Approver.Ask(ctx, req)
}

// PushToolResult records the textual outcome of the tool currently being
// presented; it becomes part of the next turn's outgoing message.
func (t *Task) PushToolResult(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingResults = append(t.pendingResults, ToolResultPart(t.activeToolID, t.activeToolName, text))
}

// PendingResults returns the tool results collected so far this turn.
func (t *Task) PendingResults() []Part {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Part, len(t.pendingResults))
	copy(out, t.pendingResults)
	return out
}

// PushToolImage attaches an image to the pending outgoing message, e.g. a
// screenshot from inspect_site.
func (t *Task) PushToolImage(data, mediaType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingResults = append(t.pendingResults, Part{Kind: PartImage, ImageData: data, MediaType: mediaType})
}

// SetRejected short-circuits the rest of the turn: subsequent tool blocks
// report "skipped" without executing.
func (t *Task) SetRejected() {
	t.mu.Lock()
	t.didReject = true
	t.mu.Unlock()
}

func (t *Task) Rejected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.didReject
}

// CountMistake increments the consecutive-mistake counter (missing required
// parameter, or a turn with no tool use).
func (t *Task) CountMistake() {
	t.mu.Lock()
	t.mistakes++
	t.mu.Unlock()
	t.persistTask(context.Background())
}

// ResetMistakes clears the counter; called on any well-formed tool use.
func (t *Task) ResetMistakes() {
	t.mu.Lock()
	t.mistakes = 0
	t.mu.Unlock()
}

// MarkCompleted flags the terminal completion tool's success; the loop ends
// after the current turn unless feedback arrived instead.
func (t *Task) MarkCompleted() {
	t.mu.Lock()
	t.completed = true
	t.mu.Unlock()
}

// MarkToolUsed records that this turn produced at least one well-formed tool
// invocation.
func (t *Task) MarkToolUsed() {
	t.mu.Lock()
	t.usedTool = true
	t.mu.Unlock()
}

// BeginToolExecution is the single-flight guard: at most one tool may be in
// its approval/execute phases per task. A second attempt while one is
// outstanding is refused so re-entrant stream callbacks cannot duplicate a
// side effect.
func (t *Task) BeginToolExecution() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.toolInFlight {
		return false
	}
	t.toolInFlight = true
	return true
}

func (t *Task) EndToolExecution() {
	t.mu.Lock()
	t.toolInFlight = false
	t.mu.Unlock()
}

func (t *Task) setStatus(ctx context.Context, status Status) {
	t.mu.Lock()
	t.status = status
	t.mu.Unlock()
	t.persistTask(ctx)
}

func (t *Task) persistTask(ctx context.Context) {
	if t.deps.Store == nil || t.abandoned.Load() {
		return
	}
	if err := t.deps.Store.SaveTask(ctx, t.Snapshot()); err != nil {
		t.log.WithError(err).Warn("persist task state")
	}
}

func (t *Task) persistHistory(ctx context.Context) {
	if t.deps.Store == nil || t.abandoned.Load() {
		return
	}
	if err := t.deps.Store.SaveHistory(ctx, t.ID, t.History()); err != nil {
		t.log.WithError(err).Warn("persist history")
	}
}

func (t *Task) appendHistory(ctx context.Context, msg Message) {
	t.mu.Lock()
	t.history = append(t.history, msg)
	t.mu.Unlock()
	t.persistHistory(ctx)
}

// resetTurn discards per-turn parse state; the parser owns nothing across
// assistant messages.
func (t *Task) resetTurn() {
	t.mu.Lock()
	t.blocks = nil
	t.toolIDs = map[int]string{}
	t.cursorIndex = 0
	t.presentLocked = false
	t.pendingUpdate = false
	t.streamDone = false
	t.ready = false
	t.readyCh = make(chan struct{})
	t.didReject = false
	t.toolInFlight = false
	t.activeToolID = ""
	t.activeToolName = ""
	t.pendingResults = nil
	t.usedTool = false
	t.mu.Unlock()
}
