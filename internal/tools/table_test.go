package tools

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/ccrvlh/codey-sub000/internal/engine"
	"github.com/ccrvlh/codey-sub000/internal/parser"
)

type scriptedApprover struct {
	mu       sync.Mutex
	requests []engine.AskRequest
	respond  func(engine.AskRequest) engine.AskResponse
}

func (a *scriptedApprover) Ask(ctx context.Context, req engine.AskRequest) (engine.AskResponse, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	respond := a.respond
	a.mu.Unlock()
	if respond == nil {
		return engine.AskResponse{Response: engine.AskApproved}, nil
	}
	return respond(req), nil
}

type memEmitter struct {
	mu      sync.Mutex
	entries []engine.TranscriptEntry
}

func (e *memEmitter) Say(ctx context.Context, taskID string, kind engine.SayKind, text string, partial bool) {
	e.mu.Lock()
	e.entries = append(e.entries, engine.TranscriptEntry{TaskID: taskID, Kind: string(kind), Text: text, Partial: partial})
	e.mu.Unlock()
}

func (e *memEmitter) byKind(kind engine.SayKind) []engine.TranscriptEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []engine.TranscriptEntry
	for _, entry := range e.entries {
		if entry.Kind == string(kind) {
			out = append(out, entry)
		}
	}
	return out
}

type harness struct {
	table    *Table
	task     *engine.Task
	approver *scriptedApprover
	emitter  *memEmitter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	approver := &scriptedApprover{}
	emitter := &memEmitter{}
	task := engine.NewTask("task-1", "test", engine.Settings{WorkspaceDir: t.TempDir()}, engine.Deps{
		Approver: approver,
		Emitter:  emitter,
	})
	return &harness{table: NewTable(nil), task: task, approver: approver, emitter: emitter}
}

func toolBlock(name parser.ToolName, params map[parser.ParamName]string) parser.ContentBlock {
	return parser.ContentBlock{Kind: parser.BlockToolUse, Name: name, Params: params}
}

func lastResult(t *testing.T, task *engine.Task) string {
	t.Helper()
	results := task.PendingResults()
	if len(results) == 0 {
		t.Fatal("no tool results pushed")
	}
	return results[len(results)-1].Text
}

func TestExecuteMissingParameter(t *testing.T) {
	h := newHarness(t)
	h.table.Execute(context.Background(), h.task, toolBlock(parser.ToolReadFile, map[parser.ParamName]string{}))

	if got := h.task.Snapshot().Mistakes; got != 1 {
		t.Errorf("mistakes = %d, want 1", got)
	}
	result := lastResult(t, h.task)
	if !strings.Contains(result, "missing required parameter") || !strings.Contains(result, "path") {
		t.Errorf("result = %q", result)
	}
	// Validation failure must not count as a tool use, so the loop still
	// applies its no-tool corrective if nothing else lands this turn.
	if len(h.approver.requests) != 0 {
		t.Errorf("approver consulted despite validation failure: %d asks", len(h.approver.requests))
	}
}

func TestExecuteDeniedSetsRejection(t *testing.T) {
	h := newHarness(t)
	h.approver.respond = func(engine.AskRequest) engine.AskResponse {
		return engine.AskResponse{Response: engine.AskDenied}
	}
	h.table.Execute(context.Background(), h.task, toolBlock(parser.ToolExecuteCommand,
		map[parser.ParamName]string{parser.ParamCommand: "rm -rf /"}))

	if !h.task.Rejected() {
		t.Fatal("task not marked rejected after denial")
	}
	if got := lastResult(t, h.task); !strings.Contains(got, "denied") {
		t.Errorf("result = %q", got)
	}

	// Subsequent tools in the same turn are skipped, not executed.
	h.table.Execute(context.Background(), h.task, toolBlock(parser.ToolReadFile,
		map[parser.ParamName]string{parser.ParamPath: "main.go"}))
	if got := lastResult(t, h.task); !strings.Contains(got, "Skipping") {
		t.Errorf("post-rejection result = %q", got)
	}
	if len(h.approver.requests) != 1 {
		t.Errorf("approver asked %d times, want 1", len(h.approver.requests))
	}
}

func TestExecuteDeniedWithFeedback(t *testing.T) {
	h := newHarness(t)
	h.approver.respond = func(engine.AskRequest) engine.AskResponse {
		return engine.AskResponse{Response: engine.AskFeedback, Text: "use the staging config instead"}
	}
	h.table.Execute(context.Background(), h.task, toolBlock(parser.ToolWriteToFile,
		map[parser.ParamName]string{parser.ParamPath: "prod.yaml", parser.ParamContent: "x"}))

	got := lastResult(t, h.task)
	if !strings.Contains(got, "use the staging config instead") {
		t.Errorf("feedback not in result: %q", got)
	}
	if !h.task.Rejected() {
		t.Error("feedback denial did not set rejection")
	}
}

func TestExecutePartialPreviewsOnly(t *testing.T) {
	h := newHarness(t)
	block := toolBlock(parser.ToolWriteToFile, map[parser.ParamName]string{
		parser.ParamPath:    "a.txt",
		parser.ParamContent: "partial cont",
	})
	block.Partial = true
	h.table.Execute(context.Background(), h.task, block)

	if len(h.task.PendingResults()) != 0 {
		t.Error("partial block pushed a result")
	}
	if len(h.approver.requests) != 0 {
		t.Error("partial block hit the approval gate")
	}
	previews := h.emitter.byKind(engine.SayTool)
	if len(previews) != 1 || !previews[0].Partial {
		t.Fatalf("previews = %+v, want one partial say", previews)
	}
}

func TestExecuteApprovalPayloadNamesTool(t *testing.T) {
	h := newHarness(t)
	h.table.Execute(context.Background(), h.task, toolBlock(parser.ToolListFiles,
		map[parser.ParamName]string{parser.ParamPath: "."}))

	if len(h.approver.requests) != 1 {
		t.Fatalf("asks = %d, want 1", len(h.approver.requests))
	}
	req := h.approver.requests[0]
	if req.Kind != engine.AskTool {
		t.Errorf("ask kind = %q", req.Kind)
	}
	if !strings.Contains(req.Payload, "list_files") {
		t.Errorf("payload = %q, does not name the tool", req.Payload)
	}
}

func TestExecuteCommandUsesCommandAsk(t *testing.T) {
	h := newHarness(t)
	h.table.Execute(context.Background(), h.task, toolBlock(parser.ToolExecuteCommand,
		map[parser.ParamName]string{parser.ParamCommand: "true"}))

	if len(h.approver.requests) != 1 || h.approver.requests[0].Kind != engine.AskCommand {
		t.Fatalf("requests = %+v, want one command ask", h.approver.requests)
	}
	if got := lastResult(t, h.task); !strings.Contains(got, "completed successfully") {
		t.Errorf("result = %q", got)
	}
}

func TestAskFollowupRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.approver.respond = func(req engine.AskRequest) engine.AskResponse {
		if req.Kind != engine.AskFollowup {
			t.Errorf("ask kind = %q", req.Kind)
		}
		if req.Payload != "Which database?" {
			t.Errorf("payload = %q", req.Payload)
		}
		return engine.AskResponse{Response: engine.AskFeedback, Text: "postgres"}
	}
	h.table.Execute(context.Background(), h.task, toolBlock(parser.ToolAskFollowup,
		map[parser.ParamName]string{parser.ParamQuestion: "Which database?"}))

	got := lastResult(t, h.task)
	if !strings.Contains(got, "<answer>") || !strings.Contains(got, "postgres") {
		t.Errorf("result = %q", got)
	}
}

func TestAttemptCompletionApproved(t *testing.T) {
	h := newHarness(t)
	h.table.Execute(context.Background(), h.task, toolBlock(parser.ToolAttemptCompletion,
		map[parser.ParamName]string{parser.ParamResult: "All done."}))

	if len(h.task.PendingResults()) != 0 {
		t.Errorf("approved completion pushed results: %+v", h.task.PendingResults())
	}
	says := h.emitter.byKind(engine.SayCompletion)
	if len(says) != 1 || says[0].Text != "All done." {
		t.Fatalf("completion says = %+v", says)
	}
}

func TestAttemptCompletionFeedbackContinues(t *testing.T) {
	h := newHarness(t)
	h.approver.respond = func(req engine.AskRequest) engine.AskResponse {
		return engine.AskResponse{Response: engine.AskFeedback, Text: "the tests still fail"}
	}
	h.table.Execute(context.Background(), h.task, toolBlock(parser.ToolAttemptCompletion,
		map[parser.ParamName]string{parser.ParamResult: "done"}))

	got := lastResult(t, h.task)
	if !strings.Contains(got, "the tests still fail") {
		t.Errorf("feedback result = %q", got)
	}
}

func TestExecuteSingleFlight(t *testing.T) {
	h := newHarness(t)
	if !h.task.BeginToolExecution() {
		t.Fatal("could not take the single-flight guard")
	}
	// A re-entrant Execute while a tool is outstanding must be a no-op.
	h.table.Execute(context.Background(), h.task, toolBlock(parser.ToolReadFile,
		map[parser.ParamName]string{parser.ParamPath: "main.go"}))
	if len(h.task.PendingResults()) != 0 || len(h.approver.requests) != 0 {
		t.Error("re-entrant execute was not a no-op")
	}
}
