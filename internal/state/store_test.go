package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ccrvlh/codey-sub000/internal/engine"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "codey.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestSaveAndLoadTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := engine.TaskSnapshot{
		ID:     "t1",
		Prompt: "fix the build",
		Status: engine.StatusRunning,
		Usage:  engine.Usage{InputTokens: 100, OutputTokens: 20, Cost: 0.01},
	}
	if err := s.SaveTask(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Upsert keeps the row unique and moves status forward.
	snap.Status = engine.StatusCompleted
	snap.Usage.OutputTokens = 50
	if err := s.SaveTask(ctx, snap); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.LoadTask(ctx, "t1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != engine.StatusCompleted || got.Usage.OutputTokens != 50 {
		t.Errorf("loaded = %+v", got)
	}

	if _, err := s.LoadTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing task err = %v", err)
	}

	tasks, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Errorf("tasks = %+v", tasks)
	}
}

func TestSaveHistoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveTask(ctx, engine.TaskSnapshot{ID: "t1", Status: engine.StatusRunning}); err != nil {
		t.Fatal(err)
	}

	history := []engine.Message{
		{Role: engine.RoleUser, Parts: []engine.Part{engine.TextPart("<task>\ngo\n</task>")}},
		{Role: engine.RoleAssistant, Parts: []engine.Part{
			engine.TextPart("reading"),
			{Kind: engine.PartToolUse, ToolID: "u1", ToolName: "read_file", Text: "<read_file><path>a</path></read_file>"},
		}},
		{Role: engine.RoleUser, Parts: []engine.Part{engine.ToolResultPart("u1", "read_file", "contents")}},
	}
	if err := s.SaveHistory(ctx, "t1", history); err != nil {
		t.Fatalf("save history: %v", err)
	}

	got, err := s.LoadHistory(ctx, "t1")
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("history len = %d", len(got))
	}
	if got[1].Parts[1].ToolID != "u1" || got[1].Parts[1].Kind != engine.PartToolUse {
		t.Errorf("tool part = %+v", got[1].Parts[1])
	}

	// Replace-all semantics: a shorter history (post-truncation) sticks.
	if err := s.SaveHistory(ctx, "t1", history[:1]); err != nil {
		t.Fatalf("replace history: %v", err)
	}
	got, err = s.LoadHistory(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("replaced history len = %d, want 1", len(got))
	}
}

func TestTranscriptAppend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveTask(ctx, engine.TaskSnapshot{ID: "t1", Status: engine.StatusRunning}); err != nil {
		t.Fatal(err)
	}

	for _, text := range []string{"first", "second"} {
		err := s.AppendTranscript(ctx, engine.TranscriptEntry{
			TaskID: "t1", Kind: "text", Text: text, CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := s.LoadTranscript(ctx, "t1")
	if err != nil {
		t.Fatalf("load transcript: %v", err)
	}
	if len(entries) != 2 || entries[0].Text != "first" || entries[1].Text != "second" {
		t.Errorf("entries = %+v", entries)
	}
}
