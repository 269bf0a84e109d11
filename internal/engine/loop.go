package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ccrvlh/codey-sub000/internal/idgen"
	"github.com/ccrvlh/codey-sub000/internal/parser"
)

var errAborted = errors.New("task aborted")

const noToolCorrective = "[ERROR] You did not use a tool in your previous response. " +
	"Respond with exactly one tool invocation, e.g. <read_file><path>src/main.go</path></read_file>, " +
	"or finish with <attempt_completion><result>...</result></attempt_completion>."

const interruptedResponseMarker = "\n\n[response interrupted]"

// Run drives the task to a terminal state. It is an explicit iterative loop
// with all resumable state on the Task struct, so arbitrarily long tasks do
// not grow the call stack.
func (t *Task) Run(ctx context.Context) error {
	defer close(t.doneCh)
	t.setStatus(ctx, StatusRunning)
	t.log.WithField("prompt_chars", len(t.Prompt)).Info("task started")

	userParts := []Part{TextPart("<task>\n" + t.Prompt + "\n</task>")}
	for {
		if t.abort.Load() {
			return t.finishAbort(ctx)
		}
		next, done, err := t.runTurn(ctx, userParts)
		if errors.Is(err, errAborted) {
			return t.finishAbort(ctx)
		}
		if err != nil {
			t.setStatus(ctx, StatusFailed)
			t.Say(ctx, SayError, err.Error(), false)
			return err
		}
		if t.abort.Load() {
			return t.finishAbort(ctx)
		}
		if done {
			t.setStatus(ctx, StatusCompleted)
			t.log.Info("task completed")
			return nil
		}
		userParts = next
	}
}

func (t *Task) runTurn(ctx context.Context, userParts []Part) ([]Part, bool, error) {
	t.maybeTruncate(ctx)

	if t.deps.Env != nil {
		if snapshot := t.deps.Env.Snapshot(ctx); snapshot != "" {
			userParts = append(userParts, TextPart(snapshot))
		}
	}
	t.appendHistory(ctx, Message{Role: RoleUser, Parts: userParts})

	// The first chunk is fetched eagerly: a failure here is the only clean
	// retry point. Once streaming has partially succeeded a later failure is
	// a partial-response interruption, never a blind retry.
	var stream <-chan Chunk
	var first Chunk
	for {
		var err error
		stream, err = t.deps.Provider.StreamTurn(ctx, t.settings.SystemPrompt, t.History())
		if err == nil {
			chunk, ok := <-stream
			switch {
			case !ok:
				err = errors.New("stream closed before first chunk")
			case chunk.Kind == ChunkError:
				err = chunk.Err
			default:
				first = chunk
			}
		}
		if err == nil {
			break
		}
		if t.abort.Load() {
			return nil, false, errAborted
		}
		t.log.WithError(err).Warn("model request failed before first chunk")
		resp, askErr := t.Ask(ctx, AskAPIRetry, err.Error())
		if askErr != nil {
			return nil, false, fmt.Errorf("retry prompt: %w", askErr)
		}
		if resp.Response != AskApproved {
			return nil, false, fmt.Errorf("model request failed: %w", err)
		}
	}

	return t.consumeStream(ctx, stream, first)
}

func (t *Task) consumeStream(ctx context.Context, stream <-chan Chunk, first Chunk) ([]Part, bool, error) {
	t.resetTurn()

	var assistantText strings.Builder
	var turnUsage Usage
	var streamErr error

	chunk := first
	for {
		if t.abort.Load() {
			t.finishTurnHistory(ctx, assistantText.String(), true)
			return nil, false, errAborted
		}
		switch chunk.Kind {
		case ChunkUsage:
			turnUsage.Add(chunk.Usage)
			t.mu.Lock()
			t.usage.Add(chunk.Usage)
			t.mu.Unlock()
		case ChunkText:
			if chunk.Text != "" {
				assistantText.WriteString(chunk.Text)
				t.setBlocks(parser.Parse(assistantText.String()))
				go t.presentBlocks(ctx)
			}
		case ChunkError:
			streamErr = chunk.Err
		}
		if streamErr != nil {
			break
		}
		next, ok := <-stream
		if !ok {
			break
		}
		chunk = next
	}

	t.mu.Lock()
	t.lastRequestTokens = turnUsage.Total()
	t.mu.Unlock()
	t.persistTask(ctx)

	if streamErr != nil {
		// Partial output is preserved with an interruption marker; the model
		// may already have invoked tools that need matching results, so the
		// only way forward is a resume, not a retry.
		t.finishTurnHistory(ctx, assistantText.String(), true)
		t.setStatus(ctx, StatusFailed)
		return nil, false, fmt.Errorf("stream interrupted: %w", streamErr)
	}

	t.markStreamDone()
	go t.presentBlocks(ctx)
	if err := t.waitReady(ctx); err != nil {
		t.finishTurnHistory(ctx, assistantText.String(), true)
		return nil, false, err
	}

	t.finishTurnHistory(ctx, assistantText.String(), false)
	return t.collectNextTurn(ctx)
}

// waitReady blocks until every block of the turn has been presented, the
// context ends, or an abort is observed.
func (t *Task) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	ready := t.readyChan()
	for {
		select {
		case <-ready:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if t.abort.Load() {
				return errAborted
			}
		}
	}
}

// finishTurnHistory appends the assistant message for the turn. Only an
// interrupted turn gets the pairing repair: on the normal path the turn's
// tool results become the next user message and answer the invocations
// themselves, so repairing here would inject placeholders for tools that
// succeeded.
func (t *Task) finishTurnHistory(ctx context.Context, raw string, interrupted bool) {
	msg := t.buildAssistantMessage(raw, interrupted)
	t.mu.Lock()
	t.history = append(t.history, msg)
	if interrupted {
		t.history = RepairHistory(t.history)
	}
	t.mu.Unlock()
	t.persistHistory(ctx)
}

func (t *Task) buildAssistantMessage(raw string, interrupted bool) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var parts []Part
	for i, b := range t.blocks {
		switch b.Kind {
		case parser.BlockText:
			if b.Content != "" {
				parts = append(parts, TextPart(b.Content))
			}
		case parser.BlockToolUse:
			id := t.toolIDs[i]
			if id == "" {
				id = idgen.New()
				t.toolIDs[i] = id
			}
			parts = append(parts, Part{
				Kind:     PartToolUse,
				ToolID:   id,
				ToolName: string(b.Name),
				Text:     renderToolUse(b),
			})
		}
	}
	if len(parts) == 0 {
		text := raw
		if text == "" {
			text = "Failure: I did not provide a response."
		}
		parts = []Part{TextPart(text)}
	}
	if interrupted {
		parts = append(parts, TextPart(interruptedResponseMarker))
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

func renderToolUse(b parser.ContentBlock) string {
	var sb strings.Builder
	sb.WriteString("<" + string(b.Name) + ">")
	for _, p := range parser.ParamNames {
		if v, ok := b.Params[p]; ok {
			sb.WriteString("<" + string(p) + ">" + v + "</" + string(p) + ">")
		}
	}
	sb.WriteString("</" + string(b.Name) + ">")
	return sb.String()
}

// collectNextTurn assembles the next outgoing message from the turn's tool
// results, or applies the no-tool corrective path.
func (t *Task) collectNextTurn(ctx context.Context) ([]Part, bool, error) {
	t.mu.Lock()
	results := t.pendingResults
	usedTool := t.usedTool
	completed := t.completed
	t.mu.Unlock()

	if completed {
		return nil, true, nil
	}

	var parts []Part
	switch {
	case len(results) > 0:
		// Validation failures count their mistake in the dispatcher and push
		// a specific corrective result; forward it rather than the generic
		// no-tool message.
		parts = results
	case !usedTool:
		t.CountMistake()
		parts = []Part{TextPart(noToolCorrective)}
	default:
		parts = []Part{TextPart("Tool execution produced no result.")}
	}

	t.mu.Lock()
	mistakes := t.mistakes
	t.mu.Unlock()
	if mistakes >= t.settings.MistakeLimit {
		guidance, err := t.escalateMistakes(ctx)
		if err != nil {
			return nil, false, err
		}
		if guidance != "" {
			parts = append(parts, TextPart("The user has provided guidance:\n"+guidance))
		}
	}
	return parts, false, nil
}

// escalateMistakes asks the human for direction after repeated turns with no
// valid tool use, then resets the counter.
func (t *Task) escalateMistakes(ctx context.Context) (string, error) {
	t.log.WithField("mistakes", t.settings.MistakeLimit).Warn("mistake limit reached, escalating")
	resp, err := t.Ask(ctx, AskMistakeGuidance,
		"The model keeps responding without a valid tool invocation. Provide guidance, or abort the task.")
	if err != nil {
		return "", fmt.Errorf("mistake escalation: %w", err)
	}
	t.ResetMistakes()
	t.persistTask(ctx)
	return resp.Text, nil
}

func (t *Task) maybeTruncate(ctx context.Context) {
	t.mu.Lock()
	needed := ShouldTruncate(t.lastRequestTokens, t.settings.ContextWindow)
	if needed {
		before := len(t.history)
		t.history = TruncateHistory(t.history)
		t.log.WithField("before", before).WithField("after", len(t.history)).Info("history truncated")
		t.lastRequestTokens = 0
	}
	t.mu.Unlock()
	if needed {
		t.persistHistory(ctx)
	}
}

func (t *Task) finishAbort(ctx context.Context) error {
	t.mu.Lock()
	t.history = RepairHistory(t.history)
	t.mu.Unlock()
	t.persistHistory(ctx)
	t.Say(ctx, SayStatus, "Task aborted.", false)
	t.setStatus(ctx, StatusAborted)
	t.log.Info("task aborted")
	return nil
}
