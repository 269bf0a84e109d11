package engine

import (
	"context"

	"github.com/ccrvlh/codey-sub000/internal/idgen"
	"github.com/ccrvlh/codey-sub000/internal/parser"
)

// The block presentation sequencer. presentBlocks may be invoked from any
// number of goroutines as stream chunks land; the lock/pendingUpdate pair
// guarantees at most one block is ever being presented or executed at a
// time, and that no update is lost: an invocation that finds the routine
// busy leaves a flag the busy routine re-checks after finishing.

// setBlocks replaces the parsed block list with the latest parse of the
// growing assistant text. Finalized prefixes are stable, so indices already
// presented keep their meaning.
func (t *Task) setBlocks(blocks []parser.ContentBlock) {
	t.mu.Lock()
	t.blocks = blocks
	t.mu.Unlock()
}

// markStreamDone finalizes any still-partial blocks (the stream can no
// longer grow them) and records that no further blocks will appear.
func (t *Task) markStreamDone() {
	t.mu.Lock()
	for i := range t.blocks {
		t.blocks[i].Partial = false
	}
	t.streamDone = true
	t.mu.Unlock()
}

// presentBlocks drives the streaming cursor. Out-of-bounds access is
// expected while the model is still generating; the next parser update
// re-invokes and resumes from the same index.
func (t *Task) presentBlocks(ctx context.Context) {
	for {
		t.mu.Lock()
		if t.presentLocked {
			t.pendingUpdate = true
			t.mu.Unlock()
			return
		}
		idx := t.cursorIndex
		if idx >= len(t.blocks) {
			if t.streamDone {
				t.signalReadyLocked()
			}
			t.mu.Unlock()
			return
		}
		t.presentLocked = true
		block := t.blocks[idx].Clone()
		if block.Kind == parser.BlockToolUse {
			id := t.toolIDs[idx]
			if id == "" {
				id = idgen.New()
				t.toolIDs[idx] = id
			}
			t.activeToolID = id
			t.activeToolName = string(block.Name)
		}
		rejected := t.didReject
		t.mu.Unlock()

		switch block.Kind {
		case parser.BlockText:
			if block.Content != "" && !rejected {
				t.Say(ctx, SayText, block.Content, block.Partial)
			}
		case parser.BlockToolUse:
			t.deps.Dispatcher.Execute(ctx, t, block)
		}

		t.mu.Lock()
		t.presentLocked = false
		finished := !block.Partial || t.didReject
		advanced := false
		if finished {
			t.cursorIndex = idx + 1
			if t.cursorIndex >= len(t.blocks) {
				if t.streamDone || t.didReject {
					t.signalReadyLocked()
				}
			} else {
				advanced = true
			}
		}
		pending := t.pendingUpdate
		t.pendingUpdate = false
		t.mu.Unlock()

		if !advanced && !pending {
			return
		}
	}
}

// signalReadyLocked flips readyForNextTurn exactly once per turn. Caller
// holds mu.
func (t *Task) signalReadyLocked() {
	if t.ready {
		return
	}
	t.ready = true
	close(t.readyCh)
}

// readyChan returns the channel closed when every block of the current turn
// has been presented and the turn may advance.
func (t *Task) readyChan() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readyCh
}
