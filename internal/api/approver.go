package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ccrvlh/codey-sub000/internal/engine"
	"github.com/ccrvlh/codey-sub000/internal/eventbus"
)

// Approver bridges the engine's blocking asks to the HTTP respond endpoint.
// Each ask is published on the ask stream and parked until a client answers
// or the task's context ends. At most one ask is pending per task.
type Approver struct {
	bus *eventbus.Bus
	log *logrus.Entry

	// AutoApprove answers approval-style asks positively without waiting.
	// Followup questions and mistake escalations still block.
	AutoApprove bool

	mu      sync.Mutex
	pending map[string]*pendingAsk
}

type pendingAsk struct {
	req    engine.AskRequest
	answer chan engine.AskResponse
}

func NewApprover(bus *eventbus.Bus, log *logrus.Entry) *Approver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Approver{bus: bus, log: log, pending: map[string]*pendingAsk{}}
}

func (a *Approver) Ask(ctx context.Context, req engine.AskRequest) (engine.AskResponse, error) {
	if a.AutoApprove && autoApprovable(req.Kind) {
		a.publishAnswer(ctx, req, engine.AskResponse{Response: engine.AskApproved})
		return engine.AskResponse{Response: engine.AskApproved}, nil
	}

	ask := &pendingAsk{req: req, answer: make(chan engine.AskResponse, 1)}
	a.mu.Lock()
	if prev, ok := a.pending[req.TaskID]; ok {
		// A newer ask supersedes a stale one; the old waiter gets a denial.
		prev.answer <- engine.AskResponse{Response: engine.AskDenied}
	}
	a.pending[req.TaskID] = ask
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.pending[req.TaskID] == ask {
			delete(a.pending, req.TaskID)
		}
		a.mu.Unlock()
	}()

	if a.bus != nil {
		_, err := a.bus.Push(ctx, eventbus.EventInput{
			Stream:  eventbus.StreamAsk,
			TaskID:  req.TaskID,
			Subject: string(req.Kind),
			Body:    req.Payload,
			Payload: map[string]any{"ask_id": req.AskID},
		})
		if err != nil {
			a.log.WithError(err).WithField("task_id", req.TaskID).Warn("publish ask event")
		}
	}

	select {
	case resp := <-ask.answer:
		a.publishAnswer(ctx, req, resp)
		return resp, nil
	case <-ctx.Done():
		return engine.AskResponse{Response: engine.AskDenied}, ctx.Err()
	}
}

// Respond resolves the pending ask for taskID. It fails when nothing is
// waiting, which tells the client the ask was already answered or timed out.
func (a *Approver) Respond(taskID string, resp engine.AskResponse) error {
	a.mu.Lock()
	ask, ok := a.pending[taskID]
	if ok {
		delete(a.pending, taskID)
	}
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending ask for task %s", taskID)
	}
	ask.answer <- resp
	return nil
}

// PendingAsk reports the ask currently blocking taskID, if any.
func (a *Approver) PendingAsk(taskID string) (engine.AskRequest, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ask, ok := a.pending[taskID]
	if !ok {
		return engine.AskRequest{}, false
	}
	return ask.req, true
}

func (a *Approver) publishAnswer(ctx context.Context, req engine.AskRequest, resp engine.AskResponse) {
	if a.bus == nil {
		return
	}
	_, err := a.bus.Push(ctx, eventbus.EventInput{
		Stream:  eventbus.StreamAnswer,
		TaskID:  req.TaskID,
		Subject: string(req.Kind),
		Body:    resp.Text,
		Payload: map[string]any{"ask_id": req.AskID, "response": string(resp.Response)},
	})
	if err != nil {
		a.log.WithError(err).WithField("task_id", req.TaskID).Warn("publish answer event")
	}
}

func autoApprovable(kind engine.AskKind) bool {
	switch kind {
	case engine.AskTool, engine.AskCommand, engine.AskCompletion, engine.AskAPIRetry:
		return true
	}
	return false
}
