package eventbus

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ccrvlh/codey-sub000/internal/engine"
)

// Emitter bridges the engine's transcript to the bus. Partial say updates go
// out ephemeral; the finalized entry is the one that persists.
type Emitter struct {
	bus *Bus
	log *logrus.Entry
}

func NewEmitter(bus *Bus, log *logrus.Entry) *Emitter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Emitter{bus: bus, log: log}
}

func (e *Emitter) Say(ctx context.Context, taskID string, kind engine.SayKind, text string, partial bool) {
	_, err := e.bus.Push(ctx, EventInput{
		Stream:    StreamSay,
		TaskID:    taskID,
		Subject:   string(kind),
		Body:      text,
		Ephemeral: partial,
	})
	if err != nil {
		e.log.WithError(err).WithField("task_id", taskID).Warn("publish say event")
	}
}
