package workers

import (
	"context"
	"log/slog"

	"mucbot/contract"
	"mucbot/domain/event"
)

// Ensure *DispatchWorker implements the contract.Worker interface at
// compile time.
var _ contract.Worker = (*DispatchWorker)(nil)

// EventHandler is implemented by the bot. Handlers must serialize their
// own state mutations; the workers only provide the concurrency.
type EventHandler interface {
	HandleEvent(ctx context.Context, e event.Event)
}

// DispatchWorker drains the protocol event channel. Several instances run
// in parallel so a slow command handler does not stall receipt of new
// protocol events.
type DispatchWorker struct {
	events  <-chan event.Event
	handler EventHandler
	log     *slog.Logger
}

func NewDispatchWorker(events <-chan event.Event, handler EventHandler, log *slog.Logger) *DispatchWorker {
	return &DispatchWorker{events: events, handler: handler, log: log}
}

func (w *DispatchWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping dispatch worker")
			return ctx.Err()
		case e, ok := <-w.events:
			if !ok {
				w.log.Debug("Event channel closed")
				return nil
			}
			w.handler.HandleEvent(ctx, e)
		}
	}
}
