package worker

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Khambazarov/hello-word-sub000/internal/core/contracts"
	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
)

var tracer = otel.Tracer("event-worker")

// EventWorker consumes the event bus for this node and hands every event to
// the local registry.
type EventWorker struct {
	log      *slog.Logger
	bus      contracts.EventBus
	registry contracts.Registry
	conGroup string
}

func NewEventWorker(
	log *slog.Logger,
	bus contracts.EventBus,
	registry contracts.Registry,
	conGroup string,
) contracts.AsyncWorker {
	return &EventWorker{
		log:      log,
		bus:      bus,
		registry: registry,
		conGroup: conGroup,
	}
}

func (w *EventWorker) Run(ctx context.Context) error {
	if err := w.bus.Subscribe(ctx, w.conGroup, w.ProcessEvent); err != nil {
		w.log.ErrorContext(ctx, "worker - run - subscribe failed", "group", w.conGroup, logging.Err(err))
		return err
	}
	w.log.InfoContext(ctx, "worker - run - subscribe to stream success", "group", w.conGroup)
	return nil
}

// ProcessEvent delivers one event, then acknowledges it. Delivery is
// best effort, so the ack follows even when no local client was listening.
func (w *EventWorker) ProcessEvent(ctx context.Context, eventID string, env domain.Envelope) error {
	ctx, span := tracer.Start(ctx, "EventWorker.ProcessEvent", trace.WithAttributes(
		attribute.String("event_id", eventID),
		attribute.String("event", env.Event),
		attribute.Int("rooms", len(env.Rooms)),
	))
	defer span.End()

	w.registry.Deliver(ctx, env)
	if err := w.bus.Acknowledge(ctx, w.conGroup, eventID); err != nil {
		span.RecordError(err)
		w.log.ErrorContext(ctx, "worker - process event - acknowledge failed", "event_id", eventID, logging.Err(err))
		return err
	}
	w.log.DebugContext(ctx, "worker - process event - delivered", "event_id", eventID, logging.Event(env.Event))
	return nil
}
