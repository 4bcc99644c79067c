package contracts

import (
	"context"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
)

// EventBus carries realtime events between nodes.
type EventBus interface {
	// Producer side (services)
	Publish(ctx context.Context, env domain.Envelope) error
	// Consumer side (worker). Every consumer group sees every event, so each
	// node subscribes with its own group.
	Subscribe(ctx context.Context, group string, handler func(ctx context.Context, eventID string, env domain.Envelope) error) error
	// Acknowledge marks the event as handled for the group.
	Acknowledge(ctx context.Context, group, eventID string) error
}
