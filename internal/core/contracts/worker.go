package contracts

import (
	"context"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
)

type AsyncWorker interface {
	// Run starts the consumer loop for this node
	Run(ctx context.Context) error
	// ProcessEvent delivers one bus event to the local registry
	ProcessEvent(ctx context.Context, eventID string, env domain.Envelope) error
}
