package contracts

import (
	"context"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
)

// Registry manages the websocket clients of this node and their room
// subscriptions, and delivers bus events to them.
type Registry interface {
	// Register adds a client to the node and joins it to its user room.
	Register(c Client)
	// Unregister removes the client from every room.
	Unregister(c Client)
	Join(c Client, room string)
	Leave(c Client, room string)
	// Deliver pushes the event to every local client in any of its rooms, once per client.
	Deliver(ctx context.Context, env domain.Envelope)
}

// Client is the minimal view of one websocket connection.
type Client interface {
	ID() string
	UserID() string
	Send(ctx context.Context, data []byte) error
	Close()
}
