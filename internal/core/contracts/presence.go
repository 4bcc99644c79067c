package contracts

import (
	"context"
	"time"
)

// PresenceStore keeps one ZSET of online users scored by their last heartbeat.
type PresenceStore interface {
	// MarkOnline refreshes the user's heartbeat; it expires after ttl.
	MarkOnline(ctx context.Context, userID string, ttl time.Duration) error
	MarkOffline(ctx context.Context, userID string) error
	// OnlineAmong reports which of userIDs currently have a live heartbeat.
	OnlineAmong(ctx context.Context, userIDs []string) (map[string]bool, error)
}
