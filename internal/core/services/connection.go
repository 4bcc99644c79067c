package services

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Khambazarov/hello-word-sub000/internal/core/contracts"
	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
)

// ConnectionService handles the lifecycle of one websocket connection:
// presence heartbeats and room authorization.
type ConnectionService struct {
	log       *slog.Logger
	presence  contracts.PresenceStore
	chatrooms domain.ChatroomRepository
	ttl       time.Duration
}

func NewConnectionService(
	log *slog.Logger,
	presence contracts.PresenceStore,
	chatrooms domain.ChatroomRepository,
	ttl time.Duration,
) *ConnectionService {
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &ConnectionService{
		log:       log,
		presence:  presence,
		chatrooms: chatrooms,
		ttl:       ttl,
	}
}

// HandleConnect marks the user online.
func (c *ConnectionService) HandleConnect(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "ConnectionService.HandleConnect", trace.WithAttributes(
		attribute.String("user_id", userID),
	))
	defer span.End()

	if err := c.presence.MarkOnline(ctx, userID, c.ttl); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "presence update failed")
		c.log.ErrorContext(ctx, "connection - handle connect - mark online failed", logging.User(userID), logging.Err(err))
		return err
	}
	span.SetStatus(codes.Ok, "connected")
	return nil
}

// HandleHeartbeat refreshes presence at a third of the ttl until ctx ends.
func (c *ConnectionService) HandleHeartbeat(ctx context.Context, userID string) error {
	ticker := time.NewTicker(c.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("connection - handle heartbeat - stopped", logging.User(userID))
			return nil
		case <-ticker.C:
			hctx, span := tracer.Start(ctx, "Heartbeat.MarkOnline")
			if err := c.presence.MarkOnline(hctx, userID, c.ttl); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "redis update failed")
				c.log.ErrorContext(hctx, "connection - handle heartbeat - mark online failed", logging.User(userID), logging.Err(err))
			}
			span.End()
		}
	}
}

// HandleDisconnect clears presence once the user's last local connection
// is gone. Connections on other nodes keep refreshing it.
func (c *ConnectionService) HandleDisconnect(ctx context.Context, userID string, lastLocal bool) error {
	ctx, span := tracer.Start(ctx, "ConnectionService.HandleDisconnect", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.Bool("last_local", lastLocal),
	))
	defer span.End()

	if !lastLocal {
		return nil
	}
	if err := c.presence.MarkOffline(ctx, userID); err != nil {
		span.RecordError(err)
		c.log.ErrorContext(ctx, "connection - handle disconnect - mark offline failed", logging.User(userID), logging.Err(err))
		return err
	}
	return nil
}

// AuthorizeRoom decides whether userID may join room: its own user room, or
// a chatroom it is a member of.
func (c *ConnectionService) AuthorizeRoom(ctx context.Context, userID, room string) error {
	ctx, span := tracer.Start(ctx, "ConnectionService.AuthorizeRoom", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("room", room),
	))
	defer span.End()
	const op = "connection - authorize room"

	uid, err := domain.ParseID(userID)
	if err != nil {
		return fail(ctx, c.log, span, op, err, logging.User(userID))
	}
	id, isUserRoom, err := domain.ParseRoom(room)
	if err != nil {
		return fail(ctx, c.log, span, op, err, logging.User(userID), logging.Room(room))
	}
	if isUserRoom {
		if id != uid {
			return fail(ctx, c.log, span, op, domain.Forbidden("cannot join another user's room"), logging.User(userID), logging.Room(room))
		}
		return nil
	}
	if _, err := loadMembership(ctx, c.chatrooms, id, uid); err != nil {
		return fail(ctx, c.log, span, op, err, logging.User(userID), logging.Room(room))
	}
	return nil
}
