package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Khambazarov/hello-word-sub000/internal/app/registry"
	"github.com/Khambazarov/hello-word-sub000/internal/app/server/ws"
	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/internal/core/services"
	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
)

type WSHandler struct {
	hub        *registry.Registry
	conns      *services.ConnectionService
	upgrader   websocket.Upgrader
	bufferSize int
}

// NewWSHandler accepts upgrades from the given origins; an empty list or "*"
// accepts any origin.
func NewWSHandler(hub *registry.Registry, conns *services.ConnectionService, allowedOrigins []string, bufferSize int) *WSHandler {
	return &WSHandler{
		hub:   hub,
		conns: conns,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		bufferSize: bufferSize,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

func (s *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	span := trace.SpanFromContext(r.Context())
	uid, err := currentUser(r)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	userID := uid.Hex()
	span.SetAttributes(attribute.String("user.id", userID))

	// the session outlives the upgrade request
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "ws handler - upgrade - ws upgrade failed", logging.Err(err))
		return
	}
	socket := ws.NewWebSocket(ctx, conn)
	client := ws.NewClient(ctx, socket, userID, s.bufferSize)
	defer client.Close()

	s.hub.Register(client)
	if err := s.conns.HandleConnect(ctx, userID); err != nil {
		log.WarnContext(ctx, "ws handler - handle connect - presence not recorded", logging.User(userID), logging.Err(err))
	}
	log.InfoContext(ctx, "ws handler - ws connection established", logging.User(userID), logging.Client(client.ID()))
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer func() {
		stopHeartbeat()
		s.hub.Unregister(client)
		if err := s.conns.HandleDisconnect(ctx, userID, !s.hub.Connected(userID)); err != nil {
			log.WarnContext(ctx, "ws handler - handle disconnect", logging.User(userID), logging.Err(err))
		}
		log.InfoContext(ctx, "ws handler - ws connection closed", logging.User(userID), logging.Client(client.ID()))
	}()

	go func() {
		_ = s.conns.HandleHeartbeat(hbCtx, userID)
	}()

	err = socket.ReadLoop(func(data []byte) {
		s.handleFrame(ctx, client, data)
	})
	if err != nil {
		log.WarnContext(ctx, "ws handler - read loop - unexpected close", logging.User(userID), logging.Err(err))
	}
}

func (s *WSHandler) handleFrame(ctx context.Context, client *ws.RuntimeClient, data []byte) {
	var frame domain.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.reject(ctx, client, "", domain.Validation("malformed frame"))
		return
	}
	switch frame.Type {
	case domain.FrameJoin:
		if err := s.conns.AuthorizeRoom(ctx, client.UserID(), frame.Room); err != nil {
			s.reject(ctx, client, frame.Room, err)
			return
		}
		s.hub.Join(client, frame.Room)
		logging.FromContext(ctx).DebugContext(ctx, "ws handler - join - success", logging.Client(client.ID()), logging.Room(frame.Room))
	case domain.FrameLeave:
		s.hub.Leave(client, frame.Room)
		logging.FromContext(ctx).DebugContext(ctx, "ws handler - leave - success", logging.Client(client.ID()), logging.Room(frame.Room))
	default:
		s.reject(ctx, client, frame.Room, domain.Validation("unknown frame type"))
	}
}

func (s *WSHandler) reject(ctx context.Context, client *ws.RuntimeClient, room string, err error) {
	data, _ := json.Marshal(domain.ServerFrame{
		Type:  domain.FrameError,
		Room:  room,
		Error: domain.PublicMessage(err),
	})
	if err := client.Send(ctx, data); err != nil {
		logging.FromContext(ctx).DebugContext(ctx, "ws handler - reject - frame dropped", logging.Client(client.ID()), logging.Room(room), logging.Err(err))
	}
}
