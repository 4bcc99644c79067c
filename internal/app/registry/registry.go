package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/Khambazarov/hello-word-sub000/internal/core/contracts"
	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
)

// Registry tracks the websocket clients of this node and the rooms they joined.
type Registry struct {
	mu      sync.RWMutex
	log     *slog.Logger
	rooms   map[string]map[string]contracts.Client // room → client_id → client
	joined  map[string]map[string]struct{}         // client_id → rooms
	clients map[string]contracts.Client
	users   map[string]int // user_id → live clients
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:     log,
		rooms:   make(map[string]map[string]contracts.Client),
		joined:  make(map[string]map[string]struct{}),
		clients: make(map[string]contracts.Client),
		users:   make(map[string]int),
	}
}

// Register adds the client and joins it to its own user room.
func (h *Registry) Register(c contracts.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID()]; ok {
		return
	}
	h.clients[c.ID()] = c
	h.joined[c.ID()] = make(map[string]struct{})
	h.users[c.UserID()]++
	if id, err := domain.ParseID(c.UserID()); err == nil {
		h.join(c, domain.UserRoom(id))
	}
}

func (h *Registry) Unregister(c contracts.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID()]; !ok {
		return
	}
	for room := range h.joined[c.ID()] {
		h.leave(c, room)
	}
	delete(h.joined, c.ID())
	delete(h.clients, c.ID())
	if h.users[c.UserID()]--; h.users[c.UserID()] <= 0 {
		delete(h.users, c.UserID())
	}
}

func (h *Registry) Join(c contracts.Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID()]; !ok {
		return
	}
	h.join(c, room)
}

func (h *Registry) Leave(c contracts.Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(c, room)
}

func (h *Registry) join(c contracts.Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]contracts.Client)
	}
	h.rooms[room][c.ID()] = c
	h.joined[c.ID()][room] = struct{}{}
}

func (h *Registry) leave(c contracts.Client, room string) {
	delete(h.rooms[room], c.ID())
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
	if rooms := h.joined[c.ID()]; rooms != nil {
		delete(rooms, room)
	}
}

// Connected reports whether the user still has a client on this node.
func (h *Registry) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[userID] > 0
}

// Deliver sends the event to every client in any of its rooms. A client in
// several of the rooms gets the frame once, tagged with the first room.
// Clients of the envelope's evicted users then leave its chatroom rooms.
func (h *Registry) Deliver(ctx context.Context, env domain.Envelope) {
	type target struct {
		client contracts.Client
		room   string
	}
	h.mu.RLock()
	seen := make(map[string]bool)
	var targets []target
	for _, room := range env.Rooms {
		for id, c := range h.rooms[room] {
			if seen[id] {
				continue
			}
			seen[id] = true
			targets = append(targets, target{client: c, room: room})
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		data, err := json.Marshal(domain.ServerFrame{
			Type:    domain.FrameEvent,
			Room:    t.room,
			Event:   env.Event,
			Payload: env.Payload,
		})
		if err != nil {
			h.log.ErrorContext(ctx, "registry - deliver - encode failed", logging.Event(env.Event), logging.Err(err))
			break
		}
		if err := t.client.Send(ctx, data); err != nil {
			h.log.WarnContext(ctx, "registry - deliver - send failed", logging.Client(t.client.ID()), logging.Event(env.Event), logging.Err(err))
		}
	}
	if len(env.Evict) > 0 {
		h.evict(ctx, env.Rooms, env.Evict)
	}
}

// evict never touches user rooms, so a removed member keeps getting list updates.
func (h *Registry) evict(ctx context.Context, rooms, userIDs []string) {
	users := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		users[id] = true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range rooms {
		if _, isUserRoom, err := domain.ParseRoom(room); err != nil || isUserRoom {
			continue
		}
		for _, c := range h.rooms[room] {
			if users[c.UserID()] {
				h.leave(c, room)
				h.log.DebugContext(ctx, "registry - evict - success", logging.Client(c.ID()), logging.User(c.UserID()), logging.Room(room))
			}
		}
	}
}
