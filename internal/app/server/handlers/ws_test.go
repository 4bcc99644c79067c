package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Khambazarov/hello-word-sub000/internal/app/registry"
	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/internal/core/services"
	"github.com/Khambazarov/hello-word-sub000/pkg/middleware"
)

type stubPresence struct {
	mu      sync.Mutex
	online  map[string]bool
	offline chan string
}

func newStubPresence() *stubPresence {
	return &stubPresence{online: make(map[string]bool), offline: make(chan string, 4)}
}

func (p *stubPresence) MarkOnline(_ context.Context, userID string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = true
	return nil
}

func (p *stubPresence) MarkOffline(_ context.Context, userID string) error {
	p.mu.Lock()
	p.online[userID] = false
	p.mu.Unlock()
	p.offline <- userID
	return nil
}

func (p *stubPresence) OnlineAmong(_ context.Context, userIDs []string) (map[string]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		out[id] = p.online[id]
	}
	return out, nil
}

// stubChatrooms serves a single chatroom; every other method is unused.
type stubChatrooms struct {
	domain.ChatroomRepository
	room *domain.Chatroom
}

func (s *stubChatrooms) GetChatroomByID(_ context.Context, id primitive.ObjectID) (*domain.Chatroom, error) {
	if s.room == nil || s.room.ID != id {
		return nil, domain.ErrChatroomNotFound
	}
	return s.room, nil
}

type wsEnv struct {
	hub      *registry.Registry
	presence *stubPresence
	room     *domain.Chatroom
	server   *httptest.Server
}

func newWSEnv(t *testing.T, member primitive.ObjectID) *wsEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	room := &domain.Chatroom{ID: primitive.NewObjectID(), Members: []primitive.ObjectID{member}}
	env := &wsEnv{
		hub:      registry.NewRegistry(log),
		presence: newStubPresence(),
		room:     room,
	}
	conns := services.NewConnectionService(log, env.presence, &stubChatrooms{room: room}, time.Minute)
	h := NewWSHandler(env.hub, conns, nil, 16)

	env.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		h.Handler(w, r.WithContext(context.WithValue(r.Context(), middleware.UserIDKey, userID)))
	}))
	t.Cleanup(env.server.Close)
	return env
}

func (e *wsEnv) dial(t *testing.T, userID primitive.ObjectID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/?user=" + userID.Hex()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) domain.ServerFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame domain.ServerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return frame
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWSUserRoomDelivery(t *testing.T) {
	user := primitive.NewObjectID()
	env := newWSEnv(t, user)
	conn := env.dial(t, user)
	defer conn.Close()

	waitFor(t, "registration", func() bool { return env.hub.Connected(user.Hex()) })

	env.hub.Deliver(context.Background(), domain.Envelope{
		Rooms:   []string{domain.UserRoom(user)},
		Event:   domain.EventChatListUpdate,
		Payload: json.RawMessage(`{"chatroomId":"x"}`),
	})
	frame := readFrame(t, conn)
	if frame.Type != domain.FrameEvent || frame.Event != domain.EventChatListUpdate {
		t.Errorf("Unexpected frame %+v", frame)
	}
	if frame.Room != domain.UserRoom(user) {
		t.Errorf("Expected room %s, got %s", domain.UserRoom(user), frame.Room)
	}
}

func TestWSJoinRequiresMembership(t *testing.T) {
	member := primitive.NewObjectID()
	outsider := primitive.NewObjectID()
	env := newWSEnv(t, member)

	conn := env.dial(t, outsider)
	defer conn.Close()
	if err := conn.WriteJSON(domain.ClientFrame{Type: domain.FrameJoin, Room: env.room.ID.Hex()}); err != nil {
		t.Fatalf("Failed to write join: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != domain.FrameError || frame.Error != domain.ErrNotMember.Error() {
		t.Errorf("Expected membership error, got %+v", frame)
	}

	if err := conn.WriteJSON(domain.ClientFrame{Type: domain.FrameJoin, Room: domain.UserRoom(member)}); err != nil {
		t.Fatalf("Failed to write join: %v", err)
	}
	if frame := readFrame(t, conn); frame.Type != domain.FrameError {
		t.Errorf("Expected joining another user's room to fail, got %+v", frame)
	}
}

func TestWSJoinAndLeaveChatroom(t *testing.T) {
	member := primitive.NewObjectID()
	env := newWSEnv(t, member)
	conn := env.dial(t, member)
	defer conn.Close()

	if err := conn.WriteJSON(domain.ClientFrame{Type: domain.FrameJoin, Room: env.room.ID.Hex()}); err != nil {
		t.Fatalf("Failed to write join: %v", err)
	}
	env.deliverUntilReceived(t, conn, env.room.ID.Hex())

	if err := conn.WriteJSON(domain.ClientFrame{Type: domain.FrameLeave, Room: env.room.ID.Hex()}); err != nil {
		t.Fatalf("Failed to write leave: %v", err)
	}
	if err := conn.WriteJSON(domain.ClientFrame{Type: "shout", Room: env.room.ID.Hex()}); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
	// the unknown frame is answered after the leave was applied
	for frame := readFrame(t, conn); frame.Type != domain.FrameError; frame = readFrame(t, conn) {
		if frame.Type != domain.FrameEvent {
			t.Fatalf("Unexpected frame %+v", frame)
		}
	}
	env.hub.Deliver(context.Background(), domain.Envelope{
		Rooms:   []string{env.room.ID.Hex()},
		Event:   domain.EventMessage,
		Payload: json.RawMessage(`{}`),
	})
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected no delivery after leaving the room")
	}
}

// deliverUntilReceived repeats a message event to room until conn sees it.
func (e *wsEnv) deliverUntilReceived(t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()
	received := make(chan domain.ServerFrame, 1)
	go func() {
		var frame domain.ServerFrame
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&frame); err == nil {
			received <- frame
		}
		close(received)
	}()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case frame, ok := <-received:
			if !ok {
				t.Fatal("Timed out waiting for room delivery")
			}
			if frame.Room != room || frame.Event != domain.EventMessage {
				t.Fatalf("Unexpected frame %+v", frame)
			}
			return
		case <-ticker.C:
			e.hub.Deliver(context.Background(), domain.Envelope{
				Rooms:   []string{room},
				Event:   domain.EventMessage,
				Payload: json.RawMessage(`{}`),
			})
		}
	}
}

func TestWSDisconnectMarksOffline(t *testing.T) {
	user := primitive.NewObjectID()
	env := newWSEnv(t, user)

	first := env.dial(t, user)
	env.deliverUntilReceived(t, first, domain.UserRoom(user))
	second := env.dial(t, user)
	env.deliverUntilReceived(t, second, domain.UserRoom(user))

	_ = first.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	first.Close()
	select {
	case <-env.presence.offline:
		t.Fatal("Expected user to stay online while another connection is open")
	case <-time.After(200 * time.Millisecond):
	}

	_ = second.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	second.Close()
	select {
	case id := <-env.presence.offline:
		if id != user.Hex() {
			t.Errorf("Expected %s offline, got %s", user.Hex(), id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected user to go offline after the last connection closed")
	}
}
