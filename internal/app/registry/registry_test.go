package registry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
)

type fakeClient struct {
	id, userID string
	mu         sync.Mutex
	frames     []domain.ServerFrame
}

func newFakeClient(userID primitive.ObjectID) *fakeClient {
	return &fakeClient{id: primitive.NewObjectID().Hex(), userID: userID.Hex()}
}

func (c *fakeClient) ID() string     { return c.id }
func (c *fakeClient) UserID() string { return c.userID }
func (c *fakeClient) Close()         {}

func (c *fakeClient) Send(_ context.Context, data []byte) error {
	var f domain.ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeClient) received() []domain.ServerFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ServerFrame(nil), c.frames...)
}

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDeliverToRoomMembersOnce(t *testing.T) {
	h := newTestRegistry()
	alice, bob := primitive.NewObjectID(), primitive.NewObjectID()
	a := newFakeClient(alice)
	b := newFakeClient(bob)
	h.Register(a)
	h.Register(b)

	room := primitive.NewObjectID().Hex()
	h.Join(a, room)

	h.Deliver(context.Background(), domain.Envelope{
		Rooms:   []string{room, domain.UserRoom(alice)},
		Event:   domain.EventMessage,
		Payload: json.RawMessage(`{"content":"hi"}`),
	})

	got := a.received()
	if len(got) != 1 {
		t.Fatalf("alice got %d frames, want 1", len(got))
	}
	if got[0].Type != domain.FrameEvent || got[0].Event != domain.EventMessage || got[0].Room != room {
		t.Errorf("frame = %+v", got[0])
	}
	if string(got[0].Payload) != `{"content":"hi"}` {
		t.Errorf("payload = %s", got[0].Payload)
	}
	if n := len(b.received()); n != 0 {
		t.Errorf("bob got %d frames, want 0", n)
	}
}

func TestUserRoomJoinedOnRegister(t *testing.T) {
	h := newTestRegistry()
	alice := primitive.NewObjectID()
	a := newFakeClient(alice)
	h.Register(a)

	h.Deliver(context.Background(), domain.Envelope{
		Rooms:   []string{domain.UserRoom(alice)},
		Event:   domain.EventChatListUpdate,
		Payload: json.RawMessage(`{}`),
	})
	if n := len(a.received()); n != 1 {
		t.Fatalf("frames = %d, want 1", n)
	}
}

func TestLeaveAndUnregister(t *testing.T) {
	h := newTestRegistry()
	alice := primitive.NewObjectID()
	first := newFakeClient(alice)
	second := newFakeClient(alice)
	h.Register(first)
	h.Register(second)

	room := primitive.NewObjectID().Hex()
	h.Join(first, room)
	h.Leave(first, room)
	h.Deliver(context.Background(), domain.Envelope{Rooms: []string{room}, Event: domain.EventMessage})
	if n := len(first.received()); n != 0 {
		t.Errorf("left client got %d frames", n)
	}

	h.Unregister(first)
	if !h.Connected(alice.Hex()) {
		t.Fatal("user should still be connected through the second client")
	}
	h.Unregister(second)
	if h.Connected(alice.Hex()) {
		t.Fatal("user still connected after the last client left")
	}
	// unknown clients are ignored
	h.Unregister(second)
	h.Join(second, room)
	if len(h.rooms) != 0 {
		t.Errorf("rooms left behind: %v", h.rooms)
	}
}

func TestDeliverEvictsRemovedMember(t *testing.T) {
	h := newTestRegistry()
	alice, bob := primitive.NewObjectID(), primitive.NewObjectID()
	a := newFakeClient(alice)
	b := newFakeClient(bob)
	h.Register(a)
	h.Register(b)

	room := primitive.NewObjectID().Hex()
	h.Join(a, room)
	h.Join(b, room)

	ctx := context.Background()
	h.Deliver(ctx, domain.Envelope{
		Rooms:   []string{room, domain.UserRoom(alice)},
		Event:   domain.EventMemberRemoved,
		Payload: json.RawMessage(`{}`),
		Evict:   []string{alice.Hex()},
	})
	h.Deliver(ctx, domain.Envelope{Rooms: []string{room}, Event: domain.EventMessage, Payload: json.RawMessage(`{}`)})

	got := a.received()
	if len(got) != 1 || got[0].Event != domain.EventMemberRemoved {
		t.Fatalf("evicted member frames = %+v, want only the removal", got)
	}
	if n := len(b.received()); n != 2 {
		t.Errorf("remaining member got %d frames, want 2", n)
	}

	h.Deliver(ctx, domain.Envelope{Rooms: []string{domain.UserRoom(alice)}, Event: domain.EventChatListUpdate, Payload: json.RawMessage(`{}`)})
	if n := len(a.received()); n != 2 {
		t.Errorf("evicted member lost the user room: %d frames", n)
	}
}
