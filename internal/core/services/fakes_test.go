package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock advances one second on every read so writes get distinct times.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// ---- users ----

type memUsers struct {
	mu   sync.Mutex
	byID map[primitive.ObjectID]domain.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[primitive.ObjectID]domain.User{}}
}

func (r *memUsers) CreateUser(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Email == u.Email {
			return domain.ErrEmailTaken
		}
		if existing.Username == u.Username {
			return domain.ErrUsernameTaken
		}
	}
	r.byID[u.ID] = *u
	return nil
}

func (r *memUsers) GetUserByID(_ context.Context, id primitive.ObjectID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (r *memUsers) find(match func(domain.User) bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if match(u) {
			return &u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *memUsers) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	email = strings.ToLower(email)
	return r.find(func(u domain.User) bool { return u.Email == email })
}

func (r *memUsers) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Username == username })
}

func (r *memUsers) GetUsersByIDs(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[primitive.ObjectID]*domain.User{}
	for _, id := range ids {
		if u, ok := r.byID[id]; ok {
			out[id] = &u
		}
	}
	return out, nil
}

func (r *memUsers) GetUsersByUsernames(_ context.Context, usernames []string) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.User
	for _, u := range r.byID {
		for _, n := range usernames {
			if u.Username == n {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (r *memUsers) UpdateUser(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[u.ID]; !ok {
		return domain.ErrUserNotFound
	}
	r.byID[u.ID] = *u
	return nil
}

func (r *memUsers) MarkVerified(_ context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.Verified = true
	r.byID[id] = u
	return nil
}

func (r *memUsers) DeleteUser(_ context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return domain.ErrUserNotFound
	}
	delete(r.byID, id)
	return nil
}

// ---- chatrooms ----

type memChatrooms struct {
	mu    sync.Mutex
	rooms map[primitive.ObjectID]*domain.Chatroom
	// beforeCreate runs right before a create is applied, outside the lock.
	beforeCreate func()
}

func newMemChatrooms() *memChatrooms {
	return &memChatrooms{rooms: map[primitive.ObjectID]*domain.Chatroom{}}
}

func cloneRoom(c *domain.Chatroom) *domain.Chatroom {
	cp := *c
	cp.Members = append([]primitive.ObjectID{}, c.Members...)
	cp.Admins = append([]primitive.ObjectID{}, c.Admins...)
	cp.LastSeen = make(map[string]time.Time, len(c.LastSeen))
	for k, v := range c.LastSeen {
		cp.LastSeen[k] = v
	}
	return &cp
}

func (r *memChatrooms) CreateChatroom(_ context.Context, c *domain.Chatroom) error {
	if hook := r.beforeCreate; hook != nil {
		r.beforeCreate = nil
		hook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rooms {
		if !c.IsGroup && !existing.IsGroup && existing.PairKey == c.PairKey {
			return domain.ErrDuplicateChatroom
		}
		if c.IsGroup && existing.IsGroup && existing.Name == c.Name {
			return domain.ErrGroupNameTaken
		}
	}
	r.rooms[c.ID] = cloneRoom(c)
	return nil
}

func (r *memChatrooms) GetChatroomByID(_ context.Context, id primitive.ObjectID) (*domain.Chatroom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rooms[id]
	if !ok {
		return nil, domain.ErrChatroomNotFound
	}
	return cloneRoom(c), nil
}

func (r *memChatrooms) FindDirectChatroom(_ context.Context, a, b primitive.ObjectID) (*domain.Chatroom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := domain.PairKey(a, b)
	for _, c := range r.rooms {
		if !c.IsGroup && c.PairKey == key {
			return cloneRoom(c), nil
		}
	}
	return nil, domain.ErrChatroomNotFound
}

func (r *memChatrooms) FindGroupByName(_ context.Context, name string) (*domain.Chatroom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.rooms {
		if c.IsGroup && c.Name == name {
			return cloneRoom(c), nil
		}
	}
	return nil, domain.ErrGroupNotFound
}

func (r *memChatrooms) ListChatroomsForUser(_ context.Context, userID primitive.ObjectID) ([]domain.Chatroom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Chatroom
	for _, c := range r.rooms {
		if c.IsMember(userID) {
			out = append(out, *cloneRoom(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (r *memChatrooms) mutate(id primitive.ObjectID, fn func(c *domain.Chatroom) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rooms[id]
	if !ok {
		return domain.ErrChatroomNotFound
	}
	return fn(c)
}

func (r *memChatrooms) SetLastSeen(_ context.Context, chatroomID, userID primitive.ObjectID, at time.Time) error {
	return r.mutate(chatroomID, func(c *domain.Chatroom) error {
		if !c.IsMember(userID) {
			return domain.ErrNotMember
		}
		c.LastSeen[userID.Hex()] = at
		return nil
	})
}

func (r *memChatrooms) TouchActivity(_ context.Context, chatroomID primitive.ObjectID, at time.Time) error {
	return r.mutate(chatroomID, func(c *domain.Chatroom) error {
		if at.After(c.LastActivity) {
			c.LastActivity = at
		}
		return nil
	})
}

func (r *memChatrooms) AddMembers(_ context.Context, chatroomID primitive.ObjectID, userIDs []primitive.ObjectID, at time.Time) error {
	return r.mutate(chatroomID, func(c *domain.Chatroom) error {
		for _, id := range userIDs {
			if !c.IsMember(id) {
				c.Members = append(c.Members, id)
			}
			c.LastSeen[id.Hex()] = at
		}
		if at.After(c.LastActivity) {
			c.LastActivity = at
		}
		return nil
	})
}

func (r *memChatrooms) RemoveMember(_ context.Context, chatroomID, userID primitive.ObjectID, at time.Time) error {
	return r.mutate(chatroomID, func(c *domain.Chatroom) error {
		c.Members = without(c.Members, userID)
		c.Admins = without(c.Admins, userID)
		delete(c.LastSeen, userID.Hex())
		if at.After(c.LastActivity) {
			c.LastActivity = at
		}
		return nil
	})
}

func (r *memChatrooms) SetAdmin(_ context.Context, chatroomID, userID primitive.ObjectID, admin bool, at time.Time) error {
	return r.mutate(chatroomID, func(c *domain.Chatroom) error {
		c.Admins = without(c.Admins, userID)
		if admin {
			c.Admins = append(c.Admins, userID)
		}
		return nil
	})
}

func (r *memChatrooms) UpdateGroup(_ context.Context, chatroomID primitive.ObjectID, update domain.GroupUpdate, at time.Time) error {
	return r.mutate(chatroomID, func(c *domain.Chatroom) error {
		if update.Name != nil {
			c.Name = *update.Name
		}
		if update.Description != nil {
			c.Description = *update.Description
		}
		if update.Image != nil {
			img := *update.Image
			c.Image = &img
		}
		return nil
	})
}

func (r *memChatrooms) DeleteChatroom(_ context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[id]; !ok {
		return domain.ErrChatroomNotFound
	}
	delete(r.rooms, id)
	return nil
}

func (r *memChatrooms) get(t *testing.T, id primitive.ObjectID) *domain.Chatroom {
	t.Helper()
	c, err := r.GetChatroomByID(context.Background(), id)
	if err != nil {
		t.Fatalf("chatroom %s: %v", id.Hex(), err)
	}
	return c
}

// ---- messages ----

type memMessages struct {
	mu   sync.Mutex
	msgs map[primitive.ObjectID]*domain.Message
}

func newMemMessages() *memMessages {
	return &memMessages{msgs: map[primitive.ObjectID]*domain.Message{}}
}

func cloneMessage(m *domain.Message) *domain.Message {
	cp := *m
	cp.EditSeenBy = append([]primitive.ObjectID{}, m.EditSeenBy...)
	cp.Sender = nil
	return &cp
}

func (r *memMessages) CreateMessage(_ context.Context, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[m.ID] = cloneMessage(m)
	return nil
}

func (r *memMessages) GetMessageByID(_ context.Context, id primitive.ObjectID) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return cloneMessage(m), nil
}

func (r *memMessages) inRoom(chatroomID primitive.ObjectID) []domain.Message {
	var out []domain.Message
	for _, m := range r.msgs {
		if m.ChatroomID == chatroomID {
			out = append(out, *cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *memMessages) ListMessages(_ context.Context, chatroomID primitive.ObjectID) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inRoom(chatroomID), nil
}

func (r *memMessages) LastMessage(_ context.Context, chatroomID primitive.ObjectID) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.inRoom(chatroomID)
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[len(msgs)-1], nil
}

func (r *memMessages) count(chatroomID primitive.ObjectID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inRoom(chatroomID))
}

func (r *memMessages) CountUnread(_ context.Context, chatroomID, userID primitive.ObjectID, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.inRoom(chatroomID) {
		if m.CreatedAt.After(since) && !m.SentBy(userID) {
			n++
		}
	}
	return n, nil
}

func (r *memMessages) update(id primitive.ObjectID, fn func(m *domain.Message)) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	fn(m)
	return cloneMessage(m), nil
}

func (r *memMessages) UpdateContent(_ context.Context, id primitive.ObjectID, content string, at time.Time) (*domain.Message, error) {
	return r.update(id, func(m *domain.Message) {
		m.Content = content
		m.EditedAt = &at
		m.UpdatedAt = at
		m.EditSeenBy = []primitive.ObjectID{}
		m.EditSeenByOwner = false
		m.EditSeenByPartner = false
	})
}

func (r *memMessages) AddEditSeenBy(_ context.Context, id, userID primitive.ObjectID) (*domain.Message, error) {
	return r.update(id, func(m *domain.Message) {
		for _, v := range m.EditSeenBy {
			if v == userID {
				return
			}
		}
		m.EditSeenBy = append(m.EditSeenBy, userID)
	})
}

func (r *memMessages) SetEditSeenFlag(_ context.Context, id primitive.ObjectID, owner bool) (*domain.Message, error) {
	return r.update(id, func(m *domain.Message) {
		if owner {
			m.EditSeenByOwner = true
		} else {
			m.EditSeenByPartner = true
		}
	})
}

func (r *memMessages) DeleteMessage(_ context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.msgs[id]; !ok {
		return domain.ErrMessageNotFound
	}
	delete(r.msgs, id)
	return nil
}

func (r *memMessages) DeleteMessagesByChatroom(_ context.Context, chatroomID primitive.ObjectID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, m := range r.msgs {
		if m.ChatroomID == chatroomID {
			delete(r.msgs, id)
			n++
		}
	}
	return n, nil
}

// ---- bus, presence, storage, verifier, tx ----

type memBus struct {
	mu     sync.Mutex
	events []domain.Envelope
}

func (b *memBus) Publish(_ context.Context, env domain.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, env)
	return nil
}

func (b *memBus) Subscribe(context.Context, string, func(context.Context, string, domain.Envelope) error) error {
	return nil
}

func (b *memBus) Acknowledge(context.Context, string, string) error { return nil }

// named returns the published envelopes of one event type.
func (b *memBus) named(event string) []domain.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Envelope
	for _, e := range b.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (b *memBus) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

type memPresence struct {
	mu     sync.Mutex
	online map[string]bool
	err    error
}

func newMemPresence() *memPresence { return &memPresence{online: map[string]bool{}} }

func (p *memPresence) MarkOnline(_ context.Context, userID string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = true
	return p.err
}

func (p *memPresence) MarkOffline(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, userID)
	return p.err
}

func (p *memPresence) OnlineAmong(_ context.Context, userIDs []string) (map[string]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	out := map[string]bool{}
	for _, id := range userIDs {
		if p.online[id] {
			out[id] = true
		}
	}
	return out, nil
}

const testStorageHost = "https://cdn.example.test/"

type memStorage struct {
	uploads []string
	err     error
}

func (s *memStorage) Upload(_ context.Context, file io.Reader, filename, folder, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if _, err := io.ReadAll(file); err != nil {
		return "", err
	}
	url := testStorageHost + folder + "/" + filename
	s.uploads = append(s.uploads, url)
	return url, nil
}

func (s *memStorage) Owns(url string) bool { return strings.HasPrefix(url, testStorageHost) }

type memVerifier struct {
	sent  []string
	codes map[string]string
	err   error
}

func (v *memVerifier) SendVerification(_ context.Context, email string) error {
	if v.err != nil {
		return v.err
	}
	v.sent = append(v.sent, email)
	return nil
}

func (v *memVerifier) CheckVerification(_ context.Context, email, code string) (bool, error) {
	if v.err != nil {
		return false, v.err
	}
	return v.codes[email] == code, nil
}

// memTx has no rollback; the account tests never depend on one.
type memTx struct{}

func (memTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

var errStore = errors.New("store unavailable")

// ---- harness ----

type harness struct {
	clock     *testClock
	users     *memUsers
	chatrooms *memChatrooms
	messages  *memMessages
	bus       *memBus
	presence  *memPresence
	storage   *memStorage
	verifier  *memVerifier

	notifier  *Notifier
	readState *ReadStateService
	msgs      *MessageService
	rooms     *ChatroomService
	groups    *GroupService
	listing   *ListingService
	accounts  *UserService
	uploads   *UploadService
	conns     *ConnectionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := discardLogger()
	h := &harness{
		clock:     newTestClock(),
		users:     newMemUsers(),
		chatrooms: newMemChatrooms(),
		messages:  newMemMessages(),
		bus:       &memBus{},
		presence:  newMemPresence(),
		storage:   &memStorage{},
		verifier:  &memVerifier{codes: map[string]string{}},
	}
	h.notifier = NewNotifier(log, h.bus)
	h.readState = NewReadStateService(log, h.chatrooms, h.messages, h.notifier)
	h.msgs = NewMessageService(log, h.users, h.chatrooms, h.messages, h.notifier, h.storage)
	h.rooms = NewChatroomService(log, h.users, h.chatrooms, h.messages, h.msgs, h.notifier)
	h.groups = NewGroupService(log, h.users, h.chatrooms, h.messages, h.msgs, h.notifier, h.presence)
	h.listing = NewListingService(log, h.users, h.chatrooms, h.messages, h.readState)
	h.accounts = NewUserService(log, h.users, h.verifier, memTx{}, false)
	h.uploads = NewUploadService(log, h.storage, h.groups, h.accounts, "", "")
	h.conns = NewConnectionService(log, h.presence, h.chatrooms, time.Minute)

	now := h.clock.Now
	h.readState.now = now
	h.msgs.now = now
	h.rooms.now = now
	h.groups.now = now
	h.accounts.now = now
	return h
}

// user creates a verified account.
func (h *harness) user(t *testing.T, username string) primitive.ObjectID {
	t.Helper()
	u := domain.NewUser(username+"@example.test", username, "x", h.clock.Now())
	u.Verified = true
	if err := h.users.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u.ID
}

// direct opens a direct chat from a to b with one message from a.
func (h *harness) direct(t *testing.T, a primitive.ObjectID, bName string) primitive.ObjectID {
	t.Helper()
	id, err := h.rooms.CreateDirectChat(context.Background(), a, bName, "hi")
	if err != nil {
		t.Fatalf("create direct chat: %v", err)
	}
	return id
}

func (h *harness) send(t *testing.T, room, from primitive.ObjectID, content string) *domain.Message {
	t.Helper()
	msg, err := h.msgs.Send(context.Background(), room, from, content)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	return msg
}

func (h *harness) unread(t *testing.T, room, user primitive.ObjectID) int64 {
	t.Helper()
	n, err := h.readState.UnreadCount(context.Background(), room, user)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	return n
}

func wantClass(t *testing.T, err, class error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", class)
	}
	if !errors.Is(err, class) {
		t.Fatalf("expected %v error, got %v", class, err)
	}
}
