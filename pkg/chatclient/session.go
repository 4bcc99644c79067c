// Package chatclient is a websocket client for the realtime channel. A
// Session owns one connection, keeps the rooms it joined across reconnects
// and dispatches events to per-event subscribers.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
)

var (
	ErrClosed         = errors.New("chatclient: session closed")
	ErrNotConnected   = errors.New("chatclient: not connected")
	ErrGaveUp         = errors.New("chatclient: reconnect attempts exhausted")
	errAlreadyStarted = errors.New("chatclient: already connected")
)

// Handler receives the room and raw payload of one event.
type Handler func(room string, payload json.RawMessage)

type Options struct {
	// URL of the websocket endpoint, e.g. ws://localhost:8080/api/ws.
	URL   string
	Token string

	// MaxAttempts caps reconnects after a dropped connection.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Dialer      *websocket.Dialer
	Logger      *slog.Logger

	// OnError is called for error frames, e.g. a rejected join.
	OnError func(room, msg string)
}

type Session struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	rooms    map[string]struct{}
	handlers map[string]map[uint64]Handler
	nextID   uint64
	started  bool
	closed   bool
	err      error

	writeMu sync.Mutex
	done    chan struct{}
	cancel  context.CancelFunc
}

func NewSession(opts Options) *Session {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		opts:     opts,
		log:      log.With("component", "chatclient"),
		rooms:    make(map[string]struct{}),
		handlers: make(map[string]map[uint64]Handler),
		done:     make(chan struct{}),
	}
}

// Connect dials the server and starts reading. The session reconnects on its
// own until Close or until MaxAttempts consecutive dials fail.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return errAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx, conn)
	return nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.opts.Token != "" {
		header.Set("Authorization", "Bearer "+s.opts.Token)
	}
	conn, resp, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("chatclient: dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("chatclient: dial: %w", err)
	}
	return conn, nil
}

func (s *Session) run(ctx context.Context, conn *websocket.Conn) {
	defer close(s.done)
	for {
		err := s.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("chatclient - connection lost", "err", err)

		conn, err = s.reconnect(ctx)
		if err != nil {
			s.mu.Lock()
			if !s.closed {
				s.err = err
			}
			s.conn = nil
			s.mu.Unlock()
			return
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()
	for {
		var frame domain.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		switch frame.Type {
		case domain.FrameEvent:
			s.dispatch(frame)
		case domain.FrameError:
			if s.opts.OnError != nil {
				s.opts.OnError(frame.Room, frame.Error)
			}
		}
	}
}

func (s *Session) dispatch(frame domain.ServerFrame) {
	s.mu.Lock()
	hs := make([]Handler, 0, len(s.handlers[frame.Event]))
	for _, h := range s.handlers[frame.Event] {
		hs = append(hs, h)
	}
	s.mu.Unlock()
	for _, h := range hs {
		h(frame.Room, frame.Payload)
	}
}

// reconnect dials with exponential backoff and rejoins every room.
func (s *Session) reconnect(ctx context.Context) (*websocket.Conn, error) {
	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()

	delay := s.opts.BaseDelay
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ErrClosed
		case <-time.After(delay):
		}
		conn, err := s.dial(ctx)
		if err == nil {
			s.mu.Lock()
			s.conn = conn
			rooms := make([]string, 0, len(s.rooms))
			for room := range s.rooms {
				rooms = append(rooms, room)
			}
			s.mu.Unlock()
			for _, room := range rooms {
				if err := s.write(domain.ClientFrame{Type: domain.FrameJoin, Room: room}); err != nil {
					s.log.Warn("chatclient - rejoin failed", "room", room, "err", err)
				}
			}
			s.log.Info("chatclient - reconnected", "attempt", attempt, "rooms", len(rooms))
			return conn, nil
		}
		s.log.Warn("chatclient - reconnect failed", "attempt", attempt, "err", err)
		delay *= 2
		if delay > s.opts.MaxDelay {
			delay = s.opts.MaxDelay
		}
	}
	return nil, ErrGaveUp
}

// Subscribe registers h for event and returns a func that removes it.
func (s *Session) Subscribe(event string, h Handler) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[uint64]Handler)
	}
	s.handlers[event][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.handlers[event], id)
			if len(s.handlers[event]) == 0 {
				delete(s.handlers, event)
			}
		})
	}
}

// Join subscribes to room. It is remembered and rejoined after a reconnect
// even when the current send fails.
func (s *Session) Join(room string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.rooms[room] = struct{}{}
	s.mu.Unlock()
	return s.write(domain.ClientFrame{Type: domain.FrameJoin, Room: room})
}

func (s *Session) Leave(room string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	delete(s.rooms, room)
	s.mu.Unlock()
	return s.write(domain.ClientFrame{Type: domain.FrameLeave, Room: room})
}

func (s *Session) write(frame domain.ClientFrame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

// Done is closed once the session stops for good.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session stopped; nil after Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn, cancel, started := s.conn, s.cancel, s.cancel != nil
	s.mu.Unlock()

	if !started {
		close(s.done)
		return nil
	}
	cancel()
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	<-s.done
	return nil
}
