package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Khambazarov/hello-word-sub000/internal/app/server/handlers"
	"github.com/Khambazarov/hello-word-sub000/pkg/middleware"
)

// Handlers bundles every HTTP handler the router mounts.
type Handlers struct {
	Auth     *handlers.AuthHandler
	Users    *handlers.UserHandler
	Chats    *handlers.ChatHandler
	Groups   *handlers.GroupHandler
	Messages *handlers.MessageHandler
	Uploads  *handlers.UploadHandler
	Health   *handlers.HealthHandler
	WS       *handlers.WSHandler
}

type Server struct {
	log    *slog.Logger
	server *http.Server
	router chi.Router
	app    string
	tokens middleware.TokenValidator
	h      Handlers
}

func NewServer(addr, app string, log *slog.Logger, tokens middleware.TokenValidator, h Handlers) *Server {
	s := &Server{
		log:    log,
		router: chi.NewRouter(),
		app:    app,
		tokens: tokens,
		h:      h,
	}
	s.routes()
	// no WriteTimeout: websocket sessions are long lived
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(s.log))
	r.Use(chimw.Recoverer)
	r.Use(chimw.StripSlashes)
	r.Use(middleware.TracerMiddleware(s.app))

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", s.h.Health.Health)
		r.Post("/auth/register", s.h.Auth.Register)
		r.Post("/auth/verify", s.h.Auth.Verify)
		r.Post("/auth/resend", s.h.Auth.ResendVerification)
		r.Post("/auth/login", s.h.Auth.Login)

		// Browsers cannot set headers on websocket upgrades.
		r.With(middleware.QueryAuthMiddleware(s.tokens)).Get("/ws", s.h.WS.Handler)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(s.tokens))

			r.Get("/users/me", s.h.Users.Me)
			r.Patch("/users/me/settings", s.h.Users.UpdateSettings)
			r.Delete("/users/me", s.h.Users.DeleteMe)

			r.Get("/chats", s.h.Chats.List)
			r.Get("/chats/direct/{username}", s.h.Chats.FindDirect)
			r.Post("/chats/direct", s.h.Chats.CreateDirect)
			r.Get("/chats/{chatroomID}", s.h.Chats.Detail)
			r.Get("/chats/{chatroomID}/unread", s.h.Chats.UnreadCount)
			r.Post("/chats/{chatroomID}/read", s.h.Chats.MarkRead)
			r.Post("/chats/{chatroomID}/messages", s.h.Chats.SendMessage)
			r.Delete("/chats/{chatroomID}", s.h.Chats.Delete)

			r.Post("/groups", s.h.Groups.Create)
			r.Route("/groups/{groupID}", func(r chi.Router) {
				r.Patch("/", s.h.Groups.Update)
				r.Delete("/", s.h.Groups.Delete)
				r.Get("/members", s.h.Groups.Members)
				r.Post("/invite", s.h.Groups.Invite)
				r.Post("/promote", s.h.Groups.Promote)
				r.Post("/demote", s.h.Groups.Demote)
				r.Post("/remove", s.h.Groups.Remove)
				r.Post("/leave", s.h.Groups.Leave)
			})

			r.Patch("/messages/{messageID}", s.h.Messages.Edit)
			r.Delete("/messages/{messageID}", s.h.Messages.Delete)
			r.Post("/messages/{messageID}/edit-seen", s.h.Messages.MarkEditSeen)

			r.Post("/upload/image", s.h.Uploads.Image)
			r.Post("/upload/audio", s.h.Uploads.Audio)
			r.Post("/upload/avatar", s.h.Uploads.Avatar)
			r.Post("/upload/group-image/{groupID}", s.h.Uploads.GroupImage)
		})
	})
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks until the server stops. A graceful shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info("server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server shutting down")
	return s.server.Shutdown(ctx)
}
