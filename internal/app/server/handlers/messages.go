package handlers

import (
	"context"
	"net/http"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/internal/core/services"
)

type MessageHandler struct {
	messages *services.MessageService
}

func NewMessageHandler(m *services.MessageService) *MessageHandler {
	return &MessageHandler{messages: m}
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	userID, messageID, ok := actorAnd(w, r, "messageID")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	msg, err := h.messages.Edit(r.Context(), messageID, userID, req.Content)
	h.respond(w, r, msg, err)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.messages.Delete)
}

func (h *MessageHandler) MarkEditSeen(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.messages.MarkEditSeen)
}

func (h *MessageHandler) run(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, messageID, userID primitive.ObjectID) (*domain.Message, error)) {
	userID, messageID, ok := actorAnd(w, r, "messageID")
	if !ok {
		return
	}
	msg, err := op(r.Context(), messageID, userID)
	h.respond(w, r, msg, err)
}

func (h *MessageHandler) respond(w http.ResponseWriter, r *http.Request, msg *domain.Message, err error) {
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, msg)
}
