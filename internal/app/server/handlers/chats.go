package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Khambazarov/hello-word-sub000/internal/core/services"
)

// ChatHandler serves the chat list, direct chats and chatroom reads.
type ChatHandler struct {
	chatrooms *services.ChatroomService
	listing   *services.ListingService
	readState *services.ReadStateService
	messages  *services.MessageService
}

func NewChatHandler(
	chatrooms *services.ChatroomService,
	listing *services.ListingService,
	readState *services.ReadStateService,
	messages *services.MessageService,
) *ChatHandler {
	return &ChatHandler{
		chatrooms: chatrooms,
		listing:   listing,
		readState: readState,
		messages:  messages,
	}
}

func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	list, err := h.listing.ListChatroomsForUser(r.Context(), userID)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, list)
}

func (h *ChatHandler) FindDirect(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	lookup, err := h.chatrooms.FindOrPreviewDirectChat(r.Context(), userID, chi.URLParam(r, "username"))
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, lookup)
}

func (h *ChatHandler) CreateDirect(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	var req struct {
		Username string `json:"username"`
		Content  string `json:"content"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	id, err := h.chatrooms.CreateDirectChat(r.Context(), userID, req.Username, req.Content)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusCreated, map[string]string{"chatroomId": id.Hex()})
}

func (h *ChatHandler) Detail(w http.ResponseWriter, r *http.Request) {
	userID, chatroomID, ok := actorAnd(w, r, "chatroomID")
	if !ok {
		return
	}
	detail, err := h.chatrooms.GetChatroomDetail(r.Context(), chatroomID, userID)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, detail)
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, chatroomID, ok := actorAnd(w, r, "chatroomID")
	if !ok {
		return
	}
	at, err := h.readState.MarkRead(r.Context(), chatroomID, userID)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]interface{}{"lastSeen": at})
}

func (h *ChatHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, chatroomID, ok := actorAnd(w, r, "chatroomID")
	if !ok {
		return
	}
	n, err := h.readState.UnreadCount(r.Context(), chatroomID, userID)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]int64{"unreadCount": n})
}

func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, chatroomID, ok := actorAnd(w, r, "chatroomID")
	if !ok {
		return
	}
	if err := h.chatrooms.DeleteDirectChat(r.Context(), chatroomID, userID); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, chatroomID, ok := actorAnd(w, r, "chatroomID")
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
	msg, err := h.messages.Send(r.Context(), chatroomID, userID, req.Content)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusCreated, msg)
}
