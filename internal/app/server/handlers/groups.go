package handlers

import (
	"context"
	"net/http"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/internal/core/services"
)

type GroupHandler struct {
	groups *services.GroupService
}

func NewGroupHandler(g *services.GroupService) *GroupHandler {
	return &GroupHandler{groups: g}
}

type targetRequest struct {
	Username string `json:"username"`
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	var req struct {
		Name           string `json:"name"`
		Description    string `json:"description"`
		WelcomeMessage string `json:"welcomeMessage"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	id, err := h.groups.CreateGroupChat(r.Context(), userID, req.Name, req.Description, req.WelcomeMessage)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusCreated, map[string]string{"chatroomId": id.Hex()})
}

func (h *GroupHandler) Invite(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := actorAnd(w, r, "groupID")
	if !ok {
		return
	}
	var req struct {
		Usernames []string `json:"usernames"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	added, err := h.groups.Invite(r.Context(), groupID, userID, req.Usernames)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string][]string{"added": added})
}

func (h *GroupHandler) Members(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := actorAnd(w, r, "groupID")
	if !ok {
		return
	}
	members, err := h.groups.ListMembers(r.Context(), groupID, userID)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, members)
}

func (h *GroupHandler) Promote(w http.ResponseWriter, r *http.Request) {
	h.onTarget(w, r, h.groups.Promote)
}

func (h *GroupHandler) Demote(w http.ResponseWriter, r *http.Request) {
	h.onTarget(w, r, h.groups.Demote)
}

func (h *GroupHandler) Remove(w http.ResponseWriter, r *http.Request) {
	h.onTarget(w, r, h.groups.RemoveMember)
}

// onTarget runs a membership change that names its target by username.
func (h *GroupHandler) onTarget(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, groupID, actingUserID primitive.ObjectID, targetUsername string) error) {
	userID, groupID, ok := actorAnd(w, r, "groupID")
	if !ok {
		return
	}
	var req targetRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	if err := op(r.Context(), groupID, userID, req.Username); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := actorAnd(w, r, "groupID")
	if !ok {
		return
	}
	if err := h.groups.Leave(r.Context(), groupID, userID); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := actorAnd(w, r, "groupID")
	if !ok {
		return
	}
	var req domain.GroupUpdate
	if err := DecodeJSONBody(w, r, &req); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	applied, err := h.groups.EditGroupMetadata(r.Context(), groupID, userID, req)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, applied)
}

func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := actorAnd(w, r, "groupID")
	if !ok {
		return
	}
	if err := h.groups.DeleteGroupChat(r.Context(), groupID, userID); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
