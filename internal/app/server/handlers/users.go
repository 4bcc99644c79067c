package handlers

import (
	"net/http"

	"github.com/Khambazarov/hello-word-sub000/internal/core/services"
)

type UserHandler struct {
	userSvc *services.UserService
}

func NewUserHandler(u *services.UserService) *UserHandler {
	return &UserHandler{userSvc: u}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	user, err := h.userSvc.GetProfile(r.Context(), userID)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, user)
}

func (h *UserHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	var req services.SettingsUpdate
	if err := DecodeJSONBody(w, r, &req); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	user, err := h.userSvc.UpdateSettings(r.Context(), userID, req)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, user)
}

func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	if err := h.userSvc.DeleteAccount(r.Context(), userID); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
