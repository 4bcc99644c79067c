package handlers

import (
	"net/http"

	"github.com/Khambazarov/hello-word-sub000/internal/core/services"
	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
)

type AuthHandler struct {
	userSvc  *services.UserService
	tokenSvc *services.TokenService
}

func NewAuthHandler(u *services.UserService, t *services.TokenService) *AuthHandler {
	return &AuthHandler{userSvc: u, tokenSvc: t}
}

type credentials struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	var req credentials
	if err := DecodeJSONBody(w, r, &req); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	user, err := h.userSvc.Register(r.Context(), req.Email, req.Username, req.Password)
	if err != nil && user == nil {
		RespondWithDomainError(w, r, err)
		return
	}
	if err != nil {
		// the account exists; only the key delivery failed
		log.WarnContext(r.Context(), "auth handler - register - verification not sent", logging.User(user.ID.Hex()), logging.Err(err))
	}
	RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"user":             user,
		"verificationSent": err == nil && !user.Verified,
	})
}

func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := DecodeJSONBody(w, r, &req); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	if err := h.userSvc.ResendVerification(r.Context(), req.Email); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "verification sent"})
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	user, err := h.userSvc.Verify(r.Context(), req.Email, req.Code)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	h.issue(w, r, http.StatusOK, user.ID.Hex(), user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := DecodeJSONBody(w, r, &req); err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	user, err := h.userSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	h.issue(w, r, http.StatusOK, user.ID.Hex(), user)
}

func (h *AuthHandler) issue(w http.ResponseWriter, r *http.Request, code int, userID string, user interface{}) {
	token, err := h.tokenSvc.GenerateToken(userID)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).InfoContext(r.Context(), "auth handler - token issued", logging.User(userID))
	RespondWithJSON(w, code, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}
