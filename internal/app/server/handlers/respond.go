package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
	"github.com/Khambazarov/hello-word-sub000/pkg/middleware"
)

const maxJSONBody = 1 << 20

// RespondWithJSON sends a JSON response with the given status code and payload.
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// RespondWithError sends {"error": message}.
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]string{"error": message})
}

// StatusOf maps an error class to its HTTP status.
func StatusOf(err error) int {
	switch domain.ClassOf(err) {
	case domain.ErrUnauthenticated:
		return http.StatusUnauthorized
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrForbidden:
		return http.StatusForbidden
	case domain.ErrValidation:
		return http.StatusBadRequest
	case domain.ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondWithDomainError writes err with its class status. Internal errors
// never leak their text.
func RespondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusOf(err)
	if code == http.StatusInternalServerError {
		logging.FromContext(r.Context()).ErrorContext(r.Context(), "handler - internal error", logging.Err(err))
	}
	RespondWithError(w, code, domain.PublicMessage(err))
}

// DecodeJSONBody decodes the request body into dst. An empty body leaves dst untouched.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return domain.Validation("invalid request body")
}

// currentUser is the authenticated user id. The auth middleware guarantees
// it is present; a malformed id is still rejected as unauthenticated.
func currentUser(r *http.Request) (primitive.ObjectID, error) {
	raw, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return primitive.NilObjectID, domain.Unauthenticated("authentication required")
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, domain.Unauthenticated("authentication required")
	}
	return id, nil
}

func pathID(r *http.Request, name string) (primitive.ObjectID, error) {
	return domain.ParseID(chi.URLParam(r, name))
}

// actorAnd resolves the current user and one path id, writing the error
// response itself when either is missing.
func actorAnd(w http.ResponseWriter, r *http.Request, param string) (actor, id primitive.ObjectID, ok bool) {
	actor, err := currentUser(r)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return actor, id, false
	}
	if id, err = pathID(r, param); err != nil {
		RespondWithDomainError(w, r, err)
		return actor, id, false
	}
	return actor, id, true
}
