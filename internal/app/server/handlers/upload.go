package handlers

import (
	"errors"
	"io"
	"net/http"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/internal/core/services"
)

const (
	formFileField = "file"
	// defaultMaxUpload bounds the whole multipart body.
	defaultMaxUpload = 20 << 20
)

type UploadHandler struct {
	uploads  *services.UploadService
	maxBytes int64
}

func NewUploadHandler(u *services.UploadService, maxBytes int64) *UploadHandler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxUpload
	}
	return &UploadHandler{uploads: u, maxBytes: maxBytes}
}

type uploadFunc func(r *http.Request, userID primitive.ObjectID, file io.Reader, filename string) (string, error)

func (h *UploadHandler) Image(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, func(r *http.Request, _ primitive.ObjectID, file io.Reader, filename string) (string, error) {
		return h.uploads.UploadImage(r.Context(), file, filename)
	})
}

func (h *UploadHandler) Audio(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, func(r *http.Request, _ primitive.ObjectID, file io.Reader, filename string) (string, error) {
		return h.uploads.UploadAudio(r.Context(), file, filename)
	})
}

func (h *UploadHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, func(r *http.Request, userID primitive.ObjectID, file io.Reader, filename string) (string, error) {
		return h.uploads.UploadAvatar(r.Context(), userID, file, filename)
	})
}

func (h *UploadHandler) GroupImage(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "groupID")
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	h.handle(w, r, func(r *http.Request, userID primitive.ObjectID, file io.Reader, filename string) (string, error) {
		return h.uploads.UploadGroupImage(r.Context(), groupID, userID, file, filename)
	})
}

func (h *UploadHandler) handle(w http.ResponseWriter, r *http.Request, upload uploadFunc) {
	userID, err := currentUser(r)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	if r.ContentLength > h.maxBytes {
		RespondWithError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	file, header, err := r.FormFile(formFileField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondWithError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		RespondWithDomainError(w, r, domain.Validation("a multipart file field is required"))
		return
	}
	defer file.Close()

	url, err := upload(r, userID, file, header.Filename)
	if err != nil {
		RespondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusCreated, map[string]string{"url": url})
}
