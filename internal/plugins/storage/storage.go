package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/Khambazarov/hello-word-sub000/internal/config"
)

var ErrNotConfigured = errors.New("storage: upload url not configured")

// HTTPStorage uploads files to a Cloudinary-style unsigned upload endpoint.
type HTTPStorage struct {
	uploadURL  string
	publicHost string
	apiKey     string
	preset     string
	http       *http.Client
}

func NewHTTPStorage(cfg config.StorageConfig) *HTTPStorage {
	return &HTTPStorage{
		uploadURL:  cfg.UploadURL,
		publicHost: cfg.PublicHost,
		apiKey:     cfg.APIKey,
		preset:     cfg.UploadPreset,
		http:       &http.Client{Timeout: cfg.Timeout},
	}
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *HTTPStorage) Upload(ctx context.Context, file io.Reader, filename, folder, transform string) (string, error) {
	if s.uploadURL == "" {
		return "", ErrNotConfigured
	}

	// stream the multipart body instead of buffering whole files
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, file, filename, map[string]string{
			"folder":         folder,
			"transformation": transform,
			"api_key":        s.apiKey,
			"upload_preset":  s.preset,
		}))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadURL, pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: upload: %w", err)
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("storage: decode upload response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || out.SecureURL == "" {
		msg := "empty url"
		if out.Error != nil {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("storage: upload rejected (status %d): %s", resp.StatusCode, msg)
	}
	return out.SecureURL, nil
}

func writeForm(mw *multipart.Writer, file io.Reader, filename string, fields map[string]string) error {
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return mw.Close()
}

// Owns reports whether raw is an https URL served by the storage host.
func (s *HTTPStorage) Owns(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "https" {
		return false
	}
	return s.publicHost != "" && strings.EqualFold(u.Hostname(), s.publicHost)
}
