package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Khambazarov/hello-word-sub000/internal/config"
)

func TestUploadSendsMultipartForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if got := r.FormValue("folder"); got != "chat-images" {
			t.Errorf("folder = %q", got)
		}
		if got := r.FormValue("transformation"); got != "c_limit,w_1280" {
			t.Errorf("transformation = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		if hdr.Filename != "cat.png" || string(body) != "png-bytes" {
			t.Errorf("unexpected file %s %q", hdr.Filename, body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"secure_url": "https://res.cloudinary.com/demo/cat.png"})
	}))
	defer srv.Close()

	s := NewHTTPStorage(config.StorageConfig{UploadURL: srv.URL, PublicHost: "res.cloudinary.com", Timeout: 5 * time.Second})
	got, err := s.Upload(context.Background(), strings.NewReader("png-bytes"), "cat.png", "chat-images", "c_limit,w_1280")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got != "https://res.cloudinary.com/demo/cat.png" {
		t.Errorf("url = %q", got)
	}
}

func TestUploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid preset"}}`))
	}))
	defer srv.Close()

	s := NewHTTPStorage(config.StorageConfig{UploadURL: srv.URL, Timeout: 5 * time.Second})
	_, err := s.Upload(context.Background(), strings.NewReader("x"), "x.bin", "f", "")
	if err == nil || !strings.Contains(err.Error(), "invalid preset") {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestUploadNotConfigured(t *testing.T) {
	s := NewHTTPStorage(config.StorageConfig{})
	if _, err := s.Upload(context.Background(), strings.NewReader("x"), "x", "f", ""); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestOwns(t *testing.T) {
	s := NewHTTPStorage(config.StorageConfig{PublicHost: "res.cloudinary.com"})
	tests := map[string]bool{
		"https://res.cloudinary.com/demo/image/upload/cat.png": true,
		"https://RES.cloudinary.com/demo/a.webm":               true,
		"http://res.cloudinary.com/demo/cat.png":               false,
		"https://evil.example.com/cat.png":                     false,
		"just some text":                                       false,
	}
	for in, want := range tests {
		if got := s.Owns(in); got != want {
			t.Errorf("Owns(%q) = %v, want %v", in, got, want)
		}
	}
}
