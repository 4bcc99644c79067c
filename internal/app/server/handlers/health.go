package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
)

// Pinger checks one backing store.
type Pinger func(ctx context.Context) error

type HealthHandler struct {
	checks  map[string]Pinger
	timeout time.Duration
}

func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	code := http.StatusOK
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			logging.FromContext(ctx).WarnContext(ctx, "health handler - ping failed", "store", name, logging.Err(err))
			status[name] = "down"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "up"
	}
	RespondWithJSON(w, code, map[string]interface{}{
		"status": http.StatusText(code),
		"checks": status,
	})
}
