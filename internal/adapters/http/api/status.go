// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	service "github.com/okian/fundus/internal/app"
)

// StatusProvider reports readiness and variant texts.
type StatusProvider interface {
	Status(ctx context.Context) service.Status
}

// StatusHandler handles status requests.
type StatusHandler struct {
	provider StatusProvider
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(provider StatusProvider) *StatusHandler {
	return &StatusHandler{provider: provider}
}

// HandleStatus handles GET /api/v1/status requests. It always answers 200;
// readiness is in the body so the page can render the load error banner.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.status"
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", NewKind(op, ErrMethodNotAllowed))
		return
	}
	writeJSON(w, http.StatusOK, h.provider.Status(r.Context()))
}
