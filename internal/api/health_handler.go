package api

import (
	"context"
	"net/http"

	"github.com/vdavid/mailpilot/internal/health"
)

// HealthChecker produces the AI health report and its HTTP status.
type HealthChecker interface {
	Check(ctx context.Context) (*health.Response, int)
}

type HealthHandler struct {
	checker HealthChecker
}

func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// GetAIHealth serves GET /api/health/ai. It needs no authentication.
func (h *HealthHandler) GetAIHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	report, status := h.checker.Check(r.Context())
	w.Header().Set("Cache-Control", "no-store")
	WriteJSONStatus(w, status, report)
}
