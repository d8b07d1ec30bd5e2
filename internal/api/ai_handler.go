package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/mailpilot/internal/circuit"
	"github.com/vdavid/mailpilot/internal/llm"
	"github.com/vdavid/mailpilot/internal/provider"
	"github.com/vdavid/mailpilot/internal/ratelimit"
)

const (
	maxCompletionBody  = 1 << 20
	unavailableMessage = "AI provider is temporarily unavailable, please try again"
	upstreamMessage    = "AI provider request failed"
)

// AIHandler serves AI completions behind the per-user rate limit and the per-provider circuit breaker.
type AIHandler struct {
	pool      *pgxpool.Pool
	providers *provider.Registry
	completer llm.Completer
	breaker   *circuit.Breaker
	limiter   *ratelimit.Limiter
}

func NewAIHandler(
	pool *pgxpool.Pool,
	providers *provider.Registry,
	completer llm.Completer,
	breaker *circuit.Breaker,
	limiter *ratelimit.Limiter,
) *AIHandler {
	return &AIHandler{
		pool:      pool,
		providers: providers,
		completer: completer,
		breaker:   breaker,
		limiter:   limiter,
	}
}

// Handler returns the completion endpoint wrapped in the AI rate limit.
// It expects auth.RequireAuth to have run.
func (h *AIHandler) Handler() http.Handler {
	identify := func(w http.ResponseWriter, r *http.Request) (string, bool) {
		return GetUserIDFromContext(r.Context(), w, h.pool)
	}
	return ratelimit.Middleware(h.limiter, identify)(http.HandlerFunc(h.Complete))
}

// Complete serves POST /api/v1/ai/complete.
func (h *AIHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req llm.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCompletionBody)).Decode(&req); err != nil {
		log.WithError(err).Info("AIHandler: Invalid request body")
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	name, ok := h.pickProvider(req.Provider)
	if !ok {
		if req.Provider != "" && !h.providers.IsKnown(req.Provider) {
			WriteJSONError(w, http.StatusBadRequest, "Unknown AI provider")
			return
		}
		WriteJSONError(w, http.StatusServiceUnavailable, "No AI provider is configured")
		return
	}
	req.Provider = name

	userID, _ := ratelimit.UserIDFromContext(r.Context())
	reqLog := log.WithFields(logrus.Fields{"provider": name, "userId": userID})

	resp, err := circuit.Execute(r.Context(), h.breaker, name, func(ctx context.Context) (*llm.Response, error) {
		return h.completer.Complete(ctx, &req)
	})
	if err != nil {
		if errors.Is(err, circuit.ErrCircuitOpen) {
			WriteJSONError(w, http.StatusServiceUnavailable, unavailableMessage)
			return
		}
		reqLog.WithError(err).Error("AIHandler: Provider call failed")
		WriteJSONError(w, http.StatusBadGateway, upstreamMessage)
		return
	}

	WriteJSONResponse(w, resp)
}

// pickProvider returns the requested provider if it is configured, or the first configured one.
func (h *AIHandler) pickProvider(requested string) (string, bool) {
	if requested != "" {
		return requested, h.providers.IsConfigured(requested)
	}
	configured := h.providers.Configured()
	if len(configured) == 0 {
		return "", false
	}
	return configured[0], true
}
