package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailpilot/internal/models"
	"github.com/vdavid/mailpilot/internal/provider"
)

type AuthHandler struct {
	pool      *pgxpool.Pool
	providers *provider.Registry
}

func NewAuthHandler(pool *pgxpool.Pool, providers *provider.Registry) *AuthHandler {
	return &AuthHandler{pool: pool, providers: providers}
}

// GetAuthStatus reports who the caller is and whether any AI provider is configured.
func (h *AuthHandler) GetAuthStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context(), w, h.pool)
	if !ok {
		return
	}

	configured := h.providers.Configured()
	if configured == nil {
		configured = []string{}
	}

	WriteJSONResponse(w, models.AuthStatusResponse{
		IsAuthenticated:     true,
		UserID:              userID,
		IsSetupComplete:     len(configured) > 0,
		ConfiguredProviders: configured,
	})
}
