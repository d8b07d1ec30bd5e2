package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailpilot/internal/auth"
	"github.com/vdavid/mailpilot/internal/db"
	"github.com/vdavid/mailpilot/internal/logger"
	"github.com/vdavid/mailpilot/internal/models"
)

var log = logger.New("api")

// GetUserIDFromContext extracts the user's email from context, resolves/creates the DB user,
// and writes appropriate HTTP errors when it fails. Returns (userID, true) on success.
func GetUserIDFromContext(ctx context.Context, w http.ResponseWriter, pool *pgxpool.Pool) (string, bool) {
	email, ok := auth.GetUserEmailFromContext(ctx)
	if !ok {
		log.Warn("API: No user email in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}

	userID, err := db.GetOrCreateUser(ctx, pool, email)
	if err != nil {
		log.WithError(err).Error("API: Failed to get/create user")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return "", false
	}

	return userID, true
}

// WriteJSONResponse writes data as a 200 JSON response.
// Returns false if encoding failed, in which case a 500 has been attempted.
func WriteJSONResponse(w http.ResponseWriter, data any) bool {
	return WriteJSONStatus(w, http.StatusOK, data)
}

// WriteJSONStatus writes data as a JSON response with the given status.
func WriteJSONStatus(w http.ResponseWriter, status int, data any) bool {
	body, err := json.Marshal(data)
	if err != nil {
		log.WithError(err).Error("API: Failed to encode response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		log.WithError(err).Warn("API: Failed to write response")
		return false
	}
	return true
}

// WriteJSONError writes {"error": message} with the given status.
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	WriteJSONStatus(w, status, models.ErrorResponse{Error: message})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}
