package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
)

const limitedMessage = "Too many requests. Please wait a moment."

type limitedResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// WriteLimited sends the 429 response for a denied request.
func WriteLimited(w http.ResponseWriter, resetIn int) {
	retryAfter := strconv.Itoa(resetIn)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", retryAfter)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(AILimit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(limitedResponse{Error: limitedMessage, RetryAfter: resetIn})
}

// IdentifierFunc resolves the user a request is counted against.
// It writes its own error response and returns ok=false when the user
// cannot be resolved.
type IdentifierFunc func(w http.ResponseWriter, r *http.Request) (userID string, ok bool)

// Middleware limits next to AILimit requests per user per window.
func Middleware(limiter *Limiter, identify IdentifierFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := identify(w, r)
			if !ok {
				return
			}

			result := limiter.CheckAI(r.Context(), userID)
			if !result.Allowed {
				WriteLimited(w, result.ResetIn)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(AILimit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

type userIDKey struct{}

// WithUserID stores the user a request was counted against.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the user id set by Middleware.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey{}).(string)
	return userID, ok && userID != ""
}
