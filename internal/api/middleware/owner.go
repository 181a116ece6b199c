package middleware

import (
	"context"
	"net/http"

	"github.com/lumora-ai/lumora/internal/api"
)

type contextKey string

const OwnerIDKey contextKey = "owner_id"

// RequireOwner reads the owner identity from the X-Owner-ID header into the
// request context. Authentication itself lives with the surrounding
// application; the engine only needs to know which owner's partition a call
// targets.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get("X-Owner-ID")
		if ownerID == "" {
			api.Error(w, http.StatusBadRequest, "missing X-Owner-ID header")
			return
		}

		ctx := context.WithValue(r.Context(), OwnerIDKey, ownerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetOwnerID returns the owner ID from context.
func GetOwnerID(ctx context.Context) string {
	ownerID, _ := ctx.Value(OwnerIDKey).(string)
	return ownerID
}
