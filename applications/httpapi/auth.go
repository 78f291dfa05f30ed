package httpapi

import (
	"context"
	"net/http"
	"strings"
)

type contextKey int

const accountIDKey contextKey = iota

// authenticated resolves the bearer access token against the hot-state
// cache's O(1) index, the same lookup applications/eventbus.Hub uses for
// the WebSocket handshake, and rejects the request with 401 on a miss.
func (h *handler) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing access token")
			return
		}
		accountID, ok := h.Cache.ResolveAccessToken(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unknown or expired access token")
			return
		}
		ctx := context.WithValue(r.Context(), accountIDKey, accountID)
		next(w, r.WithContext(ctx))
	})
}

func callerAccountID(r *http.Request) string {
	id, _ := r.Context().Value(accountIDKey).(string)
	return id
}

func bearerToken(r *http.Request) string {
	raw := r.Header.Get("Authorization")
	if raw == "" {
		return ""
	}
	const prefix = "Bearer "
	if strings.HasPrefix(raw, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(raw, prefix))
	}
	return strings.TrimSpace(raw)
}
