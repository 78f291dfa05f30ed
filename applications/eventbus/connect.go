package eventbus

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/infrastructure/accountcache"
)

// HandleConnect upgrades GET /common/connect to a WebSocket and runs the
// handshake + session loop described in spec.md §4.7. It blocks until the
// session ends.
func (h *Hub) HandleConnect(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authenticate(r)
	if !ok {
		writeUnauthorized(w, "missing or unknown access token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.WithContext(r.Context()).WithError(err).Error("websocket upgrade failed")
		}
		return
	}
	defer conn.Close()

	ctx := r.Context()
	newAccess, ok := h.runHandshake(ctx, conn, accountID, bearerToken(r))
	if !ok {
		return
	}

	sess := newSession(accountID, conn)
	sess.accessToken = newAccess
	h.register(sess)
	defer h.unregister(sess)

	h.pushSnapshot(sess)
	h.runLoop(ctx, sess)
}

// authenticate resolves the bearer access token on the upgrade request
// against the cache's O(1) index (spec.md §4.7: "Client opens a WebSocket
// with its access token").
func (h *Hub) authenticate(r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		return "", false
	}
	return h.cache.ResolveAccessToken(token)
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

// runHandshake implements spec.md §4.7's refresh-token challenge: the
// server sends the account's current refresh token as a binary frame and
// awaits the same bytes back. A mismatch logs the account out and closes;
// a match (or an account with no prior refresh token, e.g. its first ever
// connection) mints and sends fresh refresh+access tokens.
func (h *Hub) runHandshake(ctx context.Context, conn *websocket.Conn, accountID, accessToken string) (string, bool) {
	current, hasCurrent, err := h.accounts.CurrentRefreshToken(ctx, accountID)
	if err != nil {
		h.logout(ctx, accountID, accessToken)
		return "", false
	}

	if hasCurrent {
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte(current.Token)); err != nil {
			return "", false
		}
		kind, reply, err := conn.ReadMessage()
		if err != nil {
			return "", false
		}
		if kind != websocket.BinaryMessage || !bytes.Equal(reply, []byte(current.Token)) {
			h.logout(ctx, accountID, accessToken)
			return "", false
		}
	}

	newRefresh, err := generateToken()
	if err != nil {
		return "", false
	}
	newAccess, err := generateToken()
	if err != nil {
		return "", false
	}
	now := time.Now().UTC()

	if err := h.accounts.IssueRefreshToken(ctx, account.RefreshToken{
		Token:     newRefresh,
		AccountID: accountID,
		IssuedAt:  now,
		ExpiresAt: now.Add(refreshTokenTTL),
	}); err != nil {
		return "", false
	}
	if err := h.accounts.IssueAccessToken(ctx, account.AccessToken{
		Token:     newAccess,
		AccountID: accountID,
		IssuedAt:  now,
		ExpiresAt: now.Add(accessTokenTTL),
	}); err != nil {
		return "", false
	}
	h.cache.IndexAccessToken(newAccess, accountID)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte(newRefresh)); err != nil {
		return "", false
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(newAccess)); err != nil {
		return "", false
	}
	return newAccess, true
}

func (h *Hub) pushSnapshot(sess *Session) {
	var snapshot accountState
	h.cache.ReadCache(sess.accountID, func(entry accountcache.Entry) {
		snapshot = buildSnapshot(entry)
	})
	_ = writeFrame(sess.conn, "snapshot", snapshot)
}

// runLoop multiplexes inbound client frames (pings only; anything else is
// a no-op), outbound events queued via Publish, and connection teardown.
// A clean close ends the session but leaves tokens valid; any other read
// error triggers a forced logout (spec.md §4.7, §7's Auth error kind).
func (h *Hub) runLoop(ctx context.Context, sess *Session) {
	readErrs := make(chan error, 1)
	go func() {
		for {
			if _, _, err := sess.conn.ReadMessage(); err != nil {
				readErrs <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrs:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			h.logout(ctx, sess.accountID, sess.accessToken)
			return
		case event, ok := <-sess.send:
			if !ok {
				return
			}
			if err := writeFrame(sess.conn, "event", event); err != nil {
				h.logout(ctx, sess.accountID, sess.accessToken)
				return
			}
		}
	}
}

// logout invalidates the account's access token, forcing re-authentication
// on the next connect (spec.md §7: "token mismatch on WebSocket handshake
// -> forced logout then close").
func (h *Hub) logout(ctx context.Context, accountID, accessToken string) {
	if accessToken != "" {
		h.cache.InvalidateAccessToken(accessToken)
		_ = h.accounts.RevokeAccessToken(ctx, accessToken)
	}
	if h.log != nil {
		h.log.Warn(ctx, "websocket session forced logout", map[string]interface{}{"account_id": accountID})
	}
}
