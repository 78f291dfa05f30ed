// Package eventbus implements the per-account WebSocket session manager
// and event fan-out (C7, spec.md §4.7): connection handshake, the
// inbound-ping/outbound-event multiplexing loop, and routing of engine
// events either to a live session or to the external push engine when
// the account has no socket open.
package eventbus

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nearloop/backend/applications/push"
	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/infrastructure/accountcache"
	"github.com/nearloop/backend/infrastructure/crypto"
	"github.com/nearloop/backend/infrastructure/httputil"
	"github.com/nearloop/backend/infrastructure/logging"
	"github.com/nearloop/backend/internal/store"
)

// targeted is satisfied by every event type the applications layer
// publishes (content, interaction, messaging); it lets Hub route an
// opaque interface{} without depending on those packages' concrete types.
type targeted interface {
	TargetAccountIDs() []string
}

const (
	accessTokenTTL  = 24 * time.Hour
	refreshTokenTTL = 30 * 24 * time.Hour
	sessionSendDepth = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub owns the live WebSocket sessions, one per connected account, and
// implements the narrow Publisher interface the content/interaction/
// messaging engines depend on.
type Hub struct {
	cache    *accountcache.Cache
	accounts store.AccountStore
	push     *push.Engine
	log      *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New builds a Hub. push is the fallback delivery path for accounts with
// no open socket (spec.md §4.7: "the corresponding flag is OR-ed in and
// the external push sender is invoked").
func New(cache *accountcache.Cache, accounts store.AccountStore, pushEngine *push.Engine, log *logging.Logger) *Hub {
	return &Hub{
		cache:    cache,
		accounts: accounts,
		push:     pushEngine,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Publish routes an engine event to every targeted account's live session,
// falling back to the push engine for accounts with no socket connected.
// Events that do not implement targeted are dropped; every event type
// applications/content, applications/interaction and applications/messaging
// raise implements it.
func (h *Hub) Publish(event interface{}) {
	t, ok := event.(targeted)
	if !ok {
		return
	}
	for _, accountID := range t.TargetAccountIDs() {
		if sess, ok := h.session(accountID); ok {
			sess.enqueue(event)
			continue
		}
		if h.push != nil {
			h.push.Publish(accountID)
		}
	}
}

func (h *Hub) session(accountID string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[accountID]
	return s, ok
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.sessions[s.accountID]; ok {
		existing.closeLocal()
	}
	h.sessions[s.accountID] = s
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[s.accountID] == s {
		delete(h.sessions, s.accountID)
	}
}

// Shutdown closes every live session's socket so each connect handler's
// loop returns (spec.md §5: WebSocket sessions subscribe to a broadcast
// shutdown signal).
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.closeLocal()
	}
}

// Session is one account's live WebSocket connection.
type Session struct {
	accountID   string
	accessToken string
	conn        *websocket.Conn
	send        chan interface{}
	closeOnce   sync.Once
}

func newSession(accountID string, conn *websocket.Conn) *Session {
	return &Session{
		accountID: accountID,
		conn:      conn,
		send:      make(chan interface{}, sessionSendDepth),
	}
}

// enqueue delivers an event to the session's writer loop, dropping it if
// the outbound buffer is full rather than blocking the publisher.
func (s *Session) enqueue(event interface{}) {
	select {
	case s.send <- event:
	default:
	}
}

func (s *Session) closeLocal() {
	s.closeOnce.Do(func() {
		close(s.send)
	})
}

// accountState is the initial snapshot pushed right after the handshake
// completes (spec.md §4.7: "current AccountState, capabilities").
type accountState struct {
	AccountID      string                   `json:"account_id"`
	Visibility     account.Visibility       `json:"visibility"`
	Permissions    []account.Permission     `json:"permissions"`
	PendingFlags   account.NotificationFlag `json:"pending_flags"`
	ProfileVersion string                   `json:"profile_version,omitempty"`
}

func buildSnapshot(entry accountcache.Entry) accountState {
	return accountState{
		AccountID:      entry.Account.ID,
		Visibility:     entry.Account.Visibility,
		Permissions:    entry.Account.Permissions,
		PendingFlags:   entry.Account.Push.PendingFlags,
		ProfileVersion: entry.Profile.VersionUUID,
	}
}

// frame is the envelope every outbound JSON text message rides in after
// the handshake, so clients can dispatch on Type without guessing from
// payload shape.
type frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func writeFrame(conn *websocket.Conn, frameType string, data interface{}) error {
	return conn.WriteJSON(frame{Type: frameType, Data: data})
}

func generateToken() (string, error) {
	b, err := crypto.GenerateRandomBytes(32)
	if err != nil {
		return "", err
	}
	return encodeToken(b), nil
}

func encodeToken(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	httputil.Unauthorized(w, message)
}
