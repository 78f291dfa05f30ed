// Package httpapi mounts the REST + WebSocket surface described in
// spec.md §6 over the application engines (C4-C9): account
// registration/sign-in, profile discovery, media slot upload, and the
// chat octet protocol, plus the `/common/connect` WebSocket upgrade.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	accountapp "github.com/nearloop/backend/applications/account"
	"github.com/nearloop/backend/applications/content"
	"github.com/nearloop/backend/applications/eventbus"
	interactionapp "github.com/nearloop/backend/applications/interaction"
	"github.com/nearloop/backend/applications/messaging"
	"github.com/nearloop/backend/applications/profile"
	"github.com/nearloop/backend/infrastructure/accountcache"
	"github.com/nearloop/backend/infrastructure/logging"
	"github.com/nearloop/backend/internal/store"
)

// Deps bundles every engine and repository this surface routes into.
// Hub may be nil in tests that don't exercise /common/connect.
type Deps struct {
	Accounts          *accountapp.Engine
	Profiles          *profile.Engine
	Content           *content.Engine
	Messages          *messaging.Engine
	InteractionEngine *interactionapp.Engine
	Hub               *eventbus.Hub

	AccountStore store.AccountStore
	ProfileStore store.ProfileStore
	Interactions store.InteractionStore

	Cache *accountcache.Cache
	Log   *logging.Logger

	// DisableRegistering forwards to Accounts.SignInWith (spec.md §6's
	// `disable_registering` request field's server-side default; a
	// request may still ask for it explicitly, see handleSignInWithLogin).
	DisableRegistering bool
}

// NewRouter builds the mux.Router for spec.md §6's HTTP surface. Callers
// mount it under their own ambient middleware chain (see
// cmd/appserver/main.go's buildRouter), the same way applications/system
// and other C-series packages leave transport concerns to the binary.
func NewRouter(d Deps) *mux.Router {
	h := &handler{Deps: d}
	r := mux.NewRouter()

	r.HandleFunc("/account/register", h.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/account/sign_in_with_login", h.handleSignInWithLogin).Methods(http.MethodPost)

	if d.Hub != nil {
		r.HandleFunc("/common/connect", d.Hub.HandleConnect).Methods(http.MethodGet)
	}

	r.Handle("/profile/page/reset", h.authenticated(h.handleResetIterator)).Methods(http.MethodPost)
	r.Handle("/profile/page/next", h.authenticated(h.handleNextProfiles)).Methods(http.MethodPost)
	r.Handle("/profile/{aid}", h.authenticated(h.handleGetProfile)).Methods(http.MethodGet)

	r.Handle("/interaction/{aid}/like", h.authenticated(h.handleLike)).Methods(http.MethodPost)
	r.Handle("/interaction/{aid}/unlike", h.authenticated(h.handleUnlike)).Methods(http.MethodPost)
	r.Handle("/interaction/{aid}/block", h.authenticated(h.handleBlock)).Methods(http.MethodPost)
	r.Handle("/interaction/{aid}/report", h.authenticated(h.handleReport)).Methods(http.MethodPost)

	r.Handle("/media/content_slot/{slot}", h.authenticated(h.handleUploadSlot)).Methods(http.MethodPut)
	r.Handle("/media/content_slot/{slot}", h.authenticated(h.handleGetSlotState)).Methods(http.MethodGet)

	r.Handle("/chat/send_message", h.authenticated(h.handleSendMessage)).Methods(http.MethodPost)
	r.Handle("/chat/pending_messages", h.authenticated(h.handleGetPendingMessages)).Methods(http.MethodGet)
	r.Handle("/chat/pending_messages", h.authenticated(h.handleDeletePendingMessages)).Methods(http.MethodDelete)

	return r
}

type handler struct {
	Deps
}
