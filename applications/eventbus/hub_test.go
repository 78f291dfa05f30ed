package eventbus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/infrastructure/accountcache"
	"github.com/nearloop/backend/infrastructure/sqlitedb"
	"github.com/nearloop/backend/internal/store/sqlite"
)

const (
	timeoutShort = time.Second
	tickShort    = 5 * time.Millisecond
)

type testFixture struct {
	hub   *Hub
	cache *accountcache.Cache
	store *sqlite.Store
	wsURL string
}

func newTestFixture(t *testing.T, acct account.Account) *testFixture {
	t.Helper()
	db, err := sqlitedb.Open(sqlitedb.Options{InMemory: true}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	s := sqlite.New(db.Current, db.Write)
	ctx := context.Background()
	_, err = s.CreateAccount(ctx, acct)
	require.NoError(t, err)

	cache := accountcache.New(accountcache.Stores{Accounts: s, Profiles: s})
	require.NoError(t, cache.Load(ctx))

	hub := New(cache, s, nil, nil)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleConnect))
	t.Cleanup(server.Close)

	return &testFixture{
		hub:   hub,
		cache: cache,
		store: s,
		wsURL: "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func dial(t *testing.T, f *testFixture, accessToken string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)
	return websocket.DefaultDialer.Dial(f.wsURL, header)
}

func issueAccessToken(t *testing.T, f *testFixture, accountID, token string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.IssueAccessToken(ctx, account.AccessToken{
		Token:     token,
		AccountID: accountID,
	}))
	f.cache.IndexAccessToken(token, accountID)
}

func TestHandleConnectRejectsUnknownAccessToken(t *testing.T) {
	f := newTestFixture(t, account.Account{ID: "a"})

	_, resp, err := dial(t, f, "bogus-token")
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleConnectCompletesHandshakeOnFirstConnection(t *testing.T) {
	f := newTestFixture(t, account.Account{ID: "a"})
	issueAccessToken(t, f, "a", "tok-a")

	conn, _, err := dial(t, f, "tok-a")
	require.NoError(t, err)
	defer conn.Close()

	kind, refresh, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	require.NotEmpty(t, refresh)

	kind, newAccess, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	require.NotEmpty(t, newAccess)

	_, snapshotJSON, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(snapshotJSON), `"type":"snapshot"`)
	require.Contains(t, string(snapshotJSON), `"account_id":"a"`)

	stored, err := f.store.ResolveRefreshToken(context.Background(), string(refresh))
	require.NoError(t, err)
	require.Equal(t, "a", stored.AccountID)
}

func TestHandleConnectChallengesExistingRefreshTokenAndRotatesOnMatch(t *testing.T) {
	f := newTestFixture(t, account.Account{ID: "a"})
	issueAccessToken(t, f, "a", "tok-a")
	ctx := context.Background()
	require.NoError(t, f.store.IssueRefreshToken(ctx, account.RefreshToken{Token: "old-refresh", AccountID: "a"}))

	conn, _, err := dial(t, f, "tok-a")
	require.NoError(t, err)
	defer conn.Close()

	kind, challenge, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	require.Equal(t, "old-refresh", string(challenge))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, challenge))

	kind, newRefresh, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	require.NotEqual(t, "old-refresh", string(newRefresh))

	_, _, err = conn.ReadMessage()
	require.NoError(t, err)
}

func TestHandleConnectForcesLogoutOnRefreshTokenMismatch(t *testing.T) {
	f := newTestFixture(t, account.Account{ID: "a"})
	issueAccessToken(t, f, "a", "tok-a")
	ctx := context.Background()
	require.NoError(t, f.store.IssueRefreshToken(ctx, account.RefreshToken{Token: "old-refresh", AccountID: "a"}))

	conn, _, err := dial(t, f, "tok-a")
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("wrong-bytes")))

	_, _, err = conn.ReadMessage()
	require.Error(t, err, "server must close the connection on mismatch")

	_, ok := f.cache.ResolveAccessToken("tok-a")
	require.False(t, ok, "access token must be invalidated on forced logout")
}

func TestPublishDeliversToLiveSessionInsteadOfPush(t *testing.T) {
	f := newTestFixture(t, account.Account{ID: "a"})
	issueAccessToken(t, f, "a", "tok-a")

	conn, _, err := dial(t, f, "tok-a")
	require.NoError(t, err)
	defer conn.Close()

	// drain handshake frames (refresh, access, snapshot)
	for i := 0; i < 3; i++ {
		_, _, err := conn.ReadMessage()
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		_, ok := f.hub.session("a")
		return ok
	}, timeoutShort, tickShort)

	f.hub.Publish(targetedTestEvent{ids: []string{"a"}})

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(payload), `"type":"event"`)
}

func TestPublishIgnoresUntargetedEvents(t *testing.T) {
	f := newTestFixture(t, account.Account{ID: "a"})
	f.hub.Publish("not-targeted")
}

type targetedTestEvent struct{ ids []string }

func (e targetedTestEvent) TargetAccountIDs() []string { return e.ids }
