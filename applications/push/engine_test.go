package push

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/infrastructure/accountcache"
	"github.com/nearloop/backend/infrastructure/sqlitedb"
	"github.com/nearloop/backend/internal/store/sqlite"
)

func newTestCacheWithAccount(t *testing.T, acct account.Account) *accountcache.Cache {
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
	return cache
}

func TestDispatchSkipsAccountWithNoDeviceToken(t *testing.T) {
	cache := newTestCacheWithAccount(t, account.Account{
		ID:   "a",
		Push: account.PushState{PendingFlags: account.NotificationNewMessage},
	})
	sender := &scriptedSender{}
	eng := New(cache, sender, nil, 0)

	eng.dispatch(context.Background(), "a")
	require.Equal(t, 0, sender.calls)
}

func TestDispatchSkipsAccountWithPushDisabled(t *testing.T) {
	cache := newTestCacheWithAccount(t, account.Account{
		ID:   "a",
		Push: account.PushState{DeviceToken: "tok", PendingFlags: account.NotificationNewMessage, PushDisabled: true},
	})
	sender := &scriptedSender{}
	eng := New(cache, sender, nil, 0)

	eng.dispatch(context.Background(), "a")
	require.Equal(t, 0, sender.calls)
}

func TestDispatchSendsEachPendingFlagAndClearsThem(t *testing.T) {
	cache := newTestCacheWithAccount(t, account.Account{
		ID: "a",
		Push: account.PushState{
			DeviceToken:  "tok",
			PendingFlags: account.NotificationNewMessage | account.NotificationReceivedLikesChanged,
		},
	})
	sender := &scriptedSender{responses: []Response{{Action: ActionNone}, {Action: ActionNone}}}
	eng := New(cache, sender, nil, 0)

	eng.dispatch(context.Background(), "a")
	require.Equal(t, 2, sender.calls)

	cache.ReadCache("a", func(entry accountcache.Entry) {
		require.Equal(t, account.NotificationFlag(0), entry.Account.Push.PendingFlags)
	})
}

func TestDispatchRemovesTokenOnPermanentFailureAndStopsEarly(t *testing.T) {
	cache := newTestCacheWithAccount(t, account.Account{
		ID: "a",
		Push: account.PushState{
			DeviceToken:  "tok",
			PendingFlags: account.NotificationNewMessage | account.NotificationReceivedLikesChanged,
		},
	})
	sender := &scriptedSender{responses: []Response{{Action: ActionRemoveFcmAppToken}}}
	eng := New(cache, sender, nil, 0)

	eng.dispatch(context.Background(), "a")
	require.Equal(t, 1, sender.calls, "must not attempt the second flag's content once the token is gone")

	cache.ReadCache("a", func(entry accountcache.Entry) {
		require.Empty(t, entry.Account.Push.DeviceToken)
		require.NotEqual(t, account.NotificationFlag(0), entry.Account.Push.PendingFlags, "undelivered flags stay pending")
	})
}

func TestDispatchDisablesPushOnConfigurationFailure(t *testing.T) {
	cache := newTestCacheWithAccount(t, account.Account{
		ID:   "a",
		Push: account.PushState{DeviceToken: "tok", PendingFlags: account.NotificationNewMessage},
	})
	sender := &scriptedSender{responses: []Response{{Action: ActionCheckSenderIdEquality}}}
	eng := New(cache, sender, nil, 0)

	eng.dispatch(context.Background(), "a")

	cache.ReadCache("a", func(entry accountcache.Entry) {
		require.True(t, entry.Account.Push.PushDisabled)
	})
}

func TestPublishThenRunDispatchesEnqueuedAccount(t *testing.T) {
	cache := newTestCacheWithAccount(t, account.Account{
		ID:   "a",
		Push: account.PushState{DeviceToken: "tok", PendingFlags: account.NotificationNewMessage},
	})
	sender := &scriptedSender{responses: []Response{{Action: ActionNone}}}
	eng := New(cache, sender, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	defer cancel()

	eng.Publish("a")

	require.Eventually(t, func() bool {
		var pending account.NotificationFlag
		cache.ReadCache("a", func(entry accountcache.Entry) { pending = entry.Account.Push.PendingFlags })
		return pending == 0
	}, time.Second, time.Millisecond)
}

func TestPublishIgnoresNonStringEvents(t *testing.T) {
	cache := newTestCacheWithAccount(t, account.Account{ID: "a"})
	eng := New(cache, &scriptedSender{}, nil, 0)
	eng.Publish(123)
	require.Len(t, eng.queue, 0)
}
