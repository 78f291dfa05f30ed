package accountcache

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/infrastructure/sqlitedb"
	"github.com/nearloop/backend/internal/store/sqlite"
)

func newTestCache(t *testing.T) (*Cache, *sqlite.Store, context.Context) {
	t.Helper()
	db, err := sqlitedb.Open(sqlitedb.Options{InMemory: true}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	s := sqlite.New(db.Current, db.Write)
	c := New(Stores{Accounts: s, Profiles: s})
	return c, s, context.Background()
}

func TestLoadPopulatesAccounts(t *testing.T) {
	c, s, ctx := newTestCache(t)

	acct, err := s.CreateAccount(ctx, account.Account{ID: uuid.NewString(), Email: "a@example.com"})
	require.NoError(t, err)

	require.NoError(t, c.Load(ctx))
	require.Equal(t, 1, c.Size())

	c.ReadCache(acct.ID, func(e Entry) {
		require.Equal(t, acct.Email, e.Account.Email)
	})
}

func TestWriteCacheMutatesInPlace(t *testing.T) {
	c, s, ctx := newTestCache(t)
	acct, err := s.CreateAccount(ctx, account.Account{ID: uuid.NewString()})
	require.NoError(t, err)
	require.NoError(t, c.Load(ctx))

	c.WriteCache(acct.ID, func(e *Entry) {
		e.Account.LastSeenUnix = 42
	})

	c.ReadCache(acct.ID, func(e Entry) {
		require.Equal(t, int64(42), e.Account.LastSeenUnix)
	})
}

func TestAccessTokenIndexResolvesAndInvalidates(t *testing.T) {
	c, _, _ := newTestCache(t)

	c.IndexAccessToken("tok-1", "acct-1")
	id, ok := c.ResolveAccessToken("tok-1")
	require.True(t, ok)
	require.Equal(t, "acct-1", id)

	c.InvalidateAccessToken("tok-1")
	_, ok = c.ResolveAccessToken("tok-1")
	require.False(t, ok)
}

func TestRemoveDropsEntryAndTokens(t *testing.T) {
	c, s, ctx := newTestCache(t)
	acct, err := s.CreateAccount(ctx, account.Account{ID: uuid.NewString()})
	require.NoError(t, err)
	require.NoError(t, c.Load(ctx))
	c.IndexAccessToken("tok-1", acct.ID)

	c.Remove(acct.ID)
	require.Equal(t, 0, c.Size())
	_, ok := c.ResolveAccessToken("tok-1")
	require.False(t, ok)
}

func TestConcurrentWritesToDifferentAccountsDoNotBlockEachOther(t *testing.T) {
	c, s, ctx := newTestCache(t)
	a1, err := s.CreateAccount(ctx, account.Account{ID: uuid.NewString()})
	require.NoError(t, err)
	a2, err := s.CreateAccount(ctx, account.Account{ID: uuid.NewString()})
	require.NoError(t, err)
	require.NoError(t, c.Load(ctx))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			c.WriteCache(a1.ID, func(e *Entry) { e.Account.LastSeenUnix++ })
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			c.WriteCache(a2.ID, func(e *Entry) { e.Account.LastSeenUnix++ })
		}
	}()
	wg.Wait()

	c.ReadCache(a1.ID, func(e Entry) { require.Equal(t, int64(100), e.Account.LastSeenUnix) })
	c.ReadCache(a2.ID, func(e Entry) { require.Equal(t, int64(100), e.Account.LastSeenUnix) })
}
