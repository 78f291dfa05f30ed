package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nearloop/backend/infrastructure/accountcache"
	"github.com/nearloop/backend/infrastructure/errors"
	"github.com/nearloop/backend/infrastructure/sqlitedb"
	"github.com/nearloop/backend/internal/store/sqlite"
)

func newTestEngine(t *testing.T) (*Engine, context.Context) {
	t.Helper()
	db, err := sqlitedb.Open(sqlitedb.Options{InMemory: true}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	s := sqlite.New(db.Current, db.Write)
	cache := accountcache.New(accountcache.Stores{Accounts: s, Profiles: s})
	return New(s, cache), context.Background()
}

func TestRegisterCreatesAccountAndMintsTokens(t *testing.T) {
	eng, ctx := newTestEngine(t)

	res, err := eng.Register(ctx, "Alice@Example.com")
	require.NoError(t, err)
	require.NotEmpty(t, res.AccountID)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	require.Equal(t, "alice@example.com", res.Email)

	acct, err := eng.accounts.GetAccount(ctx, res.AccountID)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", acct.Email)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	eng, ctx := newTestEngine(t)

	_, err := eng.Register(ctx, "bob@example.com")
	require.NoError(t, err)

	_, err = eng.Register(ctx, "bob@example.com")
	require.Error(t, err)
	require.Equal(t, errors.ErrCodeAlreadyExists, errors.GetServiceError(err).Code)
}

func TestSignInWithCreatesAccountOnFirstSignIn(t *testing.T) {
	eng, ctx := newTestEngine(t)

	res, err := eng.SignInWith(ctx, IdentityClaim{
		Provider: "apple", ProviderAccountID: "sub-123", Email: "carol@example.com",
	}, false)
	require.NoError(t, err)
	require.NotEmpty(t, res.AccountID)
	require.Equal(t, "carol@example.com", res.Email)

	accountID, ok, err := eng.accounts.FindSignInIdentity(ctx, "apple", "sub-123")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, res.AccountID, accountID)
}

func TestSignInWithReturnsSameAccountOnRepeatSignIn(t *testing.T) {
	eng, ctx := newTestEngine(t)

	claim := IdentityClaim{Provider: "google", ProviderAccountID: "sub-456", Email: "dave@example.com"}
	first, err := eng.SignInWith(ctx, claim, false)
	require.NoError(t, err)

	second, err := eng.SignInWith(ctx, claim, false)
	require.NoError(t, err)

	require.Equal(t, first.AccountID, second.AccountID)
	require.NotEqual(t, first.AccessToken, second.AccessToken, "each sign-in mints a fresh token")
}

func TestSignInWithUpdatesEmailOnExistingAccount(t *testing.T) {
	eng, ctx := newTestEngine(t)

	claim := IdentityClaim{Provider: "google", ProviderAccountID: "sub-789", Email: "old@example.com"}
	first, err := eng.SignInWith(ctx, claim, false)
	require.NoError(t, err)

	claim.Email = "new@example.com"
	second, err := eng.SignInWith(ctx, claim, false)
	require.NoError(t, err)

	require.Equal(t, first.AccountID, second.AccountID)
	require.Equal(t, "new@example.com", second.Email)
}

func TestSignInWithRejectsUnknownIdentityWhenRegisteringDisabled(t *testing.T) {
	eng, ctx := newTestEngine(t)

	_, err := eng.SignInWith(ctx, IdentityClaim{
		Provider: "apple", ProviderAccountID: "sub-999", Email: "erin@example.com",
	}, true)
	require.Error(t, err)
	require.Equal(t, errors.ErrCodeForbidden, errors.GetServiceError(err).Code)
}

func TestSignInWithRejectsEmptyProviderIdentity(t *testing.T) {
	eng, ctx := newTestEngine(t)

	_, err := eng.SignInWith(ctx, IdentityClaim{Email: "frank@example.com"}, false)
	require.Error(t, err)
}

func TestLoginClearsPendingDeviceToken(t *testing.T) {
	eng, ctx := newTestEngine(t)

	claim := IdentityClaim{Provider: "google", ProviderAccountID: "sub-gina", Email: "gina@example.com"}
	first, err := eng.SignInWith(ctx, claim, false)
	require.NoError(t, err)

	acct, err := eng.accounts.GetAccount(ctx, first.AccountID)
	require.NoError(t, err)
	acct.Push.DeviceToken = "stale-token"
	_, err = eng.accounts.UpdateAccount(ctx, acct)
	require.NoError(t, err)

	_, err = eng.SignInWith(ctx, claim, false)
	require.NoError(t, err)

	acct, err = eng.accounts.GetAccount(ctx, first.AccountID)
	require.NoError(t, err)
	require.Empty(t, acct.Push.DeviceToken)
}
