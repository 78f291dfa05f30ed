package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/domain/content"
	"github.com/nearloop/backend/domain/profile"
	"github.com/nearloop/backend/infrastructure/sqlitedb"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlitedb.Open(sqlitedb.Options{InMemory: true}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return New(db.Current, db.Write)
}

func TestCreateAndGetAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acct := account.Account{
		ID:          uuid.NewString(),
		Email:       "a@example.com",
		Permissions: []account.Permission{account.PermissionUser},
		Visibility:  account.VisibilityPendingPublic,
	}
	created, err := s.CreateAccount(ctx, acct)
	require.NoError(t, err)
	require.Equal(t, acct.ID, created.ID)

	got, err := s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.Equal(t, acct.Email, got.Email)
	require.Equal(t, account.VisibilityPendingPublic, got.Visibility)
	require.True(t, got.HasPermission(account.PermissionUser))
}

func TestUpdateAccountPromotesVisibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acct, err := s.CreateAccount(ctx, account.Account{ID: uuid.NewString(), Visibility: account.VisibilityPendingPublic})
	require.NoError(t, err)

	acct.Visibility = acct.Visibility.Promote()
	updated, err := s.UpdateAccount(ctx, acct)
	require.NoError(t, err)
	require.Equal(t, account.VisibilityPublic, updated.Visibility)

	got, err := s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.Equal(t, account.VisibilityPublic, got.Visibility)
	require.Equal(t, updated.CreatedAt.Unix(), got.CreatedAt.Unix())
}

func TestUpdateAccountMissingReturnsNoRows(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdateAccount(context.Background(), account.Account{ID: uuid.NewString()})
	require.Error(t, err)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acct, err := s.CreateAccount(ctx, account.Account{ID: uuid.NewString()})
	require.NoError(t, err)

	tok := account.AccessToken{
		Token:     uuid.NewString(),
		AccountID: acct.ID,
		IssuedAt:  time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(15 * time.Minute),
	}
	require.NoError(t, s.IssueAccessToken(ctx, tok))

	resolved, err := s.ResolveAccessToken(ctx, tok.Token)
	require.NoError(t, err)
	require.Equal(t, acct.ID, resolved.AccountID)

	require.NoError(t, s.RevokeAccessToken(ctx, tok.Token))
	_, err = s.ResolveAccessToken(ctx, tok.Token)
	require.Error(t, err)
}

func TestUpsertProfileGeneratesNewVersionEachWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acct, err := s.CreateAccount(ctx, account.Account{ID: uuid.NewString(), Visibility: account.VisibilityPublic})
	require.NoError(t, err)

	p := profile.Profile{
		AccountID:      acct.ID,
		DisplayName:    "Ada",
		Age:            30,
		SearchAgeRange: profile.AgeRange{Min: 18, Max: 99},
	}
	first, err := s.UpsertProfile(ctx, p)
	require.NoError(t, err)
	require.NotEmpty(t, first.VersionUUID)

	second, err := s.UpsertProfile(ctx, first)
	require.NoError(t, err)
	require.NotEqual(t, first.VersionUUID, second.VersionUUID)

	got, err := s.GetProfile(ctx, acct.ID)
	require.NoError(t, err)
	require.Equal(t, "Ada", got.DisplayName)
}

func TestListPublicProfilesFiltersByVisibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pub, err := s.CreateAccount(ctx, account.Account{ID: uuid.NewString(), Visibility: account.VisibilityPublic})
	require.NoError(t, err)
	priv, err := s.CreateAccount(ctx, account.Account{ID: uuid.NewString(), Visibility: account.VisibilityPrivate})
	require.NoError(t, err)

	_, err = s.UpsertProfile(ctx, profile.Profile{AccountID: pub.ID, DisplayName: "Pub"})
	require.NoError(t, err)
	_, err = s.UpsertProfile(ctx, profile.Profile{AccountID: priv.ID, DisplayName: "Priv"})
	require.NoError(t, err)

	list, err := s.ListPublicProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Pub", list[0].DisplayName)
}

func TestContentSlotLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acct, err := s.CreateAccount(ctx, account.Account{ID: uuid.NewString()})
	require.NoError(t, err)

	c, err := s.CreateContent(ctx, content.Content{AccountID: acct.ID, Slot: 1})
	require.NoError(t, err)
	require.Equal(t, content.StateInSlot, c.State)

	c.State = content.StateInModeration
	c.Processing = content.ProcessingCompleted
	c.FaceDetected = true
	updated, err := s.UpdateContent(ctx, c)
	require.NoError(t, err)
	require.True(t, updated.FaceDetected)

	got, err := s.GetContentBySlot(ctx, acct.ID, 1)
	require.NoError(t, err)
	require.Equal(t, content.StateInModeration, got.State)

	list, err := s.ListContentByState(ctx, content.StateInModeration, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
