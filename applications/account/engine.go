// Package account implements registration and the sign-in-with-provider
// dispatch (spec.md supplemented feature, grounded on the original
// account service's login handling): given an already-verified
// third-party identity, it finds-or-creates the local account and mints
// a fresh access/refresh token pair.
//
// Verifying the provider's ID token itself (Apple/Google JWKS fetch and
// signature check) is out of scope here; callers in applications/httpapi
// are expected to have done that before constructing an IdentityClaim.
package account

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/infrastructure/accountcache"
	"github.com/nearloop/backend/infrastructure/crypto"
	"github.com/nearloop/backend/infrastructure/errors"
	"github.com/nearloop/backend/internal/store"
)

const (
	accessTokenTTL  = 24 * time.Hour
	refreshTokenTTL = 30 * 24 * time.Hour
)

// IdentityClaim is a third-party identity that has already been
// authenticated by the caller. Provider is a short label such as
// "apple" or "google"; ProviderAccountID is that provider's stable
// subject identifier.
type IdentityClaim struct {
	Provider          string
	ProviderAccountID string
	Email             string
}

// LoginResult is returned by both Register and SignInWith: a freshly
// minted token pair bound to the resolved account.
type LoginResult struct {
	AccountID    string
	AccessToken  string
	RefreshToken string
	Email        string
}

// Engine implements account creation and sign-in-with-provider dispatch.
type Engine struct {
	accounts store.AccountStore
	cache    *accountcache.Cache
}

// New builds an account Engine over the given store and hot-state cache.
func New(accounts store.AccountStore, cache *accountcache.Cache) *Engine {
	return &Engine{accounts: accounts, cache: cache}
}

// Register creates a brand-new account for a bare email address, with no
// third-party identity attached. It is the debug/direct-signup path;
// production clients are expected to go through SignInWith instead.
func (e *Engine) Register(ctx context.Context, email string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" {
		return LoginResult{}, errors.MissingParameter("email")
	}
	if _, ok, err := e.accounts.FindAccountByEmail(ctx, email); err != nil {
		return LoginResult{}, errors.DatabaseError("find account by email", err)
	} else if ok {
		return LoginResult{}, errors.AlreadyExists("account", email)
	}

	acct, err := e.createAccount(ctx, email)
	if err != nil {
		return LoginResult{}, err
	}
	return e.login(ctx, acct)
}

// SignInWith resolves claim to a local account, creating one if no
// account has ever been linked to this provider identity, then mints a
// fresh token pair. If no linked account exists and disableRegistering
// is set, it returns a Forbidden error instead of creating one (mirrors
// the original service's "registering disabled" sign-in-with path).
func (e *Engine) SignInWith(ctx context.Context, claim IdentityClaim, disableRegistering bool) (LoginResult, error) {
	provider := strings.TrimSpace(claim.Provider)
	providerAccountID := strings.TrimSpace(claim.ProviderAccountID)
	if provider == "" || providerAccountID == "" {
		return LoginResult{}, errors.MissingParameter("provider identity")
	}

	acct, err := e.resolveOrCreateAccount(ctx, provider, providerAccountID, normalizeEmail(claim.Email), disableRegistering)
	if err != nil {
		return LoginResult{}, err
	}
	return e.login(ctx, acct)
}

func (e *Engine) resolveOrCreateAccount(ctx context.Context, provider, providerAccountID, email string, disableRegistering bool) (account.Account, error) {
	accountID, ok, err := e.accounts.FindSignInIdentity(ctx, provider, providerAccountID)
	if err != nil {
		return account.Account{}, errors.DatabaseError("find sign-in identity", err)
	}
	if ok {
		acct, err := e.accounts.GetAccount(ctx, accountID)
		if err != nil {
			return account.Account{}, errors.DatabaseError("get account", err)
		}
		if email != "" && email != acct.Email {
			acct.Email = email
			acct, err = e.accounts.UpdateAccount(ctx, acct)
			if err != nil {
				return account.Account{}, errors.DatabaseError("update account email", err)
			}
			e.cache.WriteCache(acct.ID, func(entry *accountcache.Entry) { entry.Account = acct })
		}
		return acct, nil
	}

	if disableRegistering {
		return account.Account{}, errors.Forbidden("registering is disabled for new sign-in-with accounts")
	}

	acct, err := e.createAccount(ctx, email)
	if err != nil {
		return account.Account{}, err
	}
	if err := e.accounts.LinkSignInIdentity(ctx, provider, providerAccountID, acct.ID); err != nil {
		return account.Account{}, errors.DatabaseError("link sign-in identity", err)
	}
	return acct, nil
}

func (e *Engine) createAccount(ctx context.Context, email string) (account.Account, error) {
	acct, err := e.accounts.CreateAccount(ctx, account.Account{
		ID:          uuid.NewString(),
		Email:       email,
		Visibility:  account.VisibilityPendingPrivate,
		Permissions: []account.Permission{account.PermissionUser},
	})
	if err != nil {
		return account.Account{}, errors.DatabaseError("create account", err)
	}
	e.cache.WriteCache(acct.ID, func(entry *accountcache.Entry) { entry.Account = acct })
	return acct, nil
}

// login mints a fresh access/refresh token pair and clears any pending
// push device token, the same "new session invalidates the old device
// binding" behavior the original login flow applies.
func (e *Engine) login(ctx context.Context, acct account.Account) (LoginResult, error) {
	access, err := generateToken()
	if err != nil {
		return LoginResult{}, errors.Internal("generate access token", err)
	}
	refresh, err := generateToken()
	if err != nil {
		return LoginResult{}, errors.Internal("generate refresh token", err)
	}

	now := time.Now().UTC()
	if err := e.accounts.IssueAccessToken(ctx, account.AccessToken{
		Token: access, AccountID: acct.ID, IssuedAt: now, ExpiresAt: now.Add(accessTokenTTL),
	}); err != nil {
		return LoginResult{}, errors.DatabaseError("issue access token", err)
	}
	if err := e.accounts.IssueRefreshToken(ctx, account.RefreshToken{
		Token: refresh, AccountID: acct.ID, IssuedAt: now, ExpiresAt: now.Add(refreshTokenTTL),
	}); err != nil {
		return LoginResult{}, errors.DatabaseError("issue refresh token", err)
	}

	if acct.Push.DeviceToken != "" {
		acct.Push.DeviceToken = ""
		if acct, err = e.accounts.UpdateAccount(ctx, acct); err != nil {
			return LoginResult{}, errors.DatabaseError("clear device token on login", err)
		}
	}
	e.cache.WriteCache(acct.ID, func(entry *accountcache.Entry) { entry.Account = acct })
	e.cache.IndexAccessToken(access, acct.ID)

	return LoginResult{
		AccountID:    acct.ID,
		AccessToken:  access,
		RefreshToken: refresh,
		Email:        acct.Email,
	}, nil
}

func generateToken() (string, error) {
	b, err := crypto.GenerateRandomBytes(32)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
