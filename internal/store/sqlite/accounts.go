// Package sqlite implements internal/store's repository interfaces over
// the SQLite substrate opened by infrastructure/sqlitedb.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/internal/store"
)

// Store implements the store package's repository interfaces. Reads go
// through the supplied read pool; writes go through the single-connection
// write handle (spec.md §4.1/§5).
type Store struct {
	read  *sql.DB
	write *sql.DB

	// readx wraps read with sqlx's struct-hydration for the multi-row
	// listing queries (moderation queue draws, assigned-entry listings)
	// where StructScan saves a manual column-by-column Scan loop.
	readx *sqlx.DB
}

var _ store.AccountStore = (*Store)(nil)
var _ store.ProfileStore = (*Store)(nil)
var _ store.ContentStore = (*Store)(nil)
var _ store.ModerationStore = (*Store)(nil)
var _ store.InteractionStore = (*Store)(nil)
var _ store.ReportStore = (*Store)(nil)

// New builds a Store over the given read pool and write handle.
func New(read, write *sql.DB) *Store {
	return &Store{read: read, write: write, readx: sqlx.NewDb(read, "sqlite3")}
}

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	if acct.Visibility == "" {
		acct.Visibility = account.VisibilityPendingPrivate
	}

	permsJSON, err := json.Marshal(acct.Permissions)
	if err != nil {
		return account.Account{}, err
	}

	_, err = s.write.ExecContext(ctx, `
		INSERT INTO accounts (
			id, email, email_verified, permissions, visibility, last_seen_unix,
			device_token, pending_notification_token, pending_flags, push_disabled,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		acct.ID, acct.Email, boolToInt(acct.EmailVerified), string(permsJSON), string(acct.Visibility),
		acct.LastSeenUnix, acct.Push.DeviceToken, acct.Push.PendingNotificationToken,
		acct.Push.PendingFlags, boolToInt(acct.Push.PushDisabled),
		formatTime(acct.CreatedAt), formatTime(acct.UpdatedAt),
	)
	if err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	existing, err := s.GetAccount(ctx, acct.ID)
	if err != nil {
		return account.Account{}, err
	}
	acct.CreatedAt = existing.CreatedAt
	acct.UpdatedAt = time.Now().UTC()

	permsJSON, err := json.Marshal(acct.Permissions)
	if err != nil {
		return account.Account{}, err
	}

	result, err := s.write.ExecContext(ctx, `
		UPDATE accounts SET
			email = ?, email_verified = ?, permissions = ?, visibility = ?,
			last_seen_unix = ?, device_token = ?, pending_notification_token = ?,
			pending_flags = ?, push_disabled = ?, updated_at = ?
		WHERE id = ?
	`,
		acct.Email, boolToInt(acct.EmailVerified), string(permsJSON), string(acct.Visibility),
		acct.LastSeenUnix, acct.Push.DeviceToken, acct.Push.PendingNotificationToken,
		acct.Push.PendingFlags, boolToInt(acct.Push.PushDisabled),
		formatTime(acct.UpdatedAt), acct.ID,
	)
	if err != nil {
		return account.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return account.Account{}, sql.ErrNoRows
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT id, email, email_verified, permissions, visibility, last_seen_unix,
		       device_token, pending_notification_token, pending_flags, push_disabled,
		       created_at, updated_at
		FROM accounts WHERE id = ?
	`, id)
	return scanAccount(row)
}

func (s *Store) ListAccounts(ctx context.Context) ([]account.Account, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT id, email, email_verified, permissions, visibility, last_seen_unix,
		       device_token, pending_notification_token, pending_flags, push_disabled,
		       created_at, updated_at
		FROM accounts ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []account.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (account.Account, bool, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT id, email, email_verified, permissions, visibility, last_seen_unix,
		       device_token, pending_notification_token, pending_flags, push_disabled,
		       created_at, updated_at
		FROM accounts WHERE email = ?
	`, email)
	acct, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return account.Account{}, false, nil
		}
		return account.Account{}, false, err
	}
	return acct, true, nil
}

func (s *Store) FindSignInIdentity(ctx context.Context, provider, providerAccountID string) (string, bool, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT account_id FROM sign_in_identities WHERE provider = ? AND provider_account_id = ?
	`, provider, providerAccountID)
	var accountID string
	if err := row.Scan(&accountID); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return accountID, true, nil
}

func (s *Store) LinkSignInIdentity(ctx context.Context, provider, providerAccountID, accountID string) error {
	_, err := s.write.ExecContext(ctx, `
		INSERT INTO sign_in_identities (provider, provider_account_id, account_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (provider, provider_account_id) DO UPDATE SET account_id = excluded.account_id
	`, provider, providerAccountID, accountID, formatTime(time.Now().UTC()))
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (account.Account, error) {
	var (
		acct        account.Account
		permsRaw    string
		visibility  string
		emailVerif  int
		pushDisab   int
		createdAt   string
		updatedAt   string
	)
	if err := row.Scan(
		&acct.ID, &acct.Email, &emailVerif, &permsRaw, &visibility, &acct.LastSeenUnix,
		&acct.Push.DeviceToken, &acct.Push.PendingNotificationToken, &acct.Push.PendingFlags, &pushDisab,
		&createdAt, &updatedAt,
	); err != nil {
		return account.Account{}, err
	}
	acct.EmailVerified = emailVerif != 0
	acct.Push.PushDisabled = pushDisab != 0
	acct.Visibility = account.Visibility(visibility)
	if err := json.Unmarshal([]byte(permsRaw), &acct.Permissions); err != nil {
		return account.Account{}, err
	}
	var err error
	if acct.CreatedAt, err = parseTime(createdAt); err != nil {
		return account.Account{}, err
	}
	if acct.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Store) IssueAccessToken(ctx context.Context, tok account.AccessToken) error {
	_, err := s.write.ExecContext(ctx, `
		INSERT INTO access_tokens (token, account_id, issued_at, expires_at) VALUES (?, ?, ?, ?)
	`, tok.Token, tok.AccountID, formatTime(tok.IssuedAt), formatTime(tok.ExpiresAt))
	return err
}

func (s *Store) ResolveAccessToken(ctx context.Context, token string) (account.AccessToken, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT token, account_id, issued_at, expires_at FROM access_tokens WHERE token = ?
	`, token)
	var tok account.AccessToken
	var issuedAt, expiresAt string
	if err := row.Scan(&tok.Token, &tok.AccountID, &issuedAt, &expiresAt); err != nil {
		return account.AccessToken{}, err
	}
	var err error
	if tok.IssuedAt, err = parseTime(issuedAt); err != nil {
		return account.AccessToken{}, err
	}
	if tok.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return account.AccessToken{}, err
	}
	return tok, nil
}

func (s *Store) RevokeAccessToken(ctx context.Context, token string) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM access_tokens WHERE token = ?`, token)
	return err
}

func (s *Store) IssueRefreshToken(ctx context.Context, tok account.RefreshToken) error {
	_, err := s.write.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, account_id, issued_at, expires_at) VALUES (?, ?, ?, ?)
	`, tok.Token, tok.AccountID, formatTime(tok.IssuedAt), formatTime(tok.ExpiresAt))
	return err
}

func (s *Store) ResolveRefreshToken(ctx context.Context, token string) (account.RefreshToken, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT token, account_id, issued_at, expires_at FROM refresh_tokens WHERE token = ?
	`, token)
	var tok account.RefreshToken
	var issuedAt, expiresAt string
	if err := row.Scan(&tok.Token, &tok.AccountID, &issuedAt, &expiresAt); err != nil {
		return account.RefreshToken{}, err
	}
	var err error
	if tok.IssuedAt, err = parseTime(issuedAt); err != nil {
		return account.RefreshToken{}, err
	}
	if tok.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return account.RefreshToken{}, err
	}
	return tok, nil
}

func (s *Store) CurrentRefreshToken(ctx context.Context, accountID string) (account.RefreshToken, bool, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT token, account_id, issued_at, expires_at FROM refresh_tokens
		WHERE account_id = ? ORDER BY issued_at DESC LIMIT 1
	`, accountID)
	var tok account.RefreshToken
	var issuedAt, expiresAt string
	if err := row.Scan(&tok.Token, &tok.AccountID, &issuedAt, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return account.RefreshToken{}, false, nil
		}
		return account.RefreshToken{}, false, err
	}
	var err error
	if tok.IssuedAt, err = parseTime(issuedAt); err != nil {
		return account.RefreshToken{}, false, err
	}
	if tok.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return account.RefreshToken{}, false, err
	}
	return tok, true, nil
}

var errNotFound = errors.New("sqlite: not found")

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(timeLayout, raw)
}
