// Package accountcache implements the in-memory per-account hot state
// cache (C2, spec.md §4.2): tokens, capabilities, profile snapshot,
// filters, last-seen time, rebuilt on startup from the storage substrate
// (C1).
package accountcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/domain/profile"
	"github.com/nearloop/backend/internal/store"
)

// Entry is the per-account hot state held in the cache.
type Entry struct {
	Account account.Account
	Profile profile.Profile
}

// Cache holds one Entry per account, guarded by a per-account lock so all
// mutations for one account serialize (spec.md §4.2's "map from account id
// to Arc<Mutex>" contract), plus an access-token -> account index for O(1)
// auth lookups.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*lockedEntry
	tokens  sync.Map // access token -> account id
	stores  Stores
}

type lockedEntry struct {
	mu    sync.Mutex
	entry Entry
}

// Stores bundles the repositories the cache loads from and writes through
// to on startup and on every mutating call (spec.md §4.1: "writes that
// mutate cached state take the write lane and update the cache atomically
// before the transaction commits").
type Stores struct {
	Accounts store.AccountStore
	Profiles store.ProfileStore
}

// New builds an empty cache bound to the given stores.
func New(stores Stores) *Cache {
	return &Cache{
		entries: make(map[string]*lockedEntry),
		stores:  stores,
	}
}

// Load enumerates every account from C1 and populates the cache
// (spec.md §4.2). Public profiles are not inserted into the location
// index here; that is the caller's responsibility (C3's loader observes
// the same accounts).
func (c *Cache) Load(ctx context.Context) error {
	accounts, err := c.stores.Accounts.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("accountcache: list accounts: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, acct := range accounts {
		entry := Entry{Account: acct}
		if p, err := c.stores.Profiles.GetProfile(ctx, acct.ID); err == nil {
			entry.Profile = p
		}
		c.entries[acct.ID] = &lockedEntry{entry: entry}
	}
	return nil
}

// lockFor returns the per-account lock, creating an empty entry if this is
// the first time the account is seen (e.g. immediately after registration,
// before the next full Load).
func (c *Cache) lockFor(accountID string) *lockedEntry {
	c.mu.RLock()
	le, ok := c.entries[accountID]
	c.mu.RUnlock()
	if ok {
		return le
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if le, ok = c.entries[accountID]; ok {
		return le
	}
	le = &lockedEntry{}
	c.entries[accountID] = le
	return le
}

// ReadCache takes the per-account lock and hands the current entry to fn
// for inspection (spec.md §4.2's read_cache contract). fn must not block
// on I/O that could itself need this account's lock.
func (c *Cache) ReadCache(accountID string, fn func(Entry)) {
	le := c.lockFor(accountID)
	le.mu.Lock()
	defer le.mu.Unlock()
	fn(le.entry)
}

// WriteCache takes the per-account lock and lets fn mutate the entry in
// place, serializing all cache mutations for one account (spec.md §4.2).
func (c *Cache) WriteCache(accountID string, fn func(*Entry)) {
	le := c.lockFor(accountID)
	le.mu.Lock()
	defer le.mu.Unlock()
	fn(&le.entry)
}

// Remove drops an account's cached state entirely (used on tombstone).
func (c *Cache) Remove(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, accountID)
	c.tokens.Range(func(key, value interface{}) bool {
		if value == accountID {
			c.tokens.Delete(key)
		}
		return true
	})
}

// IndexAccessToken records the O(1) access-token -> account mapping
// (spec.md §4.2).
func (c *Cache) IndexAccessToken(token, accountID string) {
	c.tokens.Store(token, accountID)
}

// ResolveAccessToken looks up the account id for a bearer token without
// touching the storage substrate.
func (c *Cache) ResolveAccessToken(token string) (string, bool) {
	v, ok := c.tokens.Load(token)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// InvalidateAccessToken removes a token from the index (logout, rotation).
func (c *Cache) InvalidateAccessToken(token string) {
	c.tokens.Delete(token)
}

// Size returns the number of accounts currently cached.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
