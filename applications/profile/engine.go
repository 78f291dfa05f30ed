// Package profile implements the profile discovery engine (C4, spec.md
// §4.4): it composes the account cache (C2) and the location index (C3)
// behind a per-account concurrent write handle so a client's rapid paging
// cannot race with another of its own sessions.
package profile

import (
	"context"
	"sync"
	"time"

	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/domain/profile"
	"github.com/nearloop/backend/infrastructure/accountcache"
	"github.com/nearloop/backend/infrastructure/geoindex"
	"github.com/nearloop/backend/infrastructure/logging"
)

// DefaultGlobalConcurrency bounds how many accounts may hold their write
// handle at once across the whole process (spec.md §4.4's "semaphore
// permit (bounded global concurrency)").
const DefaultGlobalConcurrency = 64

// Page is the result of one next_profiles call.
type Page struct {
	AccountIDs []string
	SessionID  string
}

// Publisher delivers account-scoped events; satisfied by the eventbus
// once built, kept narrow here so this package does not depend on C7's
// concrete type (same pattern as applications/content.Publisher). May be
// nil, in which case AutomaticSearch only persists the pending flag.
type Publisher interface {
	Publish(event interface{})
}

// AutomaticSearchCompletedEvent is published when a scheduled automatic
// search (spec.md §4.8) finds at least one new match for an account, so a
// live WebSocket session learns about it without waiting on the client to
// poll its notification flags.
type AutomaticSearchCompletedEvent struct {
	AccountID string
}

// TargetAccountIDs satisfies applications/eventbus's routing interface.
func (e AutomaticSearchCompletedEvent) TargetAccountIDs() []string { return []string{e.AccountID} }

// Engine is the profile discovery engine. One Engine is shared by every
// account on this process.
type Engine struct {
	cache *accountcache.Cache
	index *geoindex.Index
	log   *logging.Logger
	pub   Publisher

	global chan struct{} // buffered channel used as a counting semaphore

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds an Engine over the given cache and index. pub may be nil.
func New(cache *accountcache.Cache, index *geoindex.Index, log *logging.Logger, pub Publisher, globalConcurrency int) *Engine {
	if globalConcurrency <= 0 {
		globalConcurrency = DefaultGlobalConcurrency
	}
	return &Engine{
		cache:  cache,
		index:  index,
		log:    log,
		pub:    pub,
		global: make(chan struct{}, globalConcurrency),
		locks:  make(map[string]*sync.Mutex),
	}
}

// accountLock returns (creating if necessary) the account-scoped lock half
// of the concurrent write handle.
func (e *Engine) accountLock(accountID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[accountID] = l
	}
	return l
}

// withWriteHandle acquires the global semaphore permit and the
// account-scoped lock, in that order, runs fn, and releases both
// (spec.md §4.4's concurrent write handle).
func (e *Engine) withWriteHandle(ctx context.Context, accountID string, fn func() error) error {
	select {
	case e.global <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.global }()

	lock := e.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	return fn()
}

// ResetIterator returns a fresh iterator session id for the account.
func (e *Engine) ResetIterator(ctx context.Context, accountID string) (string, error) {
	var sessionID string
	err := e.withWriteHandle(ctx, accountID, func() error {
		var origin profile.Cell
		e.cache.ReadCache(accountID, func(entry accountcache.Entry) {
			origin = entry.Profile.Cell
		})
		sessionID = e.index.ResetIterator(accountID, origin)
		return nil
	})
	return sessionID, err
}

// NextProfiles runs the caller's next page of candidates inside the
// account's write handle, so a second concurrent call for the same
// account blocks until the first completes rather than racing it (spec.md
// §4.4).
func (e *Engine) NextProfiles(ctx context.Context, accountID, sessionID string) (Page, error) {
	var page Page
	err := e.withWriteHandle(ctx, accountID, func() error {
		caller := e.callerFrom(accountID)
		ids, err := e.index.NextProfiles(accountID, sessionID, caller)
		if err != nil {
			return err
		}
		page = Page{AccountIDs: ids, SessionID: sessionID}
		return nil
	})
	return page, err
}

// callerFrom builds a geoindex.Caller from the account's cached profile
// and filters.
func (e *Engine) callerFrom(accountID string) geoindex.Caller {
	var caller geoindex.Caller
	e.cache.ReadCache(accountID, func(entry accountcache.Entry) {
		caller = geoindex.Caller{
			Origin:       entry.Profile.Cell,
			Age:          entry.Profile.Age,
			AgeRange:     entry.Profile.SearchAgeRange,
			SearchGroups: entry.Profile.SearchGroups,
			Filters:      entry.Profile.Filters,
		}
	})
	return caller
}

// AutomaticSearch runs the scheduled automatic-profile-search variant
// (spec.md §4.4): it fixes the caller's last-seen baseline, iterates once
// keeping only candidates last seen at or after the baseline, and if at
// least one match is found raises the per-account automatic-search-
// completed notification flag. It does not filter on profile edit or
// creation time.
func (e *Engine) AutomaticSearch(ctx context.Context, accountID string, baseline time.Time) (bool, error) {
	var found bool
	err := e.withWriteHandle(ctx, accountID, func() error {
		caller := e.callerFrom(accountID)
		caller.MinLastSeen = baseline.Unix()

		sessionID := e.index.ResetIterator(accountID, caller.Origin)
		ids, err := e.index.NextProfiles(accountID, sessionID, caller)
		if err != nil {
			return err
		}
		found = len(ids) > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if found {
		e.cache.WriteCache(accountID, func(entry *accountcache.Entry) {
			entry.Account.Push.PendingFlags |= account.NotificationAutomaticSearchCompleted
		})
		if e.log != nil {
			e.log.Info(ctx, "automatic profile search found new matches", map[string]interface{}{"account_id": accountID})
		}
		if e.pub != nil {
			e.pub.Publish(AutomaticSearchCompletedEvent{AccountID: accountID})
		}
	}
	return found, nil
}
