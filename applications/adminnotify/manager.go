// Package adminnotify implements the admin-facing debounced queue-depth
// notifier (C9, spec.md §4.8): any moderation-relevant event arms a
// single 60 s timer; at fire time every category an event touched is
// re-checked, and only admins still subscribed to a category whose queue
// is non-empty get notified over their live WebSocket session.
package adminnotify

import (
	"context"
	"sync"
	"time"

	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/infrastructure/accountcache"
	"github.com/nearloop/backend/infrastructure/logging"
	"github.com/nearloop/backend/internal/store"
)

const defaultDebounce = 60 * time.Second

// Publisher is the narrow interface eventbus.Hub satisfies, letting
// Manager fan out NotificationEvent without depending on eventbus.
type Publisher interface {
	Publish(event interface{})
}

// NotificationEvent targets one admin account's live session, matching
// the TargetAccountIDs convention applications/eventbus.Hub routes on.
type NotificationEvent struct {
	AccountID string
}

func (e NotificationEvent) TargetAccountIDs() []string { return []string{e.AccountID} }

// NeedsCheckEvent is what content/profile/moderation engines publish to
// Manager whenever they touch a queue this package watches.
type NeedsCheckEvent struct {
	Category Category
}

// Deps are Manager's read dependencies.
type Deps struct {
	Moderation store.ModerationStore
	Reports    store.ReportStore
	Cache      *accountcache.Cache
	Publisher  Publisher
	Log        *logging.Logger
}

// Manager owns the in-process admin subscription table and the single
// debounce timer. Subscriptions are runtime state only (kept in-memory,
// not persisted): an admin re-subscribes each session the way a
// WebSocket client re-establishes any other live preference.
type Manager struct {
	deps     Deps
	debounce time.Duration

	mu       sync.Mutex
	subs     map[string]Category
	lastSent map[string]Category
	pending  Category

	events chan Category
}

// New builds a Manager. debounce <= 0 uses the spec's 60 s default.
func New(deps Deps, debounce time.Duration) *Manager {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Manager{
		deps:     deps,
		debounce: debounce,
		subs:     make(map[string]Category),
		lastSent: make(map[string]Category),
		events:   make(chan Category, 32),
	}
}

// Subscribe records which categories adminID's session wants to hear
// about. Passing 0 clears the subscription.
func (m *Manager) Subscribe(adminID string, categories Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if categories == 0 {
		delete(m.subs, adminID)
		delete(m.lastSent, adminID)
		return
	}
	m.subs[adminID] = categories
}

// Unsubscribe drops adminID's session entirely, e.g. on disconnect.
func (m *Manager) Unsubscribe(adminID string) {
	m.Subscribe(adminID, 0)
}

// Publish implements the Publisher interface the content/profile/
// moderation engines already depend on. Only NeedsCheckEvent is
// understood; everything else is dropped.
func (m *Manager) Publish(event interface{}) {
	nc, ok := event.(NeedsCheckEvent)
	if !ok || nc.Category == 0 {
		return
	}
	m.mu.Lock()
	m.pending |= nc.Category
	m.mu.Unlock()
	select {
	case m.events <- nc.Category:
	default:
		// Channel full: a fire is already queued and will pick up every
		// category flagged since, via pending below.
	}
}

// Run drives the debounce timer until ctx is cancelled (spec.md §5's
// broadcast-shutdown contract).
func (m *Manager) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			return
		case cat := <-m.events:
			m.mu.Lock()
			m.pending |= cat
			m.mu.Unlock()
			if !armed {
				timer.Reset(m.debounce)
				armed = true
			}
		case <-timer.C:
			armed = false
			if err := m.fire(ctx); err != nil && m.deps.Log != nil {
				m.deps.Log.Error(ctx, "admin notification debounce fire failed", err, nil)
			}
		}
	}
}

// fire re-checks every category an event touched since the last fire and
// notifies admins whose wanted subscriptions include a still-nonempty
// category that wasn't already reflected in what they were last sent.
func (m *Manager) fire(ctx context.Context) error {
	m.mu.Lock()
	pending := m.pending
	m.pending = 0
	m.mu.Unlock()

	if pending == 0 {
		return nil
	}

	depths, err := m.buildSnapshot(ctx, pending)
	if err != nil {
		return err
	}
	final, err := stillNonempty(depths, pending)
	if err != nil {
		return err
	}

	m.mu.Lock()
	subs := make(map[string]Category, len(m.subs))
	for id, want := range m.subs {
		subs[id] = want
	}
	m.mu.Unlock()

	for adminID, want := range subs {
		state := want & final
		m.mu.Lock()
		unchanged := m.lastSent[adminID] == state
		if !unchanged {
			m.lastSent[adminID] = state
		}
		m.mu.Unlock()
		if state == 0 || unchanged {
			continue
		}
		m.notify(ctx, adminID)
	}
	return nil
}

func (m *Manager) notify(ctx context.Context, adminID string) {
	if m.deps.Cache != nil {
		m.deps.Cache.WriteCache(adminID, func(entry *accountcache.Entry) {
			entry.Account.Push.PendingFlags |= account.NotificationAdmin
		})
	}
	if m.deps.Publisher != nil {
		m.deps.Publisher.Publish(NotificationEvent{AccountID: adminID})
	}
	if m.deps.Log != nil {
		m.deps.Log.Info(ctx, "admin notification sent", map[string]interface{}{"account_id": adminID})
	}
}
