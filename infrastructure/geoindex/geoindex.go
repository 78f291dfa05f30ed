// Package geoindex implements the location index (C3, spec.md §4.3): a
// grid of geo cells holding the ids of publicly visible profiles on this
// process, with per-client iterator sessions that page candidates outward
// in concentric rings and apply the caller's filters.
package geoindex

import (
	"sync"

	"github.com/nearloop/backend/domain/profile"
)

// Snapshot is the compact LocationIndexProfileData the index keeps per
// candidate (spec.md §4.3): enough to filter without touching C1/C2.
type Snapshot struct {
	AccountID      string
	Cell           profile.Cell
	Age            int32
	SearchGroups   profile.SearchGroup
	SearchAgeRange profile.AgeRange
	Attributes     []profile.AttributeValue
	Filters        []profile.AttributeFilter
	LastSeenUnix   int64
	UnlimitedLikes bool
	NameAccepted   bool
	TextAccepted   bool
}

// DefaultPageSize is the number of candidate ids a single next_profiles
// call returns (spec.md §4.3 names a "fixed page size" without pinning a
// number; chosen here as a config default, not a hard constant).
const DefaultPageSize = 20

// DefaultMaxRings bounds how many concentric rings a single call expands
// through before returning a (possibly short) page, so one request cannot
// spin through an entire sparse grid synchronously.
const DefaultMaxRings = 64

// Index is the concurrency-safe geo-cell grid. One Index is shared by
// every account's iterator sessions on this process.
type Index struct {
	mu    sync.RWMutex
	cells map[profile.Cell]map[string]*Snapshot

	sessMu   sync.Mutex
	sessions map[string]*session

	pageSize int
	maxRings int
}

// Option configures an Index at construction.
type Option func(*Index)

// WithPageSize overrides DefaultPageSize.
func WithPageSize(n int) Option { return func(i *Index) { i.pageSize = n } }

// WithMaxRings overrides DefaultMaxRings.
func WithMaxRings(n int) Option { return func(i *Index) { i.maxRings = n } }

// New builds an empty Index.
func New(opts ...Option) *Index {
	idx := &Index{
		cells:    make(map[profile.Cell]map[string]*Snapshot),
		sessions: make(map[string]*session),
		pageSize: DefaultPageSize,
		maxRings: DefaultMaxRings,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Insert adds or replaces a profile's snapshot in its cell (spec.md §4.3:
// "when visibility becomes public, insert"). Idempotent.
func (idx *Index) Insert(snap Snapshot) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bucket, ok := idx.cells[snap.Cell]
	if !ok {
		bucket = make(map[string]*Snapshot)
		idx.cells[snap.Cell] = bucket
	}
	cp := snap
	bucket[snap.AccountID] = &cp
}

// Remove drops a profile from the index entirely (spec.md §4.3: "when
// private, remove"). Idempotent.
func (idx *Index) Remove(accountID string, cell profile.Cell) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bucket, ok := idx.cells[cell]
	if !ok {
		return
	}
	delete(bucket, accountID)
	if len(bucket) == 0 {
		delete(idx.cells, cell)
	}
}

// Move relocates a profile to a new cell, removing it from the old one
// (spec.md §4.3: "when cell changes, move").
func (idx *Index) Move(accountID string, oldCell profile.Cell, snap Snapshot) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if bucket, ok := idx.cells[oldCell]; ok {
		delete(bucket, accountID)
		if len(bucket) == 0 {
			delete(idx.cells, oldCell)
		}
	}
	bucket, ok := idx.cells[snap.Cell]
	if !ok {
		bucket = make(map[string]*Snapshot)
		idx.cells[snap.Cell] = bucket
	}
	cp := snap
	bucket[accountID] = &cp
}

// Update replaces the snapshot of a profile that stays in the same cell
// (spec.md §4.3: "when profile edits change indexed fields, update
// snapshot").
func (idx *Index) Update(snap Snapshot) {
	idx.Insert(snap)
}

// Size returns the total number of indexed profiles, for diagnostics.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, bucket := range idx.cells {
		n += len(bucket)
	}
	return n
}
