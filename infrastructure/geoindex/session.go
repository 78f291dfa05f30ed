package geoindex

import (
	"github.com/google/uuid"

	"github.com/nearloop/backend/domain/profile"
	"github.com/nearloop/backend/infrastructure/errors"
)

// session is one account's iterator state: current cell, spiral/ring
// expansion position, and per-cell intra-cell position (spec.md §4.3).
type session struct {
	id        string
	accountID string
	origin    profile.Cell
	ring      int32
	ringIdx   int32
	cellPos   int
}

// Caller bundles the filter context next_profiles applies to every
// candidate (spec.md §4.3).
type Caller struct {
	Origin           profile.Cell
	Age              int32
	AgeRange         profile.AgeRange
	SearchGroups     profile.SearchGroup
	Filters          []profile.AttributeFilter
	MinLastSeen      int64
	RequireUnlimited bool
}

// ResetIterator returns a fresh session id for an account, discarding any
// prior session (spec.md §4.3 reset_iterator, §4.4's "submitted session id
// must match the current session" invariant).
func (idx *Index) ResetIterator(accountID string, origin profile.Cell) string {
	idx.sessMu.Lock()
	defer idx.sessMu.Unlock()

	s := &session{
		id:        uuid.NewString(),
		accountID: accountID,
		origin:    origin,
	}
	idx.sessions[accountID] = s
	return s.id
}

// currentSessionID reports the live session id for an account, or "" if
// none exists (the "no session" case in spec.md §4.4's invariant 2).
func (idx *Index) currentSessionID(accountID string) string {
	idx.sessMu.Lock()
	defer idx.sessMu.Unlock()
	s, ok := idx.sessions[accountID]
	if !ok {
		return ""
	}
	return s.id
}

// NextProfiles returns up to the configured page size of candidate
// account ids for the given session, expanding outward in concentric
// rings from the caller's origin cell and applying caller's filters
// (spec.md §4.3/§4.4). A session id that does not match the account's
// current session returns error_invalid_iterator_session_id via
// infrastructure/errors, not a partial result.
func (idx *Index) NextProfiles(accountID, sessionID string, caller Caller) ([]string, error) {
	idx.sessMu.Lock()
	s, ok := idx.sessions[accountID]
	if !ok || s.id != sessionID {
		idx.sessMu.Unlock()
		return nil, errors.InvalidIteratorSession()
	}
	idx.sessMu.Unlock()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []string
	ringsTried := 0
	for ringsTried < idx.maxRings && len(out) < idx.pageSize {
		cells := ringCells(s.origin, s.ring)
		for s.ringIdx < int32(len(cells)) {
			cell := cells[s.ringIdx]
			bucket := idx.cells[cell]
			ids := sortedIDs(bucket)
			for s.cellPos < len(ids) && len(out) < idx.pageSize {
				cand := bucket[ids[s.cellPos]]
				s.cellPos++
				if cand.AccountID == accountID {
					continue
				}
				if matches(caller, cand) {
					out = append(out, cand.AccountID)
				}
			}
			if s.cellPos >= len(ids) {
				s.ringIdx++
				s.cellPos = 0
			}
			if len(out) >= idx.pageSize {
				return out, nil
			}
		}
		s.ring++
		s.ringIdx = 0
		s.cellPos = 0
		ringsTried++
	}
	return out, nil
}

// sortedIDs returns a bucket's account ids in a stable order so repeated
// calls against an unchanged bucket resume deterministically.
func sortedIDs(bucket map[string]*Snapshot) []string {
	if len(bucket) == 0 {
		return nil
	}
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	// Simple insertion sort: buckets are small (one geo cell's worth of
	// concurrently-visible profiles), and avoiding sort.Strings keeps this
	// package free of an extra import for a handful of elements.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids
}

// ringCells enumerates the grid cells forming the square ring at the
// given radius around origin (ring 0 is the origin cell itself).
func ringCells(origin profile.Cell, ring int32) []profile.Cell {
	if ring == 0 {
		return []profile.Cell{origin}
	}
	var out []profile.Cell
	top := origin.Row - ring
	bottom := origin.Row + ring
	left := origin.Col - ring
	right := origin.Col + ring

	for c := left; c <= right; c++ {
		out = append(out, profile.Cell{Row: top, Col: c})
		out = append(out, profile.Cell{Row: bottom, Col: c})
	}
	for r := top + 1; r < bottom; r++ {
		out = append(out, profile.Cell{Row: r, Col: left})
		out = append(out, profile.Cell{Row: r, Col: right})
	}
	return out
}

// matches applies the caller's filters to a candidate per spec.md §4.3:
// age range intersects, search-group bit set mutually, attribute filters
// match per kind, last-seen recent enough, optional unlimited-likes.
func matches(caller Caller, cand *Snapshot) bool {
	// Mutual age-range intersection: the candidate's age must fall within
	// the caller's desired range, and the caller's age within the
	// candidate's (spec.md §4.3: "age range intersects").
	if cand.Age < caller.AgeRange.Min || cand.Age > caller.AgeRange.Max {
		return false
	}
	if caller.Age < cand.SearchAgeRange.Min || caller.Age > cand.SearchAgeRange.Max {
		return false
	}
	if caller.SearchGroups&cand.SearchGroups == 0 {
		return false
	}
	if caller.MinLastSeen > 0 && cand.LastSeenUnix < caller.MinLastSeen {
		return false
	}
	if caller.RequireUnlimited && !cand.UnlimitedLikes {
		return false
	}
	if !cand.NameAccepted || !cand.TextAccepted {
		return false
	}
	for _, f := range caller.Filters {
		if !matchAttributeFilter(f, cand.Attributes) {
			return false
		}
	}
	return true
}

// matchAttributeFilter evaluates one filter entry against a candidate's
// attribute values of the same Kind, per spec.md §4.3's bitflag/one-level/
// two-level semantics.
func matchAttributeFilter(f profile.AttributeFilter, values []profile.AttributeValue) bool {
	var result bool
	switch f.Kind {
	case profile.AttributeBitflag:
		value := attributeBitflag(values)
		filterValue := f.Bitflag
		if f.Negate {
			filterValue = ^filterValue
		}
		if f.Mode == profile.FilterModeAND {
			result = (filterValue & value) == filterValue
		} else {
			result = (filterValue & value) != 0
		}
	case profile.AttributeOneLevel:
		value := attributeOneLevel(values)
		if f.Mode == profile.FilterModeAND {
			result = isSubset(f.OneLevel, value)
		} else {
			result = hasCommon(f.OneLevel, value)
		}
	case profile.AttributeTwoLevel:
		value := attributeTwoLevel(values)
		if f.Mode == profile.FilterModeAND {
			result = twoLevelAllMatch(f.TwoLevel, value)
		} else {
			result = twoLevelAnyMatch(f.TwoLevel, value)
		}
	}
	return result
}

func attributeBitflag(values []profile.AttributeValue) uint32 {
	for _, v := range values {
		if v.Kind == profile.AttributeBitflag {
			return v.Bitflag
		}
	}
	return 0
}

func attributeOneLevel(values []profile.AttributeValue) []uint16 {
	for _, v := range values {
		if v.Kind == profile.AttributeOneLevel {
			return v.OneLevel
		}
	}
	return nil
}

func attributeTwoLevel(values []profile.AttributeValue) []profile.TwoLevelValue {
	for _, v := range values {
		if v.Kind == profile.AttributeTwoLevel {
			return v.TwoLevel
		}
	}
	return nil
}

// hasCommon reports whether two sorted u16 lists share any element
// (one-level OR semantics, spec.md §4.3).
func hasCommon(filter, value []uint16) bool {
	i, j := 0, 0
	for i < len(filter) && j < len(value) {
		switch {
		case filter[i] == value[j]:
			return true
		case filter[i] < value[j]:
			i++
		default:
			j++
		}
	}
	return false
}

// isSubset reports whether filter ⊆ value (one-level AND semantics,
// spec.md §4.3).
func isSubset(filter, value []uint16) bool {
	set := make(map[uint16]struct{}, len(value))
	for _, v := range value {
		set[v] = struct{}{}
	}
	for _, f := range filter {
		if _, ok := set[f]; !ok {
			return false
		}
	}
	return true
}

// twoLevelAnyMatch is OR semantics for two-level filters: any filter
// entry matches any value entry, where a filter Sub == 0 matches any sub
// under that Top (spec.md §4.3).
func twoLevelAnyMatch(filter, value []profile.TwoLevelValue) bool {
	for _, f := range filter {
		for _, v := range value {
			if twoLevelEntryMatches(f, v) {
				return true
			}
		}
	}
	return false
}

// twoLevelAllMatch is AND semantics: every filter entry must be satisfied
// by some value entry.
func twoLevelAllMatch(filter, value []profile.TwoLevelValue) bool {
	for _, f := range filter {
		found := false
		for _, v := range value {
			if twoLevelEntryMatches(f, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func twoLevelEntryMatches(f, v profile.TwoLevelValue) bool {
	if f.Top != v.Top {
		return false
	}
	if f.Sub == 0 {
		return true
	}
	return f.Sub == v.Sub
}
