// Package profile defines the Profile entity, its attribute-value kinds,
// and the moderation state shared by profile name/text (spec.md §3).
package profile

import "time"

// ModerationState tracks the independent moderation lifecycle of profile
// name or profile text (spec.md §3, §4.5 state machine).
type ModerationState string

const (
	ModerationNone         ModerationState = "none"
	ModerationWaitingBot   ModerationState = "waiting-bot"
	ModerationWaitingHuman ModerationState = "waiting-human"
	ModerationAccepted     ModerationState = "accepted"
	ModerationRejected     ModerationState = "rejected"
)

// SearchGroup is a bitfield over the 9 gender x preference pairings
// (spec.md §3): "my gender and what gender I'm searching for". Bits 0-2
// are "man searching for woman/man/non-binary", 3-5 "woman searching for
// ...", 6-8 "non-binary searching for ...".
type SearchGroup uint16

const (
	SearchGroupManForWoman SearchGroup = 1 << iota
	SearchGroupManForMan
	SearchGroupManForNonBinary
	SearchGroupWomanForMan
	SearchGroupWomanForWoman
	SearchGroupWomanForNonBinary
	SearchGroupNonBinaryForMan
	SearchGroupNonBinaryForWoman
	SearchGroupNonBinaryForNonBinary
)

// Gender is the profile owner's own gender, implied by whichever of the
// three "searching for" triples has any bit set.
type Gender int

const (
	GenderUnknown Gender = iota
	GenderMan
	GenderWoman
	GenderNonBinary
)

// OwnGender derives the profile owner's gender from the set bits of a
// SearchGroup; ok is false if no bit is set.
func (g SearchGroup) OwnGender() (Gender, bool) {
	switch {
	case g&(SearchGroupManForWoman|SearchGroupManForMan|SearchGroupManForNonBinary) != 0:
		return GenderMan, true
	case g&(SearchGroupWomanForMan|SearchGroupWomanForWoman|SearchGroupWomanForNonBinary) != 0:
		return GenderWoman, true
	case g&(SearchGroupNonBinaryForMan|SearchGroupNonBinaryForWoman|SearchGroupNonBinaryForNonBinary) != 0:
		return GenderNonBinary, true
	default:
		return GenderUnknown, false
	}
}

// Cell is the profile owner's current geographic grid coordinate
// (spec.md §4.3).
type Cell struct {
	Row int32
	Col int32
}

// AgeRange is an inclusive [Min,Max] search filter, both in [18,99].
type AgeRange struct {
	Min int32
	Max int32
}

// Valid reports whether the range respects spec.md §3's bounds.
func (r AgeRange) Valid() bool {
	return r.Min >= 18 && r.Max <= 99 && r.Min <= r.Max
}

// AttributeKind distinguishes the three structured-attribute shapes used
// by both profile attribute values and filters (spec.md §4.3).
type AttributeKind int

const (
	AttributeBitflag AttributeKind = iota
	AttributeOneLevel
	AttributeTwoLevel
)

// TwoLevelValue is a (top,sub) pair; a filter entry with Sub == 0 matches
// any sub-value under that top (spec.md §4.3).
type TwoLevelValue struct {
	Top uint16
	Sub uint16
}

// AttributeValue holds one structured attribute in whichever shape its
// kind implies; exactly one of the three fields is meaningful for a given
// Kind.
type AttributeValue struct {
	Kind      AttributeKind
	Bitflag   uint32
	OneLevel  []uint16
	TwoLevel  []TwoLevelValue
}

// FilterMode selects OR vs AND combination semantics for a filter entry
// (spec.md §4.3).
type FilterMode int

const (
	FilterModeOR FilterMode = iota
	FilterModeAND
)

// AttributeFilter mirrors AttributeValue's shape plus a combination mode.
type AttributeFilter struct {
	Kind    AttributeKind
	Mode    FilterMode
	Negate  bool
	Bitflag uint32
	OneLevel []uint16
	TwoLevel []TwoLevelValue
}

// Profile is exclusively owned by one account (1:1, spec.md §3).
type Profile struct {
	AccountID        string
	DisplayName      string
	Text             string
	Age              int32
	// Birthdate is the accepted-at-registration date of birth backing the
	// scheduler's daily age roll-over (spec.md §4.8); zero if never
	// collected, in which case the account is excluded from roll-over.
	Birthdate        time.Time
	SearchGroups     SearchGroup
	SearchAgeRange   AgeRange
	Cell             Cell
	VersionUUID      string
	Attributes       []AttributeValue
	Filters          []AttributeFilter
	NameModeration   ModerationState
	NameReason       string
	TextModeration   ModerationState
	TextReason       string
	UnlimitedLikes   bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Ready reports whether both name and text have cleared moderation, the
// precondition for the profile to count toward a "first accepted initial
// moderation" transition alongside media content (spec.md §3).
func (p Profile) Ready() bool {
	return p.NameModeration == ModerationAccepted && p.TextModeration == ModerationAccepted
}

// AgeAt returns the age in whole years as of asOf, given Birthdate. The
// second return is false if Birthdate is zero (never collected).
func (p Profile) AgeAt(asOf time.Time) (int32, bool) {
	if p.Birthdate.IsZero() {
		return 0, false
	}
	years := asOf.Year() - p.Birthdate.Year()
	if asOf.Month() < p.Birthdate.Month() ||
		(asOf.Month() == p.Birthdate.Month() && asOf.Day() < p.Birthdate.Day()) {
		years--
	}
	return int32(years), true
}
