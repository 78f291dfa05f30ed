// Package moderation defines the moderation request/entry entities that
// drive the content and profile-text pipelines (spec.md §3, §4.5).
package moderation

import "time"

// TargetKind distinguishes what a moderation entry judges.
type TargetKind string

const (
	TargetContent     TargetKind = "content"
	TargetProfileName TargetKind = "profile-name"
	TargetProfileText TargetKind = "profile-text"
)

// Decision is the outcome an admin or bot applies to an entry.
type Decision string

const (
	DecisionPending Decision = "pending"
	DecisionAccept  Decision = "accept"
	DecisionReject  Decision = "reject"
)

// Request groups up to seven content references submitted together
// (spec.md §3: "one pending request per account, holding up to seven
// content references").
type Request struct {
	ID        string
	AccountID string
	ContentIDs []string
	CreatedAt time.Time
}

// Entry is one queued unit of moderation work, drawn from the head of its
// queue when an admin (or bot) picks it up (spec.md §4.5).
type Entry struct {
	ID           string
	RequestID    string
	AccountID    string
	Target       TargetKind
	TargetRef    string // content id, or empty for profile name/text
	Initial      bool   // true iff this is the account's first-ever moderation pass
	BotVisible   bool
	AssignedTo   string // admin or bot account id once picked up
	Decision     Decision
	Category     string
	Reason       string
	CreatedAt    time.Time
	DecidedAt    time.Time
}

// Picked reports whether an admin/bot has already claimed this entry
// (the "first-commit wins" rule from spec.md §9's open question).
func (e Entry) Picked() bool {
	return e.AssignedTo != ""
}
