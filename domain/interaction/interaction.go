// Package interaction defines the pairwise match state machine and the
// pending-message entity that rides on top of it (spec.md §3, §4.6).
package interaction

import "time"

// State is the current relationship between an unordered account pair
// (spec.md §3).
type State string

const (
	StateEmpty      State = "empty"
	StateLike       State = "like"
	StateMatch      State = "match"
	StateBlockFirst  State = "block-a-of-b"
	StateBlockSecond State = "block-b-of-a"
	StateBlockBoth   State = "block-both"
)

// Blocked reports whether the state is any block variant.
func (s State) Blocked() bool {
	return s == StateBlockFirst || s == StateBlockSecond || s == StateBlockBoth
}

// Side identifies one of the two ordered slots of an interaction's index
// row (account_interaction_index(first, second), spec.md §9).
type Side int

const (
	SideFirst Side = iota
	SideSecond
)

// Interaction is the single mutable record for an unordered {A,B} pair
// (spec.md §3). FirstAccountID < SecondAccountID lexically; the ordering
// is an index key only, it carries no meaning for the state machine.
type Interaction struct {
	ID                    int64
	FirstAccountID        string
	SecondAccountID       string
	State                 State
	SenderAccountID       string
	ReceiverAccountID     string
	MessageCounterSender   int64
	MessageCounterReceiver int64
	LastViewedBySender     int64
	LastViewedByReceiver   int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SideOf returns which ordered slot the given account occupies.
func (i Interaction) SideOf(accountID string) (Side, bool) {
	switch accountID {
	case i.FirstAccountID:
		return SideFirst, true
	case i.SecondAccountID:
		return SideSecond, true
	default:
		return 0, false
	}
}

// Other returns the counterpart account id for a participant.
func (i Interaction) Other(accountID string) string {
	if accountID == i.FirstAccountID {
		return i.SecondAccountID
	}
	return i.FirstAccountID
}

// PendingMessage is attached to an Interaction (spec.md §3, §4.6).
type PendingMessage struct {
	ID                int64
	InteractionID     int64
	MessageID         int64 // sequential per-sender within the interaction
	MessageUUID       string
	SenderAccountID   string
	ReceiverAccountID string
	SentAtUnix        int64
	Envelope          []byte // signed envelope, see applications/messaging
	SenderAck         bool
	ReceiverAck       bool
	ReceiverPushSent  bool
	ReceiverEmailSent bool
}

// Done reports whether both acks are true, the deletion precondition
// (spec.md §3, §8 invariant 5).
func (m PendingMessage) Done() bool {
	return m.SenderAck && m.ReceiverAck
}
