// Package content defines the media-content entity and its upload-slot /
// moderation state machine (spec.md §3, §4.5).
package content

import "time"

// State is the lifecycle of one media-content item.
type State string

const (
	StateInSlot             State = "in-slot"
	StateInModeration       State = "in-moderation"
	StateModeratedAccepted  State = "moderated-accepted"
	StateModeratedRejected  State = "moderated-rejected"
)

// Terminal reports whether the state forbids re-moderation (spec.md §4.5).
func (s State) Terminal() bool {
	return s == StateModeratedAccepted || s == StateModeratedRejected
}

// SecureCaptureSlot is the reserved slot for a stricter-capture-flow image
// (spec.md glossary).
const SecureCaptureSlot = 0

// SlotCount is the number of numbered upload slots per account
// (spec.md §3: "seven numbered upload slots").
const SlotCount = 7

// MaxLiveProfileImages is the most images a profile may reference from its
// live accepted set (spec.md §3).
const MaxLiveProfileImages = 6

// ProcessingState is the image-process worker's progress as surfaced to
// the client via content-slot-state (spec.md §4.5).
type ProcessingState string

const (
	ProcessingEmpty      ProcessingState = "empty"
	ProcessingInQueue    ProcessingState = "in-queue"
	ProcessingInProgress ProcessingState = "processing"
	ProcessingCompleted  ProcessingState = "completed"
	ProcessingFailed     ProcessingState = "failed"
)

// Content is exclusively owned by one account (spec.md §3).
type Content struct {
	ID             string
	AccountID      string
	Slot           int
	State          State
	Processing     ProcessingState
	FaceDetected   bool
	NSFWDetected   bool
	RejectCategory string
	RejectReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// QueueKind selects which moderation queue a content item belongs to
// (spec.md §4.5: initial vs normal, bot-visible vs human-only).
type QueueKind string

const (
	QueueInitialMediaModeration QueueKind = "initial-media-moderation"
	QueueMediaModeration        QueueKind = "media-moderation"
)
