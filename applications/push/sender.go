package push

import (
	"context"
	"errors"
	"time"
)

// Action is FCM's recommended handling for a send response (spec.md
// §4.7), named after the provider's own recommendation taxonomy.
type Action int

const (
	// ActionNone means the send succeeded outright.
	ActionNone Action = iota
	// ActionRetry asks the caller to wait and resend the same message.
	ActionRetry
	// ActionReduceRateAndRetry asks the caller to double its initial
	// per-message rate-limit delay and resend.
	ActionReduceRateAndRetry
	// ActionRemoveFcmAppToken means the device token is permanently
	// invalid; the caller must forget it.
	ActionRemoveFcmAppToken
	// ActionCheckIosAndWebCredentials and ActionCheckSenderIdEquality are
	// configuration-level failures; push support must be disabled.
	ActionCheckIosAndWebCredentials
	ActionCheckSenderIdEquality
	// ActionFixMessageContent covers the iOS-only APNs BadDeviceToken
	// case: the current send is treated as having gone through, but the
	// *next* send against this token will fail as unregistered.
	ActionFixMessageContent
	// ActionHandleUnknownError is any response FCM returns that doesn't
	// map to a known recommendation.
	ActionHandleUnknownError
)

// WaitTime carries FCM's server-hinted retry delay, if any.
type WaitTime struct {
	// Initial seeds the exponential backoff sequence the first time it
	// fires; later retries grow it by backoff.DefaultMultiplier (1.5x).
	Initial *time.Duration
	// Specific overrides the backoff sequence with one forced delay
	// (a Retry-After style hint), not to be doubled.
	Specific *time.Duration
}

// Response is what a Sender reports back for one send attempt.
type Response struct {
	Action Action
	Wait   WaitTime
	// BadDeviceToken distinguishes ActionFixMessageContent's APNs
	// BadDeviceToken special case, which is treated as delivered.
	BadDeviceToken bool
}

// ErrAccessTokenMissing is returned by a Sender when FCM's own service
// account access token could not be obtained even after the request
// otherwise completed — spec.md §4.7's "access-token-missing even after
// server completion" disables-push condition.
var ErrAccessTokenMissing = errors.New("push: fcm access token missing after server completion")

// Sender delivers one push message to one device token. Concrete
// implementations wrap the provider SDK; tests use a scripted fake.
type Sender interface {
	Send(ctx context.Context, deviceToken string, content Content) (Response, error)
}
