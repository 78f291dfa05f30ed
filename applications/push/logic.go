package push

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Outcome is what SendingLogic decided after driving zero or more retries
// to completion for one message.
type Outcome int

const (
	// OutcomeSent means the message is considered delivered (including
	// the APNs BadDeviceToken special case).
	OutcomeSent Outcome = iota
	// OutcomeRemoveToken means the caller must forget this account's
	// device token.
	OutcomeRemoveToken
	// OutcomeDisablePush means the caller must disable push globally for
	// this account (a configuration-level failure, not a per-token one).
	OutcomeDisablePush
)

// forcedWaitOnUnknownError is a var (not a const) so tests can shrink it;
// production code never reassigns it.
var forcedWaitOnUnknownError = 60 * time.Second

// SendingLogic drives one message through FCM's adaptive retry policy
// (spec.md §4.7), reset between messages. It is not safe for concurrent
// use — the caller is a single-writer loop (applications/push.Engine).
type SendingLogic struct {
	limiter            *rate.Limiter
	initialRateLimit   time.Duration
	exponentialBackoff time.Duration
	forcedWait         time.Duration
	haveBackoff        bool
	haveForcedWait     bool
}

// NewSendingLogic builds a SendingLogic with its rate limiter seeded at
// initialRateLimit between the first attempt of successive messages.
func NewSendingLogic(initialRateLimit time.Duration) *SendingLogic {
	if initialRateLimit <= 0 {
		initialRateLimit = time.Millisecond
	}
	return &SendingLogic{
		limiter:          rate.NewLimiter(rate.Every(initialRateLimit), 1),
		initialRateLimit: initialRateLimit,
	}
}

// Send drives content through sender for deviceToken, retrying per
// spec.md §4.7's adaptive policy until the message is sent or a
// configuration-level failure is reached.
func (l *SendingLogic) Send(ctx context.Context, sender Sender, deviceToken string, content Content) (Outcome, error) {
	l.exponentialBackoff = 0
	l.haveBackoff = false
	l.forcedWait = 0
	l.haveForcedWait = false

	for {
		if err := l.wait(ctx); err != nil {
			return OutcomeDisablePush, err
		}

		resp, err := sender.Send(ctx, deviceToken, content)
		if err != nil {
			if err == ErrAccessTokenMissing {
				return OutcomeDisablePush, err
			}
			l.forcedWait = forcedWaitOnUnknownError
			l.haveForcedWait = true
			continue
		}

		switch resp.Action {
		case ActionNone:
			return OutcomeSent, nil
		case ActionRemoveFcmAppToken:
			return OutcomeRemoveToken, nil
		case ActionCheckIosAndWebCredentials, ActionCheckSenderIdEquality:
			return OutcomeDisablePush, nil
		case ActionFixMessageContent:
			if resp.BadDeviceToken {
				return OutcomeSent, nil
			}
			return OutcomeDisablePush, nil
		case ActionReduceRateAndRetry:
			l.initialRateLimit *= 2
			l.limiter.SetLimit(rate.Every(l.initialRateLimit))
			l.applyWaitTime(resp.Wait)
			continue
		case ActionRetry:
			l.applyWaitTime(resp.Wait)
			continue
		case ActionHandleUnknownError:
			l.forcedWait = forcedWaitOnUnknownError
			l.haveForcedWait = true
			continue
		default:
			l.forcedWait = forcedWaitOnUnknownError
			l.haveForcedWait = true
			continue
		}
	}
}

// wait blocks for whichever delay the current retry state calls for: a
// forced (server-hinted or unknown-error) wait, an exponentially growing
// backoff with jitter, or the per-message rate limiter on the very first
// attempt.
func (l *SendingLogic) wait(ctx context.Context) error {
	switch {
	case l.haveForcedWait:
		d := l.forcedWait
		l.haveForcedWait = false
		return sleep(ctx, d)
	case l.haveBackoff:
		jitter := time.Duration(rand.Int63n(int64(time.Second) + 1))
		d := l.exponentialBackoff + jitter
		l.exponentialBackoff = time.Duration(float64(l.exponentialBackoff) * backoff.DefaultMultiplier)
		return sleep(ctx, d)
	default:
		return l.limiter.Wait(ctx)
	}
}

// applyWaitTime folds an FCM wait-time hint into the logic's retry
// state: a Specific hint forces the next wait outright; an Initial hint
// seeds the exponential backoff sequence the first time it's seen.
func (l *SendingLogic) applyWaitTime(w WaitTime) {
	if w.Specific != nil {
		l.forcedWait = *w.Specific
		l.haveForcedWait = true
		return
	}
	if w.Initial != nil && !l.haveBackoff {
		l.exponentialBackoff = *w.Initial
		l.haveBackoff = true
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
