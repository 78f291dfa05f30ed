package push

import (
	"context"
	"time"

	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/infrastructure/accountcache"
	"github.com/nearloop/backend/infrastructure/logging"
)

// defaultInitialRateLimit is SendingLogic's starting per-message delay
// before any ReduceMessageRateAndRetry doubling (spec.md §4.7).
const defaultInitialRateLimit = time.Millisecond

// Engine is the single-writer push dispatch loop (spec.md §5: "External
// push client is concurrency-limited by the adaptive policy (effective
// depth 1)"). Pending accounts are enqueued by Publish; Run drains them
// one at a time.
type Engine struct {
	cache  *accountcache.Cache
	sender Sender
	log    *logging.Logger
	queue  chan string
	logic  *SendingLogic
}

// New builds a push Engine. queueDepth bounds how many distinct accounts
// can be pending dispatch at once; once it is full, Publish drops further
// enqueues instead of blocking its caller.
func New(cache *accountcache.Cache, sender Sender, log *logging.Logger, queueDepth int) *Engine {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Engine{
		cache:  cache,
		sender: sender,
		log:    log,
		queue:  make(chan string, queueDepth),
		logic:  NewSendingLogic(defaultInitialRateLimit),
	}
}

// Publish enqueues accountID for a dispatch pass. Safe to call from any
// goroutine (spec.md §4.7: raised "while no socket is connected").
// Duplicate enqueues for the same account before it's drained just
// collapse into one pass, since Run always re-reads the live cache entry.
func (e *Engine) Publish(event interface{}) {
	accountID, ok := event.(string)
	if !ok {
		return
	}
	select {
	case e.queue <- accountID:
	default:
		// Queue full: a dispatch pass is already pending for plenty of
		// accounts, and the next Load of this account's flags will pick
		// this notification up regardless.
	}
}

// Run drains the queue until ctx is cancelled (spec.md §5: push-send loop
// subscribes to the broadcast shutdown and finishes in-flight units).
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case accountID := <-e.queue:
			e.dispatch(ctx, accountID)
		}
	}
}

// dispatch sends every pending notification for accountID and clears the
// flags it successfully delivered (spec.md §4.7).
func (e *Engine) dispatch(ctx context.Context, accountID string) {
	var deviceToken string
	var pending account.NotificationFlag
	var disabled bool
	e.cache.ReadCache(accountID, func(entry accountcache.Entry) {
		deviceToken = entry.Account.Push.DeviceToken
		pending = entry.Account.Push.PendingFlags
		disabled = entry.Account.Push.PushDisabled
	})

	if disabled || deviceToken == "" || pending == 0 {
		return
	}

	contents := BuildContents(pending)
	for _, content := range contents {
		outcome, err := e.logic.Send(ctx, e.sender, deviceToken, content)
		if err != nil && e.log != nil {
			e.log.Warn(ctx, "push send failed", map[string]interface{}{"account_id": accountID, "error": err.Error()})
		}
		switch outcome {
		case OutcomeRemoveToken:
			e.cache.WriteCache(accountID, func(entry *accountcache.Entry) {
				entry.Account.Push.DeviceToken = ""
				entry.Account.Push.PendingNotificationToken = ""
			})
			return
		case OutcomeDisablePush:
			e.cache.WriteCache(accountID, func(entry *accountcache.Entry) {
				entry.Account.Push.PushDisabled = true
			})
			return
		}
	}

	e.cache.WriteCache(accountID, func(entry *accountcache.Entry) {
		entry.Account.Push.PendingFlags = 0
	})
}
