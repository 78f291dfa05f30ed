// Package interaction implements the pairwise match state machine (C6,
// spec.md §4.6): like, unlike, and block transitions over an unordered
// account pair, each atomic under the store's single write connection.
package interaction

import (
	"context"

	"github.com/nearloop/backend/applications/adminnotify"
	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/domain/interaction"
	"github.com/nearloop/backend/domain/report"
	"github.com/nearloop/backend/infrastructure/accountcache"
	"github.com/nearloop/backend/infrastructure/errors"
	"github.com/nearloop/backend/internal/store"
)

// Publisher delivers account-scoped events; satisfied by the eventbus
// once built, kept narrow here so this package does not depend on C7's
// concrete type (same pattern as applications/content.Publisher).
type Publisher interface {
	Publish(event interface{})
}

// Engine implements the like/unlike/block operations.
type Engine struct {
	interactions store.InteractionStore
	reports      store.ReportStore
	cache        *accountcache.Cache
	pub          Publisher
}

// New builds an interaction Engine. reports may be nil, in which case
// ReportUser is unavailable (returns an error), matching the way other
// engines tolerate an absent optional dependency.
func New(interactions store.InteractionStore, reports store.ReportStore, cache *accountcache.Cache, pub Publisher) *Engine {
	return &Engine{interactions: interactions, reports: reports, cache: cache, pub: pub}
}

// MatchEvent is published when a reciprocal like turns a pair into a
// match (spec.md §4.6: "like + like(B→A, reciprocal) → match").
type MatchEvent struct {
	FirstAccountID  string
	SecondAccountID string
}

// TargetAccountIDs satisfies applications/eventbus's routing interface:
// both sides of a match need to learn about it.
func (e MatchEvent) TargetAccountIDs() []string { return []string{e.FirstAccountID, e.SecondAccountID} }

// Like applies liker's like toward likee (spec.md §4.6's empty→like and
// like→match transitions). Idempotent calls return the unchanged state.
func (e *Engine) Like(ctx context.Context, liker, likee string) (interaction.Interaction, error) {
	before, err := e.interactions.GetOrCreateInteraction(ctx, liker, likee)
	if err != nil {
		return interaction.Interaction{}, err
	}

	after, err := e.interactions.ApplyLike(ctx, liker, likee)
	if err != nil {
		return interaction.Interaction{}, err
	}

	if before.State != interaction.StateMatch && after.State == interaction.StateMatch {
		e.raiseNewMatch(after)
	}
	return after, nil
}

// Unlike reverts the caller's own pending like back to empty; a no-op if
// the caller did not author the current like (spec.md §4.6).
func (e *Engine) Unlike(ctx context.Context, liker, likee string) (interaction.Interaction, error) {
	return e.interactions.RemoveLike(ctx, liker, likee)
}

// Block sets blocker's block direction against blockee, composing with an
// existing opposite-direction block into block-both (spec.md §4.6).
func (e *Engine) Block(ctx context.Context, blocker, blockee string) (interaction.Interaction, error) {
	return e.interactions.ApplyBlock(ctx, blocker, blockee)
}

// ReportUser files reporter's complaint against target for an admin to
// process, and nudges the admin-notification debounce (spec.md §4.8's
// "report processing" queue).
func (e *Engine) ReportUser(ctx context.Context, reporter, target, contentID, reason string) (report.Report, error) {
	if e.reports == nil {
		return report.Report{}, errors.Internal("report store not configured", nil)
	}
	r, err := e.reports.CreateReport(ctx, report.Report{
		ReporterAccountID: reporter,
		TargetAccountID:   target,
		ContentID:         contentID,
		Reason:            reason,
	})
	if err != nil {
		return report.Report{}, err
	}
	if e.pub != nil {
		e.pub.Publish(adminnotify.NeedsCheckEvent{Category: adminnotify.CategoryProcessReports})
	}
	return r, nil
}

// raiseNewMatch flags both sides' NotificationReceivedLikesChanged bit
// and publishes a MatchEvent for the event bus to fan out (spec.md §4.7).
func (e *Engine) raiseNewMatch(it interaction.Interaction) {
	if e.cache != nil {
		e.cache.WriteCache(it.FirstAccountID, func(entry *accountcache.Entry) {
			entry.Account.Push.PendingFlags |= account.NotificationReceivedLikesChanged
		})
		e.cache.WriteCache(it.SecondAccountID, func(entry *accountcache.Entry) {
			entry.Account.Push.PendingFlags |= account.NotificationReceivedLikesChanged
		})
	}
	if e.pub != nil {
		e.pub.Publish(MatchEvent{FirstAccountID: it.FirstAccountID, SecondAccountID: it.SecondAccountID})
	}
}
