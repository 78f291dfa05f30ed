// Package store defines the typed repository interfaces C2-C9 use to read
// and write through the storage substrate (C1, spec.md §4.1). Concrete
// implementations live in internal/store/sqlite.
package store

import (
	"context"
	"time"

	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/domain/content"
	"github.com/nearloop/backend/domain/interaction"
	"github.com/nearloop/backend/domain/moderation"
	"github.com/nearloop/backend/domain/profile"
	"github.com/nearloop/backend/domain/report"
)

// AccountStore persists Account rows and their access/refresh tokens.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, id string) (account.Account, error)
	ListAccounts(ctx context.Context) ([]account.Account, error)
	// FindAccountByEmail looks up an account by its exact, case-sensitive
	// stored email. ok is false (not an error) when no row matches.
	FindAccountByEmail(ctx context.Context, email string) (account.Account, bool, error)

	// FindSignInIdentity resolves a third-party sign-in provider's
	// subject identifier to the local account it was linked to, if any.
	FindSignInIdentity(ctx context.Context, provider, providerAccountID string) (accountID string, ok bool, err error)
	// LinkSignInIdentity records that providerAccountID (under provider)
	// authenticates as accountID. Calling it again for the same
	// (provider, providerAccountID) pair overwrites the link.
	LinkSignInIdentity(ctx context.Context, provider, providerAccountID, accountID string) error

	IssueAccessToken(ctx context.Context, tok account.AccessToken) error
	ResolveAccessToken(ctx context.Context, token string) (account.AccessToken, error)
	RevokeAccessToken(ctx context.Context, token string) error

	IssueRefreshToken(ctx context.Context, tok account.RefreshToken) error
	ResolveRefreshToken(ctx context.Context, token string) (account.RefreshToken, error)
	// CurrentRefreshToken returns the most recently issued refresh token
	// for accountID, the one the WebSocket handshake challenges the
	// client against (spec.md §4.7). ok is false if the account has never
	// been issued one.
	CurrentRefreshToken(ctx context.Context, accountID string) (account.RefreshToken, bool, error)
}

// ProfileStore persists the 1:1 Profile row for an account.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, p profile.Profile) (profile.Profile, error)
	GetProfile(ctx context.Context, accountID string) (profile.Profile, error)
	ListPublicProfiles(ctx context.Context) ([]profile.Profile, error)
	// ListAllProfiles returns every profile regardless of visibility
	// (spec.md §4.8's roll-over and stats-snapshot jobs operate over the
	// whole population).
	ListAllProfiles(ctx context.Context) ([]profile.Profile, error)
	// UpdateAge bumps a profile's stored Age in isolation, without
	// touching any other field or its version uuid (spec.md §4.8).
	UpdateAge(ctx context.Context, accountID string, age int32) error
}

// HistoryStore persists the append-only statistics rows written to
// history.db (spec.md §4.1, §4.8).
type HistoryStore interface {
	// InsertProfileStatsSnapshot appends one (gender, age) bucket's count
	// for a single snapshot run; the scheduler calls this once per
	// populated bucket (spec.md §4.8's "gender x age counts").
	InsertProfileStatsSnapshot(ctx context.Context, takenAt time.Time, genderGroup profile.Gender, age int32, accountCount int) error
}

// ContentStore persists media-content rows.
type ContentStore interface {
	CreateContent(ctx context.Context, c content.Content) (content.Content, error)
	UpdateContent(ctx context.Context, c content.Content) (content.Content, error)
	GetContent(ctx context.Context, id string) (content.Content, error)
	GetContentBySlot(ctx context.Context, accountID string, slot int) (content.Content, error)
	ListContentByAccount(ctx context.Context, accountID string) ([]content.Content, error)
	ListContentByState(ctx context.Context, state content.State, limit int) ([]content.Content, error)
}

// ModerationStore persists moderation requests/entries and exposes the
// head-of-queue draw the admin/bot moderation flow needs (spec.md §4.5).
type ModerationStore interface {
	CreateRequest(ctx context.Context, req moderation.Request) (moderation.Request, error)

	CreateEntries(ctx context.Context, entries []moderation.Entry) error
	GetEntry(ctx context.Context, id string) (moderation.Entry, error)
	// DrawQueueHead returns up to limit unpicked entries from the given
	// queue (initial vs normal, optionally bot-visible only), oldest
	// first, without yet assigning them (spec.md §4.5: "tops them up by
	// drawing from the head of that queue").
	DrawQueueHead(ctx context.Context, target moderation.TargetKind, initial bool, botVisible bool, limit int) ([]moderation.Entry, error)
	// AssignEntry atomically claims an entry for assignedTo iff it is
	// still unpicked; returns (false, nil) if another moderator already
	// claimed it first (spec.md §9's first-commit-wins open question).
	AssignEntry(ctx context.Context, id, assignedTo string) (bool, error)
	DecideEntry(ctx context.Context, id string, decision moderation.Decision, category, reason string) (moderation.Entry, error)
	// Escalate clears an entry's claim and bot-visibility so it re-enters
	// the head of the human-only queue (spec.md §4.5's move_to_human).
	Escalate(ctx context.Context, id string) error

	// ListAssigned returns the in-progress entries already claimed by
	// assignedTo in the given queue (spec.md §4.5: "a list of size ≤ 5
	// in-progress for themselves").
	ListAssigned(ctx context.Context, target moderation.TargetKind, assignedTo string) ([]moderation.Entry, error)

	// HasAcceptedInitialModeration reports whether the account has ever
	// had an Initial entry decided Accept (spec.md §4.5/§8: "only once
	// per account, before first accepted moderation").
	HasAcceptedInitialModeration(ctx context.Context, accountID string) (bool, error)

	// CountQueueDepth counts unpicked, undecided entries in one queue,
	// without drawing them (spec.md §4.8: the admin-notification
	// debounce re-checks queue depths without claiming any entry).
	CountQueueDepth(ctx context.Context, target moderation.TargetKind, initial bool, botVisible bool) (int, error)
}

// ReportStore persists user-submitted abuse reports (spec.md §4.8's
// "report processing" admin queue).
type ReportStore interface {
	CreateReport(ctx context.Context, r report.Report) (report.Report, error)
	// CountWaitingReports counts reports no admin has processed yet.
	CountWaitingReports(ctx context.Context) (int, error)
	MarkProcessed(ctx context.Context, id string) error
}

// InteractionStore persists the pairwise match state machine and the
// pending messages riding on top of it (spec.md §3, §4.6).
type InteractionStore interface {
	// GetOrCreateInteraction returns the single interaction row for the
	// unordered {a,b} pair, creating an empty-state row on first contact
	// via account_interaction_index (spec.md §9).
	GetOrCreateInteraction(ctx context.Context, a, b string) (interaction.Interaction, error)
	GetInteraction(ctx context.Context, a, b string) (interaction.Interaction, bool, error)

	// ApplyLike runs the empty→like and like→match transitions for a
	// like from liker to likee, atomically under the store's single write
	// connection. Returns the interaction's state after the call.
	ApplyLike(ctx context.Context, liker, likee string) (interaction.Interaction, error)
	// RemoveLike reverts a sender's own like→empty (spec.md §4.6); a
	// no-op (idempotent) if the state isn't a like authored by liker.
	RemoveLike(ctx context.Context, liker, likee string) (interaction.Interaction, error)
	// ApplyBlock sets blocker's block direction; composes with an
	// existing opposite-direction block into block-both (spec.md §4.6).
	ApplyBlock(ctx context.Context, blocker, blockee string) (interaction.Interaction, error)

	// NextSequenceID increments and returns the sender-direction message
	// counter for the interaction (spec.md §4.6 step 2).
	NextSequenceID(ctx context.Context, interactionID int64, senderSide interaction.Side) (int64, error)

	CreatePendingMessage(ctx context.Context, m interaction.PendingMessage) (interaction.PendingMessage, error)
	ListPendingForReceiver(ctx context.Context, receiverAccountID string) ([]interaction.PendingMessage, error)
	// AckSender and AckReceiver mark their respective ack for messageUUID
	// and delete the row once both acks are true (spec.md §4.6: "sender-
	// ack arrives via a distinct call"; interaction.PendingMessage.Done).
	AckSender(ctx context.Context, messageUUID string) error
	AckReceiver(ctx context.Context, messageUUID string) error
	MarkPushSent(ctx context.Context, messageUUID string) error
	// ClearPushSent resets receiver_push_sent for every pending message
	// addressed to accountID (spec.md §4.6: "cleared when the account's
	// session is re-initialized").
	ClearPushSent(ctx context.Context, accountID string) error
}
