// Package content implements the content pipeline (C5, spec.md §4.5):
// slot uploads, the image-process worker hand-off, and the moderation
// queues (initial/normal, bot/human) with their admin pick-up/decide flow.
package content

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nearloop/backend/applications/adminnotify"
	"github.com/nearloop/backend/domain/content"
	"github.com/nearloop/backend/domain/moderation"
	"github.com/nearloop/backend/infrastructure/accountcache"
	"github.com/nearloop/backend/infrastructure/errors"
	"github.com/nearloop/backend/infrastructure/logging"
	"github.com/nearloop/backend/internal/imageworker"
	"github.com/nearloop/backend/internal/store"
)

// MaxAdminBatch is the most in-progress entries an admin may hold at once
// per queue (spec.md §4.5: "a list of size ≤ 5").
const MaxAdminBatch = 5

// MaxUploadBytes bounds a single slot upload (spec.md §4.5: "bounded;
// reject on overflow").
const MaxUploadBytes = 16 << 20

// Publisher delivers account-scoped events; satisfied by the eventbus
// once built, kept as a narrow interface here so this package does not
// depend on C7's concrete type.
type Publisher interface {
	Publish(event interface{})
}

// Engine implements the content pipeline's operations.
type Engine struct {
	contents store.ContentStore
	mods     store.ModerationStore
	accounts store.AccountStore
	cache    *accountcache.Cache
	worker   *imageworker.Client
	pub      Publisher
	log      *logging.Logger
	dataDir  string
	botRules *BotRuleEngine
}

// New builds a content Engine. It panics only if DefaultBotRuleConfig's
// built-in script fails to compile, which would indicate a programming
// error in this package rather than a runtime condition.
func New(contents store.ContentStore, mods store.ModerationStore, accounts store.AccountStore, cache *accountcache.Cache, worker *imageworker.Client, pub Publisher, log *logging.Logger, dataDir string) *Engine {
	botRules, err := NewBotRuleEngine(DefaultBotRuleConfig())
	if err != nil {
		panic(fmt.Errorf("content: default bot rule config: %w", err))
	}
	return &Engine{
		contents: contents,
		mods:     mods,
		accounts: accounts,
		cache:    cache,
		worker:   worker,
		pub:      pub,
		log:      log,
		dataDir:  dataDir,
		botRules: botRules,
	}
}

// WithBotRules overrides the bot moderator's advisory rule config,
// e.g. to point NSFWThreshold/Prompt at operator-supplied values.
func (e *Engine) WithBotRules(cfg BotRuleConfig) error {
	eng, err := NewBotRuleEngine(cfg)
	if err != nil {
		return err
	}
	e.botRules = eng
	return nil
}

// UploadSlot accepts a bounded byte stream for one of the account's seven
// numbered slots, writes it to a raw tmp file, and enqueues a processing
// job with the image-process worker (spec.md §4.5).
func (e *Engine) UploadSlot(ctx context.Context, accountID string, slot int, r io.Reader) (content.Content, error) {
	if slot < 0 || slot >= content.SlotCount {
		return content.Content{}, errors.InvalidInput("slot", "must be in [0,6]")
	}

	existing, err := e.contents.GetContentBySlot(ctx, accountID, slot)
	c := content.Content{AccountID: accountID, Slot: slot}
	if err == nil {
		c = existing
	}
	c.State = content.StateInSlot
	c.Processing = content.ProcessingInQueue
	c.FaceDetected = false
	c.NSFWDetected = false
	c.RejectCategory = ""
	c.RejectReason = ""

	if c.ID == "" {
		created, err := e.contents.CreateContent(ctx, c)
		if err != nil {
			return content.Content{}, fmt.Errorf("content: create: %w", err)
		}
		c = created
	} else {
		updated, err := e.contents.UpdateContent(ctx, c)
		if err != nil {
			return content.Content{}, fmt.Errorf("content: update: %w", err)
		}
		c = updated
	}

	tmpPath, contentPath, err := e.writeTmpFile(accountID, c.ID, r)
	if err != nil {
		c.Processing = content.ProcessingFailed
		e.updateContentOrLog(ctx, c, "mark slot failed after write error")
		return content.Content{}, err
	}

	e.publishSlotState(accountID, c)

	go e.process(accountID, c, tmpPath, contentPath)

	return c, nil
}

// SlotState returns the current processing/moderation state of one of an
// account's numbered slots (spec.md §6: `GET /media/content_slot/{slot}`).
// An empty, never-uploaded slot is reported as ProcessingEmpty rather
// than an error.
func (e *Engine) SlotState(ctx context.Context, accountID string, slot int) (content.Content, error) {
	if slot < 0 || slot >= content.SlotCount {
		return content.Content{}, errors.InvalidInput("slot", "must be in [0,6]")
	}
	c, err := e.contents.GetContentBySlot(ctx, accountID, slot)
	if err != nil {
		if err == sql.ErrNoRows {
			return content.Content{AccountID: accountID, Slot: slot, Processing: content.ProcessingEmpty}, nil
		}
		return content.Content{}, fmt.Errorf("content: get by slot: %w", err)
	}
	return c, nil
}

// writeTmpFile copies r into <dataDir>/<accountID>/tmp/<contentID>.raw,
// bounded at MaxUploadBytes+1 to detect overflow without buffering the
// whole stream in memory (spec.md §4.5, §6 persisted layout).
func (e *Engine) writeTmpFile(accountID, contentID string, r io.Reader) (tmpPath, contentPath string, err error) {
	tmpDir := filepath.Join(e.dataDir, accountID, "tmp")
	contentDir := filepath.Join(e.dataDir, accountID, "content")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", "", fmt.Errorf("content: mkdir tmp: %w", err)
	}
	if err := os.MkdirAll(contentDir, 0o755); err != nil {
		return "", "", fmt.Errorf("content: mkdir content: %w", err)
	}

	tmpPath = filepath.Join(tmpDir, contentID+".raw")
	contentPath = filepath.Join(contentDir, contentID)

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", "", fmt.Errorf("content: create tmp file: %w", err)
	}
	defer f.Close()

	n, err := io.CopyN(f, r, MaxUploadBytes+1)
	if err != nil && err != io.EOF {
		return "", "", fmt.Errorf("content: write tmp file: %w", err)
	}
	if n > MaxUploadBytes {
		return "", "", errors.InvalidInput("content", "upload exceeds size limit")
	}
	return tmpPath, contentPath, nil
}

// process hands the uploaded file to the image-process worker and
// applies its reply, replacing the slot file on success (spec.md §4.5).
func (e *Engine) process(accountID string, c content.Content, tmpPath, contentPath string) {
	ctx := context.Background()
	c.Processing = content.ProcessingInProgress
	if _, err := e.contents.UpdateContent(ctx, c); err != nil {
		return
	}
	e.publishSlotState(accountID, c)

	reply, err := e.worker.Process(ctx, imageworker.Request{
		Input:  tmpPath,
		Output: contentPath,
	})
	if err != nil {
		c.Processing = content.ProcessingFailed
		e.updateContentOrLog(ctx, c, "mark slot failed after worker error")
		e.publishSlotState(accountID, c)
		if e.log != nil {
			e.log.Error(ctx, "image-process worker failed", err, map[string]interface{}{"content_id": c.ID})
		}
		return
	}

	c.Processing = content.ProcessingCompleted
	c.FaceDetected = reply.FaceDetected
	c.NSFWDetected = reply.NSFWDetected
	if _, err := e.contents.UpdateContent(ctx, c); err != nil {
		return
	}
	e.publishSlotState(accountID, c)
}

// updateContentOrLog persists a best-effort state update (e.g. marking a
// slot ProcessingFailed after some other failure already occurred) and
// logs rather than swallows a second error here, since the caller is
// already unwinding from the first one and has nothing useful to do with
// a returned error beyond what it is already reporting.
func (e *Engine) updateContentOrLog(ctx context.Context, c content.Content, action string) {
	if _, err := e.contents.UpdateContent(ctx, c); err != nil && e.log != nil {
		e.log.Error(ctx, action, err, map[string]interface{}{"content_id": c.ID})
	}
}

func (e *Engine) publishSlotState(accountID string, c content.Content) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(contentSlotStateEvent{AccountID: accountID, Content: c})
}

type contentSlotStateEvent struct {
	AccountID string
	Content   content.Content
}

// TargetAccountIDs satisfies applications/eventbus's routing interface.
func (e contentSlotStateEvent) TargetAccountIDs() []string { return []string{e.AccountID} }

// SubmitModeration validates the caller owns each of up to seven
// in-slot content ids (slot 0 is secure-capture) and inserts a queue
// entry per content id, into initial-media-moderation the first time an
// account submits before its first accepted moderation, otherwise
// media-moderation (spec.md §4.5).
func (e *Engine) SubmitModeration(ctx context.Context, accountID string, contentIDs []string) (moderation.Request, error) {
	if len(contentIDs) == 0 || len(contentIDs) > content.SlotCount {
		return moderation.Request{}, errors.InvalidInput("content_ids", "must submit between 1 and 7 content ids")
	}

	for _, id := range contentIDs {
		c, err := e.contents.GetContent(ctx, id)
		if err != nil {
			return moderation.Request{}, errors.NotFound("content", id)
		}
		if c.AccountID != accountID {
			return moderation.Request{}, errors.Forbidden("content does not belong to caller")
		}
		if c.State != content.StateInSlot {
			return moderation.Request{}, errors.Conflict("content is not in-slot")
		}
	}

	initial, err := e.mods.HasAcceptedInitialModeration(ctx, accountID)
	if err != nil {
		return moderation.Request{}, err
	}
	isInitial := !initial

	req, err := e.mods.CreateRequest(ctx, moderation.Request{AccountID: accountID, ContentIDs: contentIDs})
	if err != nil {
		return moderation.Request{}, err
	}

	entries := make([]moderation.Entry, 0, len(contentIDs))
	for _, id := range contentIDs {
		entries = append(entries, moderation.Entry{
			RequestID:  req.ID,
			AccountID:  accountID,
			Target:     moderation.TargetContent,
			TargetRef:  id,
			Initial:    isInitial,
			BotVisible: true,
		})
	}
	if err := e.mods.CreateEntries(ctx, entries); err != nil {
		return moderation.Request{}, err
	}
	if e.pub != nil {
		e.pub.Publish(adminnotify.NeedsCheckEvent{Category: adminnotify.CategoryModerateContentBot | adminnotify.CategoryModerateContentHuman})
	}
	return req, nil
}

// TopUp returns the admin's (or bot's, same auth boundary) in-progress
// entries for queueTarget, drawing new ones from the head of the queue
// until it holds MaxAdminBatch or the queue is empty (spec.md §4.5).
// botOnly restricts the draw to the bot-visible subset.
func (e *Engine) TopUp(ctx context.Context, moderatorID string, initial bool, botOnly bool) ([]moderation.Entry, error) {
	assigned, err := e.mods.ListAssigned(ctx, moderation.TargetContent, moderatorID)
	if err != nil {
		return nil, err
	}
	need := MaxAdminBatch - len(assigned)
	for need > 0 {
		candidates, err := e.mods.DrawQueueHead(ctx, moderation.TargetContent, initial, botOnly, need)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			break
		}
		claimedAny := false
		for _, cand := range candidates {
			ok, err := e.mods.AssignEntry(ctx, cand.ID, moderatorID)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue // another moderator won the race; spec.md §9
			}
			claimedAny = true
			if err := e.transitionContent(ctx, cand.TargetRef, content.StateInModeration); err != nil {
				return nil, err
			}
			cand.AssignedTo = moderatorID
			assigned = append(assigned, cand)
			need--
			if need == 0 {
				break
			}
		}
		if !claimedAny {
			break
		}
	}
	return assigned, nil
}

func (e *Engine) transitionContent(ctx context.Context, contentID string, state content.State) error {
	if contentID == "" {
		return nil
	}
	c, err := e.contents.GetContent(ctx, contentID)
	if err != nil {
		return err
	}
	c.State = state
	_, err = e.contents.UpdateContent(ctx, c)
	return err
}

// Decide applies an admin or bot's accept/reject decision to an entry
// (spec.md §4.5). On accept, if this is the account's first accepted
// initial moderation, it promotes the account out of pending visibility.
func (e *Engine) Decide(ctx context.Context, entryID string, decision moderation.Decision, category, reason string) (moderation.Entry, error) {
	entry, err := e.mods.GetEntry(ctx, entryID)
	if err != nil {
		return moderation.Entry{}, err
	}

	wasFirstAccepted := false
	if decision == moderation.DecisionAccept && entry.Initial {
		alreadyAccepted, err := e.mods.HasAcceptedInitialModeration(ctx, entry.AccountID)
		if err != nil {
			return moderation.Entry{}, err
		}
		wasFirstAccepted = !alreadyAccepted
	}

	decided, err := e.mods.DecideEntry(ctx, entryID, decision, category, reason)
	if err != nil {
		return moderation.Entry{}, err
	}

	var state content.State
	switch decision {
	case moderation.DecisionAccept:
		state = content.StateModeratedAccepted
	case moderation.DecisionReject:
		state = content.StateModeratedRejected
	default:
		return decided, nil
	}
	c, err := e.contents.GetContent(ctx, entry.TargetRef)
	if err == nil {
		c.State = state
		c.RejectCategory = category
		c.RejectReason = reason
		if _, err := e.contents.UpdateContent(ctx, c); err != nil {
			// The moderation entry itself already recorded the decision
			// (DecideEntry above committed); the content row's State is
			// left stale here, so the caller must know the transition
			// didn't fully apply rather than see a bare success.
			return decided, fmt.Errorf("content: apply decision to content row: %w", err)
		}
	}

	if wasFirstAccepted {
		if err := e.promoteAccountVisibility(ctx, entry.AccountID); err != nil {
			return decided, err
		}
	}

	return decided, nil
}

// promoteAccountVisibility flips pending->non-pending visibility and
// updates the cache so subsequent reads observe the change immediately
// (spec.md §4.5: "emits InitialModerationRequestIsNowAccepted").
func (e *Engine) promoteAccountVisibility(ctx context.Context, accountID string) error {
	acct, err := e.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	acct.Visibility = acct.Visibility.Promote()
	updated, err := e.accounts.UpdateAccount(ctx, acct)
	if err != nil {
		return err
	}
	if e.cache != nil {
		e.cache.WriteCache(accountID, func(entry *accountcache.Entry) {
			entry.Account.Visibility = updated.Visibility
		})
	}
	if e.pub != nil {
		e.pub.Publish(initialModerationAcceptedEvent{AccountID: accountID})
	}
	return nil
}

type initialModerationAcceptedEvent struct {
	AccountID string
}

// TargetAccountIDs satisfies applications/eventbus's routing interface.
func (e initialModerationAcceptedEvent) TargetAccountIDs() []string { return []string{e.AccountID} }

// MoveToHuman escalates a bot-visible entry out of the bot's hands and
// back to the head of the human-only queue (spec.md §4.5).
func (e *Engine) MoveToHuman(ctx context.Context, entryID string) error {
	return e.mods.Escalate(ctx, entryID)
}

// RunBotPass draws up to MaxAdminBatch bot-visible entries for botID and
// applies the advisory rule engine to each (spec.md §4.5: "a bot
// moderator ... applies rules ... purely advisory"). A content entry is
// judged against the image-process worker's recorded face/nsfw flags; a
// profile name/text entry has no classifier signal available yet in this
// pipeline, so it is always escalated to a human rather than guessed at.
// It returns the decided entries in the order they were drawn; escalated
// entries are not included.
func (e *Engine) RunBotPass(ctx context.Context, botID string, initial bool) ([]moderation.Entry, error) {
	drawn, err := e.TopUp(ctx, botID, initial, true)
	if err != nil {
		return nil, err
	}

	results := make([]moderation.Entry, 0, len(drawn))
	for _, entry := range drawn {
		verdict, err := e.evaluateBotRule(ctx, entry)
		if err != nil {
			return results, err
		}

		if verdict.Escalate {
			if err := e.MoveToHuman(ctx, entry.ID); err != nil {
				return results, err
			}
			continue
		}

		decided, err := e.Decide(ctx, entry.ID, verdict.Decision, verdict.Category, verdict.Reason)
		if err != nil {
			return results, err
		}
		results = append(results, decided)
	}
	return results, nil
}

// evaluateBotRule builds the classifier JSON the rule script judges
// entry against and runs it through the bot rule engine.
func (e *Engine) evaluateBotRule(ctx context.Context, entry moderation.Entry) (BotVerdict, error) {
	if entry.Target != moderation.TargetContent {
		// No classifier signal exists yet for profile name/text targets;
		// a human reviews these until one is wired in.
		return BotVerdict{Escalate: true}, nil
	}

	c, err := e.contents.GetContent(ctx, entry.TargetRef)
	if err != nil {
		return BotVerdict{}, fmt.Errorf("content: load content for bot rule: %w", err)
	}
	classifierJSON := classifierJSONForContent(c.NSFWDetected, c.FaceDetected)
	return e.botRules.Evaluate(moderation.TargetContent, classifierJSON)
}
