package messaging

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/domain/interaction"
	"github.com/nearloop/backend/infrastructure/accountcache"
	"github.com/nearloop/backend/infrastructure/crypto"
	"github.com/nearloop/backend/infrastructure/errors"
	"github.com/nearloop/backend/internal/messagewire"
	"github.com/nearloop/backend/internal/store"
)

// Publisher delivers account-scoped events; satisfied by the eventbus
// once built (same narrow-interface pattern as applications/content and
// applications/interaction).
type Publisher interface {
	Publish(event interface{})
}

// NewMessageEvent is published whenever a message lands in a receiver's
// pending queue (spec.md §4.7 wakes the receiver's session/push path).
type NewMessageEvent struct {
	ReceiverAccountID string
	MessageUUID       string
}

// TargetAccountIDs satisfies applications/eventbus's routing interface.
func (e NewMessageEvent) TargetAccountIDs() []string { return []string{e.ReceiverAccountID} }

// Engine implements send/fetch/ack over a matched pair (spec.md §4.6).
type Engine struct {
	interactions store.InteractionStore
	cache        *accountcache.Cache
	pub          Publisher
	signingKey   *crypto.KeyPair
}

// New builds a messaging Engine. signingKey is the server's long-term
// envelope-signing key (spec.md §4.6 step 3).
func New(interactions store.InteractionStore, cache *accountcache.Cache, pub Publisher, signingKey *crypto.KeyPair) *Engine {
	return &Engine{interactions: interactions, cache: cache, pub: pub, signingKey: signingKey}
}

// Send builds a signed envelope and persists it as a pending message
// (spec.md §4.6: "only in match state, and only if receiver has not
// blocked sender"). senderPublicKeyID/receiverPublicKeyID are the
// client-chosen identifiers of the end-to-end keys that produced/will
// decrypt ciphertext; the server threads them through unmodified. It
// returns the signed envelope bytes so the sender can verify its own
// round trip.
func (e *Engine) Send(ctx context.Context, senderID, receiverID string, senderPublicKeyID, receiverPublicKeyID string, ciphertext []byte) (interaction.PendingMessage, []byte, error) {
	it, ok, err := e.interactions.GetInteraction(ctx, senderID, receiverID)
	if err != nil {
		return interaction.PendingMessage{}, nil, err
	}
	if ok && it.State.Blocked() {
		return interaction.PendingMessage{}, nil, errors.Forbidden("receiver has blocked sender").WithDetails("reason", "receiver-blocked-sender")
	}
	if !ok || it.State != interaction.StateMatch {
		return interaction.PendingMessage{}, nil, errors.Forbidden("messages may only be sent within a match").WithDetails("reason", "not-matched")
	}

	side, ok := it.SideOf(senderID)
	if !ok {
		return interaction.PendingMessage{}, nil, errors.Forbidden("caller is not a participant in this interaction")
	}

	seq, err := e.interactions.NextSequenceID(ctx, it.ID, side)
	if err != nil {
		return interaction.PendingMessage{}, nil, err
	}

	now := time.Now().Unix()
	msgUUID := uuid.NewString()
	envelope, err := BuildAndSign(e.signingKey, Payload{
		SenderAccountID:     senderID,
		ReceiverAccountID:   receiverID,
		MessageUUID:         msgUUID,
		SenderPublicKeyID:   senderPublicKeyID,
		ReceiverPublicKeyID: receiverPublicKeyID,
		SequenceID:          seq,
		SentAtUnix:          now,
		Ciphertext:          ciphertext,
	})
	if err != nil {
		return interaction.PendingMessage{}, nil, err
	}

	created, err := e.interactions.CreatePendingMessage(ctx, interaction.PendingMessage{
		InteractionID:     it.ID,
		MessageID:         seq,
		MessageUUID:       msgUUID,
		SenderAccountID:    senderID,
		ReceiverAccountID:  receiverID,
		SentAtUnix:         now,
		Envelope:           envelope,
	})
	if err != nil {
		return interaction.PendingMessage{}, nil, err
	}

	e.raiseNewMessage(receiverID, msgUUID)
	return created, envelope, nil
}

// WritePending streams the receiver's pending messages as the framed
// octet protocol (spec.md §4.6: u16 LE header-length, json header, u16
// LE body-length, body), one frame per message, oldest first.
func (e *Engine) WritePending(ctx context.Context, w io.Writer, receiverID string) error {
	pending, err := e.interactions.ListPendingForReceiver(ctx, receiverID)
	if err != nil {
		return err
	}
	for _, m := range pending {
		header := messagewire.Header{
			MessageUUID: m.MessageUUID,
			SenderID:    m.SenderAccountID,
			SequenceID:  m.MessageID,
			SentAtUnix:  m.SentAtUnix,
		}
		if err := messagewire.WriteMessage(w, header, m.Envelope); err != nil {
			return err
		}
	}
	return nil
}

// AckSender records the sender's ack for a message it sent (a distinct
// call from AckReceiver, spec.md §4.6).
func (e *Engine) AckSender(ctx context.Context, messageUUID string) error {
	return e.interactions.AckSender(ctx, messageUUID)
}

// AckReceiver records the receiver's ack; the row is deleted once both
// acks are true (spec.md §4.6).
func (e *Engine) AckReceiver(ctx context.Context, messageUUID string) error {
	return e.interactions.AckReceiver(ctx, messageUUID)
}

// MarkPushSent records that a push notification for messageUUID has been
// dispatched (spec.md §4.6; set by the push sender once delivery is
// attempted).
func (e *Engine) MarkPushSent(ctx context.Context, messageUUID string) error {
	return e.interactions.MarkPushSent(ctx, messageUUID)
}

// ReinitSession clears the receiver_push_sent flag on every message
// pending for accountID (spec.md §4.6: "cleared when the account's
// session is re-initialized"), so the next push pass re-delivers them.
func (e *Engine) ReinitSession(ctx context.Context, accountID string) error {
	return e.interactions.ClearPushSent(ctx, accountID)
}

func (e *Engine) raiseNewMessage(receiverID, msgUUID string) {
	if e.cache != nil {
		e.cache.WriteCache(receiverID, func(entry *accountcache.Entry) {
			entry.Account.Push.PendingFlags |= account.NotificationNewMessage
		})
	}
	if e.pub != nil {
		e.pub.Publish(NewMessageEvent{ReceiverAccountID: receiverID, MessageUUID: msgUUID})
	}
}
