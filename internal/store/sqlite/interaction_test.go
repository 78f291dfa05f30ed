package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nearloop/backend/domain/interaction"
)

func TestGetOrCreateInteractionIsIdempotentAndOrdersThePair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it, err := s.GetOrCreateInteraction(ctx, "zed", "amy")
	require.NoError(t, err)
	require.Equal(t, "amy", it.FirstAccountID)
	require.Equal(t, "zed", it.SecondAccountID)
	require.Equal(t, interaction.StateEmpty, it.State)

	again, err := s.GetOrCreateInteraction(ctx, "amy", "zed")
	require.NoError(t, err)
	require.Equal(t, it.ID, again.ID)
}

func TestGetInteractionReportsMissingRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetInteraction(ctx, "a", "b")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestApplyLikeEmptyToLikeToMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it, err := s.ApplyLike(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, interaction.StateLike, it.State)
	require.Equal(t, "a", it.SenderAccountID)
	require.Equal(t, "b", it.ReceiverAccountID)

	it, err = s.ApplyLike(ctx, "b", "a")
	require.NoError(t, err)
	require.Equal(t, interaction.StateMatch, it.State)
}

func TestApplyLikeFromExistingSenderIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.ApplyLike(ctx, "a", "b")
	require.NoError(t, err)

	again, err := s.ApplyLike(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, first.State, again.State)
	require.Equal(t, first.SenderAccountID, again.SenderAccountID)
}

func TestApplyLikeAfterMatchIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ApplyLike(ctx, "a", "b")
	require.NoError(t, err)
	matched, err := s.ApplyLike(ctx, "b", "a")
	require.NoError(t, err)

	again, err := s.ApplyLike(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, interaction.StateMatch, again.State)
	require.Equal(t, matched.UpdatedAt, again.UpdatedAt, "idempotent branch must not rewrite the row")
}

func TestRemoveLikeRevertsOwnLikeOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ApplyLike(ctx, "a", "b")
	require.NoError(t, err)

	unchanged, err := s.RemoveLike(ctx, "b", "a")
	require.NoError(t, err)
	require.Equal(t, interaction.StateLike, unchanged.State, "b never liked a; nothing to remove")

	reverted, err := s.RemoveLike(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, interaction.StateEmpty, reverted.State)
	require.Empty(t, reverted.SenderAccountID)
	require.Empty(t, reverted.ReceiverAccountID)
}

func TestRemoveLikeAfterMatchIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ApplyLike(ctx, "a", "b")
	require.NoError(t, err)
	_, err = s.ApplyLike(ctx, "b", "a")
	require.NoError(t, err)

	it, err := s.RemoveLike(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, interaction.StateMatch, it.State)
}

func TestApplyBlockComposesIntoBlockBoth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it, err := s.ApplyBlock(ctx, "a", "b")
	require.NoError(t, err)
	require.True(t, it.State.Blocked())
	require.NotEqual(t, interaction.StateBlockBoth, it.State)
	require.Equal(t, "a", it.SenderAccountID)

	it2, err := s.ApplyBlock(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, it.State, it2.State, "re-blocking the same direction is idempotent")

	both, err := s.ApplyBlock(ctx, "b", "a")
	require.NoError(t, err)
	require.Equal(t, interaction.StateBlockBoth, both.State)

	still, err := s.ApplyBlock(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, interaction.StateBlockBoth, still.State)
}

func TestApplyBlockOverridesAnExistingLike(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ApplyLike(ctx, "a", "b")
	require.NoError(t, err)

	it, err := s.ApplyBlock(ctx, "b", "a")
	require.NoError(t, err)
	require.True(t, it.State.Blocked())
	require.Equal(t, "b", it.SenderAccountID)
}

func TestNextSequenceIDIsGaplessPerDirection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it, err := s.GetOrCreateInteraction(ctx, "a", "b")
	require.NoError(t, err)

	side, ok := it.SideOf("a")
	require.True(t, ok)

	seq1, err := s.NextSequenceID(ctx, it.ID, side)
	require.NoError(t, err)
	seq2, err := s.NextSequenceID(ctx, it.ID, side)
	require.NoError(t, err)
	require.Equal(t, int64(1), seq1)
	require.Equal(t, int64(2), seq2)

	otherSide, ok := it.SideOf("b")
	require.True(t, ok)
	seq3, err := s.NextSequenceID(ctx, it.ID, otherSide)
	require.NoError(t, err)
	require.Equal(t, int64(1), seq3, "the other direction's counter is independent")
}

func TestCreateAndListPendingMessagesOrderedBySequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it, err := s.GetOrCreateInteraction(ctx, "a", "b")
	require.NoError(t, err)

	m2, err := s.CreatePendingMessage(ctx, interaction.PendingMessage{
		InteractionID: it.ID, MessageID: 2, MessageUUID: "uuid-2",
		SenderAccountID: "a", ReceiverAccountID: "b", SentAtUnix: 200, Envelope: []byte("e2"),
	})
	require.NoError(t, err)
	m1, err := s.CreatePendingMessage(ctx, interaction.PendingMessage{
		InteractionID: it.ID, MessageID: 1, MessageUUID: "uuid-1",
		SenderAccountID: "a", ReceiverAccountID: "b", SentAtUnix: 100, Envelope: []byte("e1"),
	})
	require.NoError(t, err)
	require.NotZero(t, m1.ID)
	require.NotZero(t, m2.ID)

	pending, err := s.ListPendingForReceiver(ctx, "b")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "uuid-1", pending[0].MessageUUID)
	require.Equal(t, "uuid-2", pending[1].MessageUUID)
}

func TestAckSenderAndAckReceiverDeleteRowOnlyWhenBothTrue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it, err := s.GetOrCreateInteraction(ctx, "a", "b")
	require.NoError(t, err)
	created, err := s.CreatePendingMessage(ctx, interaction.PendingMessage{
		InteractionID: it.ID, MessageID: 1, MessageUUID: "uuid-1",
		SenderAccountID: "a", ReceiverAccountID: "b", SentAtUnix: 100, Envelope: []byte("e1"),
	})
	require.NoError(t, err)

	require.NoError(t, s.AckSender(ctx, created.MessageUUID))
	pending, err := s.ListPendingForReceiver(ctx, "b")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.True(t, pending[0].SenderAck)
	require.False(t, pending[0].ReceiverAck)

	require.NoError(t, s.AckReceiver(ctx, created.MessageUUID))
	pending, err = s.ListPendingForReceiver(ctx, "b")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestAckOnUnknownMessageUUIDIsANoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AckSender(ctx, "does-not-exist"))
	require.NoError(t, s.AckReceiver(ctx, "does-not-exist"))
}

func TestMarkPushSentThenClearPushSentScopedToAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	itAB, err := s.GetOrCreateInteraction(ctx, "a", "b")
	require.NoError(t, err)
	itAC, err := s.GetOrCreateInteraction(ctx, "a", "c")
	require.NoError(t, err)

	m1, err := s.CreatePendingMessage(ctx, interaction.PendingMessage{
		InteractionID: itAB.ID, MessageID: 1, MessageUUID: "uuid-ab",
		SenderAccountID: "a", ReceiverAccountID: "b", SentAtUnix: 100, Envelope: []byte("e"),
	})
	require.NoError(t, err)
	_, err = s.CreatePendingMessage(ctx, interaction.PendingMessage{
		InteractionID: itAC.ID, MessageID: 1, MessageUUID: "uuid-ac",
		SenderAccountID: "a", ReceiverAccountID: "c", SentAtUnix: 100, Envelope: []byte("e"),
	})
	require.NoError(t, err)

	require.NoError(t, s.MarkPushSent(ctx, m1.MessageUUID))
	pendingB, err := s.ListPendingForReceiver(ctx, "b")
	require.NoError(t, err)
	require.True(t, pendingB[0].ReceiverPushSent)

	require.NoError(t, s.ClearPushSent(ctx, "c"))
	pendingB, err = s.ListPendingForReceiver(ctx, "b")
	require.NoError(t, err)
	require.True(t, pendingB[0].ReceiverPushSent, "clearing c's pushes must not touch b's")

	require.NoError(t, s.ClearPushSent(ctx, "b"))
	pendingB, err = s.ListPendingForReceiver(ctx, "b")
	require.NoError(t, err)
	require.False(t, pendingB[0].ReceiverPushSent)
}
