package interaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nearloop/backend/applications/adminnotify"
	"github.com/nearloop/backend/domain/interaction"
	"github.com/nearloop/backend/infrastructure/sqlitedb"
	"github.com/nearloop/backend/internal/store/sqlite"
)

type recordingPublisher struct {
	events []interface{}
}

func (p *recordingPublisher) Publish(event interface{}) {
	p.events = append(p.events, event)
}

func newTestEngine(t *testing.T) (*Engine, *recordingPublisher, context.Context) {
	t.Helper()
	db, err := sqlitedb.Open(sqlitedb.Options{InMemory: true}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	s := sqlite.New(db.Current, db.Write)
	pub := &recordingPublisher{}
	return New(s, s, nil, pub), pub, context.Background()
}

func TestLikeThenSameSideLikeAgainIsIdempotent(t *testing.T) {
	eng, _, ctx := newTestEngine(t)
	it, err := eng.Like(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, interaction.StateLike, it.State)
	require.Equal(t, "a", it.SenderAccountID)

	again, err := eng.Like(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, interaction.StateLike, again.State)
	require.Equal(t, "a", again.SenderAccountID)
}

func TestReciprocalLikeBecomesMatchAndPublishesEvent(t *testing.T) {
	eng, pub, ctx := newTestEngine(t)
	_, err := eng.Like(ctx, "a", "b")
	require.NoError(t, err)

	it, err := eng.Like(ctx, "b", "a")
	require.NoError(t, err)
	require.Equal(t, interaction.StateMatch, it.State)
	require.Len(t, pub.events, 1)
	require.IsType(t, MatchEvent{}, pub.events[0])
}

func TestLikeAfterMatchIsIdempotent(t *testing.T) {
	eng, pub, ctx := newTestEngine(t)
	_, err := eng.Like(ctx, "a", "b")
	require.NoError(t, err)
	_, err = eng.Like(ctx, "b", "a")
	require.NoError(t, err)
	require.Len(t, pub.events, 1)

	it, err := eng.Like(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, interaction.StateMatch, it.State)
	require.Len(t, pub.events, 1, "re-liking an already-matched pair must not raise a second match event")
}

func TestUnlikeRevertsOwnPendingLikeToEmpty(t *testing.T) {
	eng, _, ctx := newTestEngine(t)
	_, err := eng.Like(ctx, "a", "b")
	require.NoError(t, err)

	it, err := eng.Unlike(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, interaction.StateEmpty, it.State)
	require.Empty(t, it.SenderAccountID)
}

func TestUnlikeByNonSenderIsNoOp(t *testing.T) {
	eng, _, ctx := newTestEngine(t)
	_, err := eng.Like(ctx, "a", "b")
	require.NoError(t, err)

	it, err := eng.Unlike(ctx, "b", "a")
	require.NoError(t, err)
	require.Equal(t, interaction.StateLike, it.State)
	require.Equal(t, "a", it.SenderAccountID)
}

func TestBlockSetsDirectionThenOppositeBlockBecomesBoth(t *testing.T) {
	eng, _, ctx := newTestEngine(t)
	it, err := eng.Block(ctx, "a", "b")
	require.NoError(t, err)
	require.True(t, it.State.Blocked())
	require.NotEqual(t, interaction.StateBlockBoth, it.State)

	it2, err := eng.Block(ctx, "b", "a")
	require.NoError(t, err)
	require.Equal(t, interaction.StateBlockBoth, it2.State)

	it3, err := eng.Block(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, interaction.StateBlockBoth, it3.State)
}

func TestLikeThroughAnExistingBlockIsNoOp(t *testing.T) {
	eng, _, ctx := newTestEngine(t)
	_, err := eng.Block(ctx, "a", "b")
	require.NoError(t, err)

	it, err := eng.Like(ctx, "b", "a")
	require.NoError(t, err)
	require.True(t, it.State.Blocked())
}

func TestConcurrentReciprocalLikesProduceExactlyOneMatch(t *testing.T) {
	eng, pub, ctx := newTestEngine(t)
	done := make(chan struct{}, 2)
	go func() {
		_, _ = eng.Like(ctx, "a", "b")
		done <- struct{}{}
	}()
	go func() {
		_, _ = eng.Like(ctx, "b", "a")
		done <- struct{}{}
	}()
	<-done
	<-done

	it, err := eng.interactions.GetOrCreateInteraction(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, interaction.StateMatch, it.State)
	require.Len(t, pub.events, 1)
}

func TestReportUserCreatesWaitingReportAndNudgesAdminNotify(t *testing.T) {
	eng, pub, ctx := newTestEngine(t)
	r, err := eng.ReportUser(ctx, "a", "b", "", "harassment")
	require.NoError(t, err)
	require.Equal(t, "a", r.ReporterAccountID)
	require.Equal(t, "b", r.TargetAccountID)
	require.True(t, r.Waiting())

	n, err := eng.reports.CountWaitingReports(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Len(t, pub.events, 1)
	evt, ok := pub.events[0].(adminnotify.NeedsCheckEvent)
	require.True(t, ok)
	require.Equal(t, adminnotify.CategoryProcessReports, evt.Category)
}

func TestReportUserWithoutReportStoreFails(t *testing.T) {
	db, err := sqlitedb.Open(sqlitedb.Options{InMemory: true}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	s := sqlite.New(db.Current, db.Write)

	eng := New(s, nil, nil, nil)
	_, err = eng.ReportUser(context.Background(), "a", "b", "", "spam")
	require.Error(t, err)
}
