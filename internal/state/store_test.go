package state

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verdictd/internal/model"
)

func newTestStore(t *testing.T, logCap int) *Store {
	t.Helper()
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "state.db"), logCap)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func record(id string, at time.Time) model.VerdictRecord {
	tx := "0xabc"
	return model.VerdictRecord{
		ClaimID:       id,
		AgentLabel:    "agent",
		ClaimText:     "ETH will exceed $3,500",
		ClaimType:     model.ClaimTypePrice,
		ClaimedValue:  decimal.NewNullDecimal(decimal.NewFromInt(3500)),
		Verdict:       model.VerdictFalse,
		Confidence:    99,
		SourceName:    "coingecko",
		ObservedValue: decimal.NewNullDecimal(decimal.RequireFromString("1857.68")),
		ProofTxID:     &tx,
		VerdictHash:   "0xdead",
		CreatedAt:     at,
	}
}

func TestPrependVerdictNewestFirst(t *testing.T) {
	st := newTestStore(t, 10)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, st.PrependVerdict(ctx, record(fmt.Sprintf("c%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	got, err := st.Verdicts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c2", got[0].ClaimID)
	assert.Equal(t, "c0", got[2].ClaimID)

	assert.True(t, got[0].ObservedValue.Decimal.Equal(decimal.RequireFromString("1857.68")))
	require.NotNil(t, got[0].ProofTxID)
	assert.Equal(t, "0xabc", *got[0].ProofTxID)
	assert.Nil(t, got[0].NotificationID)
}

func TestVerdictLogIsCapped(t *testing.T) {
	st := newTestStore(t, 5)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		require.NoError(t, st.PrependVerdict(ctx, record(fmt.Sprintf("c%d", i), base)))
	}
	got, err := st.Verdicts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, "c7", got[0].ClaimID)
	assert.Equal(t, "c3", got[4].ClaimID)

	limited, err := st.Verdicts(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestReplaceVerdictsKeepsOrder(t *testing.T) {
	st := newTestStore(t, 3)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, st.PrependVerdict(ctx, record("old", base)))
	seed := []model.VerdictRecord{record("n3", base), record("n2", base), record("n1", base), record("n0", base)}
	require.NoError(t, st.ReplaceVerdicts(ctx, seed))

	got, err := st.Verdicts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"n3", "n2", "n1"}, []string{got[0].ClaimID, got[1].ClaimID, got[2].ClaimID})
}

func TestProcessedIDs(t *testing.T) {
	st := newTestStore(t, 0)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, st.MarkProcessed(ctx, "a", base))
	require.NoError(t, st.MarkProcessed(ctx, "b", base.Add(time.Second)))
	require.NoError(t, st.MarkProcessed(ctx, "a", base.Add(2*time.Second)))

	ids, err := st.ProcessedIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestNotificationsSincePrunes(t *testing.T) {
	st := newTestStore(t, 0)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.RecordNotification(ctx, now.Add(-2*time.Hour)))
	require.NoError(t, st.RecordNotification(ctx, now.Add(-10*time.Minute)))
	require.NoError(t, st.RecordNotification(ctx, now.Add(-time.Minute)))

	ts, err := st.NotificationsSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.True(t, ts[0].Before(ts[1]))
	assert.True(t, ts[0].Equal(now.Add(-10*time.Minute)))
}

func TestNotificationsSinceKeepsBoundary(t *testing.T) {
	st := newTestStore(t, 0)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.RecordNotification(ctx, now.Add(-time.Hour)))

	ts, err := st.NotificationsSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, ts, 1)
}

func TestInMemoryStore(t *testing.T) {
	st, err := Open(context.Background(), ":memory:", 0)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	assert.Equal(t, DefaultLogCap, st.LogCap())
	require.NoError(t, st.PrependVerdict(context.Background(), record("m", time.Now())))
	got, err := st.Verdicts(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestClosedStore(t *testing.T) {
	st, err := Open(context.Background(), ":memory:", 0)
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	_, err = st.Verdicts(context.Background(), 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, st.MarkProcessed(context.Background(), "x", time.Now()), ErrClosed)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "", 0)
	assert.Error(t, err)
}
