package store

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTransition_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, "", "run-1")

	recs := []TransitionRecord{
		{Seq: 2, Region: "S1", Role: "start", Kind: "start_gained_material", Occupied: true},
		{Seq: 1, Region: "E1", Role: "end", Kind: "end_became_empty", Cycle: 1, At: baseTime.Add(time.Second)},
	}
	for _, rec := range recs {
		require.NoError(t, s.WriteTransition(ctx, rec))
	}

	got, err := s.ReadTransitions(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(1), got[0].Seq, "ordered by seq")
	assert.Equal(t, "E1", got[0].Region)
	assert.Equal(t, uint64(1), got[0].Cycle)
	assert.False(t, got[0].Occupied)
	assert.True(t, got[0].At.Equal(baseTime.Add(time.Second)))

	assert.Equal(t, "S1", got[1].Region)
	assert.True(t, got[1].Occupied)
	assert.True(t, got[1].At.Equal(baseTime), "zero At takes the store clock")
	assert.Equal(t, "run-1", got[1].RunID)
}

func TestWriteTransition_DuplicateSeqIgnored(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, "", "run-1")

	require.NoError(t, s.WriteTransition(ctx, TransitionRecord{Seq: 1, Region: "E1", Role: "end", Kind: "end_became_empty"}))
	require.NoError(t, s.WriteTransition(ctx, TransitionRecord{Seq: 1, Region: "E2", Role: "end", Kind: "end_became_empty"}))

	got, err := s.ReadTransitions(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "E1", got[0].Region)
}

func TestReadTransitions_EmptyNotNil(t *testing.T) {
	s := createTestStore(t, "", "run-1")

	got, err := s.ReadTransitions(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestWriteAttempt_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, "", "run-1")

	rec := AttemptRecord{
		Seq:        7,
		End:        "E1",
		Start:      "S2",
		Cycle:      3,
		Outcome:    "failed",
		Reason:     "send_failed",
		OrderID:    "yardcam_0001",
		StatusCode: 500,
		Error:      "dispatch status",
		Duration:   1500 * time.Millisecond,
	}
	require.NoError(t, s.WriteAttempt(ctx, rec))

	got, err := s.ReadAttempts(ctx, AttemptFilter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	want := rec
	want.RunID = "run-1"
	want.At = got[0].At
	assert.Equal(t, want, got[0])
	assert.True(t, got[0].At.Equal(baseTime))
}

func TestReadAttempts_Filters(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	first := createTestStore(t, path, "run-a")
	require.NoError(t, first.WriteAttempt(ctx, AttemptRecord{Seq: 1, End: "E1", Start: "S1", Outcome: "dispatched"}))
	require.NoError(t, first.WriteAttempt(ctx, AttemptRecord{Seq: 2, End: "E2", Start: "S1", Outcome: "aborted", Reason: "end_refilled"}))
	require.NoError(t, first.Close())

	second, err := Open(path, WithRunID("run-b"), WithNow(func() time.Time { return baseTime.Add(time.Hour) }))
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })
	require.NoError(t, second.WriteAttempt(ctx, AttemptRecord{Seq: 1, End: "E1", Start: "S2", Outcome: "dispatched"}))
	require.NoError(t, second.WriteAttempt(ctx, AttemptRecord{Seq: 5, End: "E1", Start: "S1", Outcome: "dispatched"}))

	tests := []struct {
		name   string
		filter AttemptFilter
		want   []string // run_id/seq
	}{
		{"all", AttemptFilter{}, []string{"run-a/1", "run-a/2", "run-b/1", "run-b/5"}},
		{"by run", AttemptFilter{RunID: "run-b"}, []string{"run-b/1", "run-b/5"}},
		{"by end", AttemptFilter{End: "E2"}, []string{"run-a/2"}},
		{"by outcome", AttemptFilter{Outcome: "dispatched", End: "E1"}, []string{"run-a/1", "run-b/1", "run-b/5"}},
		{"limit keeps newest", AttemptFilter{Limit: 2}, []string{"run-b/1", "run-b/5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := second.ReadAttempts(ctx, tt.filter)
			require.NoError(t, err)

			keys := make([]string, len(got))
			for i, rec := range got {
				keys[i] = rec.RunID + "/" + strconv.FormatInt(rec.Seq, 10)
			}
			assert.Equal(t, tt.want, keys)
		})
	}
}

func TestListRuns_Counts(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, "", "run-1")

	require.NoError(t, s.WriteTransition(ctx, TransitionRecord{Seq: 1, Region: "E1", Role: "end", Kind: "end_became_empty"}))
	require.NoError(t, s.WriteAttempt(ctx, AttemptRecord{Seq: 2, End: "E1", Start: "S1", Outcome: "dispatched"}))
	require.NoError(t, s.WriteAttempt(ctx, AttemptRecord{Seq: 3, End: "E1", Start: "S1", Outcome: "aborted"}))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, Run{ID: "run-1", StartedAt: runs[0].StartedAt, Transitions: 1, Attempts: 2, Dispatched: 1}, runs[0])
	assert.True(t, runs[0].StartedAt.Equal(baseTime))
}

func TestLastSeq_SpansRunsAndTables(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	first := createTestStore(t, path, "run-1")
	last, err := first.LastSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, last, "fresh journal")

	require.NoError(t, first.WriteTransition(ctx, TransitionRecord{Seq: 4, Region: "E1", Role: "end", Kind: "end_became_empty"}))
	require.NoError(t, first.WriteAttempt(ctx, AttemptRecord{Seq: 7, End: "E1", Start: "S1", Outcome: "dispatched"}))
	require.NoError(t, first.Close())

	second := createTestStore(t, path, "run-2")
	last, err = second.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), last)
}
