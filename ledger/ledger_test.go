package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/papercrawl/article"
)

// Test helper: open a ledger in a temp directory
func setupTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

var start = time.Date(2025, 5, 20, 8, 0, 0, 0, time.UTC)

// TestOpen_UnsupportedDriver verifies driver validation.
func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

// TestOpen_ExistingDatabase verifies reopening keeps data.
func TestOpen_ExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l1, err := Open(DriverSQLite, path)
	require.NoError(t, err)
	run, err := l1.StartRun(ctx, start)
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	l2, err := Open(DriverSQLite, path)
	require.NoError(t, err)
	defer l2.Close()

	got, err := l2.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}

// TestLedger_RunLifecycle verifies start, record and finish.
func TestLedger_RunLifecycle(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()

	run, err := l.StartRun(ctx, start)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, run.RunID)

	require.NoError(t, l.RecordItem(ctx, Attempt{
		RunID:      run.RunID,
		Date:       "20250520",
		Page:       "001",
		Ref:        "20250520_001_02_2642.html",
		State:      "succeeded",
		Strategy:   "http",
		Attempts:   1,
		RecordedAt: start.Add(time.Minute),
	}))

	finished := start.Add(time.Hour)
	counts := Counts{Total: 3, Skipped: 1, Succeeded: 1, Exhausted: 1}
	require.NoError(t, l.FinishRun(ctx, run.RunID, finished, StatusCompleted, counts))

	got, err := l.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, counts, got.Counts)
	assert.True(t, start.Equal(got.StartedAt))
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))
}

// TestLedger_GetRunNotFound verifies the sentinel error.
func TestLedger_GetRunNotFound(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()

	_, err := l.GetRun(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = l.FinishRun(ctx, uuid.New(), start, StatusStopped, Counts{})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

// TestLedger_ListRuns verifies newest-first ordering and the limit.
func TestLedger_ListRuns(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := range 3 {
		run, err := l.StartRun(ctx, start.Add(time.Duration(i)*time.Second+time.Duration(i)*time.Millisecond))
		require.NoError(t, err)
		ids = append(ids, run.RunID)
	}

	runs, err := l.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].RunID)
	assert.Equal(t, ids[0], runs[2].RunID)

	runs, err = l.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

// TestLedger_ItemHistory verifies attempts are returned per article in the
// order they were recorded.
func TestLedger_ItemHistory(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	key := article.Key{Date: "20250520", Ref: "20250520_001_02_2642.html"}

	run, err := l.StartRun(ctx, start)
	require.NoError(t, err)

	for i, state := range []string{"exhausted", "succeeded"} {
		require.NoError(t, l.RecordItem(ctx, Attempt{
			RunID:      run.RunID,
			Date:       key.Date,
			Page:       "001",
			Ref:        key.Ref,
			State:      state,
			Attempts:   i + 1,
			RecordedAt: start.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, l.RecordItem(ctx, Attempt{
		RunID: run.RunID, Date: key.Date, Page: "002", Ref: "other.html", State: "skipped", RecordedAt: start,
	}))

	history, err := l.ItemHistory(ctx, key)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "exhausted", history[0].State)
	assert.Empty(t, history[0].Strategy)
	assert.Equal(t, "succeeded", history[1].State)
	assert.Equal(t, 2, history[1].Attempts)
	assert.Equal(t, run.RunID, history[1].RunID)
}
