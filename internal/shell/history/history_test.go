package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(id string) Record {
	return Record{
		ID:            id,
		Host:          "sb-RL-172",
		RunTag:        "20260107",
		ImageRef:      "marladona_image:train-server-sb-rl-172-20260107",
		ContainerName: "marladona-train-20260107",
		Mode:          "upload-fresh",
		StartedAt:     time.Date(2026, 1, 7, 9, 30, 0, 0, time.UTC),
	}
}

// =============================================================================
// Store Tests
// =============================================================================

func TestOpen_RunsMigrations(t *testing.T) {
	store := openTestStore(t)

	records, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOpen_CreatesMissingDirectory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "data", "trainship.db")

	store, err := Open(dsn)
	require.NoError(t, err)
	defer store.Close()

	assert.DirExists(t, filepath.Dir(dsn))
	records, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBeginAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Begin(ctx, testRecord("run-1")))

	records, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "run-1", rec.ID)
	assert.Equal(t, "sb-RL-172", rec.Host)
	assert.Equal(t, "20260107", rec.RunTag)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, time.Date(2026, 1, 7, 9, 30, 0, 0, time.UTC), rec.StartedAt)
	assert.Nil(t, rec.FinishedAt)
}

func TestFinish_Succeeded(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Begin(ctx, testRecord("run-1")))
	finished := time.Date(2026, 1, 7, 9, 45, 0, 0, time.UTC)
	require.NoError(t, store.Finish(ctx, "run-1", "reuse-existing", StatusSucceeded, "", finished))

	records, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StatusSucceeded, records[0].Status)
	assert.Equal(t, "reuse-existing", records[0].Mode)
	assert.Empty(t, records[0].Error)
	require.NotNil(t, records[0].FinishedAt)
	assert.Equal(t, finished, *records[0].FinishedAt)
}

func TestFinish_FailedKeepsError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Begin(ctx, testRecord("run-1")))
	require.NoError(t, store.Finish(ctx, "run-1", "upload-fresh", StatusFailed, "remote install: no space left", time.Now()))

	records, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StatusFailed, records[0].Status)
	assert.Equal(t, "remote install: no space left", records[0].Error)
}

func TestFinish_UnknownID(t *testing.T) {
	store := openTestStore(t)

	err := store.Finish(context.Background(), "nope", "upload-fresh", StatusSucceeded, "", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_NewestFirstAndLimited(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"run-1", "run-2", "run-3"} {
		rec := testRecord(id)
		rec.StartedAt = rec.StartedAt.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.Begin(ctx, rec))
	}

	records, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "run-3", records[0].ID)
	assert.Equal(t, "run-2", records[1].ID)
}
