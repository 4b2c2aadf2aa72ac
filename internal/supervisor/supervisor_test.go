package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/pkg/ticket"
)

func TestHeartbeatTouch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "heartbeats")
	hb := NewHeartbeat(dir, "kit-1")

	require.NoError(t, hb.Touch())

	statuses, err := Scan(dir, time.Now())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "kit-1", statuses[0].AgentID)
	assert.Equal(t, os.Getpid(), statuses[0].PID)
	assert.Less(t, statuses[0].Age, time.Minute)

	// Touch again: same file, refreshed, no temp litter.
	require.NoError(t, hb.Touch())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, hb.Remove())
	require.NoError(t, hb.Remove(), "remove is idempotent")
}

func TestScanMissingDir(t *testing.T) {
	statuses, err := Scan(filepath.Join(t.TempDir(), "nope"), time.Now())
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func setupProbe(t *testing.T) (*ticket.Store, string) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "warren.db")
	_, _, err := ticket.Migrate(ctx, dbPath)
	require.NoError(t, err)
	store, err := ticket.Open(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, filepath.Join(t.TempDir(), "heartbeats")
}

// backdate makes a heartbeat look stale by rewinding its mtime.
func backdate(t *testing.T, path string, age time.Duration) {
	t.Helper()
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestProbe(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh workers are left alone", func(t *testing.T) {
		store, dir := setupProbe(t)
		require.NoError(t, NewHeartbeat(dir, "kit-1").Touch())

		prober := NewProber(store, dir, 15*time.Minute)
		reports, err := prober.Probe(ctx)
		require.NoError(t, err)
		assert.Empty(t, reports)
	})

	t.Run("stale worker is signalled and its tickets commented", func(t *testing.T) {
		store, dir := setupProbe(t)

		id, err := store.Create(ctx, ticket.CreateRequest{Title: "stuck work", CreatedBy: "human"})
		require.NoError(t, err)
		_, err = store.ClaimNext(ctx, "kit-1")
		require.NoError(t, err)

		hb := NewHeartbeat(dir, "kit-1")
		require.NoError(t, hb.Touch())
		backdate(t, hb.Path(), time.Hour)

		var signalled []int
		prober := NewProber(store, dir, 15*time.Minute)
		prober.signal = func(pid int) error {
			signalled = append(signalled, pid)
			return nil
		}

		reports, err := prober.Probe(ctx)
		require.NoError(t, err)
		require.Len(t, reports, 1)
		assert.Equal(t, "kit-1", reports[0].AgentID)
		assert.True(t, reports[0].Signalled)
		assert.Equal(t, []int64{id}, reports[0].TicketIDs)
		assert.Equal(t, []int{os.Getpid()}, signalled)

		comments, err := store.Comments(ctx, id)
		require.NoError(t, err)
		require.Len(t, comments, 1)
		assert.Contains(t, comments[0].Body, "stalled")
	})

	t.Run("stale worker with no tickets is still signalled", func(t *testing.T) {
		store, dir := setupProbe(t)
		hb := NewHeartbeat(dir, "kit-2")
		require.NoError(t, hb.Touch())
		backdate(t, hb.Path(), time.Hour)

		prober := NewProber(store, dir, 15*time.Minute)
		prober.signal = func(int) error { return nil }

		reports, err := prober.Probe(ctx)
		require.NoError(t, err)
		require.Len(t, reports, 1)
		assert.Empty(t, reports[0].TicketIDs)
		assert.True(t, reports[0].Signalled)
	})
}
