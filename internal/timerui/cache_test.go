package timerui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheLoadEmpty(t *testing.T) {
	cache, err := OpenCache("")
	require.NoError(t, err)
	defer cache.Close()

	_, ok, err := cache.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCachePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	saved := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)

	cache, err := OpenCache(dir)
	require.NoError(t, err)
	require.NoError(t, cache.Save(Snapshot{Assignments: apollo("t1"), SavedAt: saved}))
	require.NoError(t, cache.Close())

	reopened, err := OpenCache(dir)
	require.NoError(t, err)
	defer reopened.Close()

	snap, ok, err := reopened.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, snap.Active)
	require.True(t, saved.Equal(snap.SavedAt))
	require.Equal(t, "t1", snap.Assignments[0].Tasks[0].ID)
}
