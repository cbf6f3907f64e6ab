package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"camera-dashboard/snapshot"

	"github.com/stretchr/testify/require"
)

func setupCatalog(t *testing.T) *Catalog {
	t.Helper()

	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func TestAddRecent(t *testing.T) {
	c := setupCatalog(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)
	shots := []*snapshot.Shot{
		{Host: "1.2.3.4", Path: "screenshots/1_2_3_4_a.jpg", Size: 10, TakenAt: base},
		{Host: "5.6.7.8", Path: "screenshots/5_6_7_8_a.jpg", Size: 20, TakenAt: base.Add(time.Minute)},
		{Host: "1.2.3.4", Path: "screenshots/1_2_3_4_b.jpg", Size: 30, TakenAt: base.Add(2 * time.Minute)},
	}
	for _, shot := range shots {
		id, err := c.Add(ctx, shot)
		require.NoError(t, err)
		require.Positive(t, id)
	}

	entries, err := c.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "screenshots/1_2_3_4_b.jpg", entries[0].Path)
	require.Equal(t, "screenshots/1_2_3_4_a.jpg", entries[2].Path)
	require.True(t, base.Equal(entries[2].TakenAt))

	entries, err = c.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entries, err = c.ForHost(ctx, "1.2.3.4", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, "1.2.3.4", e.Host)
	}
	require.Equal(t, int64(30), entries[0].Size)
}

func TestEmpty(t *testing.T) {
	c := setupCatalog(t)

	entries, err := c.ForHost(context.Background(), "9.9.9.9", 10)
	require.NoError(t, err)
	require.NotNil(t, entries)
	require.Empty(t, entries)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	c, err := Open(path)
	require.NoError(t, err)
	_, err = c.Add(context.Background(), &snapshot.Shot{Host: "h", Path: "p", TakenAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()

	entries, err := c.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
