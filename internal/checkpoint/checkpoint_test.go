package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politecrawl/internal/crawler"
	"github.com/JakeFAU/politecrawl/internal/frontier"
	"github.com/JakeFAU/politecrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/politecrawl/internal/storage/memory"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "state", "crawl.json"))
	ctx := context.Background()

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	saved := State{
		RunID:   "run-1",
		SavedAt: time.Unix(1700000000, 0).UTC(),
		Frontier: frontier.Snapshot{
			Pending:    []crawler.FrontierEntry{{URL: "https://a.test/x", Depth: 1, Parent: "https://a.test/", Method: crawler.DiscoveryLink}},
			Visited:    []string{"https://a.test/"},
			Dispatched: 1,
		},
		RateLimit: []ratelimit.OriginRecord{{Origin: "https://a.test", Adaptive: time.Second}},
		Dedup: &memory.Snapshot{
			Conditional: map[string]crawler.ConditionalState{"https://a.test/": {ETag: "e"}},
			Content:     []crawler.ContentRecord{{Hash: "h", CanonicalURL: "https://a.test/", SeenCount: 1}},
		},
		Stats: map[string]int64{"fetched": 1},
	}
	require.NoError(t, store.Save(ctx, saved))

	loaded, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Version, loaded.Version)
	require.Equal(t, saved.RunID, loaded.RunID)
	require.True(t, saved.SavedAt.Equal(loaded.SavedAt))
	require.Equal(t, saved.Frontier, loaded.Frontier)
	require.Equal(t, saved.RateLimit[0].Adaptive, loaded.RateLimit[0].Adaptive)
	require.Equal(t, "e", loaded.Dedup.Conditional["https://a.test/"].ETag)
	require.Equal(t, int64(1), loaded.Stats["fetched"])

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFileStoreRejectsCorruptAndForeignVersions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o600))
	_, _, err := NewFileStore(corrupt).Load(ctx)
	require.ErrorContains(t, err, "decode checkpoint")

	future := filepath.Join(dir, "future.json")
	require.NoError(t, os.WriteFile(future, []byte(`{"version": 99}`), 0o600))
	_, _, err = NewFileStore(future).Load(ctx)
	require.ErrorIs(t, err, ErrVersion)
}
