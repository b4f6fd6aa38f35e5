package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politecrawl/internal/crawler"
)

func openTemp(t *testing.T) (*DedupStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "dedup.db")
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	return store, path
}

func TestDedupStoreConditionalRoundTrip(t *testing.T) {
	t.Parallel()

	store, _ := openTemp(t)
	defer func() { require.NoError(t, store.Close()) }()
	ctx := context.Background()

	_, ok, err := store.GetConditional(ctx, "https://a.test/")
	require.NoError(t, err)
	require.False(t, ok)

	updated := time.Unix(1700000000, 0).UTC()
	require.NoError(t, store.PutConditional(ctx, "https://a.test/", crawler.ConditionalState{
		ETag: `"v1"`, LastStatus: 200, UpdatedAt: updated,
	}))
	require.NoError(t, store.PutConditional(ctx, "https://a.test/", crawler.ConditionalState{
		ETag: `"v2"`, LastModified: "Tue, 01 Oct 2024 00:00:00 GMT", LastStatus: 200, UpdatedAt: updated,
	}))

	got, ok, err := store.GetConditional(ctx, "https://a.test/")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `"v2"`, got.ETag)
	require.Equal(t, "Tue, 01 Oct 2024 00:00:00 GMT", got.LastModified)
	require.Equal(t, 200, got.LastStatus)
	require.True(t, updated.Equal(got.UpdatedAt))
}

func TestDedupStoreClaimContent(t *testing.T) {
	t.Parallel()

	store, _ := openTemp(t)
	defer func() { require.NoError(t, store.Close()) }()
	ctx := context.Background()
	at := time.Unix(1700000000, 0)

	first, err := store.ClaimContent(ctx, "h", "https://a.test/", at)
	require.NoError(t, err)
	require.Equal(t, "https://a.test/", first.CanonicalURL)
	require.Equal(t, 1, first.SeenCount)

	same, err := store.ClaimContent(ctx, "h", "https://a.test/", at.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, same.SeenCount)

	dup, err := store.ClaimContent(ctx, "h", "https://b.test/", at.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, "https://a.test/", dup.CanonicalURL)
	require.Equal(t, 2, dup.SeenCount)
	require.True(t, at.Equal(dup.FirstSeen))

	rec, ok, err := store.GetContent(ctx, "h")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dup, rec)
}

func TestDedupStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	store, path := openTemp(t)
	ctx := context.Background()
	require.NoError(t, store.PutConditional(ctx, "https://a.test/", crawler.ConditionalState{ETag: "e"}))
	_, err := store.ClaimContent(ctx, "h", "https://a.test/", time.Unix(0, 0))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer func() { require.NoError(t, reopened.Close()) }()

	state, ok, err := reopened.GetConditional(ctx, "https://a.test/")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "e", state.ETag)
	_, ok, err = reopened.GetContent(ctx, "h")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "")
	require.Error(t, err)
}
