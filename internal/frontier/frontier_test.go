package frontier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politecrawl/internal/crawler"
	"github.com/JakeFAU/politecrawl/internal/scope"
)

func drain(t *testing.T, f *Frontier) []string {
	t.Helper()
	var got []string
	for {
		entry, ok := f.Next()
		if !ok {
			return got
		}
		got = append(got, entry.URL)
		f.Done(entry)
	}
}

func TestFrontierBreadthFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := New(Config{MaxDepth: 3})

	require.NoError(t, f.Offer(ctx, "https://a.test/", "", 0, crawler.DiscoverySeed))
	require.NoError(t, f.Offer(ctx, "https://a.test/deep", "https://a.test/", 1, crawler.DiscoveryLink))
	require.NoError(t, f.Offer(ctx, "https://b.test/", "", 0, crawler.DiscoverySeed))

	require.Equal(t, []string{"https://a.test/", "https://b.test/", "https://a.test/deep"}, drain(t, f))
	require.True(t, f.Exhausted())
}

func TestFrontierHoldsDeeperBandWhileShallowWorkInFlight(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := New(Config{MaxDepth: -1})

	require.NoError(t, f.Offer(ctx, "https://a.test/", "", 0, crawler.DiscoverySeed))
	require.NoError(t, f.Offer(ctx, "https://a.test/two", "", 2, crawler.DiscoveryLink))

	seed, ok := f.Next()
	require.True(t, ok)
	require.Equal(t, 0, seed.Depth)

	_, ok = f.Next()
	require.False(t, ok, "depth 2 must wait while depth 0 may still add depth 1 entries")
	require.False(t, f.Exhausted())

	require.NoError(t, f.Offer(ctx, "https://a.test/one", seed.URL, 1, crawler.DiscoveryLink))
	f.Done(seed)

	require.Equal(t, []string{"https://a.test/one", "https://a.test/two"}, drain(t, f))
}

func TestFrontierPriorityWithinBand(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := New(Config{MaxDepth: 2}, WithPriority(func(e crawler.FrontierEntry) float64 {
		if strings.Contains(e.URL, "important") {
			return 10
		}
		return 0
	}))

	require.NoError(t, f.Offer(ctx, "https://a.test/", "", 0, crawler.DiscoverySeed))
	require.NoError(t, f.Offer(ctx, "https://a.test/x", "", 1, crawler.DiscoveryLink))
	require.NoError(t, f.Offer(ctx, "https://a.test/y", "", 1, crawler.DiscoveryLink))
	require.NoError(t, f.Offer(ctx, "https://a.test/important", "", 1, crawler.DiscoveryLink))
	require.NoError(t, f.Offer(ctx, "https://a.test/important-but-deeper", "", 2, crawler.DiscoveryLink))

	require.Equal(t, []string{
		"https://a.test/",
		"https://a.test/important",
		"https://a.test/x",
		"https://a.test/y",
		"https://a.test/important-but-deeper",
	}, drain(t, f))
}

func TestFrontierRejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blockPrivate := scope.Func(func(_ context.Context, u *url.URL) error {
		if strings.HasPrefix(u.Path, "/private/") {
			return &crawler.PolicyError{Kind: crawler.PolicyDisallowedByRobots, URL: u.String()}
		}
		return nil
	})
	f := New(Config{MaxDepth: 1}, WithScope(blockPrivate))

	require.NoError(t, f.Offer(ctx, "https://site.test/a", "", 0, crawler.DiscoverySeed))
	require.ErrorIs(t, f.Offer(ctx, "https://SITE.test:443/a#frag", "", 0, crawler.DiscoveryLink), crawler.ErrAlreadySeen)
	require.ErrorIs(t, f.Offer(ctx, "https://site.test/b", "", 2, crawler.DiscoveryLink), crawler.ErrDepthExceeded)
	require.ErrorIs(t, f.Offer(ctx, "javascript:void(0)", "", 0, crawler.DiscoveryLink), crawler.ErrInvalidURL)

	err := f.Offer(ctx, "https://site.test/private/x", "", 1, crawler.DiscoveryLink)
	require.Equal(t, crawler.PolicyDisallowedByRobots, scope.Reason(err))
	require.Equal(t, 1, f.Len())

	entry, ok := f.Next()
	require.True(t, ok)
	f.Done(entry)
	require.ErrorIs(t, f.Offer(ctx, "https://site.test/a", "", 0, crawler.DiscoveryLink), crawler.ErrAlreadySeen)
	require.True(t, f.Visited("https://site.test/a/"))
}

func TestFrontierMarkVisitedWithdrawsQueued(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := New(Config{MaxDepth: 2})

	require.NoError(t, f.Offer(ctx, "https://a.test/1", "", 0, crawler.DiscoverySeed))
	require.NoError(t, f.Offer(ctx, "https://a.test/2", "", 0, crawler.DiscoverySeed))
	require.NoError(t, f.MarkVisited("https://a.test/1/"))

	require.Equal(t, []string{"https://a.test/2"}, drain(t, f))
	require.ErrorIs(t, f.Offer(ctx, "https://a.test/1", "", 0, crawler.DiscoveryLink), crawler.ErrAlreadySeen)
}

func TestFrontierPageBudget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := New(Config{MaxDepth: 1, MaxPages: 2})
	for i := 0; i < 5; i++ {
		require.NoError(t, f.Offer(ctx, fmt.Sprintf("https://a.test/%d", i), "", 0, crawler.DiscoverySeed))
	}
	require.Len(t, drain(t, f), 2)
	require.True(t, f.Exhausted())
	require.Equal(t, 3, f.Len())
}

func TestFrontierNeverDispatchesTwiceConcurrently(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := New(Config{MaxDepth: 0})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				err := f.Offer(ctx, fmt.Sprintf("https://a.test/p%d", i), "", 0, crawler.DiscoverySeed)
				if err != nil && !errors.Is(err, crawler.ErrAlreadySeen) {
					t.Errorf("unexpected offer error: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 50, f.Len())

	var mu sync.Mutex
	counts := map[string]int{}
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				entry, ok := f.Next()
				if !ok {
					return
				}
				mu.Lock()
				counts[entry.URL]++
				mu.Unlock()
				f.Done(entry)
			}
		}()
	}
	wg.Wait()

	require.Len(t, counts, 50)
	for u, n := range counts {
		require.Equal(t, 1, n, u)
	}
}

func TestFrontierSnapshotRestore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := New(Config{MaxDepth: 2})

	require.NoError(t, f.Offer(ctx, "https://a.test/", "", 0, crawler.DiscoverySeed))
	seed, ok := f.Next()
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.Offer(ctx, fmt.Sprintf("https://a.test/%d", i), seed.URL, 1, crawler.DiscoveryLink))
	}
	f.Done(seed)

	inflight, ok := f.Next()
	require.True(t, ok)
	require.Equal(t, "https://a.test/0", inflight.URL)

	snap := f.Snapshot()
	require.Equal(t, []string{"https://a.test/", "https://a.test/0"}, snap.Visited)
	require.Len(t, snap.Pending, 2)
	require.Equal(t, "https://a.test/1", snap.Pending[0].URL)
	require.Equal(t, 2, snap.Dispatched)

	restored := New(Config{MaxDepth: 2})
	restored.Restore(snap)
	require.ErrorIs(t, restored.Offer(ctx, "https://a.test/0", "", 1, crawler.DiscoveryLink), crawler.ErrAlreadySeen)
	require.Equal(t, []string{"https://a.test/1", "https://a.test/2"}, drain(t, restored))
}
