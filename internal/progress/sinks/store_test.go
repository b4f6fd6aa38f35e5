package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politecrawl/internal/progress"
	"github.com/JakeFAU/politecrawl/internal/store"
)

func TestStoreSinkCollapsesSiteDeltas(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	now := time.Now()

	batch := []progress.Event{
		{RunID: "run-1", Kind: progress.KindRunStart, TS: now},
		page("run-1", "example.com", progress.Status2xx, 100, now.Add(time.Second)),
		page("run-1", "example.com", progress.Status4xx, 0, now.Add(2*time.Second)),
		page("run-1", "example.com", progress.StatusNone, 0, now.Add(3*time.Second)),
		page("run-1", "example.org", progress.Status2xx, 50, now.Add(4*time.Second)),
		{RunID: "run-1", Kind: progress.KindRunDone, TS: now.Add(5 * time.Second), Dur: 5 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []string{"start run-1", "site run-1 example.com", "site run-1 example.org", "finish run-1 success"}, repo.calls)
	require.Equal(t, store.SiteDelta{Pages: 3, Bytes: 100, Fetch2xx: 1, Fetch4xx: 1, Failed: 1}, repo.deltas["example.com"])
	require.Equal(t, store.SiteDelta{Pages: 1, Bytes: 50, Fetch2xx: 1}, repo.deltas["example.org"])
	require.Equal(t, now.Add(3*time.Second), repo.at["example.com"])
}

func TestStoreSinkFinishStatuses(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind progress.Kind
		want store.RunStatus
		note string
	}{
		{kind: progress.KindRunDone, want: store.RunSuccess},
		{kind: progress.KindRunInterrupted, want: store.RunInterrupted},
		{kind: progress.KindRunError, want: store.RunError, note: "no seed url accepted"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			repo := &fakeRunRepo{}
			sink := NewStoreSink(repo, nil)
			require.NoError(t, sink.Consume(context.Background(), []progress.Event{
				{RunID: "r", Kind: tt.kind, TS: time.Now(), Note: tt.note},
			}))
			require.Equal(t, tt.want, repo.status)
			if tt.note == "" {
				require.Nil(t, repo.note)
			} else {
				require.Equal(t, tt.note, *repo.note)
			}
		})
	}
}

func TestStoreSinkReturnsRepositoryErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{err: errors.New("connection refused")}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: "r", Kind: progress.KindRunStart, TS: time.Now()},
	})
	require.ErrorContains(t, err, "start run")

	err = sink.Consume(context.Background(), []progress.Event{
		page("r", "example.com", progress.Status2xx, 1, time.Now()),
	})
	require.ErrorContains(t, err, "add site stats")
}

func page(runID, site string, class progress.StatusClass, bytes int64, ts time.Time) progress.Event {
	return progress.Event{
		RunID:       runID,
		Kind:        progress.KindPage,
		TS:          ts,
		Site:        site,
		Outcome:     "success",
		StatusClass: class,
		Bytes:       bytes,
	}
}

type fakeRunRepo struct {
	err    error
	calls  []string
	deltas map[string]store.SiteDelta
	at     map[string]time.Time
	status store.RunStatus
	note   *string
}

func (f *fakeRunRepo) StartRun(_ context.Context, runID string, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, "start "+runID)
	return nil
}

func (f *fakeRunRepo) FinishRun(_ context.Context, runID string, _ time.Time, status store.RunStatus, errMsg *string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, "finish "+runID+" "+string(status))
	f.status = status
	f.note = errMsg
	return nil
}

func (f *fakeRunRepo) AddSiteStats(_ context.Context, runID, site string, delta store.SiteDelta, at time.Time) error {
	if f.err != nil {
		return f.err
	}
	if f.deltas == nil {
		f.deltas = make(map[string]store.SiteDelta)
		f.at = make(map[string]time.Time)
	}
	f.calls = append(f.calls, "site "+runID+" "+site)
	f.deltas[site] = delta
	f.at[site] = at
	return nil
}
