package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawl/internal/progress"
	"github.com/JakeFAU/politecrawl/internal/store"
)

// StoreSink persists the journal through a store.RunRepository. Page events
// are collapsed per (run, site) within a batch to reduce writes.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type siteKey struct {
	runID string
	site  string
}

type siteAgg struct {
	delta store.SiteDelta
	at    time.Time
}

// Consume implements progress.Sink. Run starts are written before the site
// deltas of the same batch and run completions after them.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	sites := make(map[siteKey]*siteAgg)
	order := make([]siteKey, 0)
	var finished []progress.Event

	for _, evt := range batch {
		switch {
		case evt.Kind == progress.KindRunStart:
			if err := s.repo.StartRun(ctx, evt.RunID, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case evt.Kind == progress.KindPage:
			key := siteKey{runID: evt.RunID, site: evt.Site}
			agg, ok := sites[key]
			if !ok {
				agg = &siteAgg{}
				sites[key] = agg
				order = append(order, key)
			}
			addPage(&agg.delta, evt)
			if evt.TS.After(agg.at) {
				agg.at = evt.TS
			}
		case evt.Kind.Terminal():
			finished = append(finished, evt)
		}
	}

	for _, key := range order {
		agg := sites[key]
		if agg.delta.IsZero() {
			continue
		}
		if err := s.repo.AddSiteStats(ctx, key.runID, key.site, agg.delta, agg.at); err != nil {
			return fmt.Errorf("add site stats: %w", err)
		}
	}

	for _, evt := range finished {
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.FinishRun(ctx, evt.RunID, evt.TS, runStatus(evt.Kind), note); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	return nil
}

func addPage(d *store.SiteDelta, evt progress.Event) {
	d.Pages++
	d.Bytes += evt.Bytes
	switch evt.StatusClass {
	case progress.Status2xx:
		d.Fetch2xx++
	case progress.Status3xx:
		d.Fetch3xx++
	case progress.Status4xx:
		d.Fetch4xx++
	case progress.Status5xx:
		d.Fetch5xx++
	default:
		d.Failed++
	}
}

func runStatus(kind progress.Kind) store.RunStatus {
	switch kind {
	case progress.KindRunDone:
		return store.RunSuccess
	case progress.KindRunInterrupted:
		return store.RunInterrupted
	default:
		return store.RunError
	}
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
