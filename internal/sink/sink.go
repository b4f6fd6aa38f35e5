// Package sink delivers terminal artifacts to persistence targets.
package sink

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawl/internal/crawler"
	"github.com/JakeFAU/politecrawl/internal/metrics"
)

// BlobStore persists opaque objects. The local, GCS and memory stores implement it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Encode renders an artifact as indented JSON.
func Encode(artifact *crawler.Artifact) ([]byte, error) {
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	return data, nil
}

// ObjectKey names the object for an artifact: <run>/<sha256(url)>.json.
func ObjectKey(artifact *crawler.Artifact) string {
	run := artifact.Crawl.RunID
	if run == "" {
		run = "adhoc"
	}
	sum := sha256.Sum256([]byte(artifact.URL))
	return path.Join(run, hex.EncodeToString(sum[:])+".json")
}

// BlobSink writes one JSON object per artifact to a BlobStore.
type BlobSink struct {
	store BlobStore
}

// NewBlobSink wraps store.
func NewBlobSink(store BlobStore) *BlobSink {
	return &BlobSink{store: store}
}

// Accept implements crawler.Sink.
func (s *BlobSink) Accept(ctx context.Context, artifact *crawler.Artifact) error {
	data, err := Encode(artifact)
	if err != nil {
		return err
	}
	if _, err := s.store.PutObject(ctx, ObjectKey(artifact), "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("put artifact object: %w", err)
	}
	return nil
}

// Target is a named sink for fan-out.
type Target struct {
	Name string
	Sink crawler.Sink
}

// Fanout delivers every artifact to all targets and reports every failure.
type Fanout struct {
	targets []Target
	logger  *zap.Logger
}

// NewFanout builds a Fanout. Nil sinks are skipped.
func NewFanout(logger *zap.Logger, targets ...Target) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]Target, 0, len(targets))
	for _, t := range targets {
		if t.Sink != nil {
			kept = append(kept, t)
		}
	}
	return &Fanout{targets: kept, logger: logger}
}

// Len reports the number of targets.
func (f *Fanout) Len() int { return len(f.targets) }

// Accept implements crawler.Sink.
func (f *Fanout) Accept(ctx context.Context, artifact *crawler.Artifact) error {
	var errs []error
	for _, t := range f.targets {
		if err := t.Sink.Accept(ctx, artifact); err != nil {
			metrics.ObserveSink(t.Name, "error")
			f.logger.Warn("Sink rejected artifact",
				zap.String("sink", t.Name),
				zap.String("url", artifact.URL),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
			continue
		}
		metrics.ObserveSink(t.Name, "ok")
	}
	return errors.Join(errs...)
}

// Publisher sends a payload to a topic. The Pub/Sub and memory publishers implement it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notification is the message announcing a delivered artifact. It carries
// metadata only; the body lives in the blob sinks.
type Notification struct {
	SchemaVersion string                  `json:"schema_version"`
	RunID         string                  `json:"run_id,omitempty"`
	URL           string                  `json:"url"`
	FinalURL      string                  `json:"final_url,omitempty"`
	StatusCode    int                     `json:"status_code"`
	ContentType   string                  `json:"content_type,omitempty"`
	ContentHash   string                  `json:"content_hash,omitempty"`
	ContentSize   int                     `json:"content_size"`
	Depth         int                     `json:"depth"`
	Method        crawler.DiscoveryMethod `json:"method"`
	DuplicateOf   string                  `json:"duplicate_of,omitempty"`
	ObjectKey     string                  `json:"object_key"`
	FetchedAt     time.Time               `json:"fetched_at"`
	Error         *crawler.PipelineError  `json:"error,omitempty"`
}

// NewNotification summarises artifact.
func NewNotification(artifact *crawler.Artifact) Notification {
	return Notification{
		SchemaVersion: artifact.SchemaVersion,
		RunID:         artifact.Crawl.RunID,
		URL:           artifact.URL,
		FinalURL:      artifact.HTTP.FinalURL,
		StatusCode:    artifact.HTTP.StatusCode,
		ContentType:   artifact.HTTP.ContentType,
		ContentHash:   artifact.Content.Hash,
		ContentSize:   artifact.Content.Size,
		Depth:         artifact.Crawl.Depth,
		Method:        artifact.Crawl.Method,
		DuplicateOf:   artifact.Crawl.Canonical,
		ObjectKey:     ObjectKey(artifact),
		FetchedAt:     artifact.Crawl.FetchedAt,
		Error:         artifact.Error,
	}
}

// NotifySink publishes a Notification per artifact.
type NotifySink struct {
	publisher Publisher
	topic     string
}

// NewNotifySink publishes to topic through publisher.
func NewNotifySink(publisher Publisher, topic string) *NotifySink {
	return &NotifySink{publisher: publisher, topic: topic}
}

// Accept implements crawler.Sink.
func (s *NotifySink) Accept(ctx context.Context, artifact *crawler.Artifact) error {
	if _, err := s.publisher.Publish(ctx, s.topic, NewNotification(artifact)); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
