// Package pipeline threads artifacts through ordered stages.
//
// Each stage works on a deep copy of the artifact. A failing or panicking
// stage leaves the pre-stage artifact untouched; the engine then either
// continues with that artifact or aborts, depending on configuration.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawl/internal/crawler"
	"github.com/JakeFAU/politecrawl/internal/metrics"
)

// ErrNilArtifact is returned when Execute receives no artifact.
var ErrNilArtifact = errors.New("nil artifact")

// Option customises an Engine.
type Option func(*Engine)

// WithAbortOnError stops the chain at the first failing stage.
func WithAbortOnError(abort bool) Option {
	return func(e *Engine) {
		e.abortOnError = abort
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Result describes how an artifact left the pipeline.
type Result struct {
	// Artifact is the terminal artifact. It is nil when Dropped is set.
	// After an abort it equals the snapshot taken before the failing stage.
	Artifact *crawler.Artifact
	Dropped  bool
	// Drop is set when a stage dropped the artifact.
	Drop *crawler.PipelineError
	// Failures lists every stage failure, in order.
	Failures []*crawler.PipelineError
	// Aborted is set when a failure ended the chain early.
	Aborted bool
}

// Engine runs artifacts through an ordered list of stages.
type Engine struct {
	stages       []Stage
	abortOnError bool
	logger       *zap.Logger
}

// New creates an Engine.
func New(stages []Stage, opts ...Option) *Engine {
	e := &Engine{
		stages: append([]Stage(nil), stages...),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stages returns the configured stage names in order.
func (e *Engine) Stages() []string {
	names := make([]string, len(e.stages))
	for i, s := range e.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes every stage against artifact. The input artifact is never
// modified.
func (e *Engine) Run(ctx context.Context, artifact *crawler.Artifact) Result {
	var res Result
	if artifact == nil {
		return res
	}
	current := artifact.Clone()
	for _, stage := range e.stages {
		name := stage.Name()
		work := current.Clone()
		outcome := e.invoke(ctx, stage, work)
		metrics.ObserveStage(name, outcome.Action.String())

		switch outcome.Action {
		case ActionContinue:
			current = work
		case ActionDrop:
			res.Dropped = true
			res.Drop = &crawler.PipelineError{Kind: crawler.PipelineStageDropped, Stage: name, Reason: outcome.Reason}
			e.logger.Info("Artifact dropped",
				zap.String("url", artifact.URL),
				zap.String("stage", name),
				zap.String("reason", outcome.Reason),
			)
			return res
		default:
			perr := &crawler.PipelineError{Kind: crawler.PipelineStageFailed, Stage: name, Reason: outcome.Reason, Err: outcome.Err}
			res.Failures = append(res.Failures, perr)
			e.logger.Warn("Pipeline stage failed, restored pre-stage artifact",
				zap.String("url", artifact.URL),
				zap.String("stage", name),
				zap.Bool("abort", e.abortOnError),
				zap.Error(perr),
			)
			res.Aborted = e.abortOnError
		}
		if res.Aborted {
			break
		}
	}
	// Later stages see the restored artifact as it was. An aborted run hands
	// back the pre-stage snapshot untouched; its failure lives in Failures.
	if len(res.Failures) > 0 && !res.Aborted {
		current.Error = res.Failures[0]
	}
	res.Artifact = current
	return res
}

// Execute runs the pipeline and hands a non-dropped terminal artifact to sink.
func (e *Engine) Execute(ctx context.Context, artifact *crawler.Artifact, sink crawler.Sink) (Result, error) {
	if artifact == nil {
		return Result{}, ErrNilArtifact
	}
	res := e.Run(ctx, artifact)
	if res.Dropped || sink == nil {
		return res, nil
	}
	delivered := res.Artifact
	if res.Aborted && len(res.Failures) > 0 {
		delivered = delivered.Clone()
		delivered.Error = res.Failures[0]
	}
	if err := sink.Accept(ctx, delivered); err != nil {
		return res, fmt.Errorf("deliver artifact: %w", err)
	}
	return res, nil
}

func (e *Engine) invoke(ctx context.Context, stage Stage, work *crawler.Artifact) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Action: ActionFail, Reason: "panic", Err: fmt.Errorf("stage panicked: %v", r)}
		}
	}()
	out = stage.Process(ctx, work)
	if out.Action == ActionFail && out.Err == nil && out.Reason == "" {
		out.Err = errors.New("stage reported failure")
	}
	return out
}
