package pipeline

import (
	"context"

	"github.com/JakeFAU/politecrawl/internal/crawler"
)

// Action is the tag on a stage outcome.
type Action int

// Stage actions.
const (
	ActionContinue Action = iota
	ActionDrop
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionDrop:
		return "drop"
	case ActionFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Outcome is what a stage returns: keep going, drop the artifact on purpose,
// or report a failure.
type Outcome struct {
	Action Action
	Reason string
	Err    error
}

// Continue passes the (possibly mutated) artifact to the next stage.
func Continue() Outcome { return Outcome{Action: ActionContinue} }

// Drop stops the chain; the artifact never reaches the sink.
func Drop(reason string) Outcome { return Outcome{Action: ActionDrop, Reason: reason} }

// Fail discards the stage's mutations.
func Fail(err error) Outcome { return Outcome{Action: ActionFail, Err: err} }

// Stage transforms an artifact. The artifact handed to Process is a private
// copy; the stage may mutate it freely.
type Stage interface {
	Name() string
	Process(ctx context.Context, artifact *crawler.Artifact) Outcome
}

// StageFunc adapts a function into a Stage.
type StageFunc struct {
	Label string
	Fn    func(ctx context.Context, artifact *crawler.Artifact) Outcome
}

// Func builds a StageFunc.
func Func(name string, fn func(ctx context.Context, artifact *crawler.Artifact) Outcome) StageFunc {
	return StageFunc{Label: name, Fn: fn}
}

// Name implements Stage.
func (s StageFunc) Name() string { return s.Label }

// Process implements Stage.
func (s StageFunc) Process(ctx context.Context, artifact *crawler.Artifact) Outcome {
	return s.Fn(ctx, artifact)
}
