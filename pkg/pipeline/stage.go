package pipeline

import "context"

// Stage is one step of the pipeline (spec.md §4.7). IsForStage is the
// admission predicate the controller consults after every prior stage
// completes; Run performs the transformation.
type Stage interface {
	Name() string
	IsForStage(item Item) bool
	Run(ctx context.Context, item Item) Item
}

// PairedStage additionally advertises that it must run concurrently with
// the very next stage over a shared byte pipe (spec.md §4.7
// "pipe_with_next"), rather than being scheduled as an ordinary
// standalone stage.
type PairedStage interface {
	Stage
	PipeWithNext() bool
}

// StageFunc adapts a plain function into a Stage for stages with no
// state of their own.
type StageFunc struct {
	StageName string
	Admit     func(Item) bool
	Fn        func(context.Context, Item) Item
}

func (f StageFunc) Name() string                  { return f.StageName }
func (f StageFunc) IsForStage(item Item) bool      { return f.Admit(item) }
func (f StageFunc) Run(ctx context.Context, item Item) Item { return f.Fn(ctx, item) }

// PairedStageAdapter is StageFunc's counterpart for a producer stage that
// must run paired with its immediate successor over a frame pipe (spec.md
// §4.7 "pipe_with_next").
type PairedStageAdapter struct {
	StageName string
	Admit     func(Item) bool
	Fn        func(context.Context, Item) Item
}

func (f PairedStageAdapter) Name() string                  { return f.StageName }
func (f PairedStageAdapter) IsForStage(item Item) bool      { return f.Admit(item) }
func (f PairedStageAdapter) Run(ctx context.Context, item Item) Item { return f.Fn(ctx, item) }
func (f PairedStageAdapter) PipeWithNext() bool             { return true }
