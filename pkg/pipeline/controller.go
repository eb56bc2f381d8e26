// Package pipeline implements the multi-stage work pipeline (spec.md
// §4.7, component C7) as goroutine-hosted stages rather than the
// reference implementation's subprocess-hosted ones — see the
// goroutine-hosted-stages design decision for the rationale.
package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// submission pairs a work item with the channel its result is delivered
// on, mirroring the controller's "in-flight futures" bookkeeping (spec.md
// §4.7).
type submission struct {
	item   Item
	result chan<- Item
}

// Controller is the single-threaded scheduler of spec.md §4.7: it owns an
// input queue and advances each item through every stage that admits it,
// in order, until no stage will take it further.
type Controller struct {
	stages []Stage
	logger zerolog.Logger

	// sideA/sideB bound the two *per-stage* worker pools spec.md §4.7
	// assigns one per side of a paired stage, "so a paired stage never
	// deadlocks on a pool saturated by its sibling". Non-paired stages
	// share sideA. These are acquired only inside runStage/runPairedPair,
	// for the duration of a single stage invocation.
	sideA chan struct{}
	sideB chan struct{}

	// inFlight is the separate, outer gate on how many items may be
	// advancing through the pipeline at once (spec.md §5
	// max_simultaneous_work_items). It is drawn from its own pool so that
	// holding an in-flight slot for an item's entire advance() traversal
	// never competes with the per-stage pools a stage acquires while that
	// item is actually running.
	inFlight chan struct{}

	input chan submission
	wg    sync.WaitGroup
}

// New builds a Controller. maxSimultaneousWorkItems bounds how many items
// may be advancing through the pipeline concurrently (spec.md §5
// max_simultaneous_work_items). Each stage pool is sized independently to
// the same bound, since a stage may need to run for every in-flight item
// at once; the two concerns are never drawn from the same pool.
func New(stages []Stage, maxSimultaneousWorkItems int, logger zerolog.Logger) *Controller {
	if maxSimultaneousWorkItems < 1 {
		maxSimultaneousWorkItems = 1
	}
	return &Controller{
		stages:   stages,
		logger:   logger,
		sideA:    make(chan struct{}, maxSimultaneousWorkItems),
		sideB:    make(chan struct{}, maxSimultaneousWorkItems),
		inFlight: make(chan struct{}, maxSimultaneousWorkItems),
		input:    make(chan submission, maxSimultaneousWorkItems),
	}
}

// Start launches the controller loop in a background goroutine and returns
// immediately. The loop runs until Shutdown closes the input queue, then
// waits for every in-flight item to drain (spec.md §4.7 Shutdown: "A
// sentinel nil in the input queue drains in-flight items to completion
// then tears down both pools"). Cancelling ctx does not stop the loop; ctx
// is only passed on to each stage.
func (c *Controller) Start(ctx context.Context) {
	go func() {
		for sub := range c.input {
			sub := sub
			c.inFlight <- struct{}{}
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				defer func() { <-c.inFlight }()
				result := c.advance(ctx, sub.item)
				sub.result <- result
				close(sub.result)
			}()
		}
		c.wg.Wait()
	}()
}

// Submit enqueues item and returns the channel its final state will be
// delivered on, once no stage admits it further.
func (c *Controller) Submit(item Item) <-chan Item {
	result := make(chan Item, 1)
	c.input <- submission{item: item, result: result}
	return result
}

// Shutdown closes the input queue; Start's goroutine drains whatever was
// already submitted before returning (spec.md §4.7 Shutdown).
func (c *Controller) Shutdown() {
	close(c.input)
}

// advance runs item through every admitting stage in sequence (spec.md
// §4.7: "If the next stage admits the item, it is submitted; otherwise
// the item advances until a stage admits it or the pipeline exhausts").
// A paired stage is run together with its successor over a frame pipe and
// both are skipped as a unit once that pair completes.
func (c *Controller) advance(ctx context.Context, item Item) Item {
	i := 0
	for i < len(c.stages) && !item.done {
		stage := c.stages[i]
		if !stage.IsForStage(item) {
			i++
			continue
		}

		if paired, ok := stage.(PairedStage); ok && paired.PipeWithNext() && i+1 < len(c.stages) {
			next := c.stages[i+1]
			item = c.runPairedPair(ctx, item, paired, next)
			i += 2
			continue
		}

		item = c.runStage(ctx, stage, item)
		i++
	}
	return item
}

// runStage runs a single non-paired stage under the shared sideA pool.
func (c *Controller) runStage(ctx context.Context, stage Stage, item Item) Item {
	c.sideA <- struct{}{}
	defer func() { <-c.sideA }()
	out := stage.Run(ctx, item)
	if out.Failed() {
		c.logger.Warn().Str("stage", stage.Name()).Str("path", item.Path).Msg("stage recorded an error")
	}
	return out
}

// runPairedPair runs producer and consumer stages concurrently over a
// frame pipe, each bounded by its own pool side so neither can starve the
// other (spec.md §4.7).
func (c *Controller) runPairedPair(ctx context.Context, item Item, producer, consumer Stage) Item {
	c.sideA <- struct{}{}
	defer func() { <-c.sideA }()
	c.sideB <- struct{}{}
	defer func() { <-c.sideB }()

	var producerOut, consumerOut Item
	err := RunPaired(ctx,
		func(ctx context.Context, w *FrameWriter) error {
			ctxItem := withFrameWriter(item, w)
			producerOut = producer.Run(ctx, ctxItem)
			if producerOut.Failed() {
				return producerOut.ExceptionChain[len(producerOut.ExceptionChain)-1]
			}
			return nil
		},
		func(ctx context.Context, r *FrameReader) error {
			ctxItem := withFrameReader(item, r)
			consumerOut = consumer.Run(ctx, ctxItem)
			if consumerOut.Failed() {
				return consumerOut.ExceptionChain[len(consumerOut.ExceptionChain)-1]
			}
			return nil
		},
	)

	merged := consumerOut
	if merged.Path == "" {
		merged = producerOut
	}
	if err != nil && !merged.Failed() {
		merged = merged.WithError(err)
	}
	return merged
}
