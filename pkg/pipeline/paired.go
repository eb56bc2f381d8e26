package pipeline

import (
	"context"
	"io"
)

// RunPaired runs producer and consumer concurrently over an io.Pipe,
// implementing the "pipe_with_next" contract of spec.md §4.7: the
// producer writes length-prefixed frames via a FrameWriter, the consumer
// reads them via a FrameReader, and RunPaired waits for both sides to
// finish before returning (spec.md: "the pipeline waits for both to
// finish before advancing"). Either side's error is returned; if both
// fail, the producer's error wins and the consumer's is discarded, since
// a write failure typically caused the read failure that followed it.
func RunPaired(
	ctx context.Context,
	producer func(ctx context.Context, w *FrameWriter) error,
	consumer func(ctx context.Context, r *FrameReader) error,
) error {
	pr, pw := io.Pipe()

	producerErr := make(chan error, 1)
	consumerErr := make(chan error, 1)

	go func() {
		fw := NewFrameWriter(pw)
		err := producer(ctx, fw)
		pw.CloseWithError(err) // unblocks a pending Read on EOF or failure
		producerErr <- err
	}()

	go func() {
		fr := NewFrameReader(pr)
		err := consumer(ctx, fr)
		pr.Close() // owning side: the non-owning producer already wrote its close
		consumerErr <- err
	}()

	pErr := <-producerErr
	cErr := <-consumerErr
	if pErr != nil {
		return pErr
	}
	return cErr
}
