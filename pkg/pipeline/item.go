package pipeline

// Item is one unit of work flowing through the pipeline (spec.md §4.7): a
// plain value, never a pointer shared across stage boundaries, so that
// each stage's mutations stay local until the controller folds the
// returned value back into its bookkeeping (spec.md §9 "deep-copied
// value-type work items").
type Item struct {
	// Path identifies the item for logging and for the caller correlating
	// submissions with completions; it carries no other meaning to the
	// pipeline itself.
	Path string

	// Payload is stage-specific state threaded through Run calls — e.g. a
	// classification decision after S1, a ciphertext size after S2/S3.
	// Stages type-assert it to whatever shape they expect.
	Payload any

	// ExceptionChain accumulates per-stage failures (spec.md §9 "exceptions
	// as control flow → accumulated per-item error chain"); a stage never
	// aborts the pipeline, it appends and returns.
	ExceptionChain []error

	// done is set by a terminal stage (one with no successor willing to
	// admit the item) to stop it being resubmitted.
	done bool
}

// Failed reports whether any stage recorded an error for this item.
func (it Item) Failed() bool {
	return len(it.ExceptionChain) > 0
}

// WithError returns a copy of it with err appended to ExceptionChain.
func (it Item) WithError(err error) Item {
	next := it.ExceptionChain
	next = append(append([]error(nil), next...), err)
	it.ExceptionChain = next
	return it
}

// Done marks the item as having nowhere further to go.
func (it Item) Done() Item {
	it.done = true
	return it
}

// pairedPayload wraps an item's Payload together with the frame endpoint
// a paired stage should use, so producer/consumer stages can reach their
// pipe without widening the Stage interface itself.
type pairedPayload struct {
	inner  any
	writer *FrameWriter
	reader *FrameReader
}

func withFrameWriter(it Item, w *FrameWriter) Item {
	it.Payload = pairedPayload{inner: it.Payload, writer: w}
	return it
}

func withFrameReader(it Item, r *FrameReader) Item {
	it.Payload = pairedPayload{inner: it.Payload, reader: r}
	return it
}

// FrameWriterOf returns the FrameWriter a producer stage should write its
// chunks to, if item was dispatched as the producer side of a paired
// stage.
func FrameWriterOf(it Item) (*FrameWriter, bool) {
	p, ok := it.Payload.(pairedPayload)
	if !ok || p.writer == nil {
		return nil, false
	}
	return p.writer, true
}

// FrameReaderOf returns the FrameReader a consumer stage should read its
// chunks from, if item was dispatched as the consumer side of a paired
// stage.
func FrameReaderOf(it Item) (*FrameReader, bool) {
	p, ok := it.Payload.(pairedPayload)
	if !ok || p.reader == nil {
		return nil, false
	}
	return p.reader, true
}

// InnerPayload unwraps whatever Payload a stage set before it was paired,
// for a paired stage that still needs its own input alongside the pipe.
func InnerPayload(it Item) any {
	if p, ok := it.Payload.(pairedPayload); ok {
		return p.inner
	}
	return it.Payload
}
