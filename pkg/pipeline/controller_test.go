package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceRunsAdmittingStagesInOrder(t *testing.T) {
	var order []string
	stageA := StageFunc{
		StageName: "A",
		Admit:     func(Item) bool { return true },
		Fn: func(_ context.Context, it Item) Item {
			order = append(order, "A")
			return it
		},
	}
	stageB := StageFunc{
		StageName: "B",
		Admit:     func(it Item) bool { return !it.Failed() },
		Fn: func(_ context.Context, it Item) Item {
			order = append(order, "B")
			return it.Done()
		},
	}

	c := New([]Stage{stageA, stageB}, 4, zerolog.Nop())
	c.Start(context.Background())
	result := <-c.Submit(Item{Path: "/a/x.bin"})
	c.Shutdown()

	assert.Equal(t, []string{"A", "B"}, order)
	assert.False(t, result.Failed())
}

func TestAdvanceSkipsNonAdmittingStage(t *testing.T) {
	skip := StageFunc{
		StageName: "skip-unchanged-shortcut",
		Admit:     func(it Item) bool { return it.Payload == "skip" },
		Fn: func(_ context.Context, it Item) Item {
			return it.Done()
		},
	}
	upload := StageFunc{
		StageName: "upload",
		Admit:     func(it Item) bool { return it.Payload != "skip" },
		Fn: func(_ context.Context, it Item) Item {
			it.Payload = "uploaded"
			return it.Done()
		},
	}

	c := New([]Stage{skip, upload}, 4, zerolog.Nop())
	c.Start(context.Background())
	result := <-c.Submit(Item{Path: "/a/x.bin", Payload: "skip"})
	c.Shutdown()

	assert.Equal(t, "skip", result.Payload)
}

func TestAdvanceAccumulatesFailureWithoutAborting(t *testing.T) {
	failing := StageFunc{
		StageName: "stat",
		Admit:     func(Item) bool { return true },
		Fn: func(_ context.Context, it Item) Item {
			return it.WithError(errors.New("stat failed")).Done()
		},
	}
	c := New([]Stage{failing}, 4, zerolog.Nop())
	c.Start(context.Background())
	result := <-c.Submit(Item{Path: "/a/x.bin"})
	c.Shutdown()

	assert.True(t, result.Failed())
}

// pairedProducer and pairedConsumer emulate S2/S3 writing then reading a
// tiny stream over the frame pipe.
type pairedProducer struct{}

func (pairedProducer) Name() string             { return "S2" }
func (pairedProducer) IsForStage(Item) bool     { return true }
func (pairedProducer) PipeWithNext() bool       { return true }
func (pairedProducer) Run(_ context.Context, it Item) Item {
	w, ok := FrameWriterOf(it)
	if !ok {
		return it.WithError(errors.New("no frame writer"))
	}
	if err := w.WriteData([]byte("hello ")); err != nil {
		return it.WithError(err)
	}
	if err := w.WriteFinal([]byte("world")); err != nil {
		return it.WithError(err)
	}
	return it
}

type pairedConsumer struct{ got string }

func (c *pairedConsumer) Name() string         { return "S3" }
func (c *pairedConsumer) IsForStage(Item) bool { return true }
func (c *pairedConsumer) Run(_ context.Context, it Item) Item {
	r, ok := FrameReaderOf(it)
	if !ok {
		return it.WithError(errors.New("no frame reader"))
	}
	var got []byte
	for {
		payload, final, err := r.ReadFrame()
		got = append(got, payload...)
		if final || err == io.EOF {
			break
		}
		if err != nil {
			return it.WithError(err)
		}
	}
	c.got = string(got)
	it.Payload = c.got
	return it.Done()
}

func TestPairedStagesExchangeFramesOverPipe(t *testing.T) {
	consumer := &pairedConsumer{}
	c := New([]Stage{pairedProducer{}, consumer}, 4, zerolog.Nop())
	c.Start(context.Background())

	var result Item
	select {
	case result = <-c.Submit(Item{Path: "/a/x.bin"}):
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for paired stage result")
	}
	c.Shutdown()

	require.False(t, result.Failed())
	assert.Equal(t, "hello world", result.Payload)
}
