package pipeline

import (
	"encoding/binary"
	"io"

	"github.com/atbu-go/atbu/pkg/atbuerr"
)

// frameKind distinguishes an ordinary chunk from the final chunk of a
// paired-stage stream (spec.md §9: "A frame carries either DATA(bytes) or
// DATA-FINAL(bytes); the reader treats DATA-FINAL as EOF after the
// enclosed bytes").
type frameKind uint8

const (
	frameData      frameKind = 0
	frameDataFinal frameKind = 1
)

// FrameWriter writes length-prefixed DATA/DATA-FINAL frames onto an
// underlying io.Writer — the producer side of a paired-stage pipe.
type FrameWriter struct {
	w io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter { return &FrameWriter{w: w} }

func (fw *FrameWriter) writeFrame(kind frameKind, payload []byte) error {
	header := make([]byte, 5)
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := fw.w.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := fw.w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// WriteData sends one non-terminal chunk.
func (fw *FrameWriter) WriteData(payload []byte) error {
	return fw.writeFrame(frameData, payload)
}

// WriteFinal sends the terminal chunk; the reader treats this as EOF.
func (fw *FrameWriter) WriteFinal(payload []byte) error {
	return fw.writeFrame(frameDataFinal, payload)
}

// FrameReader reads length-prefixed DATA/DATA-FINAL frames — the consumer
// side of a paired-stage pipe.
type FrameReader struct {
	r    io.Reader
	done bool
}

func NewFrameReader(r io.Reader) *FrameReader { return &FrameReader{r: r} }

// ReadFrame returns the next frame's payload and whether it was the final
// frame. Calling ReadFrame again after final returns io.EOF.
func (fr *FrameReader) ReadFrame() (payload []byte, final bool, err error) {
	if fr.done {
		return nil, true, io.EOF
	}
	header := make([]byte, 5)
	if _, err := io.ReadFull(fr.r, header); err != nil {
		return nil, false, err
	}
	kind := frameKind(header[0])
	n := binary.BigEndian.Uint32(header[1:])
	payload = make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return nil, false, err
		}
	}
	switch kind {
	case frameData:
		return payload, false, nil
	case frameDataFinal:
		fr.done = true
		return payload, true, nil
	default:
		return nil, false, atbuerr.New(atbuerr.InvalidPipelineMessage, "unknown pipeline frame kind")
	}
}
