package crypto

import (
	"io"

	"github.com/atbu-go/atbu/pkg/atbuerr"
)

// ChunkReader is the explicit bounded iterator spec.md §4.1/§9 calls for in
// place of a coroutine/generator: ReadChunk returns exactly chunkSize bytes
// until the final short chunk, then an empty slice signalling EOF. A read
// after EOF, or an out-of-band injection after EOF, fails with AlreadyEOF.
type ChunkReader struct {
	source    io.Reader
	chunkSize int
	encryptor *CBCEncryptor // nil when no encryption is in effect
	pending   []byte
	eof       bool
	used      bool
}

// OpenChunkReader wraps source so ReadChunk yields chunkSize-sized pieces of
// its bytes, optionally encrypting the plaintext with encryptor as it goes.
// encryptor may be nil, in which case the source bytes pass through
// unmodified (used for the plaintext *.atbak object format).
func OpenChunkReader(source io.Reader, chunkSize int, encryptor *CBCEncryptor) *ChunkReader {
	return &ChunkReader{
		source:    source,
		chunkSize: chunkSize,
		encryptor: encryptor,
	}
}

// QueueData injects out-of-band bytes into the stream ahead of whatever
// ReadChunk would next pull from source. When plaintext is true the bytes
// are fed through the encryptor like any other plaintext; when false they
// are spliced in as raw cleartext (used to prepend the preamble, which must
// remain readable without the key).
func (r *ChunkReader) QueueData(data []byte, plaintext bool) error {
	if r.eof {
		return atbuerr.Sentinel(atbuerr.AlreadyEOF)
	}
	if len(data) == 0 {
		return nil
	}
	if r.encryptor != nil && plaintext {
		ciphertext, err := r.encryptor.Update(data)
		if err != nil {
			return err
		}
		r.pending = append(r.pending, ciphertext...)
		return nil
	}
	r.pending = append(r.pending, data...)
	return nil
}

// ReadChunk returns the next chunkSize-sized piece of the (optionally
// encrypted) stream, or an empty, nil-error slice exactly once at EOF.
func (r *ChunkReader) ReadChunk() ([]byte, error) {
	if r.eof {
		return nil, atbuerr.Sentinel(atbuerr.AlreadyEOF)
	}

	sourceDone := false
	buf := make([]byte, r.chunkSize)
	for len(r.pending) < r.chunkSize && !sourceDone {
		n, err := r.source.Read(buf)
		if n > 0 {
			if r.encryptor != nil {
				ciphertext, encErr := r.encryptor.Update(buf[:n])
				if encErr != nil {
					return nil, encErr
				}
				r.pending = append(r.pending, ciphertext...)
			} else {
				r.pending = append(r.pending, buf[:n]...)
			}
		}
		if err != nil {
			if err != io.EOF {
				return nil, err
			}
			sourceDone = true
		}
	}

	if sourceDone && r.encryptor != nil && !r.encryptor.IsFinalized() {
		final, err := r.encryptor.Finalize()
		if err != nil {
			return nil, err
		}
		r.pending = append(r.pending, final...)
	}

	var out []byte
	if len(r.pending) <= r.chunkSize {
		out = r.pending
		r.pending = nil
	} else {
		out = r.pending[:r.chunkSize]
		r.pending = append([]byte(nil), r.pending[r.chunkSize:]...)
	}
	r.used = true
	r.eof = len(out) == 0
	return out, nil
}

// IsUsed reports whether ReadChunk has produced at least one chunk.
func (r *ChunkReader) IsUsed() bool { return r.used }
