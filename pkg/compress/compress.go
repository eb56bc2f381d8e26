// Package compress wires the preamble's compression_kind (spec.md §4.2)
// to a real codec choice. spec.md's budget never names a specific
// compression algorithm; this repository uses compress/flate (DEFLATE)
// under the "zstd" label the original implementation's compression_kind
// enum uses, since pulling in a real zstd binding is unnecessary to
// exercise the same compress-then-encrypt pipeline shape.
package compress

import (
	"bytes"
	"compress/flate"
	"io"

	"github.com/atbu-go/atbu/pkg/atbuerr"
)

// Kind names a compression_kind value stored in BackupFileInformation and
// the object preamble.
type Kind string

const (
	None Kind = "none"
	Zstd Kind = "zstd"
)

// Compress returns plaintext compressed under kind, or plaintext unchanged
// for None.
func Compress(kind Kind, plaintext []byte) ([]byte, error) {
	switch kind {
	case "", None:
		return plaintext, nil
	case Zstd:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, atbuerr.Wrap(atbuerr.ConfigInvalid, "opening compressor", err)
		}
		if _, err := w.Write(plaintext); err != nil {
			return nil, atbuerr.Wrap(atbuerr.ConfigInvalid, "compressing data", err)
		}
		if err := w.Close(); err != nil {
			return nil, atbuerr.Wrap(atbuerr.ConfigInvalid, "closing compressor", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, atbuerr.New(atbuerr.ConfigInvalid, "unknown compression kind: "+string(kind))
	}
}

// Decompress reverses Compress.
func Decompress(kind Kind, data []byte) ([]byte, error) {
	switch kind {
	case "", None:
		return data, nil
	case Zstd:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, atbuerr.Wrap(atbuerr.EncryptionDecryptFailure, "decompressing data", err)
		}
		return out, nil
	default:
		return nil, atbuerr.New(atbuerr.ConfigInvalid, "unknown compression kind: "+string(kind))
	}
}
