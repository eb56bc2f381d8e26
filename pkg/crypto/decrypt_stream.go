package crypto

import "io"

// DecryptingReader adapts a CBCDecryptor to the io.Reader interface for the
// restore/verify/decrypt paths (component C9), which consume a whole
// ciphertext stream rather than discrete chunks: it pulls ciphertext from
// src, decrypts incrementally, and releases plaintext through Read,
// finalizing (and validating PKCS#7 padding) when src reaches EOF.
type DecryptingReader struct {
	src       io.Reader
	decryptor *CBCDecryptor
	pending   []byte
	srcDone   bool
	buf       []byte
}

// NewDecryptingReader returns an io.Reader of the plaintext obtained by
// decrypting src with decryptor.
func NewDecryptingReader(src io.Reader, decryptor *CBCDecryptor) *DecryptingReader {
	return &DecryptingReader{src: src, decryptor: decryptor, buf: make([]byte, 64*1024)}
}

func (r *DecryptingReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.srcDone {
			if r.decryptor.IsFinalized() {
				return 0, io.EOF
			}
			final, err := r.decryptor.Finalize()
			if err != nil {
				return 0, err
			}
			if len(final) == 0 {
				return 0, io.EOF
			}
			r.pending = final
			break
		}
		n, err := r.src.Read(r.buf)
		if n > 0 {
			plaintext, decErr := r.decryptor.Update(r.buf[:n])
			if decErr != nil {
				return 0, decErr
			}
			r.pending = append(r.pending, plaintext...)
		}
		if err != nil {
			if err != io.EOF {
				return 0, err
			}
			r.srcDone = true
		}
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}
