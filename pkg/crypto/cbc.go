// Package crypto implements the chunked AES-CBC cipher stream (spec.md §4.1,
// component C1) and the object preamble codec (spec.md §4.2, component C2).
//
// The CBC encryptor/decryptor below are a direct Go port of the retention
// buffer scheme in the original implementation's aes_cbc.py: the encryptor
// withholds nothing (it only needs to pad the final short block at
// Finalize), the decryptor withholds exactly one block so the final
// ciphertext block's PKCS#7 padding can be validated and stripped only once
// the caller signals there is no more ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/atbu-go/atbu/pkg/atbuerr"
)

// BlockSize is the AES block size in bytes; also the PKCS#7 padding unit.
const BlockSize = aes.BlockSize // 16

// cbcCore holds the update/finalize buffering shared by the encryptor and
// decryptor, mirroring AES_CBC_Base in the original.
type cbcCore struct {
	mode      cipher.BlockMode
	buffered  []byte
	retention int // blocks withheld from Update's output
	finished  bool
}

func (c *cbcCore) isFinalized() bool { return c.finished }

// process feeds input through the retention-aware CBC transform and returns
// whatever output bytes are now safe to release.
func (c *cbcCore) process(input []byte) ([]byte, error) {
	if c.finished {
		return nil, atbuerr.New(atbuerr.AlreadyFinalized, "cbc stream already finalized")
	}
	c.buffered = append(c.buffered, input...)

	blocksAvailable := len(c.buffered) / BlockSize
	remainder := len(c.buffered) % BlockSize

	var blocksToProcess int
	if remainder > 0 {
		blocksToProcess = blocksAvailable
	} else {
		blocksToProcess = blocksAvailable - c.retention
	}
	if blocksToProcess <= 0 {
		return nil, nil
	}

	bytesToProcess := blocksToProcess * BlockSize
	out := make([]byte, bytesToProcess)
	c.mode.CryptBlocks(out, c.buffered[:bytesToProcess])
	c.buffered = append([]byte(nil), c.buffered[bytesToProcess:]...)

	maxRetained := c.retention * BlockSize
	if maxRetained < BlockSize-1 {
		maxRetained = BlockSize - 1
	}
	if len(c.buffered) > maxRetained {
		return nil, atbuerr.New(atbuerr.EncryptionDecryptFailure,
			fmt.Sprintf("buffered data of %d bytes exceeds retention of %d", len(c.buffered), maxRetained))
	}
	return out, nil
}

// CBCEncryptor encrypts a plaintext stream with AES-CBC, applying PKCS#7
// padding at Finalize. Update may be called any number of times; Finalize
// exactly once.
type CBCEncryptor struct {
	core cbcCore
	iv   []byte
}

// NewCBCEncryptor builds an encryptor for the given 16/24/32-byte key and
// 16-byte IV.
func NewCBCEncryptor(key, iv []byte) (*CBCEncryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, atbuerr.Wrap(atbuerr.EncryptionDecryptFailure, "creating AES cipher", err)
	}
	if len(iv) != BlockSize {
		return nil, atbuerr.New(atbuerr.EncryptionDecryptFailure, "IV must be 16 bytes")
	}
	return &CBCEncryptor{
		core: cbcCore{mode: cipher.NewCBCEncrypter(block, iv), retention: 0},
		iv:   append([]byte(nil), iv...),
	}, nil
}

// IV returns the initialization vector this encryptor was constructed with.
func (e *CBCEncryptor) IV() []byte { return e.iv }

// IsFinalized reports whether Finalize has already been called.
func (e *CBCEncryptor) IsFinalized() bool { return e.core.isFinalized() }

// Update feeds plaintext in and returns whatever ciphertext is now safe to
// emit; it may legitimately return no bytes if input doesn't yet fill a
// block.
func (e *CBCEncryptor) Update(plaintext []byte) ([]byte, error) {
	return e.core.process(plaintext)
}

// Finalize pads the remaining buffered plaintext with PKCS#7 and encrypts
// the final block(s). It may be called only once.
func (e *CBCEncryptor) Finalize() ([]byte, error) {
	if e.core.finished {
		return nil, atbuerr.New(atbuerr.AlreadyFinalized, "cbc encryptor already finalized")
	}
	e.core.finished = true
	if len(e.core.buffered) >= BlockSize {
		return nil, atbuerr.New(atbuerr.EncryptionDecryptFailure,
			fmt.Sprintf("unexpected %d buffered bytes at finalize", len(e.core.buffered)))
	}
	paddingNeeded := BlockSize - len(e.core.buffered)
	padded := append(e.core.buffered, make([]byte, paddingNeeded)...)
	for i := len(e.core.buffered); i < BlockSize; i++ {
		padded[i] = byte(paddingNeeded)
	}
	out := make([]byte, BlockSize)
	e.core.mode.CryptBlocks(out, padded)
	return out, nil
}

// CBCDecryptor inverts CBCEncryptor: it withholds one ciphertext block so
// the final block's PKCS#7 padding is only interpreted once Finalize is
// called, after all ciphertext has been seen.
type CBCDecryptor struct {
	core cbcCore
	iv   []byte
}

// NewCBCDecryptor builds a decryptor for the given key and IV.
func NewCBCDecryptor(key, iv []byte) (*CBCDecryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, atbuerr.Wrap(atbuerr.EncryptionDecryptFailure, "creating AES cipher", err)
	}
	if len(iv) != BlockSize {
		return nil, atbuerr.New(atbuerr.EncryptionDecryptFailure, "IV must be 16 bytes")
	}
	return &CBCDecryptor{
		core: cbcCore{mode: cipher.NewCBCDecrypter(block, iv), retention: 1},
		iv:   append([]byte(nil), iv...),
	}, nil
}

// IV returns the initialization vector this decryptor was constructed with.
func (d *CBCDecryptor) IV() []byte { return d.iv }

// IsFinalized reports whether Finalize has already been called.
func (d *CBCDecryptor) IsFinalized() bool { return d.core.isFinalized() }

// Update feeds ciphertext in and returns whatever plaintext is now safe to
// release (always withholding the final block pending Finalize).
func (d *CBCDecryptor) Update(ciphertext []byte) ([]byte, error) {
	return d.core.process(ciphertext)
}

// Finalize decrypts and strips padding from the final retained block,
// validating every padding byte per spec.md §4.1: all padding bytes must
// equal the padding length and the length must be in [1, 16].
func (d *CBCDecryptor) Finalize() ([]byte, error) {
	if d.core.finished {
		return nil, atbuerr.New(atbuerr.AlreadyFinalized, "cbc decryptor already finalized")
	}
	d.core.finished = true
	if len(d.core.buffered) != BlockSize {
		return nil, atbuerr.New(atbuerr.EncryptionDecryptFailure,
			fmt.Sprintf("expected exactly %d retained bytes at finalize, got %d", BlockSize, len(d.core.buffered)))
	}
	plaintext := make([]byte, BlockSize)
	d.core.mode.CryptBlocks(plaintext, d.core.buffered)

	paddingLen := int(plaintext[BlockSize-1])
	if paddingLen < 1 || paddingLen > BlockSize {
		return nil, atbuerr.New(atbuerr.EncryptionDecryptFailure,
			fmt.Sprintf("invalid padding length byte %d", paddingLen))
	}
	start := BlockSize - paddingLen
	for i := start; i < BlockSize; i++ {
		if int(plaintext[i]) != paddingLen {
			return nil, atbuerr.New(atbuerr.EncryptionDecryptFailure,
				fmt.Sprintf("padding byte mismatch at offset %d: want %d got %d", i, paddingLen, plaintext[i]))
		}
	}
	return plaintext[:start], nil
}
