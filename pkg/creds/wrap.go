package creds

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/atbu-go/atbu/pkg/atbuerr"
	"golang.org/x/crypto/argon2"
)

// GCM-wrap primitives for protecting the data-encryption key at rest,
// adapted from the teacher's AES-256-GCM secret wrapper (pkg/security's
// Encrypt/Decrypt) but keyed by a password-derived key instead of a single
// process-global cluster key.

const (
	saltLen = 16
	// argon2id parameters tuned for an interactive CLI unlock: fast enough
	// not to annoy an operator, memory-hard enough to resist GPU cracking.
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
)

// deriveWrappingKey runs the memory-hard KDF spec.md §4.3 calls for.
func deriveWrappingKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, atbuerr.Wrap(atbuerr.CredentialSecretDerive, "generating salt", err)
	}
	return salt, nil
}

// gcmSeal AEAD-encrypts plaintext under key, returning nonce||ciphertext.
func gcmSeal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, atbuerr.Wrap(atbuerr.CredentialSecretDerive, "creating cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, atbuerr.Wrap(atbuerr.CredentialSecretDerive, "creating GCM", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, atbuerr.Wrap(atbuerr.CredentialSecretDerive, "generating nonce", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// gcmOpen is the inverse of gcmSeal. Authentication-tag failure (wrong key,
// i.e. wrong password) is reported as PasswordAuthFailure, matching
// spec.md §4.3's "validate a stored authentication tag; on mismatch fail
// with password-authentication-failure".
func gcmOpen(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, atbuerr.Wrap(atbuerr.CredentialSecretDerive, "creating cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, atbuerr.Wrap(atbuerr.CredentialSecretDerive, "creating GCM", err)
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, atbuerr.New(atbuerr.CredentialInvalid, "wrapped key too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, atbuerr.Wrap(atbuerr.PasswordAuthFailure, "authentication tag mismatch", err)
	}
	return plaintext, nil
}

// wrappedKey is the on-disk/on-vault representation of a password-protected
// data-encryption key.
type wrappedKey struct {
	Salt   []byte `json:"salt"`
	Sealed []byte `json:"sealed"` // nonce || ciphertext || gcm tag, over the 32-byte key
}

func wrapKey(password string, key []byte) (*wrappedKey, error) {
	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	wrapKey := deriveWrappingKey(password, salt)
	sealed, err := gcmSeal(wrapKey, key)
	if err != nil {
		return nil, err
	}
	return &wrappedKey{Salt: salt, Sealed: sealed}, nil
}

func unwrapKey(password string, w *wrappedKey) ([]byte, error) {
	wrapKey := deriveWrappingKey(password, w.Salt)
	return gcmOpen(wrapKey, w.Sealed)
}
