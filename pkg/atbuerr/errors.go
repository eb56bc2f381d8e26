// Package atbuerr defines the engine's abstract error kinds (spec.md §7) as
// a single comparable type instead of the one-exception-subclass-per-kind
// hierarchy of the original Python implementation. Call sites wrap a kind
// with context the way the rest of the codebase wraps errors:
//
//	return fmt.Errorf("loading %s: %w", path, atbuerr.New(atbuerr.ConfigInvalid, "missing name field"))
//
// and callers that need to branch on the kind use errors.Is against one of
// the Kind sentinels, or errors.As to recover the *Error and its message.
package atbuerr

import (
	"errors"
	"fmt"
)

// Kind is one of the abstract error kinds named in spec.md §7. Kind values
// are comparable and meant to be matched with errors.Is.
type Kind string

const (
	ConfigInvalid             Kind = "config-invalid"
	StorageDefNotFound        Kind = "storage-def-not-found"
	CredentialInvalid         Kind = "credential-invalid"
	PasswordAuthFailure       Kind = "password-authentication-failure"
	CredentialSecretDerive    Kind = "credential-secret-derivation"
	EncryptionDecryptFailure  Kind = "encryption-decryption-failure"
	AlreadyFinalized          Kind = "already-finalized"
	AlreadyUsed               Kind = "already-used"
	AlreadyEOF                Kind = "already-eof"
	PreambleParse             Kind = "preamble-parse"
	DigestMismatch            Kind = "digest-mismatch"
	SizeMismatch              Kind = "size-mismatch"
	DatetimeMismatch          Kind = "datetime-mismatch"
	CompareBytesMismatch      Kind = "compare-bytes-mismatch"
	VerifyFilePathNotFound    Kind = "verify-file-path-not-found"
	RestorePathExists         Kind = "restore-path-exists"
	BackupInfoRecovery        Kind = "backup-info-recovery"
	ContainerAlreadyExists    Kind = "container-already-exists"
	ContainerAutoCreateFailed Kind = "container-auto-create-failed"
	InvalidContainerName      Kind = "invalid-container-name"
	RetryLimitReached         Kind = "retry-limit-reached"
	PipeConnectionEOF         Kind = "pipe-connection-eof"
	InvalidPipelineMessage    Kind = "invalid-pipeline-message"
)

// Error pairs one of the above Kinds with a human-readable message and an
// optional wrapped cause, mirroring the original's AtbuException.cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the same Kind, so callers can write
// errors.Is(err, atbuerr.New(atbuerr.DigestMismatch, "")) or, more commonly,
// errors.Is(err, atbuerr.Sentinel(atbuerr.DigestMismatch)).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinel returns a bare *Error carrying only a Kind, suitable as the
// target of errors.Is to test "is this failure of kind K" regardless of
// message or cause.
func Sentinel(kind Kind) error {
	return &Error{Kind: kind}
}

// Of reports the Kind of err if it (or something it wraps) is an *Error,
// and ok=false otherwise.
func Of(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
