// Package objectstore defines the minimal object-store driver contract
// spec.md §1/§4.4 treats as an external collaborator ("a thin
// container/object interface is consumed; its implementations are out of
// scope") and ships the one concrete backend spec.md's end-to-end scenarios
// actually exercise: a local filesystem directory acting as a container.
// Cloud/libcloud-like/provider-native backends are genuinely out of scope —
// this package only defines the seam they would plug into.
package objectstore

import (
	"context"
	"io"
)

// Interface is the contract the backup/restore/recover drivers consume.
// Every method is safe to retry; the driver layer (pkg/driver) wraps calls
// with its own bounded-retry policy per spec.md §7.
type Interface interface {
	// ListObjects returns the names of every object whose name starts with
	// prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	// GetObject opens a stream over the named object's bytes.
	GetObject(ctx context.Context, name string) (io.ReadCloser, error)
	// PutObject uploads r as the named object. chunkSize is advisory,
	// mirroring drivers (e.g. libcloud-style multipart uploads) that must
	// see input in fixed-size pieces.
	PutObject(ctx context.Context, name string, r io.Reader, chunkSize int) error
	// DeleteObject removes the named object; deleting a nonexistent object
	// is not an error.
	DeleteObject(ctx context.Context, name string) error
	// CreateContainer creates the backing container if it does not exist.
	CreateContainer(ctx context.Context) error
	// ContainerExists reports whether the backing container is already
	// provisioned.
	ContainerExists(ctx context.Context) (bool, error)
}
