// Package storagedef implements the storage-definition view (spec.md §4.4,
// component C4): an immutable, read-mostly resolved view of a backup
// target built from a config.Record plus a populated creds.CredentialSet.
package storagedef

import (
	"context"
	"fmt"
	"strings"

	"github.com/atbu-go/atbu/pkg/atbuerr"
	"github.com/atbu-go/atbu/pkg/config"
	"github.com/atbu-go/atbu/pkg/creds"
	"github.com/atbu-go/atbu/pkg/objectstore"
	"github.com/google/uuid"
)

// InterfaceKind is one of the three object-store interface families named
// in spec.md §3.
type InterfaceKind string

const (
	LocalFilesystem InterfaceKind = "local-filesystem"
	LibcloudLike    InterfaceKind = "libcloud-like"
	ProviderNative  InterfaceKind = "provider-native"
)

// autoCreateBudget bounds the "auto-find container name" loop (spec.md §9
// open question: "implementations should fail ... after a small fixed
// budget").
const autoCreateBudget = 8

// StorageDefinition is immutable once built by FromRecord (spec.md §3).
type StorageDefinition struct {
	Name              string
	UniqueID          string
	InterfaceKind     InterfaceKind
	ProviderID        string
	ContainerName     string
	DriverParams      map[string]string
	UploadChunkSize   int
	DownloadChunkSize int
	IsEncryptionUsed  bool
	PersistIVInObject bool
	CompressionKind   string
	Credentials       *creds.CredentialSet
}

// FromRecord builds a StorageDefinition from a persisted config.Record and
// an already-populated credential set.
func FromRecord(rec *config.Record, cs *creds.CredentialSet) (*StorageDefinition, error) {
	if err := config.ValidateName(rec.Name); err != nil {
		return nil, err
	}
	kind := InterfaceKind(rec.InterfaceKind)
	switch kind {
	case LocalFilesystem, LibcloudLike, ProviderNative:
	default:
		return nil, atbuerr.New(atbuerr.ConfigInvalid, fmt.Sprintf("unknown interface kind %q", rec.InterfaceKind))
	}
	if rec.UploadChunkSize <= 0 || rec.DownloadChunkSize <= 0 {
		return nil, atbuerr.New(atbuerr.ConfigInvalid, "chunk sizes must be positive")
	}
	return &StorageDefinition{
		Name:              rec.Name,
		UniqueID:          rec.UniqueID,
		InterfaceKind:     kind,
		ProviderID:        rec.ProviderID,
		ContainerName:     rec.Container,
		DriverParams:      rec.DriverParams,
		UploadChunkSize:   rec.UploadChunkSize,
		DownloadChunkSize: rec.DownloadChunkSize,
		IsEncryptionUsed:  rec.IsEncryptionUsed,
		PersistIVInObject: rec.PersistIVInObject,
		CompressionKind:   rec.CompressionKind,
		Credentials:       cs,
	}, nil
}

// NewUniqueID mints the stable opaque id assigned once at provisioning time
// (spec.md §3).
func NewUniqueID() string { return uuid.NewString() }

// CreateStorageInterface builds the object-store client for this
// definition. Only local-filesystem is implemented in this repository;
// libcloud-like/provider-native backends are genuinely external
// collaborators (spec.md §1/§4.4).
func (sd *StorageDefinition) CreateStorageInterface() (objectstore.Interface, error) {
	switch sd.InterfaceKind {
	case LocalFilesystem:
		return objectstore.NewLocalStore(sd.ContainerName), nil
	default:
		return nil, atbuerr.New(atbuerr.ConfigInvalid,
			fmt.Sprintf("interface kind %q has no built-in driver; it is an external collaborator", sd.InterfaceKind))
	}
}

// ResolveContainer provisions the container, resolving a trailing "*" in
// ContainerName into a unique name by appending a random UUID (spec.md §6
// "Container naming"). On success it returns the definitively-resolved
// name and the store bound to it; the caller persists the resolved name
// back into the config.Record (StorageDefinition stays immutable: a fresh
// one is built from the updated record on next load).
func (sd *StorageDefinition) ResolveContainer(ctx context.Context) (string, objectstore.Interface, error) {
	if !strings.HasSuffix(sd.ContainerName, "*") {
		store, err := sd.CreateStorageInterface()
		if err != nil {
			return "", nil, err
		}
		exists, err := store.ContainerExists(ctx)
		if err != nil {
			return "", nil, err
		}
		if !exists {
			if err := store.CreateContainer(ctx); err != nil {
				return "", nil, err
			}
		}
		return sd.ContainerName, store, nil
	}

	base := strings.TrimSuffix(sd.ContainerName, "*")
	for attempt := 0; attempt < autoCreateBudget; attempt++ {
		candidate := base + uuid.NewString()
		candidateDef := *sd
		candidateDef.ContainerName = candidate
		store, err := candidateDef.CreateStorageInterface()
		if err != nil {
			return "", nil, err
		}
		exists, err := store.ContainerExists(ctx)
		if err != nil {
			return "", nil, err
		}
		if exists {
			continue
		}
		if err := store.CreateContainer(ctx); err != nil {
			continue
		}
		return candidate, store, nil
	}
	return "", nil, atbuerr.New(atbuerr.ContainerAutoCreateFailed,
		fmt.Sprintf("could not auto-create a container for %q after %d attempts", sd.Name, autoCreateBudget))
}
