// Package config persists storage-definition records (spec.md §6) as a
// single YAML document keyed by lowercased name, the way the teacher
// persists its own cluster config with gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/atbu-go/atbu/pkg/atbuerr"
	"gopkg.in/yaml.v3"
)

var nameRE = regexp.MustCompile(`^[a-z0-9_-]+$`)

// CredentialSlotRecord is the persisted form of one creds.SlotSpec.
type CredentialSlotRecord struct {
	Kind string `yaml:"kind"`
	Ref  string `yaml:"ref"`
}

// Record is the persisted form of a storage definition (spec.md §3/§6).
type Record struct {
	Name              string                          `yaml:"-"`
	UniqueID          string                          `yaml:"unique_id"`
	InterfaceKind     string                          `yaml:"interface"`
	ProviderID        string                          `yaml:"provider,omitempty"`
	Container         string                          `yaml:"container"`
	DriverParams      map[string]string               `yaml:"driver,omitempty"`
	UploadChunkSize   int                             `yaml:"upload_chunk_size"`
	DownloadChunkSize int                             `yaml:"download_chunk_size"`
	IsEncryptionUsed  bool                            `yaml:"encryption_used"`
	PersistIVInObject bool                            `yaml:"persist_iv"`
	CompressionKind   string                          `yaml:"compression"`
	Credentials       map[string]CredentialSlotRecord `yaml:"credentials,omitempty"`
}

// Document is the on-disk envelope: storage definitions keyed by lowercased
// name (spec.md §6).
type Document struct {
	Defs map[string]*Record `yaml:",inline"`
}

// ValidateName enforces spec.md §3's `[a-z0-9_-]+` identifier rule.
func ValidateName(name string) error {
	if !nameRE.MatchString(name) {
		return atbuerr.New(atbuerr.ConfigInvalid, fmt.Sprintf("storage definition name %q must match [a-z0-9_-]+", name))
	}
	return nil
}

// Load reads a Document from path. A missing file yields an empty document,
// matching first-run behavior (no storage definitions provisioned yet).
func Load(path string) (map[string]*Record, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]*Record{}, nil
	}
	if err != nil {
		return nil, atbuerr.Wrap(atbuerr.ConfigInvalid, "reading storage definition file", err)
	}
	defs := map[string]*Record{}
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, atbuerr.Wrap(atbuerr.ConfigInvalid, "parsing storage definition file", err)
	}
	for name, rec := range defs {
		rec.Name = name
	}
	return defs, nil
}

// Save writes defs back to path as a deterministic (sorted-key) YAML
// document.
func Save(path string, defs map[string]*Record) error {
	ordered := make(map[string]*Record, len(defs))
	names := make([]string, 0, len(defs))
	for name, rec := range defs {
		names = append(names, name)
		ordered[name] = rec
	}
	sort.Strings(names)

	data, err := yaml.Marshal(ordered)
	if err != nil {
		return atbuerr.Wrap(atbuerr.ConfigInvalid, "marshalling storage definition file", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return atbuerr.Wrap(atbuerr.ConfigInvalid, "writing storage definition file", err)
	}
	return nil
}
