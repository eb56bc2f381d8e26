// Package creds implements the credential set (spec.md §4.3, component C3):
// a small typed bundle of "described credentials" bound to a named storage
// definition, with vault indirection, password-based protect/unprotect of
// the data-encryption key, and export/import for offline backup of secrets.
package creds

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/atbu-go/atbu/pkg/atbuerr"
	"github.com/atbu-go/atbu/pkg/vault"
	"github.com/rs/zerolog"
)

// CredentialName identifies the role a credential plays, per spec.md §3.
type CredentialName string

const (
	StorageAccess  CredentialName = "storage-access"
	DataEncryption CredentialName = "data-encryption"
)

// Kind identifies where a credential's material literally lives.
type Kind string

const (
	ActualSecret Kind = "actual-secret"
	FilenameRef  Kind = "filename-ref"
	EnvVarRef    Kind = "env-var-ref"
)

// IndirectionMarker is the sentinel stored in a storage-definition record in
// place of a secret when the real value lives in the credential vault.
const IndirectionMarker = "retrieved from keyring"

// DescribedCredential is one bound credential (spec.md §3).
type DescribedCredential struct {
	ConfigName     string
	CredentialName CredentialName
	Kind           Kind
	Material       []byte
}

// SlotSpec describes one raw credential slot as read from a storage
// definition record, before CredentialSet.Populate resolves it.
type SlotSpec struct {
	Name CredentialName
	Kind Kind
	// Ref is interpreted according to Kind: the literal base64 secret for
	// ActualSecret, a filesystem path for FilenameRef, an environment
	// variable name for EnvVarRef. If Ref equals IndirectionMarker
	// regardless of Kind, the slot is vault-backed instead.
	Ref string
}

// CredentialSet is an ordered collection of DescribedCredentials bound to
// one storage definition; at most one per CredentialName (spec.md §3
// invariant).
type CredentialSet struct {
	ConfigName string

	entries map[CredentialName]*DescribedCredential
	order   []CredentialName

	vault  vault.Vault
	logger zerolog.Logger

	// dataKeyWrapped is non-nil when the data-encryption key is
	// password-protected and has not yet been unprotected.
	dataKeyWrapped *wrappedKey
}

// New builds an empty CredentialSet for the named storage definition.
func New(configName string, v vault.Vault, logger zerolog.Logger) *CredentialSet {
	return &CredentialSet{
		ConfigName: configName,
		entries:    make(map[CredentialName]*DescribedCredential),
		vault:      v,
		logger:     logger,
	}
}

// Get returns the credential bound to name, if any.
func (cs *CredentialSet) Get(name CredentialName) (*DescribedCredential, bool) {
	c, ok := cs.entries[name]
	return c, ok
}

func (cs *CredentialSet) set(c *DescribedCredential) {
	if _, exists := cs.entries[c.CredentialName]; !exists {
		cs.order = append(cs.order, c.CredentialName)
	}
	cs.entries[c.CredentialName] = c
}

// Populate walks the storage-definition record's raw slots; for any slot
// pointing at the vault (spec.md §4.3) it fetches the material by
// (ConfigName, CredentialName); otherwise it resolves Kind/Ref locally.
func (cs *CredentialSet) Populate(ctx context.Context, slots []SlotSpec) error {
	for _, slot := range slots {
		if slot.Ref == IndirectionMarker {
			if cs.vault == nil {
				return atbuerr.New(atbuerr.CredentialInvalid,
					fmt.Sprintf("credential %s is vault-indirected but no vault is configured", slot.Name))
			}
			material, err := cs.vault.Get(ctx, cs.ConfigName, string(slot.Name))
			if err != nil {
				return atbuerr.Wrap(atbuerr.CredentialInvalid,
					fmt.Sprintf("fetching %s/%s from vault", cs.ConfigName, slot.Name), err)
			}
			if err := cs.absorb(slot.Name, slot.Kind, material); err != nil {
				return err
			}
			continue
		}

		var material []byte
		var err error
		switch slot.Kind {
		case ActualSecret:
			material, err = base64.StdEncoding.DecodeString(slot.Ref)
		case FilenameRef:
			material, err = os.ReadFile(slot.Ref)
		case EnvVarRef:
			val, ok := os.LookupEnv(slot.Ref)
			if !ok {
				err = atbuerr.New(atbuerr.CredentialInvalid, fmt.Sprintf("env var %s not set", slot.Ref))
			}
			material = []byte(val)
		default:
			err = atbuerr.New(atbuerr.CredentialInvalid, fmt.Sprintf("unknown credential kind %q", slot.Kind))
		}
		if err != nil {
			return atbuerr.Wrap(atbuerr.CredentialInvalid,
				fmt.Sprintf("resolving credential %s", slot.Name), err)
		}
		if err := cs.absorb(slot.Name, slot.Kind, material); err != nil {
			return err
		}
	}
	cs.logger.Debug().Str("storage_def", cs.ConfigName).Int("count", len(cs.entries)).Msg("populated credential set")
	return nil
}

// absorb stores resolved material, recognizing a JSON-wrapped data
// encryption key and deferring its plaintext until Unprotect is called.
func (cs *CredentialSet) absorb(name CredentialName, kind Kind, material []byte) error {
	if name == DataEncryption {
		var w wrappedKey
		if json.Unmarshal(material, &w) == nil && len(w.Sealed) > 0 && len(w.Salt) > 0 {
			cs.dataKeyWrapped = &w
			cs.set(&DescribedCredential{ConfigName: cs.ConfigName, CredentialName: name, Kind: kind})
			return nil
		}
	}
	cs.set(&DescribedCredential{ConfigName: cs.ConfigName, CredentialName: name, Kind: kind, Material: material})
	return nil
}

// Unprotect derives the wrapping key from password via the configured KDF
// and decrypts the data-encryption key, validating its GCM authentication
// tag. If the key was never password-protected, password is ignored and
// Unprotect is a no-op.
func (cs *CredentialSet) Unprotect(password string) error {
	if cs.dataKeyWrapped == nil {
		return nil
	}
	plain, err := unwrapKey(password, cs.dataKeyWrapped)
	if err != nil {
		return err
	}
	cs.set(&DescribedCredential{
		ConfigName:     cs.ConfigName,
		CredentialName: DataEncryption,
		Kind:           ActualSecret,
		Material:       plain,
	})
	cs.dataKeyWrapped = nil
	return nil
}

// Protect (re)wraps the plaintext data-encryption key under password and
// clears the plaintext copy from the set; pass "" to remove protection
// (store the key in the clear, e.g. for automated unattended backups).
func (cs *CredentialSet) Protect(password string) error {
	cred, ok := cs.entries[DataEncryption]
	if !ok || len(cred.Material) == 0 {
		return atbuerr.New(atbuerr.CredentialInvalid, "no data-encryption key material to protect")
	}
	if password == "" {
		cs.dataKeyWrapped = nil
		return nil
	}
	w, err := wrapKey(password, cred.Material)
	if err != nil {
		return err
	}
	cs.dataKeyWrapped = w
	for i := range cred.Material {
		cred.Material[i] = 0
	}
	cred.Material = nil
	return nil
}

// DataEncryptionKey returns the resolved plaintext data-encryption key, or
// an error if it is still password-protected (Unprotect was not called or
// was called with the wrong password).
func (cs *CredentialSet) DataEncryptionKey() ([]byte, error) {
	if cs.dataKeyWrapped != nil {
		return nil, atbuerr.New(atbuerr.CredentialInvalid, "data-encryption key is still password-protected")
	}
	cred, ok := cs.entries[DataEncryption]
	if !ok || len(cred.Material) == 0 {
		return nil, atbuerr.New(atbuerr.CredentialInvalid, "no data-encryption key available")
	}
	return cred.Material, nil
}

// SetSlot stores a credential directly, bypassing Populate; used by
// provisioning paths (creds create-storage-def) that mint new material
// rather than reading it back from a record.
func (cs *CredentialSet) SetSlot(name CredentialName, kind Kind, material []byte) {
	cs.set(&DescribedCredential{ConfigName: cs.ConfigName, CredentialName: name, Kind: kind, Material: material})
}

// SaveSlot is the persisted form of one credential, returned by Save for
// the caller (pkg/config) to write into its own record representation.
type SaveSlot struct {
	Name      CredentialName
	Indirect  bool   // true: caller should store IndirectionMarker
	Plaintext string // valid when !Indirect: base64 material to store inline
}

// Save pushes vault-backed material to the vault and returns, for every
// bound credential, how the storage-definition record should represent it
// (spec.md §4.3 "writes indirection markers... and pushes material to the
// credential vault"). toVault controls which credential names should be
// pushed to the vault rather than stored inline.
func (cs *CredentialSet) Save(ctx context.Context, toVault map[CredentialName]bool) ([]SaveSlot, error) {
	var out []SaveSlot
	for _, name := range cs.order {
		cred := cs.entries[name]
		material := cred.Material
		if name == DataEncryption && cs.dataKeyWrapped != nil {
			blob, err := json.Marshal(cs.dataKeyWrapped)
			if err != nil {
				return nil, atbuerr.Wrap(atbuerr.CredentialInvalid, "marshalling wrapped data-encryption key", err)
			}
			material = blob
		}

		if toVault[name] {
			if cs.vault == nil {
				return nil, atbuerr.New(atbuerr.CredentialInvalid, "no vault configured to save credential")
			}
			if err := cs.vault.Set(ctx, cs.ConfigName, string(name), material); err != nil {
				return nil, atbuerr.Wrap(atbuerr.CredentialInvalid, "writing credential to vault", err)
			}
			out = append(out, SaveSlot{Name: name, Indirect: true})
			continue
		}
		out = append(out, SaveSlot{Name: name, Plaintext: base64.StdEncoding.EncodeToString(material)})
	}
	return out, nil
}

// Export returns the plaintext material for every bound credential, for
// offline backup (spec.md §4.3 "Export writes the plaintext secret for
// offline backup"). The data-encryption key must already be unprotected.
func (cs *CredentialSet) Export() (map[CredentialName][]byte, error) {
	out := make(map[CredentialName][]byte, len(cs.entries))
	for name, cred := range cs.entries {
		if name == DataEncryption && cs.dataKeyWrapped != nil {
			return nil, atbuerr.New(atbuerr.CredentialInvalid, "cannot export a still-protected data-encryption key")
		}
		out[name] = append([]byte(nil), cred.Material...)
	}
	return out, nil
}

// Import re-indirects previously exported plaintext material, the inverse
// of Export (spec.md §4.3 "import reverses the process and re-indirects").
func Import(configName string, v vault.Vault, logger zerolog.Logger, material map[CredentialName][]byte) *CredentialSet {
	cs := New(configName, v, logger)
	for name, m := range material {
		cs.SetSlot(name, ActualSecret, append([]byte(nil), m...))
	}
	return cs
}
