package driver

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/atbu-go/atbu/pkg/atbuerr"
	"github.com/atbu-go/atbu/pkg/backupdb"
	"github.com/atbu-go/atbu/pkg/compress"
	"github.com/atbu-go/atbu/pkg/crypto"
	"github.com/atbu-go/atbu/pkg/metrics"
	"github.com/atbu-go/atbu/pkg/objectstore"
	"github.com/atbu-go/atbu/pkg/storagedef"
	"github.com/rs/zerolog"
)

// Mode selects what a resolved file's decrypted bytes are used for
// (spec.md §4.9: "write to the destination file (restore), compare
// against the local file at the same offset (verify+compare), or discard
// (verify-only)").
type Mode string

const (
	ModeRestore       Mode = "restore"
	ModeVerifyCompare Mode = "verify-compare"
	ModeVerifyOnly    Mode = "verify-only"
)

// Selection is one user specifier, `storage:<name> backup:<tag>
// files:<glob>` (spec.md §4.9). BackupTag of "last" resolves to the newest
// SpecificBackup.
type Selection struct {
	BackupTag string
	FilesGlob string
}

// RestoreOptions configures one restore/verify run.
type RestoreOptions struct {
	Mode            Mode
	DestRoot        string
	Selections      []Selection
	AutoPathMapping bool // restore only; spec.md §4.9 default on
}

// RestoreDriver runs the restore/verify sequence (spec.md §4.9, component
// C9). Decrypt-only mode bypasses this driver entirely; see decrypt.go.
type RestoreDriver struct {
	StorageDef *storagedef.StorageDefinition
	Store      objectstore.Interface
	DB         *backupdb.Database
	Logger     zerolog.Logger
	Retry      RetryPolicy
}

// resolvedFile is one BackupFileInformation selected for processing,
// already resolved to its physical record (Invariant 2).
type resolvedFile struct {
	logicalPath   string // the path recorded at backup time
	discoveryRoot string
	physical      *backupdb.BackupFileInformation
}

// Run resolves every selection to physical records, then streams each
// one through download/decrypt/decompress, finalizing with a digest and
// size assertion (spec.md §4.9).
func (d *RestoreDriver) Run(ctx context.Context, opt RestoreOptions) (*Summary, error) {
	summary := &Summary{StorageDef: d.StorageDef.Name}

	files, err := d.resolveSelections(opt.Selections)
	if err != nil {
		return nil, err
	}

	var destPrefix string
	if opt.Mode == ModeRestore && opt.AutoPathMapping {
		destPrefix = commonDiscoveryPrefix(files)
	}

	var dataKey []byte
	if d.StorageDef.IsEncryptionUsed {
		dataKey, err = d.StorageDef.Credentials.DataEncryptionKey()
		if err != nil {
			return nil, err
		}
	}

	for _, rf := range files {
		row, err := d.processOne(ctx, rf, opt, destPrefix, dataKey)
		if err != nil {
			summary.Failed++
			metrics.FilesFailedTotal.WithLabelValues(d.StorageDef.Name, "restore").Inc()
			row.Decision = fmt.Sprintf("failed: %v", err)
		} else {
			summary.Verified++
		}
		summary.Add(row)
	}
	return summary, nil
}

// resolveSelections expands every Selection against the history database,
// following each matched record's duplicate chain to its physical record.
func (d *RestoreDriver) resolveSelections(selections []Selection) ([]resolvedFile, error) {
	var out []resolvedFile
	for _, sel := range selections {
		sb, err := d.resolveBackupTag(sel.BackupTag)
		if err != nil {
			return nil, err
		}
		for logicalPath, bfi := range sb.FileRecords {
			if bfi.BackingDigest == "" && bfi.StorageObjectName == "" {
				continue // skip-unchanged or failed record, nothing to fetch
			}
			rel := relativeTo(bfi.DiscoveryRoot, bfi.Path)
			if sel.FilesGlob != "" {
				matched, err := path.Match(sel.FilesGlob, rel)
				if err != nil {
					return nil, atbuerr.New(atbuerr.ConfigInvalid, "invalid files glob "+sel.FilesGlob)
				}
				if !matched {
					continue
				}
			}
			physical, err := bfi.ResolvePhysical()
			if err != nil {
				return nil, err
			}
			out = append(out, resolvedFile{logicalPath: logicalPath, discoveryRoot: bfi.DiscoveryRoot, physical: physical})
		}
	}
	return out, nil
}

func (d *RestoreDriver) resolveBackupTag(tag string) (*backupdb.SpecificBackup, error) {
	if tag == "" || tag == "last" {
		sb, ok := d.DB.Latest()
		if !ok {
			return nil, atbuerr.New(atbuerr.VerifyFilePathNotFound, "no backups recorded for this storage definition")
		}
		return sb, nil
	}
	for _, sb := range d.DB.SpecificBackups {
		if sb.BackupName == tag {
			return sb, nil
		}
	}
	return nil, atbuerr.New(atbuerr.VerifyFilePathNotFound, "no backup named "+tag)
}

// commonDiscoveryPrefix computes the longest common path-element prefix of
// every selected file's discovery root (spec.md §4.9 "Auto path mapping").
func commonDiscoveryPrefix(files []resolvedFile) string {
	if len(files) == 0 {
		return ""
	}
	common := strings.Split(filepath.ToSlash(files[0].discoveryRoot), "/")
	for _, rf := range files[1:] {
		parts := strings.Split(filepath.ToSlash(rf.discoveryRoot), "/")
		common = commonPrefixParts(common, parts)
	}
	return strings.Join(common, "/")
}

func commonPrefixParts(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// processOne downloads, decrypts, decompresses and either writes, compares
// or discards one resolved file, then asserts digest/size per spec.md
// §4.9.
func (d *RestoreDriver) processOne(ctx context.Context, rf resolvedFile, opt RestoreOptions, destPrefix string, dataKey []byte) (Row, error) {
	row := Row{Path: rf.logicalPath, Digest: rf.physical.PrimaryDigest}

	var raw []byte
	err := WithRetry(ctx, d.Retry, d.Logger, d.StorageDef.Name, "get_object", func() error {
		rc, err := d.Store.GetObject(ctx, rf.physical.StorageObjectName)
		if err != nil {
			return err
		}
		defer rc.Close()
		raw, err = io.ReadAll(rc)
		return err
	})
	if err != nil {
		return row, err
	}

	preamble, offset, err := crypto.Decode(raw)
	if err != nil {
		return row, err
	}
	body := raw[offset:]

	var bodyReader io.Reader = bytes.NewReader(body)
	if preamble.IsEncrypted {
		iv := rf.physical.IV
		if preamble.IVInline {
			iv = append([]byte(nil), preamble.IV[:]...)
		}
		decryptor, err := crypto.NewCBCDecryptor(dataKey, iv)
		if err != nil {
			return row, err
		}
		bodyReader = crypto.NewDecryptingReader(bodyReader, decryptor)
	}

	preEncrypted, err := io.ReadAll(bodyReader)
	if err != nil {
		return row, err
	}

	plaintext, err := compress.Decompress(compress.Kind(preamble.CompressionKind), preEncrypted)
	if err != nil {
		return row, err
	}
	// preamble.PlaintextSize records the true, pre-compression file size
	// (spec.md §4.9 "assert total bytes == recorded plaintext size"); the
	// assertion only means something once the body has actually been
	// decompressed back to that size.
	if uint64(len(plaintext)) != preamble.PlaintextSize {
		return row, atbuerr.New(atbuerr.SizeMismatch,
			fmt.Sprintf("%s: expected %d plaintext bytes, got %d", rf.logicalPath, preamble.PlaintextSize, len(plaintext)))
	}
	if int64(len(plaintext)) != rf.physical.SizeInBytes {
		return row, atbuerr.New(atbuerr.SizeMismatch,
			fmt.Sprintf("%s: history database recorded %d bytes, restored %d", rf.logicalPath, rf.physical.SizeInBytes, len(plaintext)))
	}

	sum := sha256.Sum256(plaintext)
	digest := hex.EncodeToString(sum[:])
	if digest != rf.physical.PrimaryDigest {
		return row, atbuerr.New(atbuerr.DigestMismatch,
			fmt.Sprintf("%s: recomputed digest %s does not match recorded %s", rf.logicalPath, digest, rf.physical.PrimaryDigest))
	}

	switch opt.Mode {
	case ModeRestore:
		destPath, err := destinationPath(opt.DestRoot, destPrefix, rf.discoveryRoot, rf.logicalPath)
		if err != nil {
			return row, err
		}
		if _, err := os.Stat(destPath); err == nil {
			return row, atbuerr.New(atbuerr.RestorePathExists, destPath)
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0700); err != nil {
			return row, err
		}
		if err := os.WriteFile(destPath, plaintext, 0600); err != nil {
			return row, err
		}
		row.Decision = "restored"

	case ModeVerifyCompare:
		local, err := os.ReadFile(rf.logicalPath)
		if err != nil {
			return row, atbuerr.Wrap(atbuerr.VerifyFilePathNotFound, rf.logicalPath, err)
		}
		if !bytes.Equal(local, plaintext) {
			return row, atbuerr.New(atbuerr.CompareBytesMismatch, rf.logicalPath)
		}
		row.Decision = "verified-compare"

	case ModeVerifyOnly:
		row.Decision = "verified"

	default:
		return row, atbuerr.New(atbuerr.ConfigInvalid, "unknown restore mode "+string(opt.Mode))
	}

	metrics.FilesScannedTotal.WithLabelValues(d.StorageDef.Name).Inc()
	return row, nil
}

// destinationPath maps a backed-up file's logical path onto the
// destination root, stripping the shared discovery-root prefix so
// restored files land relative to destPrefix under destRoot (spec.md
// §4.9 "Auto path mapping"). An empty destPrefix (auto path mapping off)
// keeps the whole logical path under destRoot.
func destinationPath(destRoot, destPrefix, discoveryRoot, logicalPath string) (string, error) {
	if destPrefix == "" {
		return filepath.Join(destRoot, filepath.FromSlash(logicalPath)), nil
	}
	rel, err := filepath.Rel(destPrefix, logicalPath)
	if err != nil {
		rel = relativeTo(discoveryRoot, logicalPath)
	}
	return filepath.Join(destRoot, filepath.FromSlash(rel)), nil
}
