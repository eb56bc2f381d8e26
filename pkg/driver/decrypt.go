package driver

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atbu-go/atbu/pkg/atbuerr"
	"github.com/atbu-go/atbu/pkg/compress"
	"github.com/atbu-go/atbu/pkg/crypto"
	"github.com/rs/zerolog"
)

// backupObjectExtensions are the on-the-wire extensions spec.md §6 names:
// ".atbak" for a plaintext body, ".atbake" for an encrypted one.
var backupObjectExtensions = []string{".atbak", ".atbake"}

// DecryptOptions configures decrypt-only mode (spec.md §4.9): raw stored
// objects already sitting on local disk, decrypted using the storage
// definition's key but without consulting the history database at all.
type DecryptOptions struct {
	SourceDir string
	DestDir   string
	DataKey   []byte // nil when the source objects are unencrypted (.atbak)
}

// DecryptDriver runs decrypt-only mode.
type DecryptDriver struct {
	Logger zerolog.Logger
}

// Run decrypts every backup object under opt.SourceDir into opt.DestDir.
// Each object's plaintext size is checked against its preamble; the
// digest check is skipped when the preamble carries no primary digest tag.
func (d *DecryptDriver) Run(opt DecryptOptions) (*Summary, error) {
	summary := &Summary{}

	var objects []string
	err := filepath.Walk(opt.SourceDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		for _, ext := range backupObjectExtensions {
			if strings.HasSuffix(p, ext) {
				objects = append(objects, p)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, atbuerr.Wrap(atbuerr.ConfigInvalid, "walking decrypt source directory", err)
	}

	for _, objPath := range objects {
		row, err := d.processOne(objPath, opt)
		if err != nil {
			summary.Failed++
			row.Decision = fmt.Sprintf("failed: %v", err)
		} else {
			summary.Verified++
		}
		summary.Add(row)
	}
	return summary, nil
}

func (d *DecryptDriver) processOne(objPath string, opt DecryptOptions) (Row, error) {
	row := Row{Path: objPath}

	raw, err := os.ReadFile(objPath)
	if err != nil {
		return row, err
	}
	preamble, offset, err := crypto.Decode(raw)
	if err != nil {
		return row, err
	}
	body := raw[offset:]
	row.Digest = preamble.PrimaryDigest

	var bodyReader io.Reader = bytes.NewReader(body)
	if preamble.IsEncrypted {
		if !preamble.IVInline {
			return row, atbuerr.New(atbuerr.EncryptionDecryptFailure,
				objPath+": IV not embedded in object and no history database available to supply it")
		}
		decryptor, err := crypto.NewCBCDecryptor(opt.DataKey, preamble.IV[:])
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
	// preamble.PlaintextSize is the true, pre-compression size; only
	// meaningful once the body has been decompressed back to it.
	if uint64(len(plaintext)) != preamble.PlaintextSize {
		return row, atbuerr.New(atbuerr.SizeMismatch,
			fmt.Sprintf("%s: expected %d plaintext bytes, got %d", objPath, preamble.PlaintextSize, len(plaintext)))
	}

	if preamble.PrimaryDigest != "" {
		sum := sha256.Sum256(plaintext)
		digest := hex.EncodeToString(sum[:])
		if digest != preamble.PrimaryDigest {
			return row, atbuerr.New(atbuerr.DigestMismatch,
				fmt.Sprintf("%s: recomputed digest %s does not match embedded %s", objPath, digest, preamble.PrimaryDigest))
		}
	}

	destPath := filepath.Join(opt.DestDir, destRelativeName(objPath, preamble.RelativePath))
	if err := os.MkdirAll(filepath.Dir(destPath), 0700); err != nil {
		return row, err
	}
	if err := os.WriteFile(destPath, plaintext, 0600); err != nil {
		return row, err
	}
	row.Decision = "decrypted"
	return row, nil
}

// destRelativeName prefers the preamble's recorded relative path, falling
// back to the object's own base name with its backup extension stripped.
func destRelativeName(objPath, relativePath string) string {
	if relativePath != "" {
		return filepath.FromSlash(relativePath)
	}
	base := filepath.Base(objPath)
	for _, ext := range backupObjectExtensions {
		if strings.HasSuffix(base, ext) {
			return strings.TrimSuffix(base, ext)
		}
	}
	return base
}
