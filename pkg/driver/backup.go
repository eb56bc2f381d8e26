// Package driver implements the backup, restore/verify/decrypt, and
// recovery orchestration sequences (spec.md §4.8–§4.10, components
// C8–C10): the glue between the storage definition, credential set,
// history database, classifier, and pipeline.
package driver

import (
	"bytes"
	"context"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/atbu-go/atbu/pkg/atbuerr"
	"github.com/atbu-go/atbu/pkg/backupdb"
	"github.com/atbu-go/atbu/pkg/classifier"
	"github.com/atbu-go/atbu/pkg/compress"
	"github.com/atbu-go/atbu/pkg/crypto"
	"github.com/atbu-go/atbu/pkg/metrics"
	"github.com/atbu-go/atbu/pkg/objectstore"
	"github.com/atbu-go/atbu/pkg/pipeline"
	"github.com/atbu-go/atbu/pkg/storagedef"
	"github.com/rs/zerolog"
)

// s1Result is S1's classification output, threaded through to S4 either
// directly (skip/duplicate items never visit S2/S3) or wrapped inside a
// finalizeResult (uploaded items).
type s1Result struct {
	path          string
	discoveryRoot string
	modUsec       int64
	size          int64
	ext           string
	digest        string

	decision    classifier.Decision
	bitrot      bool
	priorDigest string
	duplicateOf *backupdb.BackupFileInformation

	// sideband carries S2-computed metadata to S3 out of band: producer
	// and consumer run in separate goroutines over the frame pipe and
	// never see each other's returned Item, so anything S4 needs that
	// isn't re-derivable from the ciphertext itself rides here. The
	// producer fills it in before writing its first frame, and the
	// blocking io.Pipe write-before-read establishes the happens-before
	// edge that makes the plain (unsynchronized) read in the consumer
	// safe.
	sideband *uploadSideband
}

// uploadSideband is S2's out-of-band report to S3 of what it did to the
// plaintext before any ciphertext reached the pipe.
type uploadSideband struct {
	iv              []byte
	isEncrypted     bool
	compressionKind string
}

// finalizeResult is S3's output: the uploaded object's identity, merged
// with the s1Result that drove the upload.
type finalizeResult struct {
	s1              *s1Result
	objectName      string
	iv              []byte
	ciphertextSize  int64
	isEncrypted     bool
	compressionKind string
}

// BackupOptions configures one backup run (spec.md §4.8).
type BackupOptions struct {
	BaseName      string
	BackupType    classifier.BackupType
	Dedup         classifier.DedupMode
	SquelchBitrot bool
	SourceRoots   []string
	Excludes      []string // glob patterns, matched against the file's base name
	MaxInFlight   int
	DryRun        bool
}

// BackupDriver runs one backup invocation end-to-end (spec.md §4.8,
// component C8).
type BackupDriver struct {
	StorageDef *storagedef.StorageDefinition
	Store      objectstore.Interface
	DB         *backupdb.Database
	Logger     zerolog.Logger
	Retry      RetryPolicy
}

// Run executes the sequence: enumerate sources, classify + upload each
// through the pipeline, finalize the database (spec.md §4.8).
func (d *BackupDriver) Run(ctx context.Context, opt BackupOptions) (*Summary, error) {
	startTime := timeNow()
	sb := backupdb.NewSpecificBackup(opt.BaseName, string(opt.BackupType), startTime)
	d.DB.StartRun()

	summary := &Summary{StorageDef: d.StorageDef.Name, BackupName: sb.BackupName, DryRun: opt.DryRun}

	files, err := enumerate(opt.SourceRoots, opt.Excludes)
	if err != nil {
		return nil, err
	}

	var dataKey []byte
	if d.StorageDef.IsEncryptionUsed {
		dataKey, err = d.StorageDef.Credentials.DataEncryptionKey()
		if err != nil {
			return nil, err
		}
	}

	var mu sync.Mutex
	stages := []pipeline.Stage{
		d.stageClassify(opt),
		d.stageEncryptAndUpload(dataKey, opt),
		d.stageConsumeUpload(opt),
		d.stageFinalize(sb, summary, &mu),
	}
	ctrl := pipeline.New(stages, opt.MaxInFlight, d.Logger)
	ctrl.Start(ctx)

	results := make([]<-chan pipeline.Item, 0, len(files))
	for _, f := range files {
		metrics.FilesScannedTotal.WithLabelValues(d.StorageDef.Name).Inc()
		metrics.PipelineItemsInFlight.WithLabelValues(d.StorageDef.Name).Inc()
		results = append(results, ctrl.Submit(pipeline.Item{Path: f.path, Payload: f}))
	}
	for _, r := range results {
		<-r
		metrics.PipelineItemsInFlight.WithLabelValues(d.StorageDef.Name).Dec()
	}
	ctrl.Shutdown()

	sb.EndTimeUTC = timeNow()

	if !opt.DryRun {
		if err := d.DB.AppendSpecificBackup(sb); err != nil {
			return nil, err
		}
		if err := saveDatabase(ctx, d.Store, d.StorageDef, dataKey, d.DB); err != nil {
			return nil, err
		}
	}

	return summary, nil
}

// sourceFile is S1's input payload.
type sourceFile struct {
	path          string
	discoveryRoot string
	modUsec       int64
	size          int64
	ext           string
}

func (d *BackupDriver) stageClassify(opt BackupOptions) pipeline.Stage {
	return pipeline.StageFunc{
		StageName: "S1-classify",
		Admit:     func(pipeline.Item) bool { return true },
		Fn: func(ctx context.Context, it pipeline.Item) pipeline.Item {
			src, ok := it.Payload.(sourceFile)
			if !ok {
				return it.WithError(atbuerr.New(atbuerr.ConfigInvalid, "S1 received an unexpected payload type"))
			}

			digest, err := digestFile(src.path)
			if err != nil {
				metrics.FilesFailedTotal.WithLabelValues(d.StorageDef.Name, "S1").Inc()
				return it.WithError(err)
			}

			normalized := normalizePath(src.path)
			prior, _ := d.DB.LatestByPath(normalized)

			cr := classifier.Classify(classifier.SourceFile{
				Path: src.path, ModifiedTime: src.modUsec, SizeInBytes: src.size,
				Digest: digest, Extension: src.ext,
			}, classifier.Options{
				BackupType:     opt.BackupType,
				Dedup:          opt.Dedup,
				SquelchBitrot:  opt.SquelchBitrot,
				PriorRecord:    prior,
				LookupByDigest: d.DB.PhysicalByDigest,
			})

			res := &s1Result{
				path: src.path, discoveryRoot: src.discoveryRoot, modUsec: src.modUsec,
				size: src.size, ext: src.ext, digest: digest,
				decision: cr.Decision, bitrot: cr.IsBitrotDetected, priorDigest: cr.PriorDigest,
				duplicateOf: cr.DuplicateOf, sideband: &uploadSideband{},
			}

			if res.decision == classifier.Upload {
				placeholder := &backupdb.BackupFileInformation{
					Path: src.path, DiscoveryRoot: src.discoveryRoot, PrimaryDigest: digest,
					ModifiedTime: src.modUsec, SizeInBytes: src.size,
				}
				physical, became := d.DB.PromoteOrDuplicate(digest, placeholder, opt.Dedup != classifier.DedupNone)
				if !became {
					res.decision = classifier.RecordDuplicate
					res.duplicateOf = physical
				}
			}

			if res.bitrot {
				metrics.BitrotWarningsTotal.WithLabelValues(d.StorageDef.Name).Inc()
				d.Logger.Warn().Str("path", src.path).Msg("bitrot detected: mtime/size unchanged but digest differs")
			}

			it.Payload = res
			return it
		},
	}
}

func (d *BackupDriver) stageEncryptAndUpload(dataKey []byte, opt BackupOptions) pipeline.PairedStageAdapter {
	return pipeline.PairedStageAdapter{
		StageName: "S2-encrypt",
		Admit: func(it pipeline.Item) bool {
			res, ok := it.Payload.(*s1Result)
			return ok && res.decision == classifier.Upload && !opt.DryRun
		},
		Fn: func(ctx context.Context, it pipeline.Item) pipeline.Item {
			res := pipeline.InnerPayload(it).(*s1Result)
			w, ok := pipeline.FrameWriterOf(it)
			if !ok {
				return it.WithError(atbuerr.New(atbuerr.InvalidPipelineMessage, "S2 has no frame writer"))
			}

			plaintext, err := os.ReadFile(res.path)
			if err != nil {
				return it.WithError(err)
			}

			compressionKind := compress.None
			if d.StorageDef.CompressionKind != "" {
				compressionKind = compress.Kind(d.StorageDef.CompressionKind)
			}
			compressed, err := compress.Compress(compressionKind, plaintext)
			if err != nil {
				return it.WithError(err)
			}

			var encryptor *crypto.CBCEncryptor
			var iv []byte
			isEncrypted := d.StorageDef.IsEncryptionUsed
			if isEncrypted {
				ivBuf := make([]byte, crypto.BlockSize)
				if _, err := cryptorand.Read(ivBuf); err != nil {
					return it.WithError(err)
				}
				enc, err := crypto.NewCBCEncryptor(dataKey, ivBuf)
				if err != nil {
					return it.WithError(err)
				}
				encryptor = enc
				iv = ivBuf
			}
			res.sideband.iv = iv
			res.sideband.isEncrypted = isEncrypted
			res.sideband.compressionKind = string(compressionKind)

			p := crypto.NewPreamble()
			p.IsEncrypted = isEncrypted
			p.IVInline = isEncrypted && d.StorageDef.PersistIVInObject
			p.Compressed = compressionKind != compress.None
			if p.IVInline {
				copy(p.IV[:], iv)
			}
			p.RelativePath = relativeTo(res.discoveryRoot, res.path)
			p.ModTimeUsec = res.modUsec
			p.PlaintextSize = uint64(len(plaintext))
			p.CompressionKind = string(compressionKind)
			p.PrimaryDigest = res.digest

			preambleBytes, err := crypto.Encode(p)
			if err != nil {
				return it.WithError(err)
			}

			cr := crypto.OpenChunkReader(bytes.NewReader(compressed), d.StorageDef.UploadChunkSize, encryptor)
			if err := cr.QueueData(preambleBytes, false); err != nil {
				return it.WithError(err)
			}

			var total int64
			var prev []byte
			havePrev := false
			for {
				chunk, err := cr.ReadChunk()
				if err != nil {
					return it.WithError(err)
				}
				if len(chunk) == 0 {
					break
				}
				if havePrev {
					if err := w.WriteData(prev); err != nil {
						return it.WithError(err)
					}
					total += int64(len(prev))
				}
				prev = chunk
				havePrev = true
			}
			if havePrev {
				if err := w.WriteFinal(prev); err != nil {
					return it.WithError(err)
				}
				total += int64(len(prev))
			} else if err := w.WriteFinal(nil); err != nil {
				return it.WithError(err)
			}

			return it
		},
	}
}

func (d *BackupDriver) stageConsumeUpload(opt BackupOptions) pipeline.Stage {
	return pipeline.StageFunc{
		StageName: "S3-upload",
		// S3 only ever runs paired with S2 (the controller invokes it
		// directly in that case without consulting IsForStage); if S2 was
		// not admitted, S3 must not run standalone either.
		Admit: func(pipeline.Item) bool { return false },
		Fn: func(ctx context.Context, it pipeline.Item) pipeline.Item {
			r, ok := pipeline.FrameReaderOf(it)
			if !ok {
				return it.WithError(atbuerr.New(atbuerr.InvalidPipelineMessage, "S3 has no frame reader"))
			}
			var buf bytes.Buffer
			for {
				payload, final, err := r.ReadFrame()
				buf.Write(payload)
				if final || err == io.EOF {
					break
				}
				if err != nil {
					return it.WithError(err)
				}
			}

			res := pipeline.InnerPayload(it).(*s1Result)
			objectName := objectNameFor(opt.BaseName, res.digest, res.sideband.isEncrypted)

			err := WithRetry(ctx, d.Retry, d.Logger, d.StorageDef.Name, "put_object", func() error {
				return d.Store.PutObject(ctx, objectName, bytes.NewReader(buf.Bytes()), d.StorageDef.UploadChunkSize)
			})
			if err != nil {
				return it.WithError(err)
			}
			metrics.BytesUploadedTotal.WithLabelValues(d.StorageDef.Name).Add(float64(buf.Len()))

			it.Payload = finalizeResult{
				s1: res, objectName: objectName, ciphertextSize: int64(buf.Len()),
				iv: res.sideband.iv, isEncrypted: res.sideband.isEncrypted,
				compressionKind: res.sideband.compressionKind,
			}
			return it
		},
	}
}

func (d *BackupDriver) stageFinalize(sb *backupdb.SpecificBackup, summary *Summary, mu *sync.Mutex) pipeline.Stage {
	return pipeline.StageFunc{
		StageName: "S4-finalize",
		Admit:     func(pipeline.Item) bool { return true },
		Fn: func(ctx context.Context, it pipeline.Item) pipeline.Item {
			mu.Lock()
			defer mu.Unlock()

			switch v := it.Payload.(type) {
			case *s1Result:
				bfi := &backupdb.BackupFileInformation{
					Path: v.path, DiscoveryRoot: v.discoveryRoot, ModifiedTime: v.modUsec,
					SizeInBytes: v.size, PrimaryDigest: v.digest, IsSuccessful: true,
				}
				row := Row{Path: v.path, Digest: v.digest}
				switch v.decision {
				case classifier.SkipUnchanged:
					bfi.IsUnchangedSinceLast = true
					row.Decision = "skip-unchanged"
					summary.Skipped++
					metrics.FilesSkippedTotal.WithLabelValues(d.StorageDef.Name).Inc()
				case classifier.RecordDuplicate:
					bfi.BackingDigest = v.digest
					bfi.BackingFileInfo = v.duplicateOf
					row.Decision = "record-duplicate"
					summary.Duplicated++
					metrics.FilesDuplicatedTotal.WithLabelValues(d.StorageDef.Name).Inc()
				case classifier.Upload:
					// Only reached in dry-run mode: S2/S3 are never admitted,
					// so the would-be upload arrives here still a bare
					// s1Result instead of a finalizeResult (spec.md §4.8 "S2/S3
					// are replaced by a no-op stage that logs the decision but
					// does not touch the container").
					row.Decision = "would-upload"
					summary.Uploaded++
					if v.bitrot {
						summary.BitrotWarns++
					}
				}
				sb.Insert(normalizePath(v.path), bfi)
				summary.Add(row)

			case finalizeResult:
				placeholder, _ := d.DB.PhysicalByDigest(v.s1.digest)
				if placeholder == nil {
					placeholder = &backupdb.BackupFileInformation{}
				}
				placeholder.Path = v.s1.path
				placeholder.DiscoveryRoot = v.s1.discoveryRoot
				placeholder.ModifiedTime = v.s1.modUsec
				placeholder.SizeInBytes = v.s1.size
				placeholder.PrimaryDigest = v.s1.digest
				placeholder.StorageObjectName = v.objectName
				placeholder.IsEncrypted = v.isEncrypted
				placeholder.IV = v.iv
				placeholder.CompressionKind = v.compressionKind
				placeholder.CiphertextSize = v.ciphertextSize
				placeholder.IsBitrotDetected = v.s1.bitrot
				placeholder.PriorDigestOnBitrot = v.s1.priorDigest
				placeholder.IsSuccessful = true

				sb.Insert(normalizePath(v.s1.path), placeholder)
				summary.Add(Row{Path: v.s1.path, Decision: "upload", Digest: v.s1.digest})
				summary.Uploaded++
				if v.s1.bitrot {
					summary.BitrotWarns++
				}
				metrics.FilesUploadedTotal.WithLabelValues(d.StorageDef.Name).Inc()

			default:
				// A failed S1 or S2/S3 leaves its input payload in place;
				// such an item is reported as a failed row and counted below.
				if !it.Failed() {
					return it.WithError(atbuerr.New(atbuerr.ConfigInvalid, "S4 received an unexpected payload type"))
				}
				summary.Add(Row{Path: it.Path, Decision: "failed"})
			}

			if it.Failed() {
				summary.Failed++
				metrics.FilesFailedTotal.WithLabelValues(d.StorageDef.Name, "pipeline").Inc()
			}
			return it.Done()
		},
	}
}

// enumerate walks every source root, applying exclude glob patterns
// against each file's base name (spec.md §4.8 "Enumerate source roots
// applying exclude patterns (glob)").
func enumerate(roots []string, excludes []string) ([]sourceFile, error) {
	var out []sourceFile
	for _, root := range roots {
		err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			for _, pattern := range excludes {
				if matched, _ := filepath.Match(pattern, filepath.Base(p)); matched {
					return nil
				}
			}
			out = append(out, sourceFile{
				path:          p,
				discoveryRoot: root,
				modUsec:       info.ModTime().UnixMicro(),
				size:          info.Size(),
				ext:           strings.ToLower(filepath.Ext(p)),
			})
			return nil
		})
		if err != nil {
			return nil, atbuerr.Wrap(atbuerr.ConfigInvalid, "enumerating source root "+root, err)
		}
	}
	return out, nil
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func normalizePath(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func objectNameFor(baseName, digest string, isEncrypted bool) string {
	ext := "atbak"
	if isEncrypted {
		ext = "atbake"
	}
	return baseName + "/" + digest + "." + ext
}

func timeNow() time.Time {
	return time.Now().UTC()
}

func saveDatabase(ctx context.Context, store objectstore.Interface, sd *storagedef.StorageDefinition, dataKey []byte, db *backupdb.Database) error {
	data, err := db.Marshal()
	if err != nil {
		return err
	}
	at := timeNow()
	sum := sha256.Sum256(data)
	object, err := encodeBackupObject(sd, dataKey, db.BaseName, at.UnixMicro(), hex.EncodeToString(sum[:]), data)
	if err != nil {
		return err
	}
	ext := "atbak"
	if sd.IsEncryptionUsed {
		ext = "atbake"
	}
	snapshotName := backupdb.SnapshotFileName(db.BaseName, ext, at)
	latestName := backupdb.LatestFileName(db.BaseName, ext)
	if err := store.PutObject(ctx, snapshotName, bytes.NewReader(object), len(object)); err != nil {
		return err
	}
	return store.PutObject(ctx, latestName, bytes.NewReader(object), len(object))
}

// encodeBackupObject builds a complete on-the-wire backup object (preamble
// + optionally-compressed, optionally-encrypted body) for a single
// in-memory blob — the non-chunked counterpart of S2/S3 used for small
// payloads, like a history-database snapshot, that never need the
// paired-stage streaming path.
func encodeBackupObject(sd *storagedef.StorageDefinition, dataKey []byte, relativePath string, modUsec int64, digest string, plaintext []byte) ([]byte, error) {
	compressionKind := compress.None
	if sd.CompressionKind != "" {
		compressionKind = compress.Kind(sd.CompressionKind)
	}
	compressed, err := compress.Compress(compressionKind, plaintext)
	if err != nil {
		return nil, err
	}

	var encryptor *crypto.CBCEncryptor
	var iv []byte
	isEncrypted := sd.IsEncryptionUsed
	if isEncrypted {
		ivBuf := make([]byte, crypto.BlockSize)
		if _, err := cryptorand.Read(ivBuf); err != nil {
			return nil, err
		}
		enc, err := crypto.NewCBCEncryptor(dataKey, ivBuf)
		if err != nil {
			return nil, err
		}
		encryptor = enc
		iv = ivBuf
	}

	p := crypto.NewPreamble()
	p.IsEncrypted = isEncrypted
	p.IVInline = isEncrypted && sd.PersistIVInObject
	p.Compressed = compressionKind != compress.None
	if p.IVInline {
		copy(p.IV[:], iv)
	}
	p.RelativePath = relativePath
	p.ModTimeUsec = modUsec
	p.PlaintextSize = uint64(len(plaintext))
	p.CompressionKind = string(compressionKind)
	p.PrimaryDigest = digest

	preambleBytes, err := crypto.Encode(p)
	if err != nil {
		return nil, err
	}

	cr := crypto.OpenChunkReader(bytes.NewReader(compressed), len(compressed)+1, encryptor)
	if err := cr.QueueData(preambleBytes, false); err != nil {
		return nil, err
	}
	chunk, err := cr.ReadChunk()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	out.Write(chunk)
	for {
		chunk, err := cr.ReadChunk()
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			break
		}
		out.Write(chunk)
	}
	return out.Bytes(), nil
}
