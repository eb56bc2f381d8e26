// Package classifier implements the backup-type decision table (spec.md
// §4.6, component C6): given a source file's metadata and a backup
// database's prior record, decide whether the file should be uploaded,
// skipped, or recorded as a duplicate of an already-uploaded digest.
package classifier

import (
	"strings"

	"github.com/atbu-go/atbu/pkg/backupdb"
)

// BackupType is one of the four backup modes named in spec.md §3.
type BackupType string

const (
	Full                BackupType = "full"
	Incremental         BackupType = "incremental"
	IncrementalPlus      BackupType = "incremental-plus"
	IncrementalHybrid    BackupType = "incremental-hybrid"
)

// DedupMode is the post-filter policy applied after an UPLOAD decision
// (spec.md §4.6).
type DedupMode string

const (
	DedupNone      DedupMode = "none"
	DedupDigest    DedupMode = "digest"
	DedupDigestExt DedupMode = "digest+ext"
)

// Decision is the classifier's verdict for one source file.
type Decision string

const (
	Upload           Decision = "upload"
	SkipUnchanged    Decision = "skip-unchanged"
	RecordDuplicate  Decision = "record-duplicate"
)

// SourceFile is the metadata the classifier inspects. Digest is optional:
// it is filled in only once the caller has actually hashed the file
// (spec.md §4.6 "optional recomputed digest"); many decisions (plain
// incremental skip/upload) never need it.
type SourceFile struct {
	Path         string
	ModifiedTime int64
	SizeInBytes  int64
	Digest       string // "" if not yet computed
	Extension    string // e.g. ".jpg", used only by DedupDigestExt
}

// Result carries the decision plus any flags the driver (C8) must thread
// through to the finalised BackupFileInformation.
type Result struct {
	Decision Decision

	// IsBitrotDetected / PriorDigest apply to incremental-plus and
	// incremental-hybrid's bitrot row (spec.md §4.6).
	IsBitrotDetected bool
	PriorDigest      string

	// DuplicateOf is set when Decision == RecordDuplicate.
	DuplicateOf *backupdb.BackupFileInformation
}

// Options configures one classification call.
type Options struct {
	BackupType      BackupType
	Dedup           DedupMode
	SquelchBitrot   bool
	PriorRecord     *backupdb.BackupFileInformation // nil if none (spec.md "Prior record")
	LookupByDigest  func(digest string) (*backupdb.BackupFileInformation, bool)
}

// Classify applies the decision table of spec.md §4.6 in row order, then
// the dedup post-filter.
func Classify(src SourceFile, opt Options) Result {
	r := classifyUpload(src, opt)
	if r.Decision != Upload || opt.Dedup == DedupNone || src.Digest == "" || opt.LookupByDigest == nil {
		return r
	}
	physical, found := opt.LookupByDigest(src.Digest)
	if !found {
		return r
	}
	if opt.Dedup == DedupDigestExt {
		priorExt := physical.Path[strings.LastIndex(physical.Path, "."):]
		if !strings.EqualFold(priorExt, src.Extension) {
			return r
		}
	}
	r.Decision = RecordDuplicate
	r.DuplicateOf = physical
	return r
}

// classifyUpload applies only the backup-type/prior-record rows, before
// any dedup post-filter is considered.
func classifyUpload(src SourceFile, opt Options) Result {
	prior := opt.PriorRecord

	switch opt.BackupType {
	case Full:
		return Result{Decision: Upload}

	case Incremental:
		if prior == nil {
			return Result{Decision: Upload}
		}
		if metadataEqual(src, prior) {
			return Result{Decision: SkipUnchanged}
		}
		return Result{Decision: Upload}

	case IncrementalPlus, IncrementalHybrid:
		if prior == nil {
			return Result{Decision: Upload}
		}
		if !metadataEqual(src, prior) {
			return Result{Decision: Upload}
		}
		// (mtime, size) equal: either truly unchanged or bitrot, depending
		// on the digest (spec.md's incremental-plus/-hybrid rows).
		if src.Digest == "" || src.Digest == prior.PrimaryDigest {
			return Result{Decision: SkipUnchanged}
		}
		// (mtime, size) equal but digest differs: bitrot.
		return Result{
			Decision:         Upload,
			IsBitrotDetected: !opt.SquelchBitrot,
			PriorDigest:      prior.PrimaryDigest,
		}

	default:
		// Unknown backup type: treat conservatively as a full upload
		// rather than silently skipping data.
		return Result{Decision: Upload}
	}
}

func metadataEqual(src SourceFile, prior *backupdb.BackupFileInformation) bool {
	return src.ModifiedTime == prior.ModifiedTime && src.SizeInBytes == prior.SizeInBytes
}
