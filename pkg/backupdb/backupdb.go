// Package backupdb implements the history database (spec.md §4.5,
// component C5): the record of what has been backed up, across how many
// specific backup runs, with digest-keyed deduplication.
//
// The database's on-disk form is a tagged record tree rather than a
// pointer graph: a BackupFileInformation is either Physical (it carries a
// storage_object_name, the plaintext was actually uploaded) or a
// Duplicate (it carries only a BackingDigest, resolved against
// digest_to_physical at Load time). This mirrors the teacher's FSM
// Command{Op, Data} tagging pattern (pkg/manager/fsm.go) more than it
// mirrors a language-level union type, since JSON has no sum types.
package backupdb

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atbu-go/atbu/pkg/atbuerr"
)

// BackupFileInformation is the unit of the history database (spec.md §3).
type BackupFileInformation struct {
	Path           string `json:"path"`
	DiscoveryRoot  string `json:"discovery_root"`
	ModifiedTime   int64  `json:"modified_time_usec"`
	SizeInBytes    int64  `json:"size_in_bytes"`
	PrimaryDigest  string `json:"primary_digest"`

	// StorageObjectName is set only on a physical record.
	StorageObjectName string `json:"storage_object_name,omitempty"`
	IsEncrypted       bool   `json:"is_encrypted,omitempty"`
	IV                []byte `json:"iv,omitempty"`
	CompressionKind   string `json:"compression_kind,omitempty"`
	CiphertextSize    int64  `json:"ciphertext_size,omitempty"`

	// BackingDigest is set only on a duplicate record; it is resolved to
	// BackingFileInfo in memory at Load time (Invariant 2).
	BackingDigest string `json:"backing_digest,omitempty"`
	BackingFileInfo *BackupFileInformation `json:"-"`

	IsUnchangedSinceLast bool     `json:"is_unchanged_since_last,omitempty"`
	IsSuccessful         bool     `json:"is_successful"`
	ExceptionChain       []string `json:"exception_chain,omitempty"`

	IsBitrotDetected  bool   `json:"is_bitrot_detected,omitempty"`
	PriorDigestOnBitrot string `json:"prior_digest_on_bitrot,omitempty"`
}

// IsPhysical reports whether bfi carries the uploaded object itself
// (Invariant 2: every duplicate chain terminates at a physical record).
func (bfi *BackupFileInformation) IsPhysical() bool {
	return bfi.StorageObjectName != "" && bfi.BackingDigest == ""
}

// ResolvePhysical follows BackingFileInfo to the terminal physical record.
func (bfi *BackupFileInformation) ResolvePhysical() (*BackupFileInformation, error) {
	seen := map[*BackupFileInformation]bool{}
	cur := bfi
	for !cur.IsPhysical() {
		if seen[cur] {
			return nil, atbuerr.New(atbuerr.BackupInfoRecovery, "duplicate chain cycle detected")
		}
		seen[cur] = true
		if cur.BackingFileInfo == nil {
			return nil, atbuerr.New(atbuerr.BackupInfoRecovery,
				fmt.Sprintf("duplicate record %q has unresolved backing digest %q", cur.Path, cur.BackingDigest))
		}
		cur = cur.BackingFileInfo
	}
	return cur, nil
}

// SpecificBackup is one backup instance (spec.md §3).
type SpecificBackup struct {
	BackupName   string    `json:"backup_name"`
	BackupType   string    `json:"backup_type"`
	StartTimeUTC time.Time `json:"start_time_utc"`
	EndTimeUTC   time.Time `json:"end_time_utc,omitempty"`

	// FileRecords maps a normalised path to this specific backup's view of
	// it; populated incrementally as classification completes.
	FileRecords map[string]*BackupFileInformation `json:"file_records"`
}

// NewSpecificBackup starts a new backup instance, named per spec.md §3:
// "<base>-YYYYMMDD-HHMMSS".
func NewSpecificBackup(baseName, backupType string, startTime time.Time) *SpecificBackup {
	return &SpecificBackup{
		BackupName:   fmt.Sprintf("%s-%s", baseName, startTime.UTC().Format("20060102-150405")),
		BackupType:   backupType,
		StartTimeUTC: startTime.UTC(),
		FileRecords:  make(map[string]*BackupFileInformation),
	}
}

// Insert records bfi under its normalised path (spec.md §4.8 S4: "finalise
// BackupFileInformation, insert into the SpecificBackup").
func (sb *SpecificBackup) Insert(normalisedPath string, bfi *BackupFileInformation) {
	sb.FileRecords[normalisedPath] = bfi
}

// formatVersion is the current envelope version; Load migrates older
// envelopes forward before returning them to the caller.
const formatVersion = "1.0"

// envelope is the on-disk JSON form (spec.md §4.5 "a serialised database
// (JSON-like tree) indexed by base_name").
type envelope struct {
	Name            string                    `json:"name"`
	Version         string                    `json:"version"`
	SpecificBackups []*SpecificBackup         `json:"specific_backups"`
}

// Database is the in-memory history database (spec.md §3
// BackupInformationDatabase). Its indexes are process-local and, per
// spec.md §5, mutated only by the controller thread during pipeline
// stages S1 and S4; digestMu additionally guards first-writer promotion
// across concurrently classifying goroutines (Invariant 6).
type Database struct {
	BaseName        string
	SpecificBackups []*SpecificBackup

	digestMu sync.Mutex
	// digestToPhysical is the persisted, cross-run index (folded in by
	// AppendSpecificBackup/Load); PhysicalByDigest exposes it to the
	// classifier's dedup post-filter.
	digestToPhysical map[string]*BackupFileInformation
	// runDigestToPhysical is the first-writer-wins lock PromoteOrDuplicate
	// enforces, reset by StartRun at the top of every backup invocation so
	// it never reaches across runs (Invariant 6: "at-most-one upload per
	// digest *per backup run*", not across the whole history).
	runDigestToPhysical map[string]*BackupFileInformation
	pathToLatest        map[string]*BackupFileInformation
}

// New starts an empty database for baseName, e.g. for a storage
// definition's first-ever backup.
func New(baseName string) *Database {
	return &Database{
		BaseName:         baseName,
		digestToPhysical: make(map[string]*BackupFileInformation),
		pathToLatest:     make(map[string]*BackupFileInformation),
	}
}

// StartRun resets the per-run first-writer lock. The driver calls this
// once at the top of Run, before any item reaches S1, so digests promoted
// to physical in a prior backup invocation don't leak into this run's
// within-run locking.
func (db *Database) StartRun() {
	db.digestMu.Lock()
	defer db.digestMu.Unlock()
	db.runDigestToPhysical = make(map[string]*BackupFileInformation)
}

// LatestByPath is the query consumed by the classifier (spec.md §4.6).
func (db *Database) LatestByPath(normalisedPath string) (*BackupFileInformation, bool) {
	bfi, ok := db.pathToLatest[normalisedPath]
	return bfi, ok
}

// PhysicalByDigest is the query consumed by the classifier's dedup
// post-filter (spec.md §4.6).
func (db *Database) PhysicalByDigest(digest string) (*BackupFileInformation, bool) {
	bfi, ok := db.digestToPhysical[digest]
	return bfi, ok
}

// PromoteOrDuplicate enforces Invariant 6 ("at-most-one upload per digest
// per backup run"): the first caller for a given digest in this run
// becomes physical, every later concurrent caller for the same digest
// within the same run is told to become a duplicate of it instead.
// newPhysical is only actually registered (and true returned) when no
// physical record for digest exists yet in this run.
//
// consultPersisted additionally folds the persisted cross-run index into
// the lock, so a digest already physical from a prior backup also causes
// later callers to become duplicates; the driver only passes true when
// opt.Dedup != DedupNone (spec.md §4.6 "apply dedup post-filter only if
// dedup != none" applies here too, not only in the classifier itself).
func (db *Database) PromoteOrDuplicate(digest string, newPhysical *BackupFileInformation, consultPersisted bool) (physical *BackupFileInformation, becamePhysical bool) {
	db.digestMu.Lock()
	defer db.digestMu.Unlock()
	if db.runDigestToPhysical == nil {
		db.runDigestToPhysical = make(map[string]*BackupFileInformation)
	}
	if existing, ok := db.runDigestToPhysical[digest]; ok {
		return existing, false
	}
	if consultPersisted {
		if existing, ok := db.digestToPhysical[digest]; ok {
			db.runDigestToPhysical[digest] = existing
			return existing, false
		}
	}
	db.runDigestToPhysical[digest] = newPhysical
	return newPhysical, true
}

// AppendSpecificBackup adds sb as the newest backup (Invariant 4:
// start_time_utc strictly increasing) and folds its records into the
// path_to_latest and digest_to_physical indexes.
func (db *Database) AppendSpecificBackup(sb *SpecificBackup) error {
	if n := len(db.SpecificBackups); n > 0 {
		prev := db.SpecificBackups[n-1]
		if !sb.StartTimeUTC.After(prev.StartTimeUTC) {
			return atbuerr.New(atbuerr.BackupInfoRecovery,
				fmt.Sprintf("specific backup %q does not start after %q", sb.BackupName, prev.BackupName))
		}
	}
	db.SpecificBackups = append(db.SpecificBackups, sb)
	for path, bfi := range sb.FileRecords {
		db.pathToLatest[path] = bfi
		if bfi.IsPhysical() {
			if _, exists := db.digestToPhysical[bfi.PrimaryDigest]; !exists {
				db.digestToPhysical[bfi.PrimaryDigest] = bfi
			}
		}
	}
	return nil
}

// snapshot is the shape serialised to disk: Duplicate records are reduced
// to their BackingDigest before marshalling, and reinflated against
// digest_to_physical on Load.
func (db *Database) snapshot() *envelope {
	return &envelope{
		Name:            db.BaseName,
		Version:         formatVersion,
		SpecificBackups: db.SpecificBackups,
	}
}

// Marshal renders the database as the timestamped/latest-pointer JSON form
// (spec.md §4.5 Save).
func (db *Database) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(db.snapshot(), "", "  ")
	if err != nil {
		return nil, atbuerr.Wrap(atbuerr.BackupInfoRecovery, "marshalling history database", err)
	}
	return data, nil
}

// Load parses a serialised database and resolves every duplicate's
// BackingFileInfo pointer (spec.md §4.5 Load). A resolved pointer must
// satisfy Invariant 2: every chain terminates at a physical record.
func Load(data []byte) (*Database, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, atbuerr.Wrap(atbuerr.BackupInfoRecovery, "parsing history database", err)
	}
	migrate(&env)

	db := New(env.Name)
	db.SpecificBackups = env.SpecificBackups

	// Pass 1: index every physical record by digest.
	for _, sb := range db.SpecificBackups {
		for path, bfi := range sb.FileRecords {
			db.pathToLatest[path] = bfi
			if bfi.IsPhysical() {
				if _, exists := db.digestToPhysical[bfi.PrimaryDigest]; !exists {
					db.digestToPhysical[bfi.PrimaryDigest] = bfi
				}
			}
		}
	}
	// Pass 2: resolve every duplicate's backing pointer now that every
	// physical record in the file has been indexed, regardless of the
	// order specific backups or file records were iterated in.
	for _, sb := range db.SpecificBackups {
		for _, bfi := range sb.FileRecords {
			if bfi.BackingDigest == "" {
				continue
			}
			physical, ok := db.digestToPhysical[bfi.BackingDigest]
			if !ok {
				return nil, atbuerr.New(atbuerr.BackupInfoRecovery,
					fmt.Sprintf("record %q references unknown physical digest %q", bfi.Path, bfi.BackingDigest))
			}
			bfi.BackingFileInfo = physical
			if _, err := bfi.ResolvePhysical(); err != nil {
				return nil, err
			}
		}
	}
	// Recompute path_to_latest last so it reflects the newest specific
	// backup's view of each path, not merely insertion order.
	db.pathToLatest = make(map[string]*BackupFileInformation)
	for _, sb := range db.SpecificBackups {
		for path, bfi := range sb.FileRecords {
			db.pathToLatest[path] = bfi
		}
	}
	return db, nil
}

// migrate upgrades an older envelope version forward in place. There is
// currently only one version; this exists so a future format bump has
// somewhere to hang its migration without touching Load's callers.
func migrate(env *envelope) *envelope {
	if env.Version == "" {
		env.Version = formatVersion
	}
	return env
}

// SnapshotFileName returns the immutable per-run file name (spec.md §4.5
// Save form 1).
func SnapshotFileName(baseName string, ext string, at time.Time) string {
	return fmt.Sprintf("%s-%s.%s", baseName, at.UTC().Format("20060102-150405"), ext)
}

// LatestFileName returns the overwritten latest-pointer file name (spec.md
// §4.5 Save form 2).
func LatestFileName(baseName, ext string) string {
	return fmt.Sprintf("%s.%s", baseName, ext)
}

// DBObjectPrefix is the prefix recovery (spec.md §4.10) lists the
// container by: every snapshot and the latest pointer share "<base>-" or
// "<base>." while per-file backup objects are named "<base>/<digest>...",
// so the two namespaces never collide under the same prefix.
func DBObjectPrefix(baseName string) string {
	return baseName
}

// IsDBObjectName reports whether name is one of baseName's database
// objects (a timestamped snapshot or the latest pointer) rather than a
// per-file backup object, which always nests under "<base>/".
func IsDBObjectName(baseName, name string) bool {
	if !strings.HasPrefix(name, baseName) {
		return false
	}
	rest := name[len(baseName):]
	return strings.HasPrefix(rest, "-") || strings.HasPrefix(rest, ".")
}

// SortedBackupNames returns every specific backup's name, oldest first,
// matching the order Invariant 4 requires in specific_backups.
func (db *Database) SortedBackupNames() []string {
	names := make([]string, len(db.SpecificBackups))
	for i, sb := range db.SpecificBackups {
		names[i] = sb.BackupName
	}
	sort.Strings(names) // start_time_utc order already implies name order
	return names
}

// Latest returns the newest specific backup, or false if the database is
// empty (no prior backups for this base name).
func (db *Database) Latest() (*SpecificBackup, bool) {
	if len(db.SpecificBackups) == 0 {
		return nil, false
	}
	return db.SpecificBackups[len(db.SpecificBackups)-1], true
}
