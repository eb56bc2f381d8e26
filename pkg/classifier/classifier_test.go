package classifier

import (
	"testing"

	"github.com/atbu-go/atbu/pkg/backupdb"
	"github.com/stretchr/testify/assert"
)

func TestClassifyFullAlwaysUploads(t *testing.T) {
	src := SourceFile{Path: "/a/x.bin", ModifiedTime: 100, SizeInBytes: 10}
	r := Classify(src, Options{BackupType: Full})
	assert.Equal(t, Upload, r.Decision)
}

func TestClassifyIncrementalNoPriorUploads(t *testing.T) {
	src := SourceFile{Path: "/a/x.bin", ModifiedTime: 100, SizeInBytes: 10}
	r := Classify(src, Options{BackupType: Incremental})
	assert.Equal(t, Upload, r.Decision)
}

func TestClassifyIncrementalUnchangedSkips(t *testing.T) {
	prior := &backupdb.BackupFileInformation{ModifiedTime: 100, SizeInBytes: 10}
	src := SourceFile{Path: "/a/x.bin", ModifiedTime: 100, SizeInBytes: 10}
	r := Classify(src, Options{BackupType: Incremental, PriorRecord: prior})
	assert.Equal(t, SkipUnchanged, r.Decision)
}

func TestClassifyIncrementalChangedUploads(t *testing.T) {
	prior := &backupdb.BackupFileInformation{ModifiedTime: 100, SizeInBytes: 10}
	src := SourceFile{Path: "/a/x.bin", ModifiedTime: 200, SizeInBytes: 10}
	r := Classify(src, Options{BackupType: Incremental, PriorRecord: prior})
	assert.Equal(t, Upload, r.Decision)
}

func TestClassifyIncrementalPlusBitrotWarns(t *testing.T) {
	prior := &backupdb.BackupFileInformation{ModifiedTime: 100, SizeInBytes: 10, PrimaryDigest: "aaa"}
	src := SourceFile{Path: "/a/x.bin", ModifiedTime: 100, SizeInBytes: 10, Digest: "bbb"}
	r := Classify(src, Options{BackupType: IncrementalPlus, PriorRecord: prior})
	assert.Equal(t, Upload, r.Decision)
	assert.True(t, r.IsBitrotDetected)
	assert.Equal(t, "aaa", r.PriorDigest)
}

func TestClassifyIncrementalPlusBitrotSquelched(t *testing.T) {
	prior := &backupdb.BackupFileInformation{ModifiedTime: 100, SizeInBytes: 10, PrimaryDigest: "aaa"}
	src := SourceFile{Path: "/a/x.bin", ModifiedTime: 100, SizeInBytes: 10, Digest: "bbb"}
	r := Classify(src, Options{BackupType: IncrementalPlus, PriorRecord: prior, SquelchBitrot: true})
	assert.Equal(t, Upload, r.Decision)
	assert.False(t, r.IsBitrotDetected)
}

func TestClassifyIncrementalPlusUnchangedSkips(t *testing.T) {
	prior := &backupdb.BackupFileInformation{ModifiedTime: 100, SizeInBytes: 10, PrimaryDigest: "aaa"}
	src := SourceFile{Path: "/a/x.bin", ModifiedTime: 100, SizeInBytes: 10, Digest: "aaa"}
	r := Classify(src, Options{BackupType: IncrementalPlus, PriorRecord: prior})
	assert.Equal(t, SkipUnchanged, r.Decision)
}

func TestClassifyDedupDigestDemotesToDuplicate(t *testing.T) {
	physical := &backupdb.BackupFileInformation{Path: "/a/orig.bin", PrimaryDigest: "ddd", StorageObjectName: "obj-1"}
	src := SourceFile{Path: "/a/copy.bin", ModifiedTime: 1, SizeInBytes: 1, Digest: "ddd"}
	r := Classify(src, Options{
		BackupType: Full,
		Dedup:      DedupDigest,
		LookupByDigest: func(d string) (*backupdb.BackupFileInformation, bool) {
			if d == "ddd" {
				return physical, true
			}
			return nil, false
		},
	})
	assert.Equal(t, RecordDuplicate, r.Decision)
	assert.Same(t, physical, r.DuplicateOf)
}

func TestClassifyDedupDigestExtRequiresMatchingExtension(t *testing.T) {
	physical := &backupdb.BackupFileInformation{Path: "/a/orig.jpg", PrimaryDigest: "ddd", StorageObjectName: "obj-1"}
	src := SourceFile{Path: "/a/copy.png", ModifiedTime: 1, SizeInBytes: 1, Digest: "ddd", Extension: ".png"}
	r := Classify(src, Options{
		BackupType: Full,
		Dedup:      DedupDigestExt,
		LookupByDigest: func(d string) (*backupdb.BackupFileInformation, bool) {
			return physical, true
		},
	})
	assert.Equal(t, Upload, r.Decision, "extension mismatch must not demote to duplicate")
}
