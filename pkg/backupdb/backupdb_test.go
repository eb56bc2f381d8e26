package backupdb

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSpecificBackupName(t *testing.T) {
	start := time.Date(2026, 7, 30, 14, 5, 9, 0, time.UTC)
	sb := NewSpecificBackup("nightly", "full", start)
	assert.Equal(t, "nightly-20260730-140509", sb.BackupName)
	assert.Equal(t, "full", sb.BackupType)
}

func TestPromoteOrDuplicateFirstWriterWins(t *testing.T) {
	db := New("nightly")
	db.StartRun()

	first := &BackupFileInformation{Path: "/a/one.bin", PrimaryDigest: "d1", StorageObjectName: "obj-1"}
	second := &BackupFileInformation{Path: "/a/two.bin", PrimaryDigest: "d1", StorageObjectName: "obj-2"}

	physical, became := db.PromoteOrDuplicate("d1", first, false)
	assert.True(t, became)
	assert.Same(t, first, physical)

	physical, became = db.PromoteOrDuplicate("d1", second, false)
	assert.False(t, became)
	assert.Same(t, first, physical, "second classifier for the same digest must be told to duplicate the first")
}

func TestPromoteOrDuplicateDoesNotCrossRunsWhenDedupDisabled(t *testing.T) {
	db := New("nightly")

	// Simulate a prior run that promoted "d1" to physical and committed it.
	db.StartRun()
	prior := &BackupFileInformation{Path: "/a/one.bin", PrimaryDigest: "d1", StorageObjectName: "obj-1"}
	_, became := db.PromoteOrDuplicate("d1", prior, false)
	require.True(t, became)
	sb := NewSpecificBackup("nightly", "full", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sb.Insert("/a/one.bin", prior)
	require.NoError(t, db.AppendSpecificBackup(sb))

	// A new run, with dedup disabled, must not see the persisted digest:
	// a same-content file should become physical again, not a duplicate.
	db.StartRun()
	next := &BackupFileInformation{Path: "/a/two.bin", PrimaryDigest: "d1", StorageObjectName: "obj-2"}
	physical, became := db.PromoteOrDuplicate("d1", next, false)
	assert.True(t, became, "with dedup=none, a digest physical in a prior run must not suppress this run's upload")
	assert.Same(t, next, physical)
}

func TestPromoteOrDuplicateConsultsPersistedWhenDedupEnabled(t *testing.T) {
	db := New("nightly")

	db.StartRun()
	prior := &BackupFileInformation{Path: "/a/one.bin", PrimaryDigest: "d1", StorageObjectName: "obj-1"}
	_, became := db.PromoteOrDuplicate("d1", prior, false)
	require.True(t, became)
	sb := NewSpecificBackup("nightly", "full", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sb.Insert("/a/one.bin", prior)
	require.NoError(t, db.AppendSpecificBackup(sb))

	db.StartRun()
	next := &BackupFileInformation{Path: "/a/two.bin", PrimaryDigest: "d1", StorageObjectName: "obj-2"}
	physical, became := db.PromoteOrDuplicate("d1", next, true)
	assert.False(t, became, "with dedup enabled, a digest already physical in a prior run must be reused")
	assert.Same(t, prior, physical)
}

func TestAppendSpecificBackupRejectsNonIncreasingStartTime(t *testing.T) {
	db := New("nightly")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sb1 := NewSpecificBackup("nightly", "full", t0)
	require.NoError(t, db.AppendSpecificBackup(sb1))

	sb2 := NewSpecificBackup("nightly", "full", t0) // same instant, not strictly later
	err := db.AppendSpecificBackup(sb2)
	assert.Error(t, err)
}

func TestLoadResolvesDuplicateChain(t *testing.T) {
	db := New("nightly")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sb := NewSpecificBackup("nightly", "full", t0)

	physical := &BackupFileInformation{
		Path:              "/a/one.bin",
		PrimaryDigest:     "digest-a",
		StorageObjectName: "obj-one",
		IsSuccessful:      true,
	}
	duplicate := &BackupFileInformation{
		Path:          "/a/two.bin",
		PrimaryDigest: "digest-a",
		BackingDigest: "digest-a",
		IsSuccessful:  true,
	}
	sb.Insert("/a/one.bin", physical)
	sb.Insert("/a/two.bin", duplicate)
	require.NoError(t, db.AppendSpecificBackup(sb))

	data, err := db.Marshal()
	require.NoError(t, err)

	loaded, err := Load(data)
	require.NoError(t, err)

	latest, ok := loaded.LatestByPath("/a/two.bin")
	require.True(t, ok)
	assert.False(t, latest.IsPhysical())

	resolved, err := latest.ResolvePhysical()
	require.NoError(t, err)
	assert.Equal(t, "obj-one", resolved.StorageObjectName)
}

func TestLoadRejectsUnresolvableDuplicate(t *testing.T) {
	env := envelope{
		Name:    "nightly",
		Version: formatVersion,
		SpecificBackups: []*SpecificBackup{
			{
				BackupName:   "nightly-20260101-000000",
				StartTimeUTC: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				FileRecords: map[string]*BackupFileInformation{
					"/a/two.bin": {Path: "/a/two.bin", BackingDigest: "missing-digest"},
				},
			},
		},
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = Load(data)
	assert.Error(t, err)
}

func TestLatestReturnsFalseWhenEmpty(t *testing.T) {
	db := New("nightly")
	_, ok := db.Latest()
	assert.False(t, ok)
}
