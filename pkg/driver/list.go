package driver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atbu-go/atbu/pkg/backupdb"
	"github.com/atbu-go/atbu/pkg/storagedef"
)

// ListOptions filters which specific backups ListBackups reports; an empty
// BackupTag set lists every specific backup the database holds.
type ListOptions struct {
	BackupTags []string
}

// ListedBackup is one specific backup's name plus the sorted paths of the
// files it recorded (spec.md's `list` surface, supplemented from
// original_source/src/atbu/backup/list_items.py's storage-def table
// followed by a per-backup file listing).
type ListedBackup struct {
	Name  string
	Files []string
}

// ListResult is the full answer to a `list` invocation against one
// storage definition.
type ListResult struct {
	StorageDef  string
	Provider    string
	Container   string
	Interface   string
	Encrypted   bool
	PersistedIV bool
	Backups     []ListedBackup
}

// ListBackups builds the storage-definition summary row plus, for every
// matching specific backup, its sorted file listing.
func ListBackups(sd *storagedef.StorageDefinition, db *backupdb.Database, opt ListOptions) *ListResult {
	want := make(map[string]bool, len(opt.BackupTags))
	for _, t := range opt.BackupTags {
		want[t] = true
	}

	r := &ListResult{
		StorageDef:  sd.Name,
		Provider:    sd.ProviderID,
		Container:   sd.ContainerName,
		Interface:   string(sd.InterfaceKind),
		Encrypted:   sd.IsEncryptionUsed,
		PersistedIV: sd.PersistIVInObject,
	}
	for _, sb := range db.SpecificBackups {
		if len(want) > 0 && !want[sb.BackupName] {
			continue
		}
		paths := make([]string, 0, len(sb.FileRecords))
		for _, bfi := range sb.FileRecords {
			paths = append(paths, bfi.Path)
		}
		sort.Strings(paths)
		r.Backups = append(r.Backups, ListedBackup{Name: sb.BackupName, Files: paths})
	}
	return r
}

// String renders the storage-definition header table followed by an
// indented backup/file tree, matching the register of Summary's tabular
// rendering.
func (r *ListResult) String() string {
	var b strings.Builder
	headers := []string{"Storage Definition", "Provider", "Container", "Interface", "Encrypted", "Persisted IV"}
	widths := []int{24, 12, 24, 16, 10, 13}
	for i, h := range headers {
		fmt.Fprintf(&b, "%-*s ", widths[i], h)
	}
	b.WriteString("\n")
	for _, w := range widths {
		fmt.Fprintf(&b, "%-*s ", w, strings.Repeat("-", w))
	}
	b.WriteString("\n")
	row := []string{r.StorageDef, r.Provider, r.Container, r.Interface, fmt.Sprint(r.Encrypted), fmt.Sprint(r.PersistedIV)}
	for i, c := range row {
		fmt.Fprintf(&b, "%-*s ", widths[i], c)
	}
	b.WriteString("\n")

	for _, backup := range r.Backups {
		fmt.Fprintf(&b, "\n  %s\n", backup.Name)
		for _, p := range backup.Files {
			fmt.Fprintf(&b, "    %s\n", p)
		}
	}
	return b.String()
}
