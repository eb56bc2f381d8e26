package driver

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/atbu-go/atbu/pkg/atbuerr"
	"github.com/atbu-go/atbu/pkg/backupdb"
	"github.com/atbu-go/atbu/pkg/crypto"
	"github.com/atbu-go/atbu/pkg/objectstore"
	"github.com/atbu-go/atbu/pkg/storagedef"
	"github.com/rs/zerolog"
)

// RecoverOptions configures a recovery run (spec.md §4.10): rebuilding the
// local history database pointer from whatever database objects survive
// in the container, when the local copy is lost but credentials are not.
type RecoverOptions struct {
	ScratchDir  string
	MaxInFlight int
}

// RecoverDriver runs the recovery sequence (component C10).
type RecoverDriver struct {
	StorageDef *storagedef.StorageDefinition
	Store      objectstore.Interface
	BaseName   string
	Logger     zerolog.Logger
	Retry      RetryPolicy
}

// downloadedDBObject is one fetched candidate snapshot, with the embedded
// timestamp recovered from its preamble rather than its file name, so
// recovery is robust to any external renaming.
type downloadedDBObject struct {
	objectName  string
	scratchPath string
	modUsec     int64
}

// Run lists every database object for d.BaseName, downloads each into
// opt.ScratchDir using bounded goroutine parallelism (the redesign's
// in-process stand-in for spec.md §4.10's process-pool parallelism), then
// promotes the newest to the canonical latest-pointer name (spec.md
// §4.10).
func (d *RecoverDriver) Run(ctx context.Context, opt RecoverOptions) (string, error) {
	names, err := d.Store.ListObjects(ctx, backupdb.DBObjectPrefix(d.BaseName))
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, n := range names {
		if backupdb.IsDBObjectName(d.BaseName, n) {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return "", atbuerr.New(atbuerr.BackupInfoRecovery, "no database objects found for "+d.BaseName)
	}

	if err := os.MkdirAll(opt.ScratchDir, 0700); err != nil {
		return "", err
	}

	maxInFlight := opt.MaxInFlight
	if maxInFlight < 1 {
		maxInFlight = 4
	}
	sem := make(chan struct{}, maxInFlight)
	results := make([]downloadedDBObject, len(candidates))
	errs := make([]error, len(candidates))
	var wg sync.WaitGroup
	for i, name := range candidates {
		i, name := i, name
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			obj, err := d.downloadOne(ctx, name, opt.ScratchDir)
			results[i] = obj
			errs[i] = err
		}()
	}
	wg.Wait()

	var ok []downloadedDBObject
	for i, err := range errs {
		if err != nil {
			d.Logger.Warn().Err(err).Str("object", candidates[i]).Msg("recovery: failed to download database object")
			continue
		}
		ok = append(ok, results[i])
	}
	if len(ok) == 0 {
		return "", atbuerr.New(atbuerr.BackupInfoRecovery, "every candidate database object failed to download")
	}

	sort.Slice(ok, func(i, j int) bool { return ok[i].modUsec > ok[j].modUsec })
	newest := ok[0]

	data, err := os.ReadFile(newest.scratchPath)
	if err != nil {
		return "", err
	}
	ext := strings.TrimPrefix(filepath.Ext(newest.objectName), ".")
	latestPath := filepath.Join(opt.ScratchDir, backupdb.LatestFileName(d.BaseName, ext))
	if err := os.WriteFile(latestPath, data, 0600); err != nil {
		return "", err
	}
	return latestPath, nil
}

// downloadOne fetches name into scratchDir, under its own flattened file
// name, and parses its preamble to recover the embedded timestamp used for
// ordering.
func (d *RecoverDriver) downloadOne(ctx context.Context, name, scratchDir string) (downloadedDBObject, error) {
	var raw []byte
	err := WithRetry(ctx, d.Retry, d.Logger, d.StorageDef.Name, "get_object", func() error {
		rc, err := d.Store.GetObject(ctx, name)
		if err != nil {
			return err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		raw = data
		return nil
	})
	if err != nil {
		return downloadedDBObject{}, err
	}

	preamble, _, err := crypto.Decode(raw)
	if err != nil {
		return downloadedDBObject{}, err
	}

	dest := filepath.Join(scratchDir, filepath.Base(name))
	if err := os.WriteFile(dest, raw, 0600); err != nil {
		return downloadedDBObject{}, err
	}
	return downloadedDBObject{objectName: name, scratchPath: dest, modUsec: preamble.ModTimeUsec}, nil
}
