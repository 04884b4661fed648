// Package ingest implements the driver loop (spec.md §5): for each
// archive, enumerate timestamps, dispatch metadata and artifact
// fetches to a bounded fetch pool, then fold the timestamp into the
// temporal index synchronously before moving to the next timestamp.
//
// No single teacher file covers this loop — pault.ag/go/archive always
// operates on one already-resolved suite and never walks archive
// history. The teacher's downloader.go newPool/pool (a channel used as
// a counting semaphore) is the precursor this generalizes into
// golang.org/x/sync/errgroup + golang.org/x/sync/semaphore, per
// SPEC_FULL.md's push toward explicit, composable concurrency
// primitives. The phase ordering (translation+dep11, then repodata,
// then pool files, then Release files last) is grounded on
// original_source/snapshot-mirror.py's run(); the provisioning phase
// being a separate, independently re-runnable pass over the already-
// mirrored files is grounded on that same file's provision_database.
package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/fepitre/debian-snapshot/internal/fetch"
	"github.com/fepitre/debian-snapshot/internal/index"
	"github.com/fepitre/debian-snapshot/internal/metadata"
	"github.com/fepitre/debian-snapshot/internal/snaperr"
	"github.com/fepitre/debian-snapshot/internal/store"
	"github.com/fepitre/debian-snapshot/internal/timestamp"
)

// DefaultFetchConcurrency is F, spec.md §5's default fetch-pool width.
const DefaultFetchConcurrency = 8

// Job describes one invocation of the driver: which coordinates to
// ingest and which CLI-level behavior flags (spec.md §6) apply.
type Job struct {
	Archives      []string
	Suites        []string
	Components    []string
	Architectures []string

	// TimestampRequests is the raw --timestamp repeatable flag value,
	// resolved per archive via timestamp.Catalog.Resolve.
	TimestampRequests []string

	CheckOnly          bool
	ProvisionDB        bool
	ProvisionDBOnly    bool
	IgnoreProvisioned  bool
	NoCleanPartFile    bool
	SkipInstallerFiles bool

	// FetchConcurrency is F; zero selects DefaultFetchConcurrency.
	FetchConcurrency int64
}

func (j Job) concurrency() int64 {
	if j.FetchConcurrency > 0 {
		return j.FetchConcurrency
	}
	return DefaultFetchConcurrency
}

// Driver wires components C1-C7 together to run a Job.
type Driver struct {
	Store   *store.Store
	Engine  *fetch.Engine
	Catalog *timestamp.Catalog
	Planner *metadata.Planner
	Index   *index.Store

	stagingDir string
	log        *zap.Logger

	// Progress, if set, is called once per timestamp after it has been
	// attempted (fetched and/or provisioned), for callers driving a
	// terminal progress indicator (cmd/snapshot-mirror). It never
	// affects control flow.
	Progress func(archive string, t timestamp.Value)
}

// New returns a Driver. stagingDir holds transient downloads before
// they're committed into st; it should share st's filesystem so
// artifact commits can rename rather than copy.
func New(st *store.Store, eng *fetch.Engine, cat *timestamp.Catalog, pl *metadata.Planner, idx *index.Store, stagingDir string, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{Store: st, Engine: eng, Catalog: cat, Planner: pl, Index: idx, stagingDir: stagingDir, log: log}
}

// Run executes job across every requested archive. A CatalogUnavailable
// for one archive aborts only that archive (spec.md §7); Run returns
// the first such error encountered (if any) after attempting every
// archive, so the caller can decide the process exit code via
// snaperr.UserVisible. A StoreError aborts the whole run immediately.
func (d *Driver) Run(ctx context.Context, job Job) error {
	d.Engine.NoCleanPartFile = job.NoCleanPartFile

	var firstErr error
	for _, archive := range job.Archives {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.runArchive(ctx, archive, job); err != nil {
			d.log.Error("archive ingest failed", zap.String("archive", archive), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			if snaperr.IsKind(err, snaperr.StoreError) {
				return err
			}
			continue
		}
	}
	return firstErr
}

func (d *Driver) runArchive(ctx context.Context, archive string, job Job) error {
	all, err := d.Catalog.All(ctx, archive)
	if err != nil {
		return err
	}
	requested, err := d.Catalog.Resolve(ctx, archive, job.TimestampRequests)
	if err != nil {
		return err
	}
	tl := index.NewTimeline(all)

	for _, t := range requested {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !job.ProvisionDBOnly {
			if err := d.fetchTimestamp(ctx, archive, t, job); err != nil {
				if snaperr.IsKind(err, snaperr.StoreError) {
					return err
				}
				d.log.Error("fetch failed for timestamp",
					zap.String("archive", archive), zap.String("timestamp", string(t)), zap.Error(err))
				continue
			}
		}

		if job.ProvisionDB {
			if err := d.provisionTimestamp(ctx, tl, archive, t, job); err != nil {
				if !snaperr.IsKind(err, snaperr.IndexError) {
					return err
				}
				d.log.Error("index commit rolled back for timestamp",
					zap.String("archive", archive), zap.String("timestamp", string(t)), zap.Error(err))
				// No Repodata marker was written; continue to the next
				// timestamp (spec.md §7, IndexError).
			}
		}

		if d.Progress != nil {
			d.Progress(archive, t)
		}
	}
	return nil
}
