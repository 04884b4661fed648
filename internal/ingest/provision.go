package ingest

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/fepitre/debian-snapshot/internal/index"
	"github.com/fepitre/debian-snapshot/internal/timestamp"
)

// provisionTimestamp folds one timestamp's already-mirrored repodata
// files into the temporal index, independently of whether they were
// just fetched or fetched in an earlier run (--provision-db-only
// re-indexes a mirror tree with no network access at all). Grounded
// on original_source/snapshot-mirror.py's provision_database: skip a
// (suite, component, arch) slot whose Repodata marker already exists
// unless --ignore-provisioned, otherwise parse the local file and
// fold it into the collector.
func (d *Driver) provisionTimestamp(ctx context.Context, tl *index.Timeline, archive string, t timestamp.Value, job Job) error {
	collector := index.NewCollector()
	var repodataIDs []string

	for _, suite := range job.Suites {
		for _, component := range job.Components {
			for _, arch := range job.Architectures {
				if err := ctx.Err(); err != nil {
					return err
				}

				id := index.RepodataID(archive, t, suite, component, arch)
				if !job.IgnoreProvisioned {
					has, err := d.Index.HasRepodata(ctx, id)
					if err != nil {
						return err
					}
					if has {
						continue
					}
				}

				repoTgt := d.Planner.RepodataTarget(archive, t, suite, component, arch)
				full := d.Store.Root() + "/" + repoTgt.LocalPath
				if _, err := os.Stat(full); err != nil {
					d.log.Debug("no local repodata to provision",
						zap.String("suite", suite), zap.String("component", component), zap.String("arch", arch))
					continue
				}

				recs, err := d.parseRepodata(repoTgt.LocalPath, arch)
				if err != nil {
					d.log.Error("parsing repodata for provisioning failed", zap.String("path", full), zap.Error(err))
					continue
				}
				for _, r := range recs {
					collector.Add(index.Observation{Record: r, Archive: archive, Suite: suite, Component: component})
				}
				repodataIDs = append(repodataIDs, id)
			}
		}
	}

	if collector.Empty() && len(repodataIDs) == 0 {
		return nil
	}
	return d.Index.Commit(ctx, tl, archive, t, collector, repodataIDs)
}
