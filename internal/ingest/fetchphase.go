package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fepitre/debian-snapshot/internal/artifact"
	"github.com/fepitre/debian-snapshot/internal/metadata"
	"github.com/fepitre/debian-snapshot/internal/metadata/compression"
	"github.com/fepitre/debian-snapshot/internal/parse"
	"github.com/fepitre/debian-snapshot/internal/snaperr"
	"github.com/fepitre/debian-snapshot/internal/timestamp"
)

// fetchTimestamp mirrors original_source/snapshot-mirror.py's run():
// per suite/component, translation and dep11 first, then each
// architecture's repodata (parsed immediately to build the pool-file
// list) and installer files, then every unique pool file is fetched
// through the bounded artifact pool, and finally the suite/component-
// arch Release files are fetched last "to ack the mirror sync".
func (d *Driver) fetchTimestamp(ctx context.Context, archive string, t timestamp.Value, job Job) error {
	var allRecords []parse.Record

	for _, suite := range job.Suites {
		for _, component := range job.Components {
			if err := ctx.Err(); err != nil {
				return err
			}

			for _, tgt := range d.Planner.TranslationTargets(ctx, archive, t, suite, component) {
				if err := d.fetchOptional(ctx, tgt, "translation"); err != nil {
					return err
				}
			}
			if !job.SkipInstallerFiles {
				for _, tgt := range d.Planner.Dep11Targets(ctx, archive, t, suite, component, job.Architectures) {
					if err := d.fetchOptional(ctx, tgt, "dep11"); err != nil {
						return err
					}
				}
			}

			for _, arch := range job.Architectures {
				repoTgt := d.Planner.RepodataTarget(archive, t, suite, component, arch)
				err := d.fetchMetadataTarget(ctx, repoTgt)
				if err != nil {
					if snaperr.IsKind(err, snaperr.NotFound) {
						d.log.Debug("no repodata for combination",
							zap.String("suite", suite), zap.String("component", component), zap.String("arch", arch))
						continue
					}
					return err
				}

				recs, err := d.parseRepodata(repoTgt.LocalPath, arch)
				if err != nil {
					return err
				}
				allRecords = append(allRecords, recs...)

				if !job.SkipInstallerFiles && arch != "source" {
					if err := d.fetchInstaller(ctx, archive, t, suite, component, arch); err != nil {
						return err
					}
				}
			}
		}
	}

	if err := d.fetchArtifacts(ctx, archive, t, allRecords, job); err != nil {
		return err
	}

	for _, suite := range job.Suites {
		for _, tgt := range d.Planner.ReleaseTargets(archive, t, suite) {
			if err := d.fetchOptional(ctx, tgt, "release"); err != nil {
				return err
			}
		}
		for _, component := range job.Components {
			for _, arch := range job.Architectures {
				tgt := d.Planner.ComponentArchReleaseTarget(archive, t, suite, component, arch)
				if err := d.fetchOptional(ctx, tgt, "component release"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (d *Driver) fetchInstaller(ctx context.Context, archive string, t timestamp.Value, suite, component, arch string) error {
	for _, tgt := range d.Planner.InstallerRepodataTargets(archive, t, suite, component, arch) {
		if err := d.fetchOptional(ctx, tgt, "installer repodata"); err != nil {
			return err
		}
	}

	sumsTgt, ok := d.Planner.InstallerSHA256SUMSTarget(archive, t, suite, component, arch)
	if !ok {
		return nil
	}
	if err := d.fetchMetadataTarget(ctx, sumsTgt); err != nil {
		if snaperr.IsKind(err, snaperr.NotFound) {
			d.log.Debug("no installer images", zap.String("arch", arch))
			return nil
		}
		return err
	}

	full := filepath.Join(d.Store.Root(), sumsTgt.LocalPath)
	f, err := os.Open(full)
	if err != nil {
		return snaperr.New(snaperr.StoreError, full, err)
	}
	entries, err := metadata.ParseSHA256SUMS(f)
	f.Close()
	if err != nil {
		return snaperr.New(snaperr.ParseError, full, err)
	}

	for _, tgt := range d.Planner.InstallerImageTargets(archive, t, suite, component, arch, entries) {
		if err := d.fetchOptional(ctx, tgt, "installer image"); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) parseRepodata(localPath, arch string) ([]parse.Record, error) {
	full := filepath.Join(d.Store.Root(), localPath)
	f, err := os.Open(full)
	if err != nil {
		return nil, snaperr.New(snaperr.StoreError, full, err)
	}
	defer f.Close()

	reader, err := compression.Decompress(f, filepath.Base(localPath), nil)
	if err != nil {
		return nil, snaperr.New(snaperr.ParseError, full, err)
	}

	var parser *parse.Parser
	if arch == "source" {
		parser, err = parse.NewSourcesParser(reader)
	} else {
		parser, err = parse.NewPackagesParser(reader)
	}
	if err != nil {
		return nil, err
	}

	var recs []parse.Record
	err = parser.Each(
		func(skipErr error) {
			d.log.Warn("skipped unparseable paragraph", zap.String("file", full), zap.Error(skipErr))
		},
		func(r parse.Record) error {
			recs = append(recs, r)
			return nil
		},
	)
	return recs, err
}

// fetchArtifacts drives C6 over every pool file referenced by this
// timestamp's repodata, or verifies already-present blobs in
// --check-only mode (no network access at all).
func (d *Driver) fetchArtifacts(ctx context.Context, archive string, t timestamp.Value, records []parse.Record, job Job) error {
	if len(records) == 0 {
		return nil
	}
	if job.CheckOnly {
		return d.checkOnlyVerify(records)
	}

	// Pool files are linked beside this timestamp's dists tree, at
	// archive/<archive>/<timestamp>/<Directory>/<filename>.
	prefix := fmt.Sprintf("archive/%s/%s", archive, t)
	located := make([]parse.Record, len(records))
	for i, rec := range records {
		rec.Path = prefix + "/" + rec.Path
		located[i] = rec
	}

	candidates := func(rec parse.Record) []string {
		urls := make([]string, 0, 2)
		if d.Index != nil {
			if known, _ := d.Index.HasHash(ctx, rec.SHA256); known {
				urls = append(urls, fmt.Sprintf("%s/file/%s", trimSlash(d.Planner.BaseURL), rec.SHA256))
			}
		}
		urls = append(urls, fmt.Sprintf("%s/%s/%s", trimSlash(d.Planner.BaseURL), rec.Path, rec.Filename))
		return urls
	}

	fetcher := artifact.New(d.Store, d.Engine, candidates, d.stagingDir, d.log)
	return fetcher.FetchConcurrent(ctx, located, job.concurrency())
}

// checkOnlyVerify re-hashes each unique blob already committed to the
// store, per original_source/snapshot-mirror.py's download_file(...,
// check_only=True): no network access, a missing blob is logged (not
// fatal), a mismatched one is.
func (d *Driver) checkOnlyVerify(records []parse.Record) error {
	seen := map[string]bool{}
	for _, rec := range records {
		if seen[rec.SHA256] {
			continue
		}
		seen[rec.SHA256] = true

		if !d.Store.Has(rec.SHA256) {
			d.log.Info("missing blob", zap.String("sha256", rec.SHA256), zap.String("name", rec.Filename))
			continue
		}
		ok, err := d.Store.Verify(rec.SHA256)
		if err != nil {
			return err
		}
		if !ok {
			return snaperr.New(snaperr.HashMismatch, rec.SHA256, fmt.Errorf("on-disk blob does not match its own name"))
		}
	}
	return nil
}

// fetchMetadataTarget commits one Target through the object store,
// trying each candidate URL in order (same fallback shape as
// artifact.Fetcher.fetchOne). The caller decides whether a NotFound
// result is fatal via fetchOptional/explicit IsKind checks.
func (d *Driver) fetchMetadataTarget(ctx context.Context, tgt metadata.Target) error {
	staging := d.stagingDir
	if staging == "" {
		staging = os.TempDir()
	}
	tmp := filepath.Join(staging, uuid.NewString()+".staged")
	defer os.Remove(tmp)

	var lastErr error
	for _, url := range tgt.URLs {
		sum, err := d.Engine.Dispatch(ctx, url, tmp, 0, tgt.ExpectedSHA256)
		if err != nil {
			lastErr = err
			continue
		}

		f, ferr := os.Open(tmp)
		if ferr != nil {
			return snaperr.New(snaperr.StoreError, tmp, ferr)
		}
		hash, perr := d.Store.Put(f, sum)
		f.Close()
		if perr != nil {
			return perr
		}
		if err := d.Store.Link(tgt.LocalPath, hash); err != nil {
			return snaperr.New(snaperr.StoreError, tgt.LocalPath, err)
		}
		return nil
	}
	return lastErr
}

// fetchOptional runs fetchMetadataTarget, swallowing a NotFound result
// (spec.md §7: "ingest continues; a missing combination is logged,
// never fatal") at Debug level for an Optional target and Warn for a
// required one that was still missing.
func (d *Driver) fetchOptional(ctx context.Context, tgt metadata.Target, what string) error {
	err := d.fetchMetadataTarget(ctx, tgt)
	if err == nil {
		return nil
	}
	if snaperr.IsKind(err, snaperr.NotFound) {
		if tgt.Optional {
			d.log.Debug("missing "+what, zap.Strings("urls", tgt.URLs))
		} else {
			d.log.Warn("missing "+what, zap.Strings("urls", tgt.URLs))
		}
		return nil
	}
	return err
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
