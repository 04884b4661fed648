// Package artifact implements the artifact fetcher (spec.md §4.6,
// component C6): for a stream of parsed records, deduplicate by
// sha256 and fetch each unique hash exactly once, linking the
// path-tree symlink for every record that shares it.
//
// Grounded on the teacher's pool.go (Pool.Copy, Pool.IncludeSources,
// Pool.IncludeDeb), generalized from a one-shot local-file copy
// (os.Open + blobstore.Store.Create/Commit) into a fetch-from-network
// pipeline built on internal/fetch + internal/store.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fepitre/debian-snapshot/internal/fetch"
	"github.com/fepitre/debian-snapshot/internal/parse"
	"github.com/fepitre/debian-snapshot/internal/snaperr"
	"github.com/fepitre/debian-snapshot/internal/store"
)

// CandidateURLs returns the ordered list of URLs to try for a record
// (upstream snapshot URL, upstream FTP URL, content-addressed redirect
// URL, in that order per spec.md §4.6); first success wins.
type CandidateURLs func(parse.Record) []string

// Fetcher drives C6 over a record stream.
type Fetcher struct {
	Store      *store.Store
	Engine     *fetch.Engine
	Candidates CandidateURLs
	StagingDir string
	log        *zap.Logger
}

// New returns a Fetcher. stagingDir holds transient downloads before
// they're committed into st; it should be on the same filesystem as
// st's root so the final commit can rename rather than copy.
func New(st *store.Store, eng *fetch.Engine, candidates CandidateURLs, stagingDir string, log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{Store: st, Engine: eng, Candidates: candidates, StagingDir: stagingDir, log: log}
}

// Fetch processes records in stable, deterministic order (sorted by
// name, per spec.md §4.6), fetching each unique hash once and linking
// every record's path-tree symlink to it.
func (f *Fetcher) Fetch(ctx context.Context, records []parse.Record) error {
	sorted := make([]parse.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	done := map[string]bool{}
	for _, rec := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath := path.Join(rec.Path, rec.Filename)

		if !done[rec.SHA256] {
			if !f.Store.Has(rec.SHA256) {
				if err := f.fetchOne(ctx, rec); err != nil {
					return err
				}
			}
			done[rec.SHA256] = true
		}

		if err := f.Store.Link(relPath, rec.SHA256); err != nil {
			return snaperr.New(snaperr.StoreError, relPath, err)
		}
	}
	return nil
}

// FetchConcurrent is Fetch's bounded-parallelism sibling, used by
// internal/ingest's fetch pool (spec.md §5, "concurrency F, default
// 8"): each worker runs one record's fetchOne + Store.Link, up to
// concurrency workers in flight at once. Dedup-by-hash is still exact
// — only the first goroutine to claim a hash fetches it, the rest
// wait on its result via a per-hash done channel — so spec.md P7
// ("downloaded at most once") holds under concurrency too.
func (f *Fetcher) FetchConcurrent(ctx context.Context, records []parse.Record, concurrency int64) error {
	if concurrency < 1 {
		concurrency = 1
	}
	sorted := make([]parse.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var mu sync.Mutex
	claimed := map[string]chan struct{}{} // sha256 -> closed once fetched
	fetchErr := map[string]error{}

	sem := semaphore.NewWeighted(concurrency)
	g, gctx := errgroup.WithContext(ctx)

	for _, rec := range sorted {
		rec := rec
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			mu.Lock()
			done, owner := claimed[rec.SHA256]
			if !owner {
				done = make(chan struct{})
				claimed[rec.SHA256] = done
			}
			mu.Unlock()

			if !owner {
				var err error
				if !f.Store.Has(rec.SHA256) {
					err = f.fetchOne(gctx, rec)
				}
				mu.Lock()
				fetchErr[rec.SHA256] = err
				mu.Unlock()
				close(done)
			} else {
				select {
				case <-done:
				case <-gctx.Done():
					return gctx.Err()
				}
			}

			mu.Lock()
			err := fetchErr[rec.SHA256]
			mu.Unlock()
			if err != nil {
				return err
			}

			relPath := path.Join(rec.Path, rec.Filename)
			if err := f.Store.Link(relPath, rec.SHA256); err != nil {
				return snaperr.New(snaperr.StoreError, relPath, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// fetchOne tries each candidate URL in order, committing the first
// one that succeeds into the store. Exhausting every candidate yields
// FetchExhausted.
func (f *Fetcher) fetchOne(ctx context.Context, rec parse.Record) error {
	urls := f.Candidates(rec)
	if len(urls) == 0 {
		return snaperr.New(snaperr.FetchExhausted, rec.Filename, fmt.Errorf("no candidate URLs"))
	}

	staging := f.StagingDir
	if staging == "" {
		staging = os.TempDir()
	}
	tmp := filepath.Join(staging, rec.SHA256+"."+uuid.NewString()+".staged")
	defer os.Remove(tmp)

	var lastErr error
	for _, url := range urls {
		if _, err := f.Engine.Dispatch(ctx, url, tmp, rec.Size, rec.SHA256); err != nil {
			lastErr = err
			f.log.Warn("candidate fetch failed", zap.String("url", url), zap.Error(err))
			continue
		}

		committed, err := f.commit(tmp, rec)
		if err != nil {
			lastErr = err
			continue
		}
		f.log.Debug("fetched artifact", zap.String("sha256", committed), zap.String("name", rec.Filename))
		return nil
	}

	return snaperr.New(snaperr.FetchExhausted, rec.Filename, fmt.Errorf("all %d candidate URLs failed: %w", len(urls), lastErr))
}

func (f *Fetcher) commit(tmp string, rec parse.Record) (string, error) {
	r, err := os.Open(tmp)
	if err != nil {
		return "", snaperr.New(snaperr.StoreError, tmp, err)
	}
	defer r.Close()
	return f.Store.Put(r, rec.SHA256)
}
