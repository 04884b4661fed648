package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fepitre/debian-snapshot/internal/fetch"
	"github.com/fepitre/debian-snapshot/internal/index"
	"github.com/fepitre/debian-snapshot/internal/metadata"
	"github.com/fepitre/debian-snapshot/internal/parse"
	"github.com/fepitre/debian-snapshot/internal/snaperr"
	"github.com/fepitre/debian-snapshot/internal/store"
	"github.com/fepitre/debian-snapshot/internal/timestamp"
)

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func gzipBytes(t *testing.T, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write(content)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

const testTimestamp = timestamp.Value("20210101T000000Z")

// testRig wires one Driver against an httptest mirror serving exactly
// one source package ("foo") in unstable/main/source, with no
// translation, dep11, or installer files (every such request 404s via
// http.ServeMux's default not-found handling, exercising the
// Optional/NotFound-is-not-fatal path for free).
type testRig struct {
	driver      *Driver
	store       *store.Store
	idx         *index.Store
	poolContent []byte
	poolHash    string
	srv         *httptest.Server
	// requests counts every request the mirror's two handlers served.
	requests *int64
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	poolContent := []byte("hello pool artifact content")
	poolHash := sha256Hex(poolContent)

	sourcesBody := fmt.Sprintf(
		"Package: foo\nVersion: 1.0-1\nDirectory: pool/main/f/foo\nChecksums-Sha256:\n %s %d foo_1.0.orig.tar.gz\n\n",
		poolHash, len(poolContent),
	)

	var requests int64
	mux := http.NewServeMux()
	mux.HandleFunc("/archive/debian/20210101T000000Z/dists/unstable/main/source/Sources.gz",
		func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&requests, 1)
			w.Write(gzipBytes(t, []byte(sourcesBody)))
		})
	mux.HandleFunc("/archive/debian/20210101T000000Z/pool/main/f/foo/foo_1.0.orig.tar.gz",
		func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&requests, 1)
			w.Write(poolContent)
		})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cacheDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cacheDir, "by-timestamp"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "by-timestamp", "debian.txt"), []byte(string(testTimestamp)+"\n"), 0o644))
	cat := &timestamp.Catalog{CacheDir: cacheDir}

	st, err := store.New(t.TempDir(), nil)
	require.NoError(t, err)

	eng := fetch.New(srv.Client(), nil)
	eng.SmallPolicy.MaxAttempts = 1
	eng.RangedPolicy.MaxAttempts = 1

	pl := metadata.NewPlanner(srv.URL, "")
	pl.Client = srv.Client()

	idx, err := index.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	d := New(st, eng, cat, pl, idx, t.TempDir(), nil)

	return &testRig{driver: d, store: st, idx: idx, poolContent: poolContent, poolHash: poolHash, srv: srv, requests: &requests}
}

func baseJob() Job {
	return Job{
		Archives:           []string{"debian"},
		Suites:             []string{"unstable"},
		Components:         []string{"main"},
		Architectures:      []string{"source"},
		TimestampRequests:  []string{string(testTimestamp)},
		SkipInstallerFiles: true,
		FetchConcurrency:   2,
	}
}

func TestRunFetchesRepodataAndPoolFileAndSkipsMissingOptionalTargets(t *testing.T) {
	rig := newTestRig(t)
	job := baseJob()

	require.NoError(t, rig.driver.Run(context.Background(), job))

	repoPath := "archive/debian/20210101T000000Z/dists/unstable/main/source/Sources.gz"
	hash, ok := rig.store.ResolvedHash(repoPath)
	require.True(t, ok)
	require.NotEmpty(t, hash)

	poolPath := "archive/debian/20210101T000000Z/pool/main/f/foo/foo_1.0.orig.tar.gz"
	got, ok := rig.store.ResolvedHash(poolPath)
	require.True(t, ok)
	require.Equal(t, rig.poolHash, got)
}

func TestRunWithProvisionDBCommitsHashAndRepodataMarker(t *testing.T) {
	rig := newTestRig(t)
	job := baseJob()
	job.ProvisionDB = true

	require.NoError(t, rig.driver.Run(context.Background(), job))

	ctx := context.Background()
	known, err := rig.idx.HasHash(ctx, rig.poolHash)
	require.NoError(t, err)
	require.True(t, known)

	id := index.RepodataID("debian", testTimestamp, "unstable", "main", "source")
	has, err := rig.idx.HasRepodata(ctx, id)
	require.NoError(t, err)
	require.True(t, has)
}

func TestProvisionDBOnlyIndexesWithoutFetchingArtifacts(t *testing.T) {
	rig := newTestRig(t)

	fetchJob := baseJob()
	require.NoError(t, rig.driver.Run(context.Background(), fetchJob))

	before := atomic.LoadInt64(rig.requests)

	provJob := baseJob()
	provJob.ProvisionDB = true
	provJob.ProvisionDBOnly = true

	require.NoError(t, rig.driver.Run(context.Background(), provJob))
	require.Equal(t, before, atomic.LoadInt64(rig.requests))

	ctx := context.Background()
	known, err := rig.idx.HasHash(ctx, rig.poolHash)
	require.NoError(t, err)
	require.True(t, known)
}

func TestProvisionDBSkipsAlreadyProvisionedUnlessIgnoreProvisioned(t *testing.T) {
	rig := newTestRig(t)
	job := baseJob()
	job.ProvisionDB = true

	require.NoError(t, rig.driver.Run(context.Background(), job))

	// Replace the mirrored repodata with a Sources.gz listing "bar"
	// instead: a pass that honours the Repodata marker never reads it,
	// a pass with IgnoreProvisioned folds bar's hash into the index.
	barHash := sha256Hex([]byte("bar"))
	barSources := fmt.Sprintf(
		"Package: bar\nVersion: 2.0-1\nDirectory: pool/main/b/bar\nChecksums-Sha256:\n %s 3 bar_2.0.orig.tar.gz\n\n", barHash)
	repoPath := filepath.Join(rig.store.Root(), "archive/debian/20210101T000000Z/dists/unstable/main/source/Sources.gz")
	require.NoError(t, os.Remove(repoPath))
	require.NoError(t, os.WriteFile(repoPath, gzipBytes(t, []byte(barSources)), 0o644))

	ctx := context.Background()
	again := baseJob()
	again.ProvisionDBOnly = true
	again.ProvisionDB = true
	require.NoError(t, rig.driver.Run(ctx, again))
	known, err := rig.idx.HasHash(ctx, barHash)
	require.NoError(t, err)
	require.False(t, known, "an already-provisioned slot is skipped")

	again.IgnoreProvisioned = true
	require.NoError(t, rig.driver.Run(ctx, again))
	known, err = rig.idx.HasHash(ctx, barHash)
	require.NoError(t, err)
	require.True(t, known, "IgnoreProvisioned re-folds the slot")
}

func TestCheckOnlyVerifiesExistingBlobsWithoutFetching(t *testing.T) {
	rig := newTestRig(t)
	job := baseJob()
	require.NoError(t, rig.driver.Run(context.Background(), job))

	before := atomic.LoadInt64(rig.requests)

	records := []parse.Record{
		{Name: "foo", Path: "pool/main/f/foo", Filename: "foo_1.0.orig.tar.gz", Size: int64(len(rig.poolContent)), SHA256: rig.poolHash},
	}
	require.NoError(t, rig.driver.checkOnlyVerify(records))
	require.Equal(t, before, atomic.LoadInt64(rig.requests))
}

func TestCheckOnlyVerifyLogsMissingBlobWithoutError(t *testing.T) {
	rig := newTestRig(t)
	records := []parse.Record{
		{Name: "bar", Path: "pool/main/b/bar", Filename: "bar_1.0.orig.tar.gz", Size: 4, SHA256: "0000000000000000000000000000000000000000000000000000000000000000"[:64]},
	}
	require.NoError(t, rig.driver.checkOnlyVerify(records))
}

func TestFetchOptionalSwallowsNotFoundAndPropagatesOtherErrors(t *testing.T) {
	rig := newTestRig(t)

	missing := metadata.Target{
		URLs:      []string{rig.srv.URL + "/does/not/exist"},
		LocalPath: "archive/debian/20210101T000000Z/does/not/exist",
		Optional:  true,
	}
	require.NoError(t, rig.driver.fetchOptional(context.Background(), missing, "test target"))

	bogus := metadata.Target{
		URLs:      []string{"http://127.0.0.1:1/unreachable"},
		LocalPath: "archive/debian/20210101T000000Z/unreachable",
		Optional:  true,
	}
	err := rig.driver.fetchOptional(context.Background(), bogus, "test target")
	require.Error(t, err)
	require.True(t, snaperr.IsKind(err, snaperr.TransientNetwork))
}

func TestRunMultipleArchivesContinuesPastCatalogUnavailable(t *testing.T) {
	rig := newTestRig(t)
	job := baseJob()
	job.Archives = []string{"debian", "ghost-archive"}

	err := rig.driver.Run(context.Background(), job)
	require.Error(t, err)
	require.True(t, snaperr.IsKind(err, snaperr.CatalogUnavailable))

	poolPath := "archive/debian/20210101T000000Z/pool/main/f/foo/foo_1.0.orig.tar.gz"
	_, ok := rig.store.ResolvedHash(poolPath)
	require.True(t, ok, "the first, valid archive should still have been ingested")
}
