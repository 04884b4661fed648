package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fepitre/debian-snapshot/internal/snaperr"
)

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestPutRejectsDigestMismatchAndLeavesNoByHashEntry(t *testing.T) {
	st, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	content := []byte("hello world")
	_, err = st.Put(bytes.NewReader(content), "0000000000000000000000000000000000000000000000000000000000000000"[:64])
	require.Error(t, err)
	require.True(t, snaperr.IsKind(err, snaperr.HashMismatch))

	// Neither the wrong key nor the right one should have been linked.
	require.False(t, st.Has("0000000000000000000000000000000000000000000000000000000000000000"[:64]))
	require.False(t, st.Has(sha256Hex(content)))
}

func TestPutWithoutExpectedHashCommitsUnderComputedDigest(t *testing.T) {
	st, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	content := []byte("unverified but still content-addressed")
	got, err := st.Put(bytes.NewReader(content), "")
	require.NoError(t, err)
	require.Equal(t, sha256Hex(content), got)
	require.True(t, st.Has(got))
}

func TestLinkIsIdempotentAndRelinksOnHashChange(t *testing.T) {
	st, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	a := []byte("object a")
	b := []byte("object b")
	hashA, err := st.Put(bytes.NewReader(a), "")
	require.NoError(t, err)
	hashB, err := st.Put(bytes.NewReader(b), "")
	require.NoError(t, err)

	require.NoError(t, st.Link("dists/unstable/main/binary-amd64/Packages.gz", hashA))
	got, ok := st.ResolvedHash("dists/unstable/main/binary-amd64/Packages.gz")
	require.True(t, ok)
	require.Equal(t, hashA, got)

	// Re-linking to the same hash is a no-op (idempotent).
	require.NoError(t, st.Link("dists/unstable/main/binary-amd64/Packages.gz", hashA))
	got, ok = st.ResolvedHash("dists/unstable/main/binary-amd64/Packages.gz")
	require.True(t, ok)
	require.Equal(t, hashA, got)

	// Linking the same path to a different hash replaces the symlink.
	require.NoError(t, st.Link("dists/unstable/main/binary-amd64/Packages.gz", hashB))
	got, ok = st.ResolvedHash("dists/unstable/main/binary-amd64/Packages.gz")
	require.True(t, ok)
	require.Equal(t, hashB, got)
}

func TestResolvedHashOnNonSymlinkPathReturnsFalse(t *testing.T) {
	st, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	_, ok := st.ResolvedHash("does/not/exist")
	require.False(t, ok)
}

func TestVerifyAcceptsIntactBlobAndRejectsTamperedOne(t *testing.T) {
	st, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	content := []byte("intact bytes")
	hash, err := st.Put(bytes.NewReader(content), "")
	require.NoError(t, err)

	ok, err := st.Verify(hash)
	require.NoError(t, err)
	require.True(t, ok, "freshly committed blob should verify against its own name")

	// Tamper with the by-hash bytes directly, simulating on-disk
	// corruption or bit rot (spec.md P5's actual failure mode).
	require.NoError(t, os.WriteFile(st.ObjectPath(hash), []byte("corrupted bytes"), 0o644))

	ok, err = st.Verify(hash)
	require.NoError(t, err)
	require.False(t, ok, "a tampered blob must no longer verify against its name")
}

func TestVerifyOnMissingHashReturnsError(t *testing.T) {
	st, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = st.Verify("deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	require.Error(t, err)
}

func TestLinkProducesRelativeSymlinkResolvingIntoByHash(t *testing.T) {
	st, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	content := []byte("path-tree symlink target")
	hash, err := st.Put(bytes.NewReader(content), "")
	require.NoError(t, err)

	relPath := "archive/debian/20210101T000000Z/pool/main/f/foo/foo_1.0.orig.tar.gz"
	require.NoError(t, st.Link(relPath, hash))

	target, err := os.Readlink(filepath.Join(st.Root(), relPath))
	require.NoError(t, err)
	require.False(t, filepath.IsAbs(target), "path-tree entries must be relative symlinks (spec.md §4.1)")

	resolved := filepath.Join(filepath.Dir(filepath.Join(st.Root(), relPath)), target)
	require.Equal(t, st.ObjectPath(hash), resolved)

	b, err := os.ReadFile(resolved)
	require.NoError(t, err)
	require.Equal(t, content, b)
}
