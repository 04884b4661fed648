package query

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fepitre/debian-snapshot/internal/index"
	"github.com/fepitre/debian-snapshot/internal/parse"
	"github.com/fepitre/debian-snapshot/internal/timestamp"
)

const sampleBuildInfo = `Format: 1.0-Upload-Flags
Source: foo
Binary: foo
Architecture: amd64
Version: 1.0-1
Build-Architecture: amd64
Build-Date: Fri, 01 Jan 2021 00:00:00 +0000
Installed-Build-Depends:
 gcc-12 (= 12.2.0-3),
 libc6:amd64 (= 2.36-9),
 libc6-dev (= 2.36-9),
`

func TestParseBuildInfoDefaultsArchToBuildArchitecture(t *testing.T) {
	deps, err := ParseBuildInfo(strings.NewReader(sampleBuildInfo))
	require.NoError(t, err)
	require.Len(t, deps, 3)

	byName := map[string]BuildDep{}
	for _, d := range deps {
		byName[d.Name] = d
	}

	require.Equal(t, BuildDep{Name: "gcc-12", Version: "12.2.0-3", Arch: "amd64"}, byName["gcc-12"])
	require.Equal(t, BuildDep{Name: "libc6", Version: "2.36-9", Arch: "amd64"}, byName["libc6"])
	require.Equal(t, BuildDep{Name: "libc6-dev", Version: "2.36-9", Arch: "amd64"}, byName["libc6-dev"])
}

func TestParseBuildInfoRejectsMalformedEntry(t *testing.T) {
	bad := strings.Replace(sampleBuildInfo, "gcc-12 (= 12.2.0-3)", "gcc-12 >= 12.2.0-3", 1)
	_, err := ParseBuildInfo(strings.NewReader(bad))
	require.Error(t, err)
}

// seedReproIndex commits two binary packages at one location: foo is
// present in unstable/main/amd64 across two timestamps, and bar only
// in unstable/main/amd64 at the later one, so their coverage overlap
// is exactly the later timestamp.
func seedReproIndex(t *testing.T) *Engine {
	t.Helper()
	idx, err := index.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	tl := index.NewTimeline([]timestamp.Value{"20210101T000000Z", "20210102T000000Z"})

	c1 := index.NewCollector()
	c1.Add(index.Observation{
		Record: parse.Record{
			Kind: parse.KindBinary, Name: "foo", Version: "1.0-1", Architecture: "amd64",
			Path: "pool/main/f/foo", Filename: "foo_1.0-1_amd64.deb", Size: 10,
			SHA256: strings.Repeat("a", 64),
		},
		Archive: "debian", Suite: "unstable", Component: "main",
	})
	require.NoError(t, idx.Commit(context.Background(), tl, "debian", "20210101T000000Z", c1, nil))

	c2 := index.NewCollector()
	c2.Add(index.Observation{
		Record: parse.Record{
			Kind: parse.KindBinary, Name: "foo", Version: "1.0-1", Architecture: "amd64",
			Path: "pool/main/f/foo", Filename: "foo_1.0-1_amd64.deb", Size: 10,
			SHA256: strings.Repeat("a", 64),
		},
		Archive: "debian", Suite: "unstable", Component: "main",
	})
	c2.Add(index.Observation{
		Record: parse.Record{
			Kind: parse.KindBinary, Name: "bar", Version: "2.0-1", Architecture: "amd64",
			Path: "pool/main/b/bar", Filename: "bar_2.0-1_amd64.deb", Size: 20,
			SHA256: strings.Repeat("b", 64),
		},
		Archive: "debian", Suite: "unstable", Component: "main",
	})
	require.NoError(t, idx.Commit(context.Background(), tl, "debian", "20210102T000000Z", c2, nil))

	return New(idx)
}

func TestReproducibilityReturnsNotFoundForUnknownPackage(t *testing.T) {
	e := seedReproIndex(t)
	deps := []BuildDep{{Name: "ghost", Version: "9.9", Arch: "amd64"}}

	locs, notFound, err := e.Reproducibility(context.Background(), deps, "")
	require.NoError(t, err)
	require.Nil(t, locs)
	require.Equal(t, []NotFoundDep{{Name: "ghost", Version: "9.9", Arch: "amd64"}}, notFound)
}

func TestReproducibilityDiscardsMismatchedArchitecture(t *testing.T) {
	e := seedReproIndex(t)
	deps := []BuildDep{{Name: "foo", Version: "1.0-1", Arch: "i386"}}

	locs, notFound, err := e.Reproducibility(context.Background(), deps, "")
	require.NoError(t, err)
	require.Nil(t, locs)
	require.Equal(t, []NotFoundDep{{Name: "foo", Version: "1.0-1", Arch: "i386"}}, notFound)
}

func TestReproducibilityComputesSharedTimestamp(t *testing.T) {
	e := seedReproIndex(t)
	deps := []BuildDep{
		{Name: "foo", Version: "1.0-1", Arch: "amd64"},
		{Name: "bar", Version: "2.0-1", Arch: "amd64"},
	}

	locs, notFound, err := e.Reproducibility(context.Background(), deps, "")
	require.NoError(t, err)
	require.Empty(t, notFound)
	require.Len(t, locs, 1)
	require.Equal(t, "debian", locs[0].Archive)
	require.Equal(t, "unstable", locs[0].Suite)
	require.Equal(t, "amd64", locs[0].Architecture)
	require.Equal(t, []string{"20210102T000000Z"}, locs[0].Timestamps)
}

func TestReproducibilityHonorsSuiteFilter(t *testing.T) {
	e := seedReproIndex(t)
	deps := []BuildDep{{Name: "foo", Version: "1.0-1", Arch: "amd64"}}

	_, notFound, err := e.Reproducibility(context.Background(), deps, "stable")
	require.NoError(t, err)
	require.Equal(t, []NotFoundDep{{Name: "foo", Version: "1.0-1", Arch: "amd64"}}, notFound)
}
