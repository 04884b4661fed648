package metadata

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/fepitre/debian-snapshot/internal/timestamp"
)

// Target is one file the metadata fetcher wants committed into the
// object store: an ordered list of candidate URLs (first success
// wins, per spec.md §4.6's multi-candidate-URL fallback, reused here
// for installer images) and the path-tree location to link it at.
type Target struct {
	URLs           []string
	LocalPath      string
	ExpectedSHA256 string
	// Optional reports whether a 404 for this target is expected and
	// should be skipped rather than logged as an error (spec.md §4.4:
	// "missing suite-component-arch combinations are skipped").
	Optional bool
}

// Planner builds the fetch plan for one (archive, timestamp, suite,
// component, architecture) slot, grounded on
// original_source/snapshot.py's download_repodata/download_release/
// download_translation/download_dep11/download_installer.
type Planner struct {
	// BaseURL is the snapshot mirror root, e.g. "https://snapshot.debian.org".
	BaseURL string
	// InstallerMirrorURL, if set, is tried before BaseURL for installer
	// images (original_source uses https://ftp.debian.org as the
	// preferred installer-image source, since snapshot.debian.org's
	// installer tree is sparser).
	InstallerMirrorURL string
	Client             *http.Client
}

// NewPlanner returns a Planner with the given mirror roots.
func NewPlanner(baseURL, installerMirrorURL string) *Planner {
	return &Planner{BaseURL: baseURL, InstallerMirrorURL: installerMirrorURL, Client: http.DefaultClient}
}

func (pl *Planner) archiveRoot(archive string, t timestamp.Value) string {
	return fmt.Sprintf("archive/%s/%s", archive, t)
}

func (pl *Planner) distsRoot(archive string, t timestamp.Value, suite string) string {
	return fmt.Sprintf("%s/dists/%s", pl.archiveRoot(archive, t), suite)
}

func (pl *Planner) url(relPath string) string {
	return strings.TrimSuffix(pl.BaseURL, "/") + "/" + relPath
}

func (pl *Planner) single(relPath string, optional bool) Target {
	return Target{URLs: []string{pl.url(relPath)}, LocalPath: relPath, Optional: optional}
}

// ReleaseTargets returns the three suite-level metadata files
// (Release, Release.gpg, InRelease); all three are optional since
// which ones exist varies by suite age, per download_release.
func (pl *Planner) ReleaseTargets(archive string, t timestamp.Value, suite string) []Target {
	root := pl.distsRoot(archive, t, suite)
	return []Target{
		pl.single(root+"/Release", true),
		pl.single(root+"/Release.gpg", true),
		pl.single(root+"/InRelease", true),
	}
}

// RepodataTarget returns the Packages.gz or Sources.gz target for one
// (component, architecture) slot ("source" selects Sources.gz), per
// download_repodata. This target is not Optional: spec.md treats a
// missing repodata slot as a component/arch combination that should be
// skipped by the caller checking existence first, not silently
// swallowed here.
func (pl *Planner) RepodataTarget(archive string, t timestamp.Value, suite, component, arch string) Target {
	var repodata string
	if arch == "source" {
		repodata = "source/Sources.gz"
	} else {
		repodata = fmt.Sprintf("binary-%s/Packages.gz", arch)
	}
	rel := fmt.Sprintf("%s/%s/%s", pl.distsRoot(archive, t, suite), component, repodata)
	return pl.single(rel, false)
}

// ComponentArchReleaseTarget returns the per-component-per-architecture
// Release file (e.g. main/binary-amd64/Release), per download_release.
func (pl *Planner) ComponentArchReleaseTarget(archive string, t timestamp.Value, suite, component, arch string) Target {
	dir := arch
	if arch != "source" {
		dir = "binary-" + arch
	}
	rel := fmt.Sprintf("%s/%s/%s/Release", pl.distsRoot(archive, t, suite), component, dir)
	return pl.single(rel, true)
}

// TranslationTargets returns the i18n/Translation-en.bz2 target,
// annotated with its published hash from the directory's by-hash page
// when available, per download_translation.
func (pl *Planner) TranslationTargets(ctx context.Context, archive string, t timestamp.Value, suite, component string) []Target {
	dir := fmt.Sprintf("%s/%s/i18n", pl.distsRoot(archive, t, suite), component)
	hashes := pl.byHashHints(ctx, dir)

	const f = "Translation-en.bz2"
	tgt := pl.single(dir+"/"+f, true)
	tgt.ExpectedSHA256 = hashes[f]
	return []Target{tgt}
}

// dep11IconFiles is the fixed icon archive set every dep11 directory
// publishes, per download_dep11.
var dep11IconFiles = []string{
	"icons-48x48.tar.gz",
	"icons-64x64.tar.gz",
	"icons-128x128.tar.gz",
	"icons-48x48@2.tar.gz",
	"icons-64x64@2.tar.gz",
	"icons-128x128@2.tar.gz",
}

// Dep11Targets returns the fixed dep11 icon archives plus the
// per-architecture CID-Index/Components files, annotated with
// published hashes where the by-hash page has them.
func (pl *Planner) Dep11Targets(ctx context.Context, archive string, t timestamp.Value, suite, component string, arches []string) []Target {
	dir := fmt.Sprintf("%s/%s/dep11", pl.distsRoot(archive, t, suite), component)
	hashes := pl.byHashHints(ctx, dir)

	files := append([]string{}, dep11IconFiles...)
	for _, arch := range arches {
		if arch == "source" || arch == "all" {
			continue
		}
		files = append(files, fmt.Sprintf("CID-Index-%s.json.gz", arch), fmt.Sprintf("Components-%s.yml.gz", arch))
	}

	targets := make([]Target, 0, len(files))
	for _, f := range files {
		tgt := pl.single(dir+"/"+f, true)
		tgt.ExpectedSHA256 = hashes[f]
		targets = append(targets, tgt)
	}
	return targets
}

// InstallerRepodataTargets returns the debian-installer pseudo-component's
// Packages.gz and Release, per download_installer's repodata_files.
func (pl *Planner) InstallerRepodataTargets(archive string, t timestamp.Value, suite, component, arch string) []Target {
	if arch == "source" {
		return nil
	}
	dir := fmt.Sprintf("%s/%s/debian-installer/binary-%s", pl.distsRoot(archive, t, suite), component, arch)
	return []Target{
		pl.single(dir+"/Packages.gz", true),
		pl.single(dir+"/Release", true),
	}
}

// InstallerSHA256SUMSTarget returns the SHA256SUMS manifest for one
// architecture's installer images. "source" and "all" have no
// installer images, per download_installer.
func (pl *Planner) InstallerSHA256SUMSTarget(archive string, t timestamp.Value, suite, component, arch string) (Target, bool) {
	if arch == "source" || arch == "all" {
		return Target{}, false
	}
	rel := fmt.Sprintf("%s/%s/installer-%s/current/images/SHA256SUMS", pl.distsRoot(archive, t, suite), component, arch)
	return pl.single(rel, true), true
}

// InstallerImageTargets returns one Target per referenced installer
// image path, grouped by hash; paths that share a hash still each get
// their own Target and fetch, and the object store keeps their
// identical bytes once (spec.md §4.4's "deduplicated via C1 even
// across architectures"). Each target tries the preferred FTP mirror before
// falling back to the snapshot mirror, per download_installer's `urls`
// list.
func (pl *Planner) InstallerImageTargets(archive string, t timestamp.Value, suite, component, arch string, entries []SHA256SumsEntry) []Target {
	dir := fmt.Sprintf("%s/%s/installer-%s/current/images", pl.distsRoot(archive, t, suite), component, arch)

	byHash := GroupByHash(entries)
	targets := make([]Target, 0, len(byHash))
	for sha256, paths := range byHash {
		for _, relPath := range paths {
			var urls []string
			if pl.InstallerMirrorURL != "" {
				urls = append(urls, fmt.Sprintf("%s/%s/dists/%s/%s/installer-%s/current/images/%s",
					strings.TrimSuffix(pl.InstallerMirrorURL, "/"), archive, suite, component, arch, relPath))
			}
			urls = append(urls, pl.url(dir+"/"+relPath))
			targets = append(targets, Target{
				URLs:           urls,
				LocalPath:      dir + "/" + relPath,
				ExpectedSHA256: sha256,
				Optional:       true,
			})
		}
	}
	return targets
}

// byHashHints fetches and parses the by-hash directory-listing page
// for dir, returning an empty map if the page is unavailable — the
// hint is an optimization, not a dependency.
func (pl *Planner) byHashHints(ctx context.Context, dir string) map[string]string {
	hashes, err := FetchByHashPage(ctx, pl.Client, pl.url(dir))
	if err != nil {
		return map[string]string{}
	}
	return hashes
}
