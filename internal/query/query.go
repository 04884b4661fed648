// Package query implements the query engine (spec.md §4.8, component
// C8): read-only lookups over the temporal index, plus the
// build-reproducibility greedy interval-endpoint-selection algorithm.
//
// Grounded directly on original_source/api/snapshot_api.py (every
// handler: timestamps, files, file_info, packages, package, srcfiles,
// binary, binfiles, upload_buildinfo) and original_source/api/db.py's
// join shapes, which internal/index's query.go (Timestamps, Files,
// FileInfo, SourcePackages, SourceVersions, SrcFiles, BinaryVersions,
// BinFiles, BinPkgLocations) already mirrors one level down. No
// teacher file plays this role: pault.ag/go/archive never serves a
// read API, only builds and signs repositories.
package query

import (
	"context"

	"github.com/fepitre/debian-snapshot/internal/index"
)

// Engine answers read queries against one temporal index.
type Engine struct {
	Index *index.Store
}

// New returns an Engine over idx.
func New(idx *index.Store) *Engine {
	return &Engine{Index: idx}
}

// FileLocation is one (file, location) pairing, the JSON shape
// original_source/api/snapshot_api.py's file_desc builds.
type FileLocation struct {
	Name      string      `json:"name"`
	Path      string      `json:"path"`
	Size      int64       `json:"size"`
	Archive   string      `json:"archive_name"`
	Suite     string      `json:"suite_name"`
	Component string      `json:"component_name"`
	Ranges    [][2]string `json:"timestamp_ranges"`
}

func toRangePairs(r index.Ranges) [][2]string {
	out := make([][2]string, len(r))
	for i, rg := range r {
		out[i] = [2]string{string(rg.Begin), string(rg.End)}
	}
	return out
}

// Timestamps returns every timestamp folded for archive, ascending.
func (e *Engine) Timestamps(ctx context.Context, archive string) ([]string, error) {
	return e.Index.Timestamps(ctx, archive)
}

// Files returns every distinct filename known to the index.
func (e *Engine) Files(ctx context.Context) ([]string, error) {
	return e.Index.Files(ctx)
}

// FileInfo describes every location a hash was observed at, combined
// with the representative (name, path, size) the hash is filed under.
func (e *Engine) FileInfo(ctx context.Context, sha256 string) ([]FileLocation, bool, error) {
	file, ok, err := e.Index.FileByHash(ctx, sha256)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	locs, err := e.Index.FileInfo(ctx, sha256)
	if err != nil {
		return nil, false, err
	}

	out := make([]FileLocation, 0, len(locs))
	for _, lr := range locs {
		out = append(out, FileLocation{
			Name: file.Name, Path: file.Path, Size: file.Size,
			Archive: lr.Archive, Suite: lr.Suite, Component: lr.Component,
			Ranges: toRangePairs(lr.Ranges),
		})
	}
	return out, true, nil
}

// SourcePackages returns every distinct source-package name.
func (e *Engine) SourcePackages(ctx context.Context) ([]string, error) {
	return e.Index.SourcePackages(ctx)
}

// SourceVersions returns every known version of a source package.
func (e *Engine) SourceVersions(ctx context.Context, name string) ([]string, error) {
	return e.Index.SourceVersions(ctx, name)
}

// SrcFileHash is one hash associated with a source release, with its
// locations folded in when withLocations is requested by the caller.
type SrcFileHash struct {
	SHA256    string
	Locations []FileLocation
}

// SrcFiles returns the file hashes for a (name, version) source
// release, with per-hash locations when withLocations is true.
func (e *Engine) SrcFiles(ctx context.Context, name, version string, withLocations bool) ([]SrcFileHash, error) {
	refs, err := e.Index.SrcFiles(ctx, name, version)
	if err != nil {
		return nil, err
	}

	out := make([]SrcFileHash, len(refs))
	for i, r := range refs {
		out[i] = SrcFileHash{SHA256: r.SHA256}
	}
	if !withLocations {
		return out, nil
	}
	for i, r := range refs {
		locs, _, err := e.FileInfo(ctx, r.SHA256)
		if err != nil {
			return nil, err
		}
		out[i].Locations = locs
	}
	return out, nil
}

// BinFileHash is one (hash, architecture) pairing for a binary
// release, with locations folded in when requested.
type BinFileHash struct {
	SHA256       string
	Architecture string
	Locations    []FileLocation
}

// BinaryVersions returns every known version of a binary package.
func (e *Engine) BinaryVersions(ctx context.Context, name string) ([]string, error) {
	return e.Index.BinaryVersions(ctx, name)
}

// BinFiles returns the (hash, architecture) pairs for a (name,
// version) binary release, with per-hash locations when requested.
func (e *Engine) BinFiles(ctx context.Context, name, version string, withLocations bool) ([]BinFileHash, error) {
	refs, err := e.Index.BinFiles(ctx, name, version)
	if err != nil {
		return nil, err
	}

	out := make([]BinFileHash, len(refs))
	for i, r := range refs {
		out[i] = BinFileHash{SHA256: r.SHA256, Architecture: r.Architecture}
	}
	if !withLocations {
		return out, nil
	}
	for i, r := range refs {
		locs, _, err := e.FileInfo(ctx, r.SHA256)
		if err != nil {
			return nil, err
		}
		out[i].Locations = locs
	}
	return out, nil
}
