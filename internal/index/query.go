package index

import (
	"context"
	"database/sql"

	"github.com/fepitre/debian-snapshot/internal/snaperr"
)

// LocationRanges is one (archive, suite, component) coordinate and the
// canonical timestamp ranges at which a hash was observed there,
// answering spec.md §6's `/mr/file/<sha256>/info`.
type LocationRanges struct {
	Archive, Suite, Component string
	Ranges                    Ranges
}

// FileRef names one file sharing a hash, for `srcfiles`/`binfiles`.
type FileRef struct {
	SHA256, Name, Path string
	Size               int64
}

// BinFileRef additionally carries the architecture a BinPkg hash was
// observed under.
type BinFileRef struct {
	FileRef
	Architecture string
}

// Timestamps returns every timestamp folded for archive, ascending.
func (s *Store) Timestamps(ctx context.Context, archive string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM archive_timestamp WHERE archive = ? ORDER BY value ASC`, archive)
	if err != nil {
		return nil, snaperr.New(snaperr.IndexError, archive, err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// Files returns every distinct filename known to the index.
func (s *Store) Files(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM file ORDER BY name ASC`)
	if err != nil {
		return nil, snaperr.New(snaperr.IndexError, "", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// FileInfo returns every location a hash was observed at, with its
// canonical ranges.
func (s *Store) FileInfo(ctx context.Context, sha256 string) ([]LocationRanges, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT archive, suite, component, ranges FROM hash_location WHERE sha256 = ?`, sha256)
	if err != nil {
		return nil, snaperr.New(snaperr.IndexError, sha256, err)
	}
	defer rows.Close()

	var out []LocationRanges
	for rows.Next() {
		var lr LocationRanges
		var encoded string
		if err := rows.Scan(&lr.Archive, &lr.Suite, &lr.Component, &encoded); err != nil {
			return nil, snaperr.New(snaperr.IndexError, sha256, err)
		}
		ranges, err := decodeRanges(encoded)
		if err != nil {
			return nil, snaperr.New(snaperr.IndexError, sha256, err)
		}
		lr.Ranges = ranges
		out = append(out, lr)
	}
	return out, rows.Err()
}

// FileByHash returns one representative (name, path, size) triple for
// sha256 — a hash can in principle be filed under more than one name
// (a renamed re-upload of identical bytes), so this picks the
// lexicographically first for determinism, per the read API's
// `/mr/file/<sha256>/info` which describes "the" file, not a set.
func (s *Store) FileByHash(ctx context.Context, sha256 string) (FileRef, bool, error) {
	var fr FileRef
	fr.SHA256 = sha256
	err := s.db.QueryRowContext(ctx,
		`SELECT name, path, size FROM file WHERE sha256 = ? ORDER BY name, path LIMIT 1`, sha256).
		Scan(&fr.Name, &fr.Path, &fr.Size)
	if err == sql.ErrNoRows {
		return FileRef{}, false, nil
	}
	if err != nil {
		return FileRef{}, false, snaperr.New(snaperr.IndexError, sha256, err)
	}
	return fr, true, nil
}

// SourcePackages returns every distinct source-package name.
func (s *Store) SourcePackages(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM srcpkg ORDER BY name ASC`)
	if err != nil {
		return nil, snaperr.New(snaperr.IndexError, "", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// SourceVersions returns every known version of a source package.
func (s *Store) SourceVersions(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version FROM srcpkg WHERE name = ? ORDER BY version ASC`, name)
	if err != nil {
		return nil, snaperr.New(snaperr.IndexError, name, err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// SrcFiles returns the file refs associated with a (name, version)
// source release.
func (s *Store) SrcFiles(ctx context.Context, name, version string) ([]FileRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.sha256, f.name, f.path, f.size
		FROM srcpkg_hash sh
		JOIN file f ON f.sha256 = sh.sha256
		WHERE sh.name = ? AND sh.version = ?`, name, version)
	if err != nil {
		return nil, snaperr.New(snaperr.IndexError, name, err)
	}
	defer rows.Close()

	var out []FileRef
	for rows.Next() {
		var fr FileRef
		if err := rows.Scan(&fr.SHA256, &fr.Name, &fr.Path, &fr.Size); err != nil {
			return nil, snaperr.New(snaperr.IndexError, name, err)
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

// BinaryVersions returns every known version of a binary package.
func (s *Store) BinaryVersions(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT version FROM binpkg WHERE name = ? ORDER BY version ASC`, name)
	if err != nil {
		return nil, snaperr.New(snaperr.IndexError, name, err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// BinFiles returns the file refs (with architecture) associated with
// a (name, version) binary release.
func (s *Store) BinFiles(ctx context.Context, name, version string) ([]BinFileRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.sha256, f.name, f.path, f.size, bh.architecture
		FROM binpkg_hash bh
		JOIN file f ON f.sha256 = bh.sha256
		WHERE bh.name = ? AND bh.version = ?`, name, version)
	if err != nil {
		return nil, snaperr.New(snaperr.IndexError, name, err)
	}
	defer rows.Close()

	var out []BinFileRef
	for rows.Next() {
		var bf BinFileRef
		if err := rows.Scan(&bf.SHA256, &bf.Name, &bf.Path, &bf.Size, &bf.Architecture); err != nil {
			return nil, snaperr.New(snaperr.IndexError, name, err)
		}
		out = append(out, bf)
	}
	return out, rows.Err()
}

// PackageLocation is one architecture/location/ranges tuple for a
// binary package, the raw material for build-reproducibility queries
// (spec.md §4.8 step 1).
type PackageLocation struct {
	Architecture string
	LocationRanges
}

// BinPkgLocations returns every (architecture, location, ranges) tuple
// a (name, version) binary package is known at, via the
// BinPkg -> binpkg_hash -> HashLocation join spec.md §4.8 names.
func (s *Store) BinPkgLocations(ctx context.Context, name, version string) ([]PackageLocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT bh.architecture, hl.archive, hl.suite, hl.component, hl.ranges
		FROM binpkg_hash bh
		JOIN hash_location hl ON hl.sha256 = bh.sha256
		WHERE bh.name = ? AND bh.version = ?`, name, version)
	if err != nil {
		return nil, snaperr.New(snaperr.IndexError, name, err)
	}
	defer rows.Close()

	var out []PackageLocation
	for rows.Next() {
		var pl PackageLocation
		var encoded string
		if err := rows.Scan(&pl.Architecture, &pl.Archive, &pl.Suite, &pl.Component, &encoded); err != nil {
			return nil, snaperr.New(snaperr.IndexError, name, err)
		}
		ranges, err := decodeRanges(encoded)
		if err != nil {
			return nil, snaperr.New(snaperr.IndexError, name, err)
		}
		pl.Ranges = ranges
		out = append(out, pl)
	}
	return out, rows.Err()
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, snaperr.New(snaperr.IndexError, "", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
