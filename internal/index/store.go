package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
	"go.uber.org/zap"

	"github.com/fepitre/debian-snapshot/internal/snaperr"
	"github.com/fepitre/debian-snapshot/internal/timestamp"
)

// Store is the on-disk relational index spec.md §1 assumes exists and
// §6 calls out as a "persisted index" with a schema matching §3's
// entities. Grounded on original_source/db.py's table layout; backed
// by modernc.org/sqlite (pure Go, no cgo), per SPEC_FULL.md's DOMAIN
// STACK table.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (creating if absent) the sqlite database at path and
// applies the schema. path may be ":memory:" for tests.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, snaperr.New(snaperr.IndexError, path, err)
	}
	db.SetMaxOpenConns(1) // sqlite: one writer at a time, per spec.md §5's "indexer concurrency 1 per archive"

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, snaperr.New(snaperr.IndexError, path, fmt.Errorf("applying schema: %w", err))
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// HasRepodata reports whether the given marker was already recorded,
// per spec.md §4.7.4: a present marker means ingestion of that slot
// should be skipped unless the caller passed --ignore-provisioned.
func (s *Store) HasRepodata(ctx context.Context, id string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM repodata WHERE id = ?`, id).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, snaperr.New(snaperr.IndexError, id, err)
	}
	return true, nil
}

// SeedHash records a hash as known without a full record commit
// (SPEC_FULL.md supplemented feature 4, init_snapshot_db_hash). The
// --check-only pass in internal/ingest does not call it: that pass
// re-hashes blobs named by the parsed repodata records.
func (s *Store) SeedHash(ctx context.Context, sha256 string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO hash (sha256) VALUES (?)`, sha256)
	if err != nil {
		return snaperr.New(snaperr.IndexError, sha256, err)
	}
	return nil
}

// HasHash reports whether sha256 is already known to the index
// (seeded or committed), letting the ingest driver prefer a
// content-addressed redirect URL over the archive-relative one.
func (s *Store) HasHash(ctx context.Context, sha256 string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM hash WHERE sha256 = ?`, sha256).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, snaperr.New(snaperr.IndexError, sha256, err)
	}
	return true, nil
}

// KnownHashes returns every hash seeded or committed into the index.
func (s *Store) KnownHashes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sha256 FROM hash`)
	if err != nil {
		return nil, snaperr.New(snaperr.IndexError, "", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, snaperr.New(snaperr.IndexError, "", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Commit folds one timestamp's collected observations into the index
// as a single transaction (spec.md §4.7.2), then records repodataIDs
// as fully-ingested. timeline must enumerate every archive timestamp
// (including t) so MergeRanges can resolve adjacency.
func (s *Store) Commit(ctx context.Context, timeline *Timeline, archive string, t timestamp.Value, c *Collector, repodataIDs []string) error {
	if c.Empty() && len(repodataIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return snaperr.New(snaperr.IndexError, archive, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO archive (name) VALUES (?)`, archive); err != nil {
		return snaperr.New(snaperr.IndexError, archive, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO archive_timestamp (archive, value) VALUES (?, ?)`, archive, string(t)); err != nil {
		return snaperr.New(snaperr.IndexError, archive, err)
	}

	for h := range c.hashes {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO hash (sha256) VALUES (?)`, h); err != nil {
			return snaperr.New(snaperr.IndexError, h, err)
		}
	}

	for fk, size := range c.files {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO file (sha256, name, size, path) VALUES (?, ?, ?, ?)`,
			fk.sha256, fk.name, size, fk.path); err != nil {
			return snaperr.New(snaperr.IndexError, fk.name, err)
		}
	}

	for pk, hashes := range c.srcAssocs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO srcpkg (name, version) VALUES (?, ?)`, pk.name, pk.version); err != nil {
			return snaperr.New(snaperr.IndexError, pk.name, err)
		}
		for _, h := range sortedStrings(hashes) {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO srcpkg_hash (name, version, sha256) VALUES (?, ?, ?)`,
				pk.name, pk.version, h); err != nil {
				return snaperr.New(snaperr.IndexError, pk.name, err)
			}
		}
	}

	for bk, hashes := range c.binAssocs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO binpkg (name, version) VALUES (?, ?)`, bk.name, bk.version); err != nil {
			return snaperr.New(snaperr.IndexError, bk.name, err)
		}
		for _, h := range sortedStrings(hashes) {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO binpkg_hash (name, version, architecture, sha256) VALUES (?, ?, ?, ?)`,
				bk.name, bk.version, bk.architecture, h); err != nil {
				return snaperr.New(snaperr.IndexError, bk.name, err)
			}
		}
	}

	for hl := range c.hashLocs {
		if err := mergeHashLocation(ctx, tx, timeline, hl, t); err != nil {
			return err
		}
	}

	for _, id := range repodataIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO repodata (id) VALUES (?)`, id); err != nil {
			return snaperr.New(snaperr.IndexError, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return snaperr.New(snaperr.IndexError, archive, err)
	}
	s.log.Info("committed timestamp",
		zap.String("archive", archive), zap.String("timestamp", string(t)),
		zap.Int("hashes", len(c.hashes)), zap.Int("locations", len(c.hashLocs)))
	return nil
}

// mergeHashLocation implements spec.md §4.7.2 step 4: insert-if-absent
// with ranges=[[T,T]], or fold T into the existing canonical ranges
// via MergeRanges.
func mergeHashLocation(ctx context.Context, tx *sql.Tx, timeline *Timeline, hl hashLocKey, t timestamp.Value) error {
	var existing string
	err := tx.QueryRowContext(ctx,
		`SELECT ranges FROM hash_location WHERE sha256 = ? AND archive = ? AND suite = ? AND component = ?`,
		hl.sha256, hl.archive, hl.suite, hl.component).Scan(&existing)

	switch {
	case err == sql.ErrNoRows:
		encoded, encErr := encodeRanges(Ranges{{Begin: t, End: t}})
		if encErr != nil {
			return snaperr.New(snaperr.IndexError, hl.sha256, encErr)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO hash_location (sha256, archive, suite, component, ranges) VALUES (?, ?, ?, ?, ?)`,
			hl.sha256, hl.archive, hl.suite, hl.component, encoded)
		if err != nil {
			return snaperr.New(snaperr.IndexError, hl.sha256, err)
		}
		return nil

	case err != nil:
		return snaperr.New(snaperr.IndexError, hl.sha256, err)
	}

	cur, decErr := decodeRanges(existing)
	if decErr != nil {
		return snaperr.New(snaperr.IndexError, hl.sha256, decErr)
	}
	merged := MergeRanges(cur, t, timeline)
	encoded, encErr := encodeRanges(merged)
	if encErr != nil {
		return snaperr.New(snaperr.IndexError, hl.sha256, encErr)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE hash_location SET ranges = ? WHERE sha256 = ? AND archive = ? AND suite = ? AND component = ?`,
		encoded, hl.sha256, hl.archive, hl.suite, hl.component)
	if err != nil {
		return snaperr.New(snaperr.IndexError, hl.sha256, err)
	}
	return nil
}

func encodeRanges(r Ranges) (string, error) {
	pairs := make([][2]string, len(r))
	for i, rg := range r {
		pairs[i] = [2]string{string(rg.Begin), string(rg.End)}
	}
	b, err := json.Marshal(pairs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeRanges(s string) (Ranges, error) {
	var pairs [][2]string
	if err := json.Unmarshal([]byte(s), &pairs); err != nil {
		return nil, err
	}
	out := make(Ranges, len(pairs))
	for i, p := range pairs {
		out[i] = Range{Begin: timestamp.Value(p[0]), End: timestamp.Value(p[1])}
	}
	return out, nil
}
