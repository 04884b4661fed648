package index

// schema mirrors the relational entities of spec.md §3, grounded on
// original_source/db.py's DBarchive/DBtimestamp/DBsuite/DBcomponent/
// DBarchitecture/DBhash/DBfile/DBsrcpkg/DBbinpkg/HashesLocations/
// ArchivesTimestamps/SrcpkgFiles/BinpkgFiles/DBrepodata tables, adapted
// from SQLAlchemy declarative models to plain DDL for modernc.org/sqlite.
//
// HashLocation.ranges is stored as a JSON array of [begin, end] string
// pairs (spec.md §6, "nested array of 2-element string arrays"),
// since sqlite has no native array type.
const schema = `
CREATE TABLE IF NOT EXISTS hash (
	sha256 TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS file (
	sha256 TEXT NOT NULL,
	name   TEXT NOT NULL,
	size   INTEGER NOT NULL,
	path   TEXT NOT NULL,
	PRIMARY KEY (sha256, name, path)
);
CREATE INDEX IF NOT EXISTS file_name_idx ON file(name);

CREATE TABLE IF NOT EXISTS archive (
	name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS archive_timestamp (
	archive TEXT NOT NULL,
	value   TEXT NOT NULL,
	PRIMARY KEY (archive, value)
);

CREATE TABLE IF NOT EXISTS hash_location (
	sha256    TEXT NOT NULL,
	archive   TEXT NOT NULL,
	suite     TEXT NOT NULL,
	component TEXT NOT NULL,
	ranges    TEXT NOT NULL,
	PRIMARY KEY (sha256, archive, suite, component)
);
CREATE INDEX IF NOT EXISTS hash_location_sha256_idx ON hash_location(sha256);

CREATE TABLE IF NOT EXISTS srcpkg (
	name    TEXT NOT NULL,
	version TEXT NOT NULL,
	PRIMARY KEY (name, version)
);

CREATE TABLE IF NOT EXISTS binpkg (
	name    TEXT NOT NULL,
	version TEXT NOT NULL,
	PRIMARY KEY (name, version)
);

CREATE TABLE IF NOT EXISTS srcpkg_hash (
	name    TEXT NOT NULL,
	version TEXT NOT NULL,
	sha256  TEXT NOT NULL,
	PRIMARY KEY (name, version, sha256)
);
CREATE INDEX IF NOT EXISTS srcpkg_hash_name_idx ON srcpkg_hash(name);

CREATE TABLE IF NOT EXISTS binpkg_hash (
	name         TEXT NOT NULL,
	version      TEXT NOT NULL,
	architecture TEXT NOT NULL,
	sha256       TEXT NOT NULL,
	PRIMARY KEY (name, version, architecture, sha256)
);
CREATE INDEX IF NOT EXISTS binpkg_hash_name_idx ON binpkg_hash(name);

CREATE TABLE IF NOT EXISTS repodata (
	id TEXT PRIMARY KEY
);
`
