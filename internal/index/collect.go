package index

import (
	"sort"

	"github.com/fepitre/debian-snapshot/internal/parse"
)

// Observation is one parsed record located at a specific coordinate,
// folded into the collect phase (spec.md §4.7.1).
type Observation struct {
	Record    parse.Record
	Archive   string
	Suite     string
	Component string
}

type fileKey struct {
	sha256, name, path string
}

type hashLocKey struct {
	sha256, archive, suite, component string
}

type pkgKey struct {
	name, version string
}

type binPkgKey struct {
	name, version, architecture string
}

// Collector accumulates the four unique-keyed collections spec.md
// §4.7.1 names, deduplicating as records stream in so the commit
// phase never does redundant work for a timestamp that touches the
// same (hash, name, path) many times across suites/components.
type Collector struct {
	hashes     map[string]bool
	files      map[fileKey]int64
	hashLocs   map[hashLocKey]bool
	srcAssocs  map[pkgKey]map[string]bool
	binAssocs  map[binPkgKey]map[string]bool
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		hashes:    map[string]bool{},
		files:     map[fileKey]int64{},
		hashLocs:  map[hashLocKey]bool{},
		srcAssocs: map[pkgKey]map[string]bool{},
		binAssocs: map[binPkgKey]map[string]bool{},
	}
}

// Add folds one observation into the collector.
func (c *Collector) Add(o Observation) {
	r := o.Record

	c.hashes[r.SHA256] = true
	c.files[fileKey{r.SHA256, r.Filename, r.Path}] = r.Size

	c.hashLocs[hashLocKey{r.SHA256, o.Archive, o.Suite, o.Component}] = true

	switch r.Kind {
	case parse.KindSource:
		k := pkgKey{r.Name, r.Version}
		if c.srcAssocs[k] == nil {
			c.srcAssocs[k] = map[string]bool{}
		}
		c.srcAssocs[k][r.SHA256] = true
	case parse.KindBinary:
		k := binPkgKey{r.Name, r.Version, r.Architecture}
		if c.binAssocs[k] == nil {
			c.binAssocs[k] = map[string]bool{}
		}
		c.binAssocs[k][r.SHA256] = true
	}
}

// Empty reports whether nothing was collected, letting the caller
// skip an empty commit transaction.
func (c *Collector) Empty() bool {
	return len(c.hashes) == 0
}

func sortedStrings(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
