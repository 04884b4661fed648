package query

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"pault.ag/go/debian/control"

	"github.com/fepitre/debian-snapshot/internal/snaperr"
)

// buildInfoDoc is the handful of .buildinfo fields the
// reproducibility query needs, decoded with the same
// pault.ag/go/debian/control.Decoder internal/parse and
// internal/metadata already use.
type buildInfoDoc struct {
	control.Paragraph

	BuildArchitecture     string `control:"Build-Architecture"`
	InstalledBuildDepends string `control:"Installed-Build-Depends"`
}

// BuildDep is one resolved entry of a .buildinfo's
// Installed-Build-Depends field: the exact (name, version) pinned at
// build time, plus the architecture it was installed for.
type BuildDep struct {
	Name    string
	Version string
	Arch    string
}

// installedBuildDepEntry matches one comma-separated item of
// Installed-Build-Depends, e.g. "libc6:amd64 (= 2.36-1)" or
// "gcc-12 (= 12.2.0-3)". Unlike Depends/Build-Depends this field is
// always a flat list of exact-version pins with no alternatives
// ("|") or version-range operators other than "=", so a small regexp
// parses it directly rather than reaching for
// pault.ag/go/debian/dependency's full relation-alternatives grammar.
var installedBuildDepEntry = regexp.MustCompile(
	`^([a-zA-Z0-9][a-zA-Z0-9+.-]*?)(?::([a-zA-Z0-9-]+))?\s*\(=\s*([^()\s]+)\s*\)$`)

// ParseBuildInfo decodes a .buildinfo control file and returns its
// Installed-Build-Depends pins, defaulting each entry's architecture
// to Build-Architecture when the dependency has no ":arch" qualifier
// of its own — the same fallback original_source/api/snapshot_api.py's
// upload_buildinfo applies (`arch = dep[0]['arch'] or
// parsed_info['Build-Architecture']`).
func ParseBuildInfo(r io.Reader) ([]BuildDep, error) {
	dec, err := control.NewDecoder(r, nil)
	if err != nil {
		return nil, snaperr.New(snaperr.ParseError, "buildinfo", err)
	}
	var doc buildInfoDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, snaperr.New(snaperr.ParseError, "buildinfo", err)
	}

	var deps []BuildDep
	for _, item := range strings.Split(doc.InstalledBuildDepends, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		m := installedBuildDepEntry.FindStringSubmatch(item)
		if m == nil {
			return nil, snaperr.New(snaperr.ParseError, "buildinfo",
				fmt.Errorf("unparseable Installed-Build-Depends entry %q", item))
		}
		arch := m[2]
		if arch == "" {
			arch = doc.BuildArchitecture
		}
		deps = append(deps, BuildDep{Name: m[1], Version: m[3], Arch: arch})
	}
	return deps, nil
}

// NotFoundDep names a requested dependency that had no matching
// binary-package row in the index at all (spec.md §4.8 step 1).
type NotFoundDep struct {
	Name, Version, Arch string
}

// ReproducibleLocation is one (archive, suite, component,
// architecture) coordinate and the representative timestamps at
// which every requested package was simultaneously present there
// (spec.md §4.8 steps 3-4).
type ReproducibleLocation struct {
	Archive      string
	Suite        string
	Component    string
	Architecture string
	Timestamps   []string
}

type locationKey struct {
	archive, suite, component, arch string
}

type endpoint struct {
	begin, end string
}

// Reproducibility runs spec.md §4.8's build-reproducibility query: for
// each requested (name, version, arch-hint), find every location it
// was filed at, discard architectures outside {"all", hint}, and
// (if every dependency resolved to at least one location) compute,
// per location, the greedy interval-endpoint selection over each
// dependency's earliest known coverage range.
//
// A non-empty NotFoundDep return means the caller should answer 404
// with that list, per original_source's `if not_found: ... 404`; a nil
// error with both returns empty means "nothing requested".
func (e *Engine) Reproducibility(ctx context.Context, deps []BuildDep, suiteFilter string) ([]ReproducibleLocation, []NotFoundDep, error) {
	perLocation := map[locationKey][]endpoint{}
	var notFound []NotFoundDep

	for _, dep := range deps {
		locs, err := e.Index.BinPkgLocations(ctx, dep.Name, dep.Version)
		if err != nil {
			return nil, nil, err
		}

		matched := false
		for _, loc := range locs {
			if loc.Architecture != "all" && loc.Architecture != dep.Arch {
				continue
			}
			if suiteFilter != "" && loc.Suite != suiteFilter {
				continue
			}
			if len(loc.Ranges) == 0 {
				continue
			}
			matched = true
			first := loc.Ranges[0]
			key := locationKey{loc.Archive, loc.Suite, loc.Component, dep.Arch}
			perLocation[key] = append(perLocation[key], endpoint{begin: string(first.Begin), end: string(first.End)})
		}
		if !matched {
			notFound = append(notFound, NotFoundDep{Name: dep.Name, Version: dep.Version, Arch: dep.Arch})
		}
	}

	if len(notFound) > 0 {
		return nil, notFound, nil
	}

	keys := make([]locationKey, 0, len(perLocation))
	for k := range perLocation {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].archive != keys[j].archive {
			return keys[i].archive < keys[j].archive
		}
		if keys[i].suite != keys[j].suite {
			return keys[i].suite < keys[j].suite
		}
		if keys[i].component != keys[j].component {
			return keys[i].component < keys[j].component
		}
		return keys[i].arch < keys[j].arch
	})

	results := make([]ReproducibleLocation, 0, len(keys))
	for _, k := range keys {
		results = append(results, ReproducibleLocation{
			Archive: k.archive, Suite: k.suite, Component: k.component, Architecture: k.arch,
			Timestamps: greedyEndpoints(perLocation[k]),
		})
	}
	return results, nil, nil
}

// greedyEndpoints is the interval-scheduling pass spec.md §4.8 step 4
// describes: sort by end ascending, skip any interval overlapping the
// last one kept, else emit its end and advance.
func greedyEndpoints(ranges []endpoint) []string {
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].end < ranges[j].end })

	last := "19700101T000000Z" // impossibly early
	var out []string
	for _, r := range ranges {
		if last >= r.begin {
			continue
		}
		last = r.end
		out = append(out, last)
	}
	return out
}
