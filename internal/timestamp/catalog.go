// Package timestamp implements the timestamp catalog (spec.md §4.3,
// component C3): enumerating the snapshot timestamps available for an
// archive, from an explicit list, a begin:end range expression, or
// remote discovery.
//
// Grounded on original_source/lib/timestamps.py and
// original_source/scripts/list-timestamps.py — the teacher has no Go
// analogue, since pault.ag/go/archive always operates on a single,
// already-resolved suite and never enumerates archive history.
package timestamp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fepitre/debian-snapshot/internal/snaperr"
)

// Value is a canonical archive timestamp, YYYYMMDDTHHMMSSZ. Total
// order by lexicographic comparison equals chronological order
// (spec.md Timestamp entity).
type Value string

// Less reports whether v sorts (and occurred) before other.
func (v Value) Less(other Value) bool { return v < other }

// Catalog resolves a list of requested timestamps for one archive
// against the archive's full enumerated history, which is required to
// interpret range expressions and to let internal/index's MergeRanges
// find "the timestamp immediately before T".
type Catalog struct {
	// CacheDir is the root directory containing by-timestamp/<archive>.txt,
	// per spec.md §6's on-disk layout.
	CacheDir string
	// DiscoveryBaseURL, if set, is used to fetch a per-archive catalog
	// text file (one timestamp per line) when no local cache exists.
	DiscoveryBaseURL string
	Client           *http.Client
}

func (c *Catalog) cachePath(archive string) string {
	return filepath.Join(c.CacheDir, "by-timestamp", archive+".txt")
}

// All returns every timestamp known for archive, descending, loading
// from the local cache file first and falling back to remote
// discovery. Returns CatalogUnavailable if neither source has data.
func (c *Catalog) All(ctx context.Context, archive string) ([]Value, error) {
	if vals, err := c.readCache(archive); err == nil {
		return vals, nil
	}

	if c.DiscoveryBaseURL == "" {
		return nil, snaperr.New(snaperr.CatalogUnavailable, archive, fmt.Errorf("no local cache and no discovery URL configured"))
	}

	vals, err := c.discover(ctx, archive)
	if err != nil {
		return nil, snaperr.New(snaperr.CatalogUnavailable, archive, err)
	}
	if err := c.writeCache(archive, vals); err != nil {
		return nil, snaperr.New(snaperr.CatalogUnavailable, archive, err)
	}
	return vals, nil
}

func (c *Catalog) readCache(archive string) ([]Value, error) {
	f, err := os.Open(c.cachePath(archive))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseLines(f)
}

func (c *Catalog) writeCache(archive string, vals []Value) error {
	path := c.cachePath(archive)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, v := range vals {
		if _, err := fmt.Fprintln(f, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) discover(ctx context.Context, archive string) ([]Value, error) {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimSuffix(c.DiscoveryBaseURL, "/") + "/" + archive + ".txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}
	return parseLines(resp.Body)
}

func parseLines(r io.Reader) ([]Value, error) {
	seen := map[Value]bool{}
	var vals []Value
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v := Value(line)
		if seen[v] {
			continue
		}
		seen[v] = true
		vals = append(vals, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.Slice(vals, func(i, j int) bool { return vals[j].Less(vals[i]) }) // descending
	return vals, nil
}

// Resolve turns the caller's CLI-level timestamp requests into a
// concrete list of Values, per spec.md §4.3's three priority-ordered
// sources:
//
//  1. An explicit, non-empty list with no ":" entries is used verbatim.
//  2. A single "begin:end" range expression (optionally with an empty
//     boundary) is expanded against the archive's enumerated history.
//  3. No input at all triggers remote discovery, returned descending.
func (c *Catalog) Resolve(ctx context.Context, archive string, requested []string) ([]Value, error) {
	if len(requested) == 0 {
		return c.All(ctx, archive)
	}

	isRange := false
	for _, r := range requested {
		if strings.Contains(r, ":") {
			isRange = true
			break
		}
	}

	if !isRange {
		vals := make([]Value, 0, len(requested))
		for _, r := range requested {
			vals = append(vals, Value(r))
		}
		return vals, nil
	}

	if len(requested) != 1 {
		return nil, fmt.Errorf("only a single begin:end range expression is supported, got %d arguments", len(requested))
	}
	return c.ExpandRange(ctx, archive, requested[0])
}

// ExpandRange expands a "begin:end" expression (spec.md §6, §8 P9)
// against the archive's enumerated timestamp list. An empty begin
// means "the earliest", an empty end means "the latest"; ":" alone
// returns the entire list.
func (c *Catalog) ExpandRange(ctx context.Context, archive, expr string) ([]Value, error) {
	parts := strings.SplitN(expr, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid range expression %q: must contain exactly one ':'", expr)
	}
	begin, end := Value(parts[0]), Value(parts[1])

	all, err := c.All(ctx, archive)
	if err != nil {
		return nil, err
	}

	var out []Value
	for _, ts := range all {
		if begin != "" && ts < begin {
			continue
		}
		if end != "" && ts > end {
			continue
		}
		out = append(out, ts)
	}
	return out, nil
}
