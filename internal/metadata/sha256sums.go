package metadata

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// SHA256SumsEntry is one line of an installer SHA256SUMS manifest.
type SHA256SumsEntry struct {
	SHA256       string
	RelativePath string
}

// ParseSHA256SUMS parses the classic "sha256sum(1) -b" output format
// ("<hex>  <path>", with a "*" prefix on the path in binary mode),
// grounded on original_source/snapshot.py's download_installer, which
// splits each line on whitespace and drops the leading "*" via
// val[2:].
func ParseSHA256SUMS(r io.Reader) ([]SHA256SumsEntry, error) {
	var out []SHA256SumsEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed SHA256SUMS line %q", line)
		}
		out = append(out, SHA256SumsEntry{
			SHA256:       fields[0],
			RelativePath: strings.TrimPrefix(fields[1], "*"),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GroupByHash collapses entries into {sha256: [relative paths]}, since
// the same installer image is frequently published under several
// paths (spec.md §4.4: "deduplicated via C1 even across architectures").
func GroupByHash(entries []SHA256SumsEntry) map[string][]string {
	out := map[string][]string{}
	for _, e := range entries {
		out[e.SHA256] = append(out[e.SHA256], e.RelativePath)
	}
	return out
}
