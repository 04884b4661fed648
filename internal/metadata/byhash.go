package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
)

// byHashLinkPattern matches one entry of a directory-listing HTML page
// that Apache/nginx emit for a directory containing a "by-hash/"
// subdirectory: a plain filename link immediately followed by its
// "-> by-hash/SHA256/<hex>" symlink target, exactly the shape
// original_source/snapshot.py's get_hashes_from_page parses.
var byHashLinkPattern = regexp.MustCompile(
	`<a href="[^"]+">([^<]+)</a> -&gt;\n[ \t]*<a href="by-hash/SHA256/[^"]+">by-hash/SHA256/([0-9a-f]+)</a>`)

// ParseByHashPage extracts {filename: sha256} from a directory-listing
// page body, per SPEC_FULL.md supplemented feature 1: files whose hash
// is published this way can be verified as they're fetched rather than
// only after the fact.
func ParseByHashPage(body string) map[string]string {
	hashes := map[string]string{}
	for _, m := range byHashLinkPattern.FindAllStringSubmatch(body, -1) {
		hashes[m[1]] = m[2]
	}
	return hashes
}

// FetchByHashPage retrieves url and parses it with ParseByHashPage. A
// non-200 response yields an empty map rather than an error: the
// by-hash page is an optional annotation, never a hard dependency
// (spec.md §4.4's per-combination "absence is not an error").
func FetchByHashPage(ctx context.Context, client *http.Client, url string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching by-hash page %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return map[string]string{}, nil
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return ParseByHashPage(string(b)), nil
}
