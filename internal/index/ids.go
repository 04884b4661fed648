package index

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/fepitre/debian-snapshot/internal/timestamp"
)

// RepodataID computes the idempotence marker for a single
// (archive, timestamp, suite, component, architecture) metadata slot
// (spec.md §4.7.4): a SHA-1 fingerprint of the metadata path, so a
// re-run of the same ingest skips already-folded slots. architecture
// is "source" for the Sources.gz slot.
func RepodataID(archive string, t timestamp.Value, suite, component, architecture string) string {
	path := fmt.Sprintf("%s/%s/%s/%s/%s", archive, t, suite, component, architecture)
	sum := sha1.Sum([]byte(path))
	return hex.EncodeToString(sum[:])
}
