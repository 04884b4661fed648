// Package compression decompresses index and metadata files by
// extension (Packages.gz, Sources.xz, Translation.bz2, and so on).
//
// Adapted from the teacher's compression/readers.go: the gz/bz2/xz
// dispatch table is unchanged; a .zst entry is added via
// klauspost/compress/zstd for Packages.zst/Sources.zst, which current
// snapshot mirrors serve and the teacher's package predates.
package compression

import (
	"compress/bzip2"
	"compress/gzip"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"xi2.org/x/xz"
)

type compressionReader func(io.Reader) (io.Reader, error)

func gzipNewReader(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}

func xzNewReader(r io.Reader) (io.Reader, error) {
	return xz.NewReader(r, 0)
}

func bzipNewReader(r io.Reader) (io.Reader, error) {
	return bzip2.NewReader(r), nil
}

func zstdNewReader(r io.Reader) (io.Reader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

var knownReaders = map[string]compressionReader{
	".gz":  gzipNewReader,
	".bz2": bzipNewReader,
	".xz":  xzNewReader,
	".zst": zstdNewReader,
}

// Decompress wraps reader with the decompressor matching fileName's
// extension, or returns reader unchanged if no known extension
// matches. tee, if non-nil, observes the compressed bytes as they are
// read, so a hash verifier can run alongside decompression.
func Decompress(reader io.Reader, fileName string, tee io.Writer) (io.Reader, error) {
	if tee != nil {
		reader = io.TeeReader(reader, tee)
	}

	for suffix, decompressor := range knownReaders {
		if strings.HasSuffix(fileName, suffix) {
			return decompressor(reader)
		}
	}

	return reader, nil
}
