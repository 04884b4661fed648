// Package parse implements the index parser (spec.md §4.5, component
// C5): it iterates the paragraphs of a Packages or Sources index file
// and yields typed Record values.
//
// Grounded directly on the teacher's packages.go (Package,
// PackageFromDeb, Packages.Next, LoadPackages) and sources.go (Source,
// Sources.Next, LoadSources), both built on pault.ag/go/debian/control.
// Per spec.md §9's "Dynamic paragraph access" note, callers never see
// the teacher-shaped Package/Source structs directly — next below
// normalizes both into one Record shape, and an unparseable
// paragraph yields a ParseError instead of aborting the stream.
package parse

import (
	"fmt"
	"io"
	"path"

	"pault.ag/go/debian/control"
	"pault.ag/go/debian/dependency"
	"pault.ag/go/debian/version"

	"github.com/fepitre/debian-snapshot/internal/snaperr"
)

// Kind distinguishes the two index flavors a record was parsed from.
type Kind string

const (
	KindSource Kind = "source"
	KindBinary Kind = "binary"
)

// Record is the canonical (file, source-package, binary-package,
// location, timestamp) tuple spec.md §1 describes, minus the location
// and timestamp (filled in by the caller, which knows which
// archive/suite/component/timestamp this index file belongs to).
type Record struct {
	Kind         Kind
	Name         string
	Version      string
	Architecture string // "source" for KindSource

	Path     string // dirname
	Filename string // basename
	Size     int64
	SHA256   string
}

// sourcePackage mirrors the teacher's sources.go Source, trimmed to
// the fields the Checksums-Sha256 stanza needs.
type sourcePackage struct {
	control.Paragraph

	Package   string
	Directory string                   `required:"true"`
	Version   version.Version          `required:"true"`
	Checksums []control.SHA256FileHash `control:"Checksums-Sha256" delim:"\n" strip:"\n\r\t "`
}

// binaryPackage mirrors the teacher's packages.go Package.
type binaryPackage struct {
	control.Paragraph

	Package      string          `required:"true"`
	Version      version.Version `required:"true"`
	Architecture dependency.Arch `required:"true"`
	Filename     string          `required:"true"`
	Size         int             `required:"true"`
	SHA256       string          `required:"true"`
}

// Parser streams Records out of a Sources.gz or Packages.gz paragraph
// stream (already decompressed by the caller — see
// internal/metadata/compression). Unparseable paragraphs are skipped
// and reported via the skip callback, per spec.md §4.5 ("the parser
// never aborts ingest").
type Parser struct {
	decoder *control.Decoder
	kind    Kind
}

// NewSourcesParser parses a Sources index.
func NewSourcesParser(r io.Reader) (*Parser, error) {
	dec, err := control.NewDecoder(r, nil)
	if err != nil {
		return nil, snaperr.New(snaperr.ParseError, "sources", err)
	}
	return &Parser{decoder: dec, kind: KindSource}, nil
}

// NewPackagesParser parses a Packages index.
func NewPackagesParser(r io.Reader) (*Parser, error) {
	dec, err := control.NewDecoder(r, nil)
	if err != nil {
		return nil, snaperr.New(snaperr.ParseError, "packages", err)
	}
	return &Parser{decoder: dec, kind: KindBinary}, nil
}

// Each calls fn for every Record successfully parsed, skipping and
// reporting (via onSkip, which may be nil) any paragraph that fails to
// parse. It stops at end of stream.
func (p *Parser) Each(onSkip func(err error), fn func(Record) error) error {
	for {
		recs, err := p.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onSkip != nil {
				onSkip(err)
			}
			continue
		}
		for _, rec := range recs {
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
}

func (p *Parser) next() ([]Record, error) {
	switch p.kind {
	case KindSource:
		return p.nextSource()
	default:
		return p.nextBinary()
	}
}

// nextSource yields one Record per Checksums-Sha256 entry in the
// paragraph, per spec.md §4.5.
func (p *Parser) nextSource() ([]Record, error) {
	var src sourcePackage
	if err := p.decoder.Decode(&src); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, snaperr.New(snaperr.ParseError, "sources paragraph", err)
	}

	recs := make([]Record, 0, len(src.Checksums))
	for _, sum := range src.Checksums {
		recs = append(recs, Record{
			Kind:         KindSource,
			Name:         src.Package,
			Version:      src.Version.String(),
			Architecture: "source",
			Path:         src.Directory,
			Filename:     sum.Filename,
			Size:         int64(sum.Size),
			SHA256:       sum.Hash,
		})
	}
	return recs, nil
}

// nextBinary yields one Record for the paragraph's own Filename/Size/SHA256.
func (p *Parser) nextBinary() ([]Record, error) {
	var bin binaryPackage
	if err := p.decoder.Decode(&bin); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, snaperr.New(snaperr.ParseError, "packages paragraph", err)
	}

	if bin.Size < 0 {
		return nil, snaperr.New(snaperr.ParseError, bin.Filename, fmt.Errorf("negative size %d", bin.Size))
	}

	return []Record{{
		Kind:         KindBinary,
		Name:         bin.Package,
		Version:      bin.Version.String(),
		Architecture: string(bin.Architecture),
		Path:         path.Dir(bin.Filename),
		Filename:     path.Base(bin.Filename),
		Size:         int64(bin.Size),
		SHA256:       bin.SHA256,
	}}, nil
}
