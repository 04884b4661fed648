// Package snaperr defines the error taxonomy shared by every component of
// the mirror, per spec.md §7: every error carries a kind, the URL or path
// that produced it, and the underlying message.
package snaperr

import "fmt"

// Kind classifies an error for retry/fatality decisions by the driver.
type Kind string

const (
	// TransientNetwork covers connection reset, timeout, and 5xx responses.
	// It is retried by internal/fetch; it only surfaces once all attempts
	// are exhausted.
	TransientNetwork Kind = "transient_network"

	// NotFound is a 404 on a URL. Ingest continues; the missing
	// combination is logged, never fatal.
	NotFound Kind = "not_found"

	// HashMismatch means the downloaded bytes don't hash to the
	// expected value. The blob is not committed to the store.
	HashMismatch Kind = "hash_mismatch"

	// CatalogUnavailable means the timestamp catalog for an archive
	// could not be loaded. Ingest aborts for that archive only.
	CatalogUnavailable Kind = "catalog_unavailable"

	// StoreError is a disk-full/permission-denied failure writing to
	// the object store. It surfaces to the driver, which aborts.
	StoreError Kind = "store_error"

	// IndexError is a transactional failure folding records into the
	// index. The current timestamp's commit rolls back; no Repodata
	// marker is written; the driver continues to the next timestamp.
	IndexError Kind = "index_error"

	// ParseError is a per-paragraph parse failure. It is logged and
	// skipped; the parser never aborts ingest because of it.
	ParseError Kind = "parse_error"

	// FetchExhausted means every candidate URL for a hash failed.
	FetchExhausted Kind = "fetch_exhausted"
)

// Error is the concrete error type every component returns for
// classifiable failures.
type Error struct {
	Kind Kind
	// Source is the URL or filesystem path the error pertains to.
	Source string
	// Underlying is the wrapped error, if any.
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Source, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Source)
}

func (e *Error) Unwrap() error { return e.Underlying }

// New constructs an Error of the given kind.
func New(kind Kind, source string, underlying error) *Error {
	return &Error{Kind: kind, Source: source, Underlying: underlying}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); !ok {
		return false
	}
	return e.Kind == kind
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// UserVisible reports whether err should surface as a non-zero process
// exit code, per spec.md §7: only CatalogUnavailable and StoreError are.
func UserVisible(err error) bool {
	return IsKind(err, CatalogUnavailable) || IsKind(err, StoreError)
}
