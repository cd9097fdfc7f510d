// Package errs defines the error taxonomy shared by the container codec,
// the LSM engine, and the compaction engine.
//
// Every error the engine constructs or wraps carries one of the Kinds
// below and matches its sentinel, so
// callers can classify a failure with errors.Is/errors.As without parsing
// messages. The grouping mirrors the taxonomy into Format, Integrity, I/O,
// Capacity, and Usage errors.
package errs

import "errors"

// Kind classifies an error into one of the taxonomy's buckets.
type Kind int

const (
	// KindUnknown is the zero value; KindOf returns it for an error that
	// is not (and does not wrap) an *Error.
	KindUnknown Kind = iota

	// Format errors: the bytes on disk do not parse as a container.
	KindInvalidHeader
	KindVersionTooNew
	KindVarIntTooLarge
	KindIncompleteEntry
	KindEntryTooLarge

	// Integrity errors: the bytes parse but a checksum does not match.
	KindHeaderCRCMismatch
	KindEntryCRCMismatch
	KindFileCRCMismatch
	KindTruncated

	// I/O errors: the underlying filesystem failed.
	KindOpenFailed
	KindReadFailed
	KindWriteFailed
	KindSyncFailed
	KindMapFailed

	// Capacity errors: a configured limit was hit; the caller can retry
	// after relieving the pressure (e.g. flushing).
	KindMemtableFull
	KindLevelLimitExceeded
	KindTooManyCompactions

	// Usage errors: programmer mistakes; never caused by on-disk state.
	KindNotInitialized
	KindInvalidLevel
	KindKeyOrValueTooLarge
	KindReadOnlyWrite
)

// String returns a human-readable name for the kind, used in error messages
// and diagnostics.
func (k Kind) String() string {
	switch k {
	case KindInvalidHeader:
		return "InvalidHeader"
	case KindVersionTooNew:
		return "VersionTooNew"
	case KindVarIntTooLarge:
		return "VarIntTooLarge"
	case KindIncompleteEntry:
		return "IncompleteEntry"
	case KindEntryTooLarge:
		return "EntryTooLarge"
	case KindHeaderCRCMismatch:
		return "HeaderCRCMismatch"
	case KindEntryCRCMismatch:
		return "EntryCRCMismatch"
	case KindFileCRCMismatch:
		return "FileCRCMismatch"
	case KindTruncated:
		return "Truncated"
	case KindOpenFailed:
		return "OpenFailed"
	case KindReadFailed:
		return "ReadFailed"
	case KindWriteFailed:
		return "WriteFailed"
	case KindSyncFailed:
		return "SyncFailed"
	case KindMapFailed:
		return "MapFailed"
	case KindMemtableFull:
		return "MemtableFull"
	case KindLevelLimitExceeded:
		return "LevelLimitExceeded"
	case KindTooManyCompactions:
		return "TooManyCompactions"
	case KindNotInitialized:
		return "NotInitialized"
	case KindInvalidLevel:
		return "InvalidLevel"
	case KindKeyOrValueTooLarge:
		return "KeyOrValueTooLarge"
	case KindReadOnlyWrite:
		return "ReadOnlyWrite"
	default:
		return "Unknown"
	}
}

// Error is a classified error: it carries a Kind alongside the underlying
// cause, so errors.Is(err, sentinel) and errors.As(err, &kindErr) both work.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's Kind, so callers can
// write errors.Is(err, errs.ErrEntryCRCMismatch) without a type assertion.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	return ok && te.Kind == e.Kind && te.Msg == ""
}

// New constructs a classified error with a message and no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs a classified error that wraps an underlying cause.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise it returns KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// sentinel returns a zero-message sentinel of the given kind, used as the
// comparison target for errors.Is.
func sentinel(k Kind) error { return &Error{Kind: k} }

// Sentinels for errors.Is comparisons against a specific taxonomy bucket.
var (
	ErrInvalidHeader      = sentinel(KindInvalidHeader)
	ErrVersionTooNew      = sentinel(KindVersionTooNew)
	ErrVarIntTooLarge     = sentinel(KindVarIntTooLarge)
	ErrIncompleteEntry    = sentinel(KindIncompleteEntry)
	ErrEntryTooLarge      = sentinel(KindEntryTooLarge)
	ErrHeaderCRCMismatch  = sentinel(KindHeaderCRCMismatch)
	ErrEntryCRCMismatch   = sentinel(KindEntryCRCMismatch)
	ErrFileCRCMismatch    = sentinel(KindFileCRCMismatch)
	ErrTruncated          = sentinel(KindTruncated)
	ErrOpenFailed         = sentinel(KindOpenFailed)
	ErrReadFailed         = sentinel(KindReadFailed)
	ErrWriteFailed        = sentinel(KindWriteFailed)
	ErrSyncFailed         = sentinel(KindSyncFailed)
	ErrMapFailed          = sentinel(KindMapFailed)
	ErrMemtableFull       = sentinel(KindMemtableFull)
	ErrLevelLimitExceeded = sentinel(KindLevelLimitExceeded)
	ErrTooManyCompactions = sentinel(KindTooManyCompactions)
	ErrNotInitialized     = sentinel(KindNotInitialized)
	ErrInvalidLevel       = sentinel(KindInvalidLevel)
	ErrKeyOrValueTooLarge = sentinel(KindKeyOrValueTooLarge)
	ErrReadOnlyWrite      = sentinel(KindReadOnlyWrite)
)
