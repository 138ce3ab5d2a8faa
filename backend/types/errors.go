package types

import "golang.org/x/xerrors"

// Error categories surfaced by the document engine and the sync layer.
// Callers classify failures with errors.Is; call sites wrap these with
// xerrors.Errorf("...: %w", ErrXxx) to add context.
var (
	// ErrConfig is returned for an invalid document option.
	ErrConfig = xerrors.New("invalid configuration")

	// ErrTypeMismatch is returned when a root name is already bound to a
	// different shared type.
	ErrTypeMismatch = xerrors.New("shared type mismatch")

	// ErrTransactionConflict is returned when a second transaction is
	// requested while one is open on the same document.
	ErrTransactionConflict = xerrors.New("transaction already started")

	// ErrTransactionClosed is returned when a committed transaction is used.
	ErrTransactionClosed = xerrors.New("transaction already committed")

	ErrIndexOutOfRange = xerrors.New("index out of range")
	ErrInvalidKey      = xerrors.New("invalid key")
	ErrKeyNotFound     = xerrors.New("key not found")

	// ErrMalformedUpdate is returned for bytes that cannot be decoded.
	// Decode state is not resumable, so connections receiving such input
	// are closed.
	ErrMalformedUpdate = xerrors.New("malformed update")

	// ErrAlreadyIntegrated is returned when a shared type that already
	// belongs to a document is inserted again.
	ErrAlreadyIntegrated = xerrors.New("shared type already integrated")

	// ErrPreliminary is returned when a mutator is called on a shared type
	// that is not attached to a document yet.
	ErrPreliminary = xerrors.New("shared type is preliminary")

	// ErrUnsupportedValue is returned for values that have no representation
	// in the value model.
	ErrUnsupportedValue = xerrors.New("unsupported value")
)
