package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Record and directory errors. Callers test them with errors.Is.
var (
	// ErrParse reports a malformed record. The file is skipped and left on
	// disk; its cache rows are not touched.
	ErrParse = errors.New("malformed record")

	// ErrVersionMismatch reports a record that cannot be expressed in
	// vCard 4.0 without loss. Such records are read-only.
	ErrVersionMismatch = errors.New("record cannot be coerced to vCard 4.0")

	// ErrFilenameCollision reports that every canonical filename derived from
	// an identifier is already taken.
	ErrFilenameCollision = errors.New("canonical filename exhausted")

	// ErrIO reports a failed write step. The target is left unchanged unless
	// the failure happened after the rename.
	ErrIO = errors.New("write failed")

	// ErrTransaction reports a failed cache commit. The cache stays at its
	// last consistent state.
	ErrTransaction = errors.New("cache transaction failed")
)

// Book lifecycle and lookup errors.
var (
	ErrBookDetached    = errors.New("address book is detached")
	ErrAlreadyAttached = errors.New("address book is already attached")
	ErrIndexLocked     = errors.New("index is locked by another process")
	ErrNotFound        = errors.New("record not found")
	ErrReadOnly        = errors.New("record needs upgrade and is read-only")
	ErrDuplicateUID    = errors.New("record with this UID already exists")
	ErrMergeTooFew     = errors.New("merge needs at least two distinct records")
	ErrMissingUID      = errors.New("record has no UID")
)

// ParseError carries the path of a file that failed to parse.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

// Unwrap lets errors.Is match both ErrParse and the underlying cause.
func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}

// FileError pairs a path with a non-fatal failure reported by a batch pass.
type FileError struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error { return e.Err }

// MarshalJSON renders the error as its message.
func (e FileError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Path  string `json:"path"`
		Error string `json:"error"`
	}{e.Path, msg})
}
