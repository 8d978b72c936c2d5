// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

// ErrorKind is a sentinel error usable as a constant, e.g.
// const ErrNotFound = dex.ErrorKind("not found").
type ErrorKind string

func (e ErrorKind) Error() string {
	return string(e)
}

// Error attaches a detail string to a sentinel. errors.Is matches the
// sentinel.
type Error struct {
	kind   error
	detail string
}

func (e Error) Error() string {
	return e.kind.Error() + ": " + e.detail
}

func (e Error) Unwrap() error {
	return e.kind
}

// NewError pairs the sentinel with the detail.
func NewError(kind error, detail string) Error {
	return Error{kind: kind, detail: detail}
}
