// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"errors"
	"fmt"

	"decred.org/chandex/dex"
)

// Error codes. Every error returned by an exported Core method is an *Error
// with one of these codes.
const (
	connectionErr = iota
	initErr
	channelErr
	fundingErr
	orderParamsErr
	unknownOrderErr
	orderRejectedErr
	settlementErr
	dbErr
)

// Error kinds.
const (
	ErrNotConnected        = dex.ErrorKind("not connected to the node")
	ErrNoChannel           = dex.ErrorKind("no active channel")
	ErrChannelExists       = dex.ErrorKind("a channel is already active")
	ErrUnknownChannel      = dex.ErrorKind("unknown channel")
	ErrFundingTimeout      = dex.ErrorKind("channel funding timed out")
	ErrOrderNotFound       = dex.ErrorKind("order not in the book")
	ErrOrderBusy           = dex.ErrorKind("order is already being accepted")
	ErrSelfTrade           = dex.ErrorKind("cannot take own order")
	ErrOrderRejected       = dex.ErrorKind("order rejected")
	ErrInsufficientBalance = dex.ErrorKind("insufficient channel balance")
	ErrUpdateRejected      = dex.ErrorKind("channel update rejected")
)

// Error is an error code and a wrapped error.
type Error struct {
	code int
	err  error
}

// Error returns the error string. Satisfies the error interface.
func (e *Error) Error() string {
	return e.err.Error()
}

// Code returns the error code.
func (e *Error) Code() *int {
	return &e.code
}

// Unwrap returns the underlying wrapped error.
func (e *Error) Unwrap() error {
	return e.err
}

// newError is a constructor for a new Error.
func newError(code int, s string, a ...any) error {
	return &Error{
		code: code,
		err:  fmt.Errorf(s, a...), // s may contain a %w verb to wrap an error
	}
}

// codedError converts the error to an Error with the specified code.
func codedError(code int, err error) error {
	return &Error{
		code: code,
		err:  err,
	}
}

// errorHasCode checks whether the error is an Error and has the specified code.
func errorHasCode(err error, code int) bool {
	var e *Error
	return errors.As(err, &e) && e.code == code
}
