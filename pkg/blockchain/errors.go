package blockchain

import (
	stderrors "errors"

	"github.com/go-errors/errors"
)

// ErrorCode distinguishes the failures of header chain operations.
type ErrorCode uint8

const (
	// ErrUnknownParent is returned when the parent of a header is not
	// stored. Parents have to be submitted first.
	ErrUnknownParent ErrorCode = iota

	// ErrNotFound is returned when a header on a side chain route is
	// missing from storage.
	ErrNotFound

	// ErrAncientFork is returned for headers forking too deep below the
	// best tip.
	ErrAncientFork

	// ErrFork is returned when unwinding the main chain does not yield the
	// expected hash.
	ErrFork

	// ErrCannotCanonize is returned when a block to canonize does not
	// extend the best tip.
	ErrCannotCanonize

	// ErrBadPoW is returned when a header hash is above its target or the
	// target is out of range.
	ErrBadPoW

	// ErrBadDifficulty is returned when a header does not carry the
	// required bits.
	ErrBadDifficulty

	// ErrTimeTooOld is returned when a header timestamp is not after the
	// median time of its ancestors.
	ErrTimeTooOld

	// ErrCheckpoint is returned when a header conflicts with a network
	// checkpoint.
	ErrCheckpoint

	// ErrGenesisExists is returned when initialising an initialised chain.
	ErrGenesisExists

	// ErrNoGenesis is returned when the chain was never initialised.
	ErrNoGenesis
)

type chainError struct {
	err  *errors.Error
	code ErrorCode
}

func (e *chainError) Error() string {
	return e.err.Error()
}

// ErrorStack returns the message followed by the stack of the creation site.
func (e *chainError) ErrorStack() string {
	return e.err.ErrorStack()
}

var _ error = (*chainError)(nil)

func newErr(code ErrorCode, a interface{}) *chainError {
	return &chainError{
		code: code,
		err:  errors.New(a),
	}
}

func newErrf(code ErrorCode, format string, a ...interface{}) *chainError {
	return &chainError{
		code: code,
		err:  errors.Errorf(format, a...),
	}
}

// IsError reports whether err, or an error it wraps, is a header chain error
// with one of the given codes.
func IsError(err error, codes ...ErrorCode) bool {
	var e *chainError
	if !stderrors.As(err, &e) {
		return false
	}

	for _, code := range codes {
		if e.code == code {
			return true
		}
	}

	return false
}
