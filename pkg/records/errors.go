package records

import (
	stderrors "errors"

	"github.com/go-errors/errors"
)

// ErrorCode distinguishes the failures of the records keeper.
type ErrorCode uint8

const (
	// ErrWithdrawalDisabled is returned while the withdrawal fault latch
	// is set.
	ErrWithdrawalDisabled ErrorCode = iota

	// ErrNoApplication is returned for unknown application ids.
	ErrNoApplication

	// ErrNotApplicant is returned when someone other than the applicant
	// revokes an application.
	ErrNotApplicant

	// ErrLocked is returned when revoking an application that is part of
	// the in-flight withdrawal proposal.
	ErrLocked

	// ErrInvalidAddress is returned when the destination address does not
	// belong to the chain of the token.
	ErrInvalidAddress

	// ErrUnsupportedChain is returned when no address validator is known
	// for the chain of the token.
	ErrUnsupportedChain

	// ErrZeroValue is returned for withdrawals of nothing.
	ErrZeroValue
)

type recordError struct {
	err  *errors.Error
	code ErrorCode
}

func (e *recordError) Error() string {
	return e.err.Error()
}

// ErrorStack returns the message followed by the stack of the creation site.
func (e *recordError) ErrorStack() string {
	return e.err.ErrorStack()
}

var _ error = (*recordError)(nil)

func newErr(code ErrorCode, a interface{}) *recordError {
	return &recordError{
		code: code,
		err:  errors.New(a),
	}
}

func newErrf(code ErrorCode, format string, a ...interface{}) *recordError {
	return &recordError{
		code: code,
		err:  errors.Errorf(format, a...),
	}
}

// IsError reports whether err, or an error it wraps, is a records error with
// one of the given codes.
func IsError(err error, codes ...ErrorCode) bool {
	var e *recordError
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
