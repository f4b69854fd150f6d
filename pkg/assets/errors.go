package assets

import (
	stderrors "errors"

	"github.com/go-errors/errors"
)

// ErrorCode distinguishes the failures of ledger operations.
type ErrorCode uint8

const (
	// ErrNotEnough is returned when the source balance cannot cover a
	// subtraction.
	ErrNotEnough ErrorCode = iota

	// ErrOverflow is returned when the destination balance would exceed
	// the balance range.
	ErrOverflow

	// ErrTotalAssetNotEnough is returned when a per token total cannot
	// cover a subtraction.
	ErrTotalAssetNotEnough

	// ErrTotalAssetOverflow is returned when a per token total would
	// exceed the balance range.
	ErrTotalAssetOverflow

	// ErrInvalidToken is returned for malformed token symbols and for
	// tokens that are unknown or revoked when moving balances.
	ErrInvalidToken

	// ErrInvalidAsset is returned when an asset is unknown, revoked or
	// carries a malformed description.
	ErrInvalidAsset

	// ErrAssetExists is returned when registering a token twice.
	ErrAssetExists

	// ErrNativeToken is returned by operations the native token does not
	// support.
	ErrNativeToken

	// ErrMemoTooLong is returned when a transfer memo exceeds the
	// configured length.
	ErrMemoTooLong
)

type assetError struct {
	err  *errors.Error
	code ErrorCode
}

func (e *assetError) Error() string {
	return e.err.Error()
}

// ErrorStack returns the message followed by the stack of the creation site.
func (e *assetError) ErrorStack() string {
	return e.err.ErrorStack()
}

var _ error = (*assetError)(nil)

func newErr(code ErrorCode, a interface{}) *assetError {
	return &assetError{
		code: code,
		err:  errors.New(a),
	}
}

func newErrf(code ErrorCode, format string, a ...interface{}) *assetError {
	return &assetError{
		code: code,
		err:  errors.Errorf(format, a...),
	}
}

// IsError reports whether err, or an error it wraps, is a ledger error with
// one of the given codes.
func IsError(err error, codes ...ErrorCode) bool {
	var e *assetError
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
