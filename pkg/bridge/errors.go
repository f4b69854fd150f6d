package bridge

import (
	stderrors "errors"

	"github.com/go-errors/errors"
)

// ErrorCode distinguishes the failures of the Bitcoin bridge.
type ErrorCode uint8

const (
	// ErrBlockHeaderMissing is returned when a relayed transaction names a
	// block that is not stored.
	ErrBlockHeaderMissing ErrorCode = iota

	// ErrMerkleMismatch is returned when the merkle proof is malformed or
	// does not hash to the merkle root of the block.
	ErrMerkleMismatch

	// ErrTxNotInProof is returned when the relayed transaction is not a
	// matched leaf of the proof.
	ErrTxNotInProof

	// ErrPreviousTxMismatch is returned when the previous transaction is
	// not the one spent by input zero.
	ErrPreviousTxMismatch

	// ErrInvalidTx is returned for transactions that cannot be decoded or
	// have no inputs.
	ErrInvalidTx

	// ErrInvalidAddress is returned for destination or sender addresses
	// that cannot be used on the configured network.
	ErrInvalidAddress

	// ErrUnrelatedTx is returned for transactions that neither pay nor
	// spend trustee funds nor bind an address.
	ErrUnrelatedTx

	// ErrInvalidApplication is returned when a withdrawal application
	// cannot be part of a proposal.
	ErrInvalidApplication

	// ErrProposalExists is returned when a withdrawal proposal is already
	// in flight.
	ErrProposalExists

	// ErrNoProposal is returned when there is no proposal to act on.
	ErrNoProposal

	// ErrProposalSigned is returned when signing a proposal that already
	// carries enough signatures.
	ErrProposalSigned

	// ErrInsufficientFunds is returned when the trustee outputs cannot
	// cover a proposal.
	ErrInsufficientFunds

	// ErrNotTrustee is returned when a non trustee votes on a proposal.
	ErrNotTrustee

	// ErrAlreadyVoted is returned on a second vote of the same trustee.
	ErrAlreadyVoted

	// ErrTxMismatch is returned when a signed transaction differs from the
	// proposal in more than its signature scripts.
	ErrTxMismatch

	// ErrBadSignature is returned when a signature script does not parse
	// or a signature does not verify against the trustee keys.
	ErrBadSignature
)

type bridgeError struct {
	err  *errors.Error
	code ErrorCode
}

func (e *bridgeError) Error() string {
	return e.err.Error()
}

// ErrorStack returns the message followed by the stack of the creation site.
func (e *bridgeError) ErrorStack() string {
	return e.err.ErrorStack()
}

var _ error = (*bridgeError)(nil)

func newErr(code ErrorCode, a interface{}) *bridgeError {
	return &bridgeError{
		code: code,
		err:  errors.New(a),
	}
}

func newErrf(code ErrorCode, format string, a ...interface{}) *bridgeError {
	return &bridgeError{
		code: code,
		err:  errors.Errorf(format, a...),
	}
}

// IsError reports whether err, or an error it wraps, is a bridge error with
// one of the given codes.
func IsError(err error, codes ...ErrorCode) bool {
	var e *bridgeError
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
