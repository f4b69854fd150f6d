package bridge

import (
	"btc-bridge/database"
	"btc-bridge/pkg/primitives"
)

type TxRelayedEvent struct {
	TxID      string
	BlockHash string
	TxType    database.TxType
}

func (TxRelayedEvent) Name() string { return "bridge.TxRelayed" }

// DepositEvent reports a confirmed deposit. Who is zero when the value went
// to the pending cache of Addr.
type DepositEvent struct {
	Who      primitives.AccountID
	Token    primitives.Token
	Value    uint64
	Addr     string
	TxID     string
	OpReturn []byte
	Pending  bool
}

func (DepositEvent) Name() string { return "bridge.Deposit" }

// DepositPendingEvent reports a cached deposit credited at bind time.
type DepositPendingEvent struct {
	Who   primitives.AccountID
	Token primitives.Token
	Value uint64
	Addr  string
	TxID  string
}

func (DepositPendingEvent) Name() string { return "bridge.DepositPending" }

type BindEvent struct {
	Addr    string
	Who     primitives.AccountID
	Channel string
}

func (BindEvent) Name() string { return "bridge.Bind" }

type WithdrawalEvent struct {
	ID   uint32
	TxID string
}

func (WithdrawalEvent) Name() string { return "bridge.Withdrawal" }

// WithdrawalFatalEvent is raised when a confirmed trustee spend does not
// match the proposal. Withdrawals stay disabled until root intervenes.
type WithdrawalFatalEvent struct {
	TxID         string
	ProposalTxID string
}

func (WithdrawalFatalEvent) Name() string { return "bridge.WithdrawalFatal" }

type ProposalCreatedEvent struct {
	TxID          string
	WithdrawalIDs []uint32
}

func (ProposalCreatedEvent) Name() string { return "bridge.ProposalCreated" }

type ProposalSignedEvent struct {
	Trustee  primitives.AccountID
	Approve  bool
	Finished bool
}

func (ProposalSignedEvent) Name() string { return "bridge.ProposalSigned" }

type ProposalCancelledEvent struct {
	TxID          string
	WithdrawalIDs []uint32
}

func (ProposalCancelledEvent) Name() string { return "bridge.ProposalCancelled" }
