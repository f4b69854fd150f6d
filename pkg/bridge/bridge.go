// Package bridge relays Bitcoin transactions into the ledger: it checks
// relayed transactions against stored headers, applies deposits, address
// bindings and withdrawals of confirmed blocks, tracks the trustee outputs
// and builds the outgoing withdrawal transaction.
package bridge

import (
	"bytes"

	"btc-bridge/database"
	"btc-bridge/pkg/blockchain"
	"btc-bridge/pkg/event"
	"btc-bridge/pkg/logger"
	"btc-bridge/pkg/records"

	"github.com/btcsuite/btcd/wire"
)

type Config struct {
	Params Params
	Codec  AccountCodec
	Sink   event.Sink
	Log    *logger.CustomLogger
}

type Bridge struct {
	store   database.Store
	records *records.Keeper
	utxos   *UTXOTracker
	params  Params
	codec   AccountCodec
	sink    event.Sink
	log     *logger.CustomLogger
}

var _ blockchain.ConfirmedBlockHandler = (*Bridge)(nil)

func NewBridge(store database.Store, keeper *records.Keeper, cfg Config) *Bridge {
	if cfg.Codec == nil {
		cfg.Codec = SS58Codec{Version: DefaultAddressVersion}
	}
	if cfg.Sink == nil {
		cfg.Sink = event.Discard
	}
	if cfg.Log == nil {
		cfg.Log = logger.NewNopLogger()
	}
	return &Bridge{
		store:   store,
		records: keeper,
		utxos:   NewUTXOTracker(store),
		params:  cfg.Params,
		codec:   cfg.Codec,
		sink:    cfg.Sink,
		log:     cfg.Log,
	}
}

func (b *Bridge) Params() Params {
	return b.params
}

func (b *Bridge) UTXOs() *UTXOTracker {
	return b.utxos
}

// PendingDeposits lists the cached deposits of every unbound address.
func (b *Bridge) PendingDeposits() (map[string][]database.DepositCache, error) {
	return b.store.AllPendingDeposits()
}

func (b *Bridge) AddressBinding(addr string) (*database.AddressBinding, error) {
	return b.store.AddressBinding(addr)
}

// Locker reports the applications held by the in-flight proposal.
type Locker struct {
	Store database.Store
}

func (l Locker) Locked(id uint32) (bool, error) {
	p, err := l.Store.WithdrawalProposal()
	if err == database.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Contains(id), nil
}

func decodeTx(raw []byte) (*wire.MsgTx, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, newErrf(ErrInvalidTx, "decode transaction: %v", err)
	}
	return &tx, nil
}

func encodeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ensureIdentical compares two transactions ignoring signature scripts and
// witnesses.
func ensureIdentical(tx, want *wire.MsgTx) error {
	if tx.Version != want.Version || tx.LockTime != want.LockTime {
		return newErrf(ErrTxMismatch, "version or lock time differ: %d/%d, want %d/%d",
			tx.Version, tx.LockTime, want.Version, want.LockTime)
	}
	if len(tx.TxIn) != len(want.TxIn) || len(tx.TxOut) != len(want.TxOut) {
		return newErrf(ErrTxMismatch, "%d inputs %d outputs, want %d inputs %d outputs",
			len(tx.TxIn), len(tx.TxOut), len(want.TxIn), len(want.TxOut))
	}
	for i, in := range tx.TxIn {
		w := want.TxIn[i]
		if in.PreviousOutPoint != w.PreviousOutPoint || in.Sequence != w.Sequence {
			return newErrf(ErrTxMismatch, "input %d spends %v, want %v", i, in.PreviousOutPoint, w.PreviousOutPoint)
		}
	}
	for i, out := range tx.TxOut {
		w := want.TxOut[i]
		if out.Value != w.Value || !bytes.Equal(out.PkScript, w.PkScript) {
			return newErrf(ErrTxMismatch, "output %d differs", i)
		}
	}
	return nil
}
