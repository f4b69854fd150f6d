package bridge

import (
	"btc-bridge/database"

	"github.com/btcsuite/btcd/wire"
)

// UTXOTracker keeps the outputs paying the trustee address. Entries are
// appended and flagged, never removed, so the set stays in insertion order.
type UTXOTracker struct {
	store database.Store
}

func NewUTXOTracker(store database.Store) *UTXOTracker {
	return &UTXOTracker{store: store}
}

type indexedUTXO struct {
	index uint64
	utxo  *database.UTXO
}

func (t *UTXOTracker) all() ([]indexedUTXO, error) {
	n, err := t.store.UTXOMaxIndex()
	if err != nil {
		return nil, err
	}
	out := make([]indexedUTXO, 0, n)
	for i := uint64(0); i < n; i++ {
		u, err := t.store.UTXO(i)
		if err != nil {
			return nil, err
		}
		out = append(out, indexedUTXO{index: i, utxo: u})
	}
	return out, nil
}

// Add appends an unspent output unless the outpoint is already tracked.
func (t *UTXOTracker) Add(txid string, index uint32, balance uint64) (bool, error) {
	all, err := t.all()
	if err != nil {
		return false, err
	}
	for _, e := range all {
		if e.utxo.TxID == txid && e.utxo.Index == index {
			return false, nil
		}
	}

	next := uint64(len(all))
	u := &database.UTXO{TxID: txid, Index: index, Balance: balance}
	if err := t.store.PutUTXO(next, u); err != nil {
		return false, err
	}
	return true, t.store.SetUTXOMaxIndex(next + 1)
}

// Select picks unspent outputs from the newest backwards until they cover
// target. It returns false, and nothing, when the funds are short.
func (t *UTXOTracker) Select(target uint64) ([]database.UTXO, bool, error) {
	all, err := t.all()
	if err != nil {
		return nil, false, err
	}

	var (
		selected []database.UTXO
		sum      uint64
	)
	for i := len(all) - 1; i >= 0 && sum < target; i-- {
		u := all[i].utxo
		if u.IsSpent {
			continue
		}
		selected = append(selected, *u)
		sum += u.Balance
	}
	if sum < target {
		return nil, false, nil
	}
	return selected, true, nil
}

// MarkSpent flags the tracked outputs among outpoints as spent and returns
// how many changed.
func (t *UTXOTracker) MarkSpent(outpoints []wire.OutPoint) (int, error) {
	return t.mark(outpoints, true)
}

// MarkUnspent is the inverse of MarkSpent.
func (t *UTXOTracker) MarkUnspent(outpoints []wire.OutPoint) (int, error) {
	return t.mark(outpoints, false)
}

func (t *UTXOTracker) mark(outpoints []wire.OutPoint, spent bool) (int, error) {
	all, err := t.all()
	if err != nil {
		return 0, err
	}

	var changed int
	for _, op := range outpoints {
		txid := op.Hash.String()
		for _, e := range all {
			if e.utxo.TxID != txid || e.utxo.Index != op.Index || e.utxo.IsSpent == spent {
				continue
			}
			e.utxo.IsSpent = spent
			if err := t.store.PutUTXO(e.index, e.utxo); err != nil {
				return changed, err
			}
			changed++
		}
	}
	return changed, nil
}

// Tracks reports whether the outpoint is a tracked output, spent or not.
func (t *UTXOTracker) Tracks(op wire.OutPoint) (bool, error) {
	all, err := t.all()
	if err != nil {
		return false, err
	}
	txid := op.Hash.String()
	for _, e := range all {
		if e.utxo.TxID == txid && e.utxo.Index == op.Index {
			return true, nil
		}
	}
	return false, nil
}

func (t *UTXOTracker) All() ([]database.UTXO, error) {
	all, err := t.all()
	if err != nil {
		return nil, err
	}
	out := make([]database.UTXO, 0, len(all))
	for _, e := range all {
		out = append(out, *e.utxo)
	}
	return out, nil
}

func (t *UTXOTracker) Unspent() ([]database.UTXO, error) {
	all, err := t.all()
	if err != nil {
		return nil, err
	}
	var out []database.UTXO
	for _, e := range all {
		if !e.utxo.IsSpent {
			out = append(out, *e.utxo)
		}
	}
	return out, nil
}

// Balance sums the unspent outputs.
func (t *UTXOTracker) Balance() (uint64, error) {
	unspent, err := t.Unspent()
	if err != nil {
		return 0, err
	}
	var sum uint64
	for _, u := range unspent {
		sum += u.Balance
	}
	return sum, nil
}
