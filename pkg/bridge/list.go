package bridge

import (
	"fmt"

	"btc-bridge/database"
	"btc-bridge/pkg/primitives"
)

type TxState uint8

const (
	Applying TxState = iota
	Signing
	Processing
	Confirming
	Confirmed
)

func (s TxState) String() string {
	switch s {
	case Applying:
		return "Applying"
	case Signing:
		return "Signing"
	case Processing:
		return "Processing"
	case Confirming:
		return "Confirming"
	case Confirmed:
		return "Confirmed"
	}
	return fmt.Sprintf("TxState(%d)", uint8(s))
}

// RecordInfo describes a deposit on its way to confirmation or an open
// withdrawal application.
type RecordInfo struct {
	Who     primitives.AccountID `json:"who"`
	Token   primitives.Token     `json:"token"`
	Balance uint64               `json:"balance"`
	TxID    string               `json:"txid"`
	Addr    string               `json:"addr"`
	Ext     []byte               `json:"ext"`

	// Height is the runtime block number of an application. Timestamp is
	// the block time of a deposit.
	Height    uint64 `json:"height,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	WithdrawalID uint32  `json:"withdrawal_id"`
	State        TxState `json:"state"`

	// Depth out of Confirmations while Confirming.
	Depth         uint32 `json:"depth,omitempty"`
	Confirmations uint32 `json:"confirmations,omitempty"`
}

// unconfirmedBlocks walks the main chain down from the best tip over the
// blocks that are not confirmed yet, newest first.
func (b *Bridge) unconfirmedBlocks(fn func(depth uint32, info *database.BlockHeaderInfo) error) error {
	hash, err := b.store.BestIndex()
	if err == database.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	for depth := uint32(0); depth+1 < b.params.Confirmations; depth++ {
		info, err := b.store.BlockHeader(hash)
		if err == database.ErrNotFound {
			b.log.Errorf("block %s on the main chain is missing", hash)
			return nil
		}
		if err != nil {
			return err
		}
		if info.Confirmed {
			return nil
		}
		if err := fn(depth, info); err != nil {
			return err
		}

		header, err := info.BlockHeader()
		if err != nil {
			return err
		}
		hash = header.PrevBlock.String()
	}
	return nil
}

// DepositList reports the deposits of main chain blocks still waiting for
// confirmation.
func (b *Bridge) DepositList() ([]RecordInfo, error) {
	var records []RecordInfo
	err := b.unconfirmedBlocks(func(depth uint32, info *database.BlockHeaderInfo) error {
		header, err := info.BlockHeader()
		if err != nil {
			return err
		}
		for _, txid := range info.TxIDs {
			txInfo, err := b.store.TxInfo(txid)
			if err == database.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if txInfo.TxType != database.TxTypeDeposit {
				continue
			}
			tx, err := txInfo.MsgTx()
			if err != nil {
				return err
			}

			outs := b.parseDepositOutputs(tx)
			r := RecordInfo{
				Token:         b.params.Token,
				Balance:       outs.balance,
				TxID:          txid,
				Addr:          txInfo.InputAddress,
				Ext:           outs.opReturn,
				Timestamp:     header.Timestamp.Unix(),
				State:         Confirming,
				Depth:         depth + 1,
				Confirmations: b.params.Confirmations,
			}
			if outs.account != nil {
				r.Who = *outs.account
			} else if binding, err := b.store.AddressBinding(txInfo.InputAddress); err == nil {
				r.Who = binding.Account
			}
			records = append(records, r)
		}
		return nil
	})
	return records, err
}

// WithdrawalList reports the open bitcoin withdrawal applications. Those in
// the proposal are Signing or Processing; the proposal transaction is named
// once it shows up in an unconfirmed block.
func (b *Bridge) WithdrawalList() ([]RecordInfo, error) {
	appls, err := b.records.Applications(primitives.ChainBitcoin)
	if err != nil {
		return nil, err
	}

	records := make([]RecordInfo, 0, len(appls))
	for _, a := range appls {
		records = append(records, RecordInfo{
			Who:          a.Applicant,
			Token:        a.Token,
			Balance:      a.Balance,
			Addr:         a.Addr,
			Ext:          []byte(a.Ext),
			Height:       a.Height,
			WithdrawalID: a.ID,
			State:        Applying,
		})
	}

	proposal, err := b.store.WithdrawalProposal()
	if err == database.ErrNotFound {
		return records, nil
	}
	if err != nil {
		return nil, err
	}
	proposalTx, err := proposal.MsgTx()
	if err != nil {
		return nil, err
	}

	var txid string
	err = b.unconfirmedBlocks(func(_ uint32, info *database.BlockHeaderInfo) error {
		for _, id := range info.TxIDs {
			txInfo, err := b.store.TxInfo(id)
			if err == database.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if txInfo.TxType != database.TxTypeWithdrawal {
				continue
			}
			tx, err := txInfo.MsgTx()
			if err != nil {
				return err
			}
			if ensureIdentical(tx, proposalTx) == nil {
				txid = id
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	state := Signing
	if proposal.SigState == database.SigFinished {
		state = Processing
	}
	for i := range records {
		if proposal.Contains(records[i].WithdrawalID) {
			records[i].State = state
			records[i].TxID = txid
		}
	}
	return records, nil
}

// Page selects a window of a record list. A Limit of zero or less selects
// everything from Offset on.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// RecordPage is one window of a record list with the length of the list.
type RecordPage struct {
	Records []RecordInfo `json:"records"`
	Total   int          `json:"total"`
}

func (p Page) apply(records []RecordInfo) RecordPage {
	total := len(records)
	start := min(max(p.Offset, 0), total)
	end := total
	if p.Limit > 0 && start+p.Limit < end {
		end = start + p.Limit
	}
	return RecordPage{Records: records[start:end], Total: total}
}

func (b *Bridge) DepositPage(p Page) (RecordPage, error) {
	records, err := b.DepositList()
	if err != nil {
		return RecordPage{}, err
	}
	return p.apply(records), nil
}

func (b *Bridge) WithdrawalPage(p Page) (RecordPage, error) {
	records, err := b.WithdrawalList()
	if err != nil {
		return RecordPage{}, err
	}
	return p.apply(records), nil
}
