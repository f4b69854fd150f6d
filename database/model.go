package database

import (
	"bytes"

	"btc-bridge/pkg/primitives"

	"github.com/btcsuite/btcd/wire"
)

type BlockHeaderInfo struct {
	Header    []byte   `json:"header"` // 80 byte wire encoding
	Height    uint32   `json:"height"`
	Confirmed bool     `json:"confirmed"`
	TxIDs     []string `json:"txid_list"`
}

func NewBlockHeaderInfo(header *wire.BlockHeader, height uint32) (*BlockHeaderInfo, error) {
	var buf bytes.Buffer
	if err := header.Serialize(&buf); err != nil {
		return nil, err
	}
	return &BlockHeaderInfo{
		Header: buf.Bytes(),
		Height: height,
	}, nil
}

func (b *BlockHeaderInfo) BlockHeader() (*wire.BlockHeader, error) {
	var h wire.BlockHeader
	if err := h.Deserialize(bytes.NewReader(b.Header)); err != nil {
		return nil, err
	}
	return &h, nil
}

// HasTx reports whether txid is already attached to the block.
func (b *BlockHeaderInfo) HasTx(txid string) bool {
	for _, id := range b.TxIDs {
		if id == txid {
			return true
		}
	}
	return false
}

type TxType uint8

const (
	TxTypeUnknown TxType = iota
	TxTypeDeposit
	TxTypeWithdrawal
	TxTypeTrusteeBind
)

func (t TxType) String() string {
	switch t {
	case TxTypeDeposit:
		return "Deposit"
	case TxTypeWithdrawal:
		return "Withdrawal"
	case TxTypeTrusteeBind:
		return "TrusteeBind"
	}
	return "Unknown"
}

type TxInfo struct {
	RawTx        []byte `json:"raw_tx"`
	TxType       TxType `json:"tx_type"`
	InputAddress string `json:"input_address"`
}

func (t *TxInfo) MsgTx() (*wire.MsgTx, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(t.RawTx)); err != nil {
		return nil, err
	}
	return &tx, nil
}

type UTXO struct {
	TxID    string `json:"txid"`
	Index   uint32 `json:"index"`
	Balance uint64 `json:"balance"`
	IsSpent bool   `json:"is_spent"`
}

type DepositCache struct {
	TxID    string `json:"txid"`
	Balance uint64 `json:"balance"`
}

type AddressBinding struct {
	Account primitives.AccountID `json:"account"`
	Channel string               `json:"channel"`
}

type SigState uint8

const (
	SigUnfinished SigState = iota
	SigFinished
)

func (s SigState) String() string {
	if s == SigFinished {
		return "Finished"
	}
	return "Unfinished"
}

type Vote struct {
	Trustee primitives.AccountID `json:"trustee"`
	Approve bool                 `json:"approve"`
}

type WithdrawalProposal struct {
	Tx            []byte   `json:"tx"`
	WithdrawalIDs []uint32 `json:"withdrawal_id_list"`
	SigState      SigState `json:"sig_state"`
	Votes         []Vote   `json:"trustee_list"`
}

func (p *WithdrawalProposal) MsgTx() (*wire.MsgTx, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(p.Tx)); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (p *WithdrawalProposal) Contains(id uint32) bool {
	for _, i := range p.WithdrawalIDs {
		if i == id {
			return true
		}
	}
	return false
}

type AssetRecord struct {
	Token        primitives.Token `json:"token"`
	TokenName    string           `json:"token_name"`
	Chain        primitives.Chain `json:"chain"`
	Precision    uint16           `json:"precision"`
	Desc         string           `json:"desc"`
	Valid        bool             `json:"valid"`
	RegisteredAt uint64           `json:"registered_at"`
}

type BalanceMap map[primitives.AssetType]uint64

type Application struct {
	ID        uint32               `json:"id"`
	Applicant primitives.AccountID `json:"applicant"`
	Token     primitives.Token     `json:"token"`
	Balance   uint64               `json:"balance"`
	Addr      string               `json:"addr"`
	Ext       string               `json:"ext"`
	Height    uint64               `json:"height"`
}

// ChainFault is latched when the header chain sees a reorganisation that
// would unwind confirmed blocks. It stays until cleared by root.
type ChainFault struct {
	BestHash  string `json:"best_hash"`
	BestTip   uint32 `json:"best_height"`
	ForkHash  string `json:"fork_hash"`
	Ancestor  uint32 `json:"ancestor"`
	Confirmed uint32 `json:"confirmed_height"`
}

type Genesis struct {
	Hash   string `json:"hash"`
	Height uint32 `json:"height"`
}
