package bridge

import (
	"btc-bridge/database"

	"github.com/btcsuite/btcd/wire"
)

// RelayTx is a transaction submitted by a relayer together with the proof
// that it is part of a stored block.
type RelayTx struct {
	BlockHash string `json:"block_hash"`
	RawTx     []byte `json:"raw_tx"`

	// MerkleProof is a serialized BIP37 merkleblock message.
	MerkleProof []byte `json:"merkle_proof"`

	// PreviousRawTx is the transaction input zero spends from.
	PreviousRawTx []byte `json:"previous_raw_tx"`
}

// PushTransaction validates a relayed transaction, classifies it and
// attaches it to its block. A transaction of a block that is already
// confirmed on the main chain is applied right away; the others wait for
// their block to be confirmed.
func (b *Bridge) PushTransaction(relay *RelayTx) (database.TxType, error) {
	tx, err := b.validate(relay)
	if err != nil {
		return database.TxTypeUnknown, err
	}
	txid := tx.TxHash().String()

	info, err := b.store.TxInfo(txid)
	switch {
	case err == nil:
		b.log.Debugf("tx %s already relayed as %v", txid, info.TxType)

	case err == database.ErrNotFound:
		prev, err := decodeTx(relay.PreviousRawTx)
		if err != nil {
			return database.TxTypeUnknown, err
		}
		if info, err = b.newTxInfo(relay, tx, prev); err != nil {
			return database.TxTypeUnknown, err
		}
		if err := b.store.PutTxInfo(txid, info); err != nil {
			return database.TxTypeUnknown, err
		}
		b.log.Infof("relayed %v tx %s in block %s", info.TxType, txid, relay.BlockHash)
		b.sink.Publish(TxRelayedEvent{TxID: txid, BlockHash: relay.BlockHash, TxType: info.TxType})

	default:
		return database.TxTypeUnknown, err
	}

	header, err := b.store.BlockHeader(relay.BlockHash)
	if err != nil {
		return database.TxTypeUnknown, err
	}
	if !header.HasTx(txid) {
		header.TxIDs = append(header.TxIDs, txid)
		if err := b.store.PutBlockHeader(relay.BlockHash, header); err != nil {
			return database.TxTypeUnknown, err
		}
	}

	if !header.Confirmed {
		return info.TxType, nil
	}
	_, onMain, err := b.store.NumberForHash(relay.BlockHash)
	if err != nil {
		return database.TxTypeUnknown, err
	}
	if onMain {
		if err := b.handleTx(txid); err != nil {
			return database.TxTypeUnknown, err
		}
	}
	return info.TxType, nil
}

// validate checks the proof and the previous transaction of a relay.
func (b *Bridge) validate(relay *RelayTx) (*wire.MsgTx, error) {
	header, err := b.store.BlockHeader(relay.BlockHash)
	if err == database.ErrNotFound {
		return nil, newErrf(ErrBlockHeaderMissing, "block %s of relayed tx is not stored", relay.BlockHash)
	}
	if err != nil {
		return nil, err
	}
	blockHeader, err := header.BlockHeader()
	if err != nil {
		return nil, err
	}

	tx, err := decodeTx(relay.RawTx)
	if err != nil {
		return nil, err
	}
	if len(tx.TxIn) == 0 {
		return nil, newErr(ErrInvalidTx, "relayed tx has no inputs")
	}
	txHash := tx.TxHash()

	root, matched, err := parseMerkleProof(relay.MerkleProof)
	if err != nil {
		return nil, err
	}
	if root != blockHeader.MerkleRoot {
		return nil, newErrf(ErrMerkleMismatch, "proof root %s, block %s has %s",
			root, relay.BlockHash, blockHeader.MerkleRoot)
	}
	var found bool
	for _, h := range matched {
		if h == txHash {
			found = true
			break
		}
	}
	if !found {
		return nil, newErrf(ErrTxNotInProof, "tx %s is not matched by the proof", txHash)
	}

	prev, err := decodeTx(relay.PreviousRawTx)
	if err != nil {
		return nil, err
	}
	outpoint := tx.TxIn[0].PreviousOutPoint
	if prev.TxHash() != outpoint.Hash {
		return nil, newErrf(ErrPreviousTxMismatch, "previous tx %s, input 0 spends %s",
			prev.TxHash(), outpoint.Hash)
	}
	if int(outpoint.Index) >= len(prev.TxOut) {
		return nil, newErrf(ErrPreviousTxMismatch, "previous tx %s has no output %d",
			outpoint.Hash, outpoint.Index)
	}
	return tx, nil
}

func (b *Bridge) newTxInfo(relay *RelayTx, tx, prev *wire.MsgTx) (*database.TxInfo, error) {
	txType, err := b.classify(tx, prev)
	if err != nil {
		return nil, err
	}
	if txType == database.TxTypeUnknown {
		return nil, newErrf(ErrUnrelatedTx, "tx %s does not concern the trustee", tx.TxHash())
	}

	info := &database.TxInfo{RawTx: relay.RawTx, TxType: txType}
	if txType == database.TxTypeDeposit || txType == database.TxTypeTrusteeBind {
		if info.InputAddress, err = b.inputAddress(tx, prev); err != nil {
			return nil, err
		}
	}
	return info, nil
}
