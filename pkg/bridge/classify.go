package bridge

import (
	"btc-bridge/database"
	"btc-bridge/pkg/primitives"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// classify decides what a relayed transaction means to the bridge. The
// first matching kind wins: spending trustee coins, paying the trustee,
// binding an address.
func (b *Bridge) classify(tx, prev *wire.MsgTx) (database.TxType, error) {
	prevOut := prev.TxOut[tx.TxIn[0].PreviousOutPoint.Index]
	if b.params.Trustee.Pays(prevOut.PkScript) {
		return database.TxTypeWithdrawal, nil
	}
	for _, in := range tx.TxIn {
		tracked, err := b.utxos.Tracks(in.PreviousOutPoint)
		if err != nil {
			return database.TxTypeUnknown, err
		}
		if tracked {
			return database.TxTypeWithdrawal, nil
		}
	}

	outs := b.parseDepositOutputs(tx)
	if outs.balance > 0 {
		return database.TxTypeDeposit, nil
	}
	if outs.account != nil {
		return database.TxTypeTrusteeBind, nil
	}
	return database.TxTypeUnknown, nil
}

// inputAddress resolves the address input zero spends from.
func (b *Bridge) inputAddress(tx, prev *wire.MsgTx) (string, error) {
	pkScript := prev.TxOut[tx.TxIn[0].PreviousOutPoint.Index].PkScript
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, b.params.Net)
	if err != nil {
		return "", newErrf(ErrInvalidAddress, "sender script %x: %v", pkScript, err)
	}
	if len(addrs) != 1 {
		return "", newErrf(ErrInvalidAddress, "sender script %x has %d addresses", pkScript, len(addrs))
	}
	return addrs[0].EncodeAddress(), nil
}

type depositOutputs struct {
	// account is set when the first OP_RETURN output decodes to an
	// account.
	account *primitives.AccountID
	channel string

	// opReturn is the raw script of that output.
	opReturn []byte

	balance uint64
}

// parseDepositOutputs sums the outputs paying the trustee and decodes the
// first OP_RETURN output. Later OP_RETURN outputs are ignored.
func (b *Bridge) parseDepositOutputs(tx *wire.MsgTx) depositOutputs {
	var (
		out         depositOutputs
		seenNullOut bool
	)
	for _, o := range tx.TxOut {
		if isNullData(o.PkScript) {
			if seenNullOut {
				continue
			}
			seenNullOut = true

			payload, ok := nullDataPayload(o.PkScript)
			if !ok {
				continue
			}
			id, channel, err := b.codec.DecodeAccount(payload)
			if err != nil {
				b.log.Debugf("op_return %x is not an account: %v", o.PkScript, err)
				continue
			}
			out.account = &id
			out.channel = channel
			out.opReturn = o.PkScript
			continue
		}

		if b.params.Trustee.Pays(o.PkScript) && o.Value > 0 {
			out.balance += uint64(o.Value)
		}
	}
	return out
}

func isNullData(pkScript []byte) bool {
	return len(pkScript) > 0 && pkScript[0] == txscript.OP_RETURN
}

// nullDataPayload concatenates the data pushed after OP_RETURN.
func nullDataPayload(pkScript []byte) ([]byte, bool) {
	tokenizer := txscript.MakeScriptTokenizer(0, pkScript)
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_RETURN {
		return nil, false
	}

	var payload []byte
	for tokenizer.Next() {
		if tokenizer.Opcode() > txscript.OP_PUSHDATA4 {
			return nil, false
		}
		payload = append(payload, tokenizer.Data()...)
	}
	if tokenizer.Err() != nil || len(payload) == 0 {
		return nil, false
	}
	return payload, true
}
