package bridge

import (
	"fmt"
	"slices"

	"btc-bridge/database"
	"btc-bridge/pkg/primitives"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// CurrentProposal returns the in-flight withdrawal proposal.
func (b *Bridge) CurrentProposal() (*database.WithdrawalProposal, error) {
	p, err := b.store.WithdrawalProposal()
	if err == database.ErrNotFound {
		return nil, newErr(ErrNoProposal, "no withdrawal proposal")
	}
	return p, err
}

// CreateProposal builds the unsigned transaction paying out the given
// applications, fee deducted from each. Applications that do not cover the
// fee are left out and stay applying.
func (b *Bridge) CreateProposal(ids []uint32, fee uint64) (*database.WithdrawalProposal, error) {
	_, err := b.store.WithdrawalProposal()
	if err == nil {
		return nil, newErr(ErrProposalExists, "a withdrawal proposal is already in flight")
	}
	if err != database.ErrNotFound {
		return nil, err
	}

	tx := wire.NewMsgTx(1)
	var (
		included    []uint32
		outputTotal uint64
		seen        = make(map[uint32]struct{}, len(ids))
	)
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return nil, newErrf(ErrInvalidApplication, "application %d listed twice", id)
		}
		seen[id] = struct{}{}

		appl, err := b.records.Application(id)
		if err != nil {
			return nil, err
		}
		if appl.Token != b.params.Token {
			return nil, newErrf(ErrInvalidApplication, "application %d withdraws %s, not %s",
				id, appl.Token, b.params.Token)
		}
		addr, err := decodeAddress(appl.Addr, b.params.Net)
		if err != nil {
			return nil, newErrf(ErrInvalidAddress, "application %d: %v", id, err)
		}
		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, newErrf(ErrInvalidAddress, "application %d: %v", id, err)
		}

		if appl.Balance <= fee {
			b.log.Warnf("application %d of %d does not cover fee %d, skipped", id, appl.Balance, fee)
			continue
		}
		value := appl.Balance - fee
		tx.AddTxOut(wire.NewTxOut(int64(value), pkScript))
		outputTotal += value
		included = append(included, id)
	}
	if len(included) == 0 {
		return nil, newErr(ErrInvalidApplication, "no application covers the fee")
	}

	selected, ok, err := b.utxos.Select(outputTotal + fee)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newErrf(ErrInsufficientFunds, "trustee outputs cannot cover %d plus fee %d",
			outputTotal, fee)
	}

	var inputTotal uint64
	outpoints := make([]wire.OutPoint, 0, len(selected))
	for _, u := range selected {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, err
		}
		op := wire.NewOutPoint(hash, u.Index)
		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
		outpoints = append(outpoints, *op)
		inputTotal += u.Balance
	}
	if change := inputTotal - outputTotal - fee; change > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(change), b.params.Trustee.PkScript))
	}

	raw, err := encodeTx(tx)
	if err != nil {
		return nil, err
	}
	if _, err := b.utxos.MarkSpent(outpoints); err != nil {
		return nil, err
	}
	proposal := &database.WithdrawalProposal{
		Tx:            raw,
		WithdrawalIDs: included,
		SigState:      database.SigUnfinished,
	}
	if err := b.store.PutWithdrawalProposal(proposal); err != nil {
		return nil, err
	}

	txid := tx.TxHash().String()
	b.log.Infof("withdrawal proposal %s for %v: %d inputs, %d out, fee %d",
		txid, included, len(tx.TxIn), outputTotal, fee)
	b.sink.Publish(ProposalCreatedEvent{TxID: txid, WithdrawalIDs: included})
	return proposal, nil
}

// SignProposal records the vote of a trustee. A nil tx vetoes the proposal.
// Otherwise tx must be the proposal carrying on every input the signatures
// stored so far plus one signature of who, and it replaces the stored
// transaction.
func (b *Bridge) SignProposal(who primitives.AccountID, signed *wire.MsgTx) error {
	proposal, err := b.CurrentProposal()
	if err != nil {
		return err
	}
	key, ok := b.params.trusteeKey(who)
	if !ok {
		return newErrf(ErrNotTrustee, "%s is not a trustee", who)
	}
	for _, v := range proposal.Votes {
		if v.Trustee == who {
			return newErrf(ErrAlreadyVoted, "trustee %s already voted", who)
		}
	}
	if proposal.SigState == database.SigFinished {
		return newErr(ErrProposalSigned, "the withdrawal proposal is fully signed")
	}

	if signed == nil {
		return b.veto(who, proposal)
	}

	proposalTx, err := proposal.MsgTx()
	if err != nil {
		return err
	}
	if err := ensureIdentical(signed, proposalTx); err != nil {
		return err
	}
	before, err := b.signers(proposalTx)
	if err != nil {
		return fmt.Errorf("stored withdrawal proposal: %w", err)
	}
	after, err := b.signers(signed)
	if err != nil {
		return err
	}
	if !addsOneSigner(before, after, key) {
		return newErrf(ErrBadSignature, "want the signatures of keys %v plus one of key %d, got keys %v",
			before, key, after)
	}

	raw, err := encodeTx(signed)
	if err != nil {
		return err
	}
	proposal.Tx = raw
	proposal.Votes = append(proposal.Votes, database.Vote{Trustee: who, Approve: true})
	if len(after) >= b.params.Trustee.Required {
		proposal.SigState = database.SigFinished
	}
	if err := b.store.PutWithdrawalProposal(proposal); err != nil {
		return err
	}

	finished := proposal.SigState == database.SigFinished
	b.log.Infof("trustee %s signed the withdrawal proposal, %d of %d signatures",
		who, len(after), b.params.Trustee.Required)
	b.sink.Publish(ProposalSignedEvent{Trustee: who, Approve: true, Finished: finished})
	return nil
}

// addsOneSigner reports whether after holds every key of before plus key.
func addsOneSigner(before, after []int, key int) bool {
	if len(after) != len(before)+1 || !slices.Contains(after, key) {
		return false
	}
	for _, k := range before {
		if !slices.Contains(after, k) {
			return false
		}
	}
	return true
}

func (b *Bridge) veto(who primitives.AccountID, proposal *database.WithdrawalProposal) error {
	proposal.Votes = append(proposal.Votes, database.Vote{Trustee: who, Approve: false})

	var vetoes int
	for _, v := range proposal.Votes {
		if !v.Approve {
			vetoes++
		}
	}
	b.log.Infof("trustee %s vetoed the withdrawal proposal, %d vetoes", who, vetoes)
	b.sink.Publish(ProposalSignedEvent{Trustee: who})

	if vetoes > len(b.params.Trustees)-b.params.Trustee.Required {
		return b.cancel(proposal)
	}
	return b.store.PutWithdrawalProposal(proposal)
}

// CancelProposal drops the in-flight proposal and releases its inputs.
func (b *Bridge) CancelProposal() error {
	proposal, err := b.CurrentProposal()
	if err != nil {
		return err
	}
	return b.cancel(proposal)
}

func (b *Bridge) cancel(proposal *database.WithdrawalProposal) error {
	tx, err := proposal.MsgTx()
	if err != nil {
		return err
	}
	outpoints := make([]wire.OutPoint, 0, len(tx.TxIn))
	for _, in := range tx.TxIn {
		outpoints = append(outpoints, in.PreviousOutPoint)
	}
	if _, err := b.utxos.MarkUnspent(outpoints); err != nil {
		return err
	}
	if err := b.store.DeleteWithdrawalProposal(); err != nil {
		return err
	}

	txid := tx.TxHash().String()
	b.log.Warnf("withdrawal proposal %s cancelled, applications %v are applying again",
		txid, proposal.WithdrawalIDs)
	b.sink.Publish(ProposalCancelledEvent{TxID: txid, WithdrawalIDs: proposal.WithdrawalIDs})
	return nil
}

// signers verifies the multisig signature script of every input and returns
// the indexes of the trustee keys that signed. All inputs must be signed by
// the same keys. Inputs of an unsigned transaction carry none.
func (b *Bridge) signers(tx *wire.MsgTx) ([]int, error) {
	redeem := b.params.Trustee.RedeemScript
	var keys []int
	for i, in := range tx.TxIn {
		var signed []int
		if len(in.SignatureScript) > 0 {
			sigs, err := parseMultisigScriptSig(in.SignatureScript, redeem)
			if err != nil {
				return nil, newErrf(ErrBadSignature, "input %d: %v", i, err)
			}
			if len(sigs) > b.params.Trustee.Required {
				return nil, newErrf(ErrBadSignature, "input %d carries %d signatures", i, len(sigs))
			}

			hash, err := txscript.CalcSignatureHash(redeem, txscript.SigHashAll, tx, i)
			if err != nil {
				return nil, newErrf(ErrBadSignature, "input %d: %v", i, err)
			}
			signed, err = matchTrusteeSigs(sigs, hash, b.params.Trustee.PubKeys)
			if err != nil {
				return nil, newErrf(ErrBadSignature, "input %d: %v", i, err)
			}
		}

		if i == 0 {
			keys = signed
			continue
		}
		if !slices.Equal(keys, signed) {
			return nil, newErrf(ErrBadSignature, "input %d is signed by keys %v, input 0 by %v", i, signed, keys)
		}
	}
	return keys, nil
}

// parseMultisigScriptSig splits "OP_0 <sig>... <redeemScript>" and returns
// the signatures.
func parseMultisigScriptSig(scriptSig, redeem []byte) ([][]byte, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, scriptSig)
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_0 {
		return nil, fmt.Errorf("signature script must start with OP_0")
	}

	var pushes [][]byte
	for tokenizer.Next() {
		if tokenizer.Opcode() > txscript.OP_PUSHDATA4 {
			return nil, fmt.Errorf("signature script must only push data")
		}
		pushes = append(pushes, tokenizer.Data())
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}
	if len(pushes) == 0 || string(pushes[len(pushes)-1]) != string(redeem) {
		return nil, fmt.Errorf("signature script does not end with the trustee redeem script")
	}
	return pushes[:len(pushes)-1], nil
}

// matchTrusteeSigs pairs sighash-all signatures with the trustee keys in
// script order, the way OP_CHECKMULTISIG consumes them, and returns the
// indexes of the signing keys.
func matchTrusteeSigs(sigs [][]byte, hash []byte, keys []*btcec.PublicKey) ([]int, error) {
	out := make([]int, 0, len(sigs))
	next := 0
	for j, sig := range sigs {
		if len(sig) < 2 {
			return nil, fmt.Errorf("signature %d too short", j)
		}
		if txscript.SigHashType(sig[len(sig)-1]) != txscript.SigHashAll {
			return nil, fmt.Errorf("signature %d is not sighash all", j)
		}
		parsed, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", j, err)
		}

		k := next
		for k < len(keys) && !parsed.Verify(hash, keys[k]) {
			k++
		}
		if k == len(keys) {
			return nil, fmt.Errorf("signature %d matches no remaining trustee key", j)
		}
		out = append(out, k)
		next = k + 1
	}
	return out, nil
}
