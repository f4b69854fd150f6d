package bridge

import (
	"btc-bridge/database"
	"btc-bridge/pkg/primitives"

	"github.com/btcsuite/btcd/wire"
)

// ConfirmBlock applies every transaction of a block that just got
// confirmed. A transaction that fails to apply is logged for root to fix;
// it never fails the block.
func (b *Bridge) ConfirmBlock(hash string, info *database.BlockHeaderInfo) error {
	for _, txid := range info.TxIDs {
		if err := b.handleTx(txid); err != nil {
			return err
		}
	}
	return nil
}

// handleTx applies one transaction, once. Only storage failures are
// returned.
func (b *Bridge) handleTx(txid string) error {
	handled, err := b.store.TxHandled(txid)
	if err != nil {
		return err
	}
	if handled {
		b.log.Debugf("tx %s already handled", txid)
		return nil
	}

	info, err := b.store.TxInfo(txid)
	if err != nil {
		return err
	}
	tx, err := info.MsgTx()
	if err != nil {
		return err
	}

	if err := b.trackOutputs(txid, tx); err != nil {
		return err
	}

	switch info.TxType {
	case database.TxTypeWithdrawal:
		err = b.withdraw(txid, tx)
	case database.TxTypeDeposit, database.TxTypeTrusteeBind:
		err = b.deposit(txid, tx, info.InputAddress)
	default:
		b.log.Infof("tx %s of type %v has no effect", txid, info.TxType)
	}
	if err != nil {
		return err
	}

	return b.store.SetTxHandled(txid)
}

// trackOutputs marks the trustee outputs the tx spends and adds the ones it
// creates.
func (b *Bridge) trackOutputs(txid string, tx *wire.MsgTx) error {
	outpoints := make([]wire.OutPoint, 0, len(tx.TxIn))
	for _, in := range tx.TxIn {
		outpoints = append(outpoints, in.PreviousOutPoint)
	}
	spent, err := b.utxos.MarkSpent(outpoints)
	if err != nil {
		return err
	}
	if spent > 0 {
		b.log.Debugf("tx %s spends %d trustee outputs", txid, spent)
	}

	for i, out := range tx.TxOut {
		if !b.params.Trustee.Pays(out.PkScript) || out.Value <= 0 {
			continue
		}
		if _, err := b.utxos.Add(txid, uint32(i), uint64(out.Value)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) withdraw(txid string, tx *wire.MsgTx) error {
	proposal, err := b.store.WithdrawalProposal()
	if err == database.ErrNotFound {
		b.log.Errorf("withdrawal tx %s confirmed without a proposal, use root to fix it", txid)
		b.sink.Publish(WithdrawalFatalEvent{TxID: txid})
		return b.records.DisableWithdrawal()
	}
	if err != nil {
		return err
	}

	proposalTx, err := proposal.MsgTx()
	if err != nil {
		return err
	}
	if err := ensureIdentical(tx, proposalTx); err != nil {
		b.log.Errorf("withdrawal tx %s does not match proposal %s, use root to fix it: %v",
			txid, proposalTx.TxHash(), err)
		b.sink.Publish(WithdrawalFatalEvent{TxID: txid, ProposalTxID: proposalTx.TxHash().String()})
		return b.records.DisableWithdrawal()
	}

	for _, id := range proposal.WithdrawalIDs {
		if err := b.records.WithdrawalFinish(id, true); err != nil {
			b.log.Errorf("finish withdrawal %d of tx %s, use root to fix it: %v", id, txid, err)
			continue
		}
		b.log.Infof("withdrawal %d completed by tx %s", id, txid)
		b.sink.Publish(WithdrawalEvent{ID: id, TxID: txid})
	}
	return b.store.DeleteWithdrawalProposal()
}

func (b *Bridge) deposit(txid string, tx *wire.MsgTx, inputAddr string) error {
	outs := b.parseDepositOutputs(tx)

	var (
		who   primitives.AccountID
		bound bool
	)
	if outs.account != nil {
		who, bound = *outs.account, true
		if err := b.replayPending(inputAddr, who); err != nil {
			return err
		}
		if err := b.bind(inputAddr, who, outs.channel); err != nil {
			return err
		}
	} else {
		binding, err := b.store.AddressBinding(inputAddr)
		switch {
		case err == nil:
			who, bound = binding.Account, true
		case err != database.ErrNotFound:
			return err
		}
	}

	ev := DepositEvent{
		Token:    b.params.Token,
		Value:    outs.balance,
		Addr:     inputAddr,
		TxID:     txid,
		OpReturn: outs.opReturn,
	}

	switch {
	case bound && outs.balance > 0:
		if err := b.records.Deposit(who, b.params.Token, outs.balance); err != nil {
			b.log.Errorf("deposit %d from tx %s to %s failed, use root to fix it: %v",
				outs.balance, txid, who, err)
			return nil
		}
		ev.Who = who

	case bound:
		b.log.Infof("tx %s binds %s to %s without value", txid, inputAddr, who)
		ev.Who = who

	case outs.balance > 0:
		if err := b.addPending(inputAddr, txid, outs.balance); err != nil {
			return err
		}
		ev.Pending = true

	default:
		b.log.Errorf("tx %s pays nothing and binds nothing", txid)
		return nil
	}

	b.sink.Publish(ev)
	return nil
}

func (b *Bridge) bind(addr string, who primitives.AccountID, channel string) error {
	if err := b.store.PutAddressBinding(addr, &database.AddressBinding{Account: who, Channel: channel}); err != nil {
		return err
	}
	b.log.Infof("address %s bound to %s, channel %q", addr, who, channel)
	b.sink.Publish(BindEvent{Addr: addr, Who: who, Channel: channel})
	return nil
}

func (b *Bridge) addPending(addr, txid string, balance uint64) error {
	list, err := b.store.PendingDeposits(addr)
	if err != nil {
		return err
	}
	for _, c := range list {
		if c.TxID == txid {
			return nil
		}
	}
	list = append(list, database.DepositCache{TxID: txid, Balance: balance})
	if err := b.store.SetPendingDeposits(addr, list); err != nil {
		return err
	}
	b.log.Infof("deposit %d of tx %s pending until %s is bound", balance, txid, addr)
	return nil
}

// replayPending credits every cached deposit of addr to who. Deposits that
// cannot be credited stay cached for the next binding of addr.
func (b *Bridge) replayPending(addr string, who primitives.AccountID) error {
	list, err := b.store.PendingDeposits(addr)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return nil
	}

	var kept []database.DepositCache
	for _, c := range list {
		if err := b.records.Deposit(who, b.params.Token, c.Balance); err != nil {
			b.log.Errorf("pending deposit %d of tx %s to %s failed, kept in the cache: %v",
				c.Balance, c.TxID, who, err)
			kept = append(kept, c)
			continue
		}
		b.log.Infof("pending deposit %d of tx %s credited to %s", c.Balance, c.TxID, who)
		b.sink.Publish(DepositPendingEvent{
			Who:   who,
			Token: b.params.Token,
			Value: c.Balance,
			Addr:  addr,
			TxID:  c.TxID,
		})
	}
	if len(kept) > 0 {
		return b.store.SetPendingDeposits(addr, kept)
	}
	return b.store.DeletePendingDeposits(addr)
}
