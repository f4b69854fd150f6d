// Package records keeps withdrawal applications and credits deposits. It sits
// between the bridges and the asset ledger.
package records

import (
	"btc-bridge/database"
	"btc-bridge/pkg/assets"
	"btc-bridge/pkg/event"
	"btc-bridge/pkg/logger"
	"btc-bridge/pkg/primitives"
)

// AddressValidator checks a destination address of one chain.
type AddressValidator interface {
	ValidateAddress(addr string) error
}

// Locker reports whether an application is held by an outgoing
// transaction and may not be revoked.
type Locker interface {
	Locked(id uint32) (bool, error)
}

type Config struct {
	Validators map[primitives.Chain]AddressValidator
	Locker     Locker
	Sink       event.Sink
	Log        *logger.CustomLogger
}

type Keeper struct {
	store  database.Store
	ledger *assets.Ledger
	cfg    Config
}

func NewKeeper(store database.Store, ledger *assets.Ledger, cfg Config) *Keeper {
	if cfg.Sink == nil {
		cfg.Sink = event.Discard
	}
	if cfg.Log == nil {
		cfg.Log = logger.NewNopLogger()
	}
	return &Keeper{store: store, ledger: ledger, cfg: cfg}
}

type DepositEvent struct {
	Who   primitives.AccountID
	Token primitives.Token
	Value uint64
}

func (DepositEvent) Name() string { return "records.Deposit" }

type ApplyEvent struct {
	Application database.Application
}

func (ApplyEvent) Name() string { return "records.ApplyWithdrawal" }

type RevokeEvent struct {
	ID uint32
}

func (RevokeEvent) Name() string { return "records.RevokeWithdrawal" }

type FinishEvent struct {
	ID      uint32
	Success bool
}

func (FinishEvent) Name() string { return "records.WithdrawalFinish" }

// Deposit credits value to the free balance of who.
func (k *Keeper) Deposit(who primitives.AccountID, token primitives.Token, value uint64) error {
	if err := k.ledger.Issue(token, who, value); err != nil {
		return err
	}
	k.cfg.Log.Infof("deposit %d %s to %s", value, token, who)
	k.cfg.Sink.Publish(DepositEvent{Who: who, Token: token, Value: value})
	return nil
}

// ApplyWithdrawal reserves value of token for a withdrawal to addr and
// records the application.
func (k *Keeper) ApplyWithdrawal(who primitives.AccountID, token primitives.Token, value uint64,
	addr, ext string) (uint32, error) {

	disabled, err := k.store.WithdrawalDisabled()
	if err != nil {
		return 0, err
	}
	if disabled {
		return 0, newErr(ErrWithdrawalDisabled, "withdrawals are disabled until root enables them")
	}
	if value == 0 {
		return 0, newErr(ErrZeroValue, "withdrawal value is zero")
	}
	if token == k.ledger.NativeToken() {
		return 0, newErrf(ErrUnsupportedChain, "native token %s cannot be withdrawn", token)
	}

	asset, err := k.ledger.GetAsset(token)
	if err != nil {
		return 0, err
	}
	validator, ok := k.cfg.Validators[asset.Chain]
	if !ok {
		return 0, newErrf(ErrUnsupportedChain, "no withdrawal support for %s", asset.Chain)
	}
	if err := validator.ValidateAddress(addr); err != nil {
		return 0, newErrf(ErrInvalidAddress, "invalid %s address %q: %v", asset.Chain, addr, err)
	}

	if err := k.ledger.MoveBalance(token, who, primitives.Free, who, primitives.ReservedWithdrawal, value); err != nil {
		return 0, err
	}

	id, err := k.store.NextApplicationID()
	if err != nil {
		return 0, err
	}
	height, err := k.store.BlockNumber()
	if err != nil {
		return 0, err
	}
	appl := database.Application{
		ID:        id,
		Applicant: who,
		Token:     token,
		Balance:   value,
		Addr:      addr,
		Ext:       ext,
		Height:    height,
	}
	if err := k.store.PutApplication(&appl); err != nil {
		return 0, err
	}

	k.cfg.Log.Infof("withdrawal application %d: %d %s from %s to %s", id, value, token, who, addr)
	k.cfg.Sink.Publish(ApplyEvent{Application: appl})
	return id, nil
}

// RevokeWithdrawal returns the reserve of an application to its applicant.
func (k *Keeper) RevokeWithdrawal(who primitives.AccountID, id uint32) error {
	appl, err := k.Application(id)
	if err != nil {
		return err
	}
	if appl.Applicant != who {
		return newErrf(ErrNotApplicant, "application %d belongs to %s", id, appl.Applicant)
	}
	if k.cfg.Locker != nil {
		locked, err := k.cfg.Locker.Locked(id)
		if err != nil {
			return err
		}
		if locked {
			return newErrf(ErrLocked, "application %d is part of the current withdrawal", id)
		}
	}

	if err := k.ledger.MoveBalance(appl.Token, who, primitives.ReservedWithdrawal, who, primitives.Free, appl.Balance); err != nil {
		return err
	}
	if err := k.store.DeleteApplication(id); err != nil {
		return err
	}

	k.cfg.Log.Infof("withdrawal application %d revoked", id)
	k.cfg.Sink.Publish(RevokeEvent{ID: id})
	return nil
}

// WithdrawalFinish closes an application. On success the reserve is burnt,
// otherwise it goes back to the free balance.
func (k *Keeper) WithdrawalFinish(id uint32, success bool) error {
	appl, err := k.Application(id)
	if err != nil {
		return err
	}

	if success {
		err = k.ledger.Destroy(appl.Token, appl.Applicant, appl.Balance)
	} else {
		err = k.ledger.MoveBalance(appl.Token, appl.Applicant, primitives.ReservedWithdrawal,
			appl.Applicant, primitives.Free, appl.Balance)
	}
	if err != nil {
		return err
	}
	if err := k.store.DeleteApplication(id); err != nil {
		return err
	}

	k.cfg.Log.Infof("withdrawal application %d finished, success %v", id, success)
	k.cfg.Sink.Publish(FinishEvent{ID: id, Success: success})
	return nil
}

func (k *Keeper) Application(id uint32) (*database.Application, error) {
	appl, err := k.store.Application(id)
	if err == database.ErrNotFound {
		return nil, newErrf(ErrNoApplication, "no withdrawal application %d", id)
	}
	return appl, err
}

// Applications lists the open applications whose token lives on chain, in
// id order.
func (k *Keeper) Applications(chain primitives.Chain) ([]database.Application, error) {
	all, err := k.store.Applications()
	if err != nil {
		return nil, err
	}

	chains := make(map[primitives.Token]primitives.Chain)
	var out []database.Application
	for _, appl := range all {
		c, ok := chains[appl.Token]
		if !ok {
			info, err := k.store.AssetInfo(appl.Token)
			if err != nil {
				return nil, err
			}
			c = info.Chain
			chains[appl.Token] = c
		}
		if c == chain {
			out = append(out, appl)
		}
	}
	return out, nil
}

func (k *Keeper) WithdrawalDisabled() (bool, error) {
	return k.store.WithdrawalDisabled()
}

// DisableWithdrawal latches the withdrawal fault.
func (k *Keeper) DisableWithdrawal() error {
	k.cfg.Log.Warn("withdrawals disabled")
	return k.store.SetWithdrawalDisabled(true)
}

// EnableWithdrawal clears the withdrawal fault.
func (k *Keeper) EnableWithdrawal() error {
	k.cfg.Log.Info("withdrawals enabled")
	return k.store.SetWithdrawalDisabled(false)
}
