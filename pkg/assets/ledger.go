// Package assets keeps per account, per token balances split by asset type
// together with the per token totals. Every mutation checks all arithmetic
// before the first write.
package assets

import (
	"fmt"

	"btc-bridge/database"
	"btc-bridge/pkg/event"
	"btc-bridge/pkg/logger"
	"btc-bridge/pkg/primitives"
)

const DefaultNativeToken primitives.Token = "PCX"

// ChangeHook observes every successful mutation before its event is
// published. A non nil error fails the operation.
type ChangeHook func(e event.Event) error

type Config struct {
	// NativeToken is the token whose free balance lives in Native.
	NativeToken primitives.Token

	// MemoLen bounds transfer memos. Zero disables the check.
	MemoLen int

	// Native defaults to the system balances of the store.
	Native NativeBalances

	Sink event.Sink
	Hook ChangeHook
	Log  *logger.CustomLogger
}

type Ledger struct {
	store database.Store
	cfg   Config
}

// TokenBalances is one entry of ValidAssetsOf.
type TokenBalances struct {
	Token    primitives.Token    `json:"token"`
	Balances database.BalanceMap `json:"balances"`
}

func NewLedger(store database.Store, cfg Config) *Ledger {
	if cfg.NativeToken == "" {
		cfg.NativeToken = DefaultNativeToken
	}
	if cfg.Native == nil {
		cfg.Native = NewSystemBalances(store)
	}
	if cfg.Sink == nil {
		cfg.Sink = event.Discard
	}
	if cfg.Log == nil {
		cfg.Log = logger.NewNopLogger()
	}
	return &Ledger{store: store, cfg: cfg}
}

func (l *Ledger) NativeToken() primitives.Token {
	return l.cfg.NativeToken
}

func (l *Ledger) isNative(token primitives.Token) bool {
	return token == l.cfg.NativeToken
}

func (l *Ledger) emit(e event.Event) error {
	if l.cfg.Hook != nil {
		if err := l.cfg.Hook(e); err != nil {
			return err
		}
	}
	l.cfg.Sink.Publish(e)
	return nil
}

// AssetBalance returns a single typed balance of who.
func (l *Ledger) AssetBalance(who primitives.AccountID, token primitives.Token, typ primitives.AssetType) (uint64, error) {
	if l.isNative(token) && typ == primitives.Free {
		return l.cfg.Native.FreeBalance(who)
	}
	m, err := l.store.AssetBalance(who, token)
	if err != nil {
		return 0, err
	}
	return m[typ], nil
}

func (l *Ledger) FreeBalance(who primitives.AccountID, token primitives.Token) (uint64, error) {
	return l.AssetBalance(who, token, primitives.Free)
}

func (l *Ledger) setAssetBalance(who primitives.AccountID, token primitives.Token, typ primitives.AssetType, value uint64) error {
	if l.isNative(token) && typ == primitives.Free {
		return l.cfg.Native.SetFreeBalance(who, value)
	}
	m, err := l.store.AssetBalance(who, token)
	if err != nil {
		return err
	}
	m[typ] = value
	return l.store.PutAssetBalance(who, token, m)
}

// setFreeBalanceCreating also creates the native account of who so that
// every holder is visible to ValidAssetsOf.
func (l *Ledger) setFreeBalanceCreating(who primitives.AccountID, token primitives.Token, value uint64) error {
	if !l.isNative(token) {
		exists, err := l.cfg.Native.HasAccount(who)
		if err != nil {
			return err
		}
		if !exists {
			if err := l.cfg.Native.SetFreeBalance(who, 0); err != nil {
				return err
			}
		}
	}
	return l.setAssetBalance(who, token, primitives.Free, value)
}

// TotalAssetBalance returns the total of one asset type of token. The native
// free total is derived from the total issuance.
func (l *Ledger) TotalAssetBalance(token primitives.Token, typ primitives.AssetType) (uint64, error) {
	totals, err := l.store.TotalAssetBalance(token)
	if err != nil {
		return 0, err
	}
	if !(l.isNative(token) && typ == primitives.Free) {
		return totals[typ], nil
	}

	issuance, err := l.cfg.Native.TotalIssuance()
	if err != nil {
		return 0, err
	}
	var reserved uint64
	for t, v := range totals {
		if t == primitives.Free {
			continue
		}
		var ok bool
		if reserved, ok = primitives.CheckedAdd(reserved, v); !ok {
			return 0, fmt.Errorf("reserved total of %s overflows", token)
		}
	}
	free, ok := primitives.CheckedSub(issuance, reserved)
	if !ok {
		return 0, fmt.Errorf("total issuance %d below reserved total %d of %s", issuance, reserved, token)
	}
	return free, nil
}

func (l *Ledger) setTotalAssetBalance(token primitives.Token, typ primitives.AssetType, value uint64) error {
	if l.isNative(token) && typ == primitives.Free {
		return nil
	}
	totals, err := l.store.TotalAssetBalance(token)
	if err != nil {
		return err
	}
	totals[typ] = value
	return l.store.PutTotalAssetBalance(token, totals)
}

// MoveBalance moves value of token from (from, fromType) to (to, toType).
func (l *Ledger) MoveBalance(token primitives.Token, from primitives.AccountID, fromType primitives.AssetType,
	to primitives.AccountID, toType primitives.AssetType, value uint64) error {

	if from == to && fromType == toType {
		return nil
	}
	if value == 0 {
		return nil
	}

	if err := l.IsValidAsset(token); err != nil {
		if IsError(err, ErrInvalidAsset) {
			return newErrf(ErrInvalidToken, "not a valid token for this account: %v", err)
		}
		return err
	}

	fromBalance, err := l.AssetBalance(from, token, fromType)
	if err != nil {
		return err
	}
	toBalance, err := l.AssetBalance(to, token, toType)
	if err != nil {
		return err
	}

	newFrom, ok := primitives.CheckedSub(fromBalance, value)
	if !ok {
		return newErrf(ErrNotEnough, "balance too low for this account: %s %s has %d, need %d",
			token, fromType, fromBalance, value)
	}
	newTo, ok := primitives.CheckedAdd(toBalance, value)
	if !ok {
		return newErrf(ErrOverflow, "balance too high for this account: %s %s", token, toType)
	}

	// totals only change when the type changes
	var newTotalFrom, newTotalTo uint64
	if fromType != toType {
		totalFrom, err := l.TotalAssetBalance(token, fromType)
		if err != nil {
			return err
		}
		totalTo, err := l.TotalAssetBalance(token, toType)
		if err != nil {
			return err
		}
		if newTotalFrom, ok = primitives.CheckedSub(totalFrom, value); !ok {
			return newErrf(ErrTotalAssetNotEnough, "total %s %s too low", token, fromType)
		}
		if newTotalTo, ok = primitives.CheckedAdd(totalTo, value); !ok {
			return newErrf(ErrTotalAssetOverflow, "total %s %s too high", token, toType)
		}
	}

	if fromType != toType {
		if err := l.setTotalAssetBalance(token, fromType, newTotalFrom); err != nil {
			return err
		}
		if err := l.setTotalAssetBalance(token, toType, newTotalTo); err != nil {
			return err
		}
	}
	if err := l.setAssetBalance(from, token, fromType, newFrom); err != nil {
		return err
	}
	if toType == primitives.Free {
		err = l.setFreeBalanceCreating(to, token, newTo)
	} else {
		err = l.setAssetBalance(to, token, toType, newTo)
	}
	if err != nil {
		return err
	}

	return l.emit(MoveEvent{
		Token:    token,
		From:     from,
		FromType: fromType,
		To:       to,
		ToType:   toType,
		Value:    value,
	})
}

func (l *Ledger) MoveFreeBalance(token primitives.Token, from, to primitives.AccountID, value uint64) error {
	return l.MoveBalance(token, from, primitives.Free, to, primitives.Free, value)
}

// Transfer is the signed free balance transfer between accounts.
func (l *Ledger) Transfer(from, to primitives.AccountID, token primitives.Token, value uint64, memo string) error {
	if l.cfg.MemoLen > 0 && len(memo) > l.cfg.MemoLen {
		return newErrf(ErrMemoTooLong, "memo of %d bytes exceeds %d", len(memo), l.cfg.MemoLen)
	}
	if from == to {
		return nil
	}
	return l.MoveFreeBalance(token, from, to, value)
}

// Issue mints value into the free balance of who.
func (l *Ledger) Issue(token primitives.Token, who primitives.AccountID, value uint64) error {
	if l.isNative(token) {
		free, err := l.cfg.Native.FreeBalance(who)
		if err != nil {
			return err
		}
		issuance, err := l.cfg.Native.TotalIssuance()
		if err != nil {
			return err
		}
		newFree, ok := primitives.CheckedAdd(free, value)
		if !ok {
			return newErr(ErrOverflow, "free balance too high to issue")
		}
		newIssuance, ok := primitives.CheckedAdd(issuance, value)
		if !ok {
			return newErr(ErrTotalAssetOverflow, "total issuance too high to issue")
		}
		if err := l.cfg.Native.SetFreeBalance(who, newFree); err != nil {
			return err
		}
		if err := l.cfg.Native.SetTotalIssuance(newIssuance); err != nil {
			return err
		}
		return l.emit(IssueEvent{Token: token, Who: who, Value: value})
	}

	if err := l.IsValidAsset(token); err != nil {
		return err
	}

	totalFree, err := l.TotalAssetBalance(token, primitives.Free)
	if err != nil {
		return err
	}
	free, err := l.FreeBalance(who, token)
	if err != nil {
		return err
	}
	newFree, ok := primitives.CheckedAdd(free, value)
	if !ok {
		return newErr(ErrOverflow, "free balance too high to issue")
	}
	newTotalFree, ok := primitives.CheckedAdd(totalFree, value)
	if !ok {
		return newErr(ErrTotalAssetOverflow, "total free balance too high to issue")
	}

	if err := l.setTotalAssetBalance(token, primitives.Free, newTotalFree); err != nil {
		return err
	}
	if err := l.setFreeBalanceCreating(who, token, newFree); err != nil {
		return err
	}
	return l.emit(IssueEvent{Token: token, Who: who, Value: value})
}

// Destroy burns value from the withdrawal reserve of who.
func (l *Ledger) Destroy(token primitives.Token, who primitives.AccountID, value uint64) error {
	if l.isNative(token) {
		return newErrf(ErrNativeToken, "cannot destroy native token %s", token)
	}
	if err := l.IsValidAsset(token); err != nil {
		return err
	}

	typ := primitives.ReservedWithdrawal
	totalReserved, err := l.TotalAssetBalance(token, typ)
	if err != nil {
		return err
	}
	reserved, err := l.AssetBalance(who, token, typ)
	if err != nil {
		return err
	}
	newReserved, ok := primitives.CheckedSub(reserved, value)
	if !ok {
		return newErrf(ErrNotEnough, "reserved balance too low to destroy: have %d, need %d", reserved, value)
	}
	newTotalReserved, ok := primitives.CheckedSub(totalReserved, value)
	if !ok {
		return newErr(ErrTotalAssetNotEnough, "total reserved balance too low to destroy")
	}

	if err := l.setTotalAssetBalance(token, typ, newTotalReserved); err != nil {
		return err
	}
	if err := l.setAssetBalance(who, token, typ, newReserved); err != nil {
		return err
	}
	return l.emit(DestroyEvent{Token: token, Who: who, Value: value})
}

type balanceChange struct {
	typ      primitives.AssetType
	value    uint64
	newTotal uint64
}

// SetBalance overwrites the listed typed balances of who and moves the totals
// by the difference. Native balances also adjust the total issuance.
func (l *Ledger) SetBalance(who primitives.AccountID, token primitives.Token, balances database.BalanceMap) error {
	if err := l.IsValidAsset(token); err != nil {
		return err
	}

	issuance, err := l.cfg.Native.TotalIssuance()
	if err != nil {
		return err
	}
	newIssuance := issuance

	var changes []balanceChange
	for _, typ := range primitives.AssetTypes() {
		val, ok := balances[typ]
		if !ok {
			continue
		}
		old, err := l.AssetBalance(who, token, typ)
		if err != nil {
			return err
		}
		if old == val {
			continue
		}
		oldTotal, err := l.TotalAssetBalance(token, typ)
		if err != nil {
			return err
		}

		var newTotal uint64
		if val > old {
			diff := val - old
			if newTotal, ok = primitives.CheckedAdd(oldTotal, diff); !ok {
				return newErrf(ErrTotalAssetOverflow, "total %s %s too high to add %d", token, typ, diff)
			}
			if l.isNative(token) {
				if newIssuance, ok = primitives.CheckedAdd(newIssuance, diff); !ok {
					return newErr(ErrTotalAssetOverflow, "total issuance too high")
				}
			}
		} else {
			diff := old - val
			if newTotal, ok = primitives.CheckedSub(oldTotal, diff); !ok {
				return newErrf(ErrTotalAssetNotEnough, "total %s %s too low to sub %d", token, typ, diff)
			}
			if l.isNative(token) {
				if newIssuance, ok = primitives.CheckedSub(newIssuance, diff); !ok {
					return newErr(ErrTotalAssetNotEnough, "total issuance too low")
				}
			}
		}
		changes = append(changes, balanceChange{typ: typ, value: val, newTotal: newTotal})
	}
	if len(changes) == 0 {
		return nil
	}

	if newIssuance != issuance {
		if err := l.cfg.Native.SetTotalIssuance(newIssuance); err != nil {
			return err
		}
	}
	for _, c := range changes {
		if err := l.setTotalAssetBalance(token, c.typ, c.newTotal); err != nil {
			return err
		}
		if c.typ == primitives.Free {
			err = l.setFreeBalanceCreating(who, token, c.value)
		} else {
			err = l.setAssetBalance(who, token, c.typ, c.value)
		}
		if err != nil {
			return err
		}
		if err := l.emit(SetEvent{Token: token, Who: who, Type: c.typ, Value: c.value}); err != nil {
			return err
		}
	}
	return nil
}

// BalanceOf returns every asset type of who for token, zero filled.
func (l *Ledger) BalanceOf(who primitives.AccountID, token primitives.Token) (database.BalanceMap, error) {
	stored, err := l.store.AssetBalance(who, token)
	if err != nil {
		return nil, err
	}
	out := make(database.BalanceMap, len(primitives.AssetTypes()))
	for _, typ := range primitives.AssetTypes() {
		out[typ] = stored[typ]
	}
	if l.isNative(token) {
		free, err := l.cfg.Native.FreeBalance(who)
		if err != nil {
			return nil, err
		}
		out[primitives.Free] = free
	}
	return out, nil
}

func (l *Ledger) AllTypeBalanceOf(who primitives.AccountID, token primitives.Token) (uint64, error) {
	m, err := l.BalanceOf(who, token)
	if err != nil {
		return 0, err
	}
	return sumBalances(token, m)
}

// TotalBalanceOf returns every asset type total of token.
func (l *Ledger) TotalBalanceOf(token primitives.Token) (database.BalanceMap, error) {
	out := make(database.BalanceMap, len(primitives.AssetTypes()))
	for _, typ := range primitives.AssetTypes() {
		v, err := l.TotalAssetBalance(token, typ)
		if err != nil {
			return nil, err
		}
		out[typ] = v
	}
	return out, nil
}

func (l *Ledger) AllTypeTotal(token primitives.Token) (uint64, error) {
	if l.isNative(token) {
		return l.cfg.Native.TotalIssuance()
	}
	m, err := l.store.TotalAssetBalance(token)
	if err != nil {
		return 0, err
	}
	return sumBalances(token, m)
}

func sumBalances(token primitives.Token, m database.BalanceMap) (uint64, error) {
	var total uint64
	for _, v := range m {
		var ok bool
		if total, ok = primitives.CheckedAdd(total, v); !ok {
			return 0, newErrf(ErrOverflow, "sum of %s balances overflows", token)
		}
	}
	return total, nil
}
