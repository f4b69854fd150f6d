package assets

import (
	"btc-bridge/database"
	"btc-bridge/pkg/primitives"
)

// NativeBalances is the system account balance primitive that holds the free
// balance of the native token.
type NativeBalances interface {
	FreeBalance(who primitives.AccountID) (uint64, error)
	// HasAccount reports whether who was ever created by a balance write.
	HasAccount(who primitives.AccountID) (bool, error)
	SetFreeBalance(who primitives.AccountID, value uint64) error
	TotalIssuance() (uint64, error)
	SetTotalIssuance(value uint64) error
}

type systemBalances struct {
	store database.Store
}

// NewSystemBalances keeps native free balances under the system keys of the
// store.
func NewSystemBalances(store database.Store) NativeBalances {
	return &systemBalances{store: store}
}

func (s *systemBalances) FreeBalance(who primitives.AccountID) (uint64, error) {
	v, _, err := s.store.SystemFreeBalance(who)
	return v, err
}

func (s *systemBalances) HasAccount(who primitives.AccountID) (bool, error) {
	_, ok, err := s.store.SystemFreeBalance(who)
	return ok, err
}

func (s *systemBalances) SetFreeBalance(who primitives.AccountID, value uint64) error {
	return s.store.SetSystemFreeBalance(who, value)
}

func (s *systemBalances) TotalIssuance() (uint64, error) {
	return s.store.TotalIssuance()
}

func (s *systemBalances) SetTotalIssuance(value uint64) error {
	return s.store.SetTotalIssuance(value)
}
