package assets

import (
	"fmt"

	"btc-bridge/database"
	"btc-bridge/pkg/primitives"
)

// RegisterAsset adds a token to the registry of its chain. An asset
// registered offline is revoked right away.
func (l *Ledger) RegisterAsset(asset Asset, online bool) error {
	if err := asset.Validate(); err != nil {
		return err
	}

	_, err := l.store.AssetInfo(asset.Token)
	switch {
	case err == nil:
		return newErrf(ErrAssetExists, "already has token %s", asset.Token)
	case err != database.ErrNotFound:
		return err
	}

	height, err := l.store.BlockNumber()
	if err != nil {
		return err
	}
	if err := l.store.PutAssetInfo(asset.record(true, height)); err != nil {
		return err
	}
	list, err := l.store.AssetList(asset.Chain)
	if err != nil {
		return err
	}
	if err := l.store.SetAssetList(asset.Chain, append(list, asset.Token)); err != nil {
		return err
	}

	l.cfg.Log.Infof("registered asset %s on %s, precision %d", asset.Token, asset.Chain, asset.Precision)
	if err := l.emit(RegisterEvent{Token: asset.Token, Online: online}); err != nil {
		return err
	}

	if !online {
		return l.RevokeAsset(asset.Token)
	}
	return nil
}

// RevokeAsset marks a token invalid. Balances stay queryable.
func (l *Ledger) RevokeAsset(token primitives.Token) error {
	if err := ValidateToken(token); err != nil {
		return err
	}
	if l.isNative(token) {
		return newErrf(ErrNativeToken, "cannot revoke native token %s", token)
	}

	info, err := l.store.AssetInfo(token)
	if err == database.ErrNotFound {
		return newErrf(ErrInvalidAsset, "token %s is not registered", token)
	}
	if err != nil {
		return err
	}
	if !info.Valid {
		return newErrf(ErrInvalidAsset, "token %s already revoked", token)
	}

	info.Valid = false
	if err := l.store.PutAssetInfo(info); err != nil {
		return err
	}

	l.cfg.Log.Infof("revoked asset %s", token)
	return l.emit(RevokeEvent{Token: token})
}

// IsValidAsset returns nil only for registered, unrevoked tokens.
func (l *Ledger) IsValidAsset(token primitives.Token) error {
	if err := ValidateToken(token); err != nil {
		return err
	}
	info, err := l.store.AssetInfo(token)
	if err == database.ErrNotFound {
		return newErrf(ErrInvalidAsset, "not a registered token: %s", token)
	}
	if err != nil {
		return err
	}
	if !info.Valid {
		return newErrf(ErrInvalidAsset, "not a valid token: %s", token)
	}
	return nil
}

// GetAsset returns the registry entry of a valid token.
func (l *Ledger) GetAsset(token primitives.Token) (*database.AssetRecord, error) {
	info, err := l.store.AssetInfo(token)
	if err == database.ErrNotFound {
		return nil, newErrf(ErrInvalidAsset, "asset %s does not exist", token)
	}
	if err != nil {
		return nil, err
	}
	if !info.Valid {
		return nil, newErrf(ErrInvalidAsset, "asset %s is invalid, maybe revoked", token)
	}
	return info, nil
}

// Assets lists every registered token, chain by chain.
func (l *Ledger) Assets() ([]primitives.Token, error) {
	var out []primitives.Token
	for _, chain := range primitives.Chains() {
		list, err := l.store.AssetList(chain)
		if err != nil {
			return nil, err
		}
		out = append(out, list...)
	}
	return out, nil
}

// AllAssets returns the registry entries, revoked ones included.
func (l *Ledger) AllAssets() ([]database.AssetRecord, error) {
	tokens, err := l.Assets()
	if err != nil {
		return nil, err
	}
	out := make([]database.AssetRecord, 0, len(tokens))
	for _, token := range tokens {
		info, err := l.store.AssetInfo(token)
		if err != nil {
			return nil, fmt.Errorf("asset list names %s: %w", token, err)
		}
		out = append(out, *info)
	}
	return out, nil
}

func (l *Ledger) ValidAssets() ([]primitives.Token, error) {
	all, err := l.AllAssets()
	if err != nil {
		return nil, err
	}
	var out []primitives.Token
	for _, a := range all {
		if a.Valid {
			out = append(out, a.Token)
		}
	}
	return out, nil
}

// ValidAssetsOf returns the balances of who for every valid token it holds.
func (l *Ledger) ValidAssetsOf(who primitives.AccountID) ([]TokenBalances, error) {
	tokens, err := l.ValidAssets()
	if err != nil {
		return nil, err
	}

	var out []TokenBalances
	for _, token := range tokens {
		var has bool
		if l.isNative(token) {
			has, err = l.cfg.Native.HasAccount(who)
		} else {
			has, err = l.store.HasAssetBalance(who, token)
		}
		if err != nil {
			return nil, err
		}
		if !has {
			continue
		}
		m, err := l.BalanceOf(who, token)
		if err != nil {
			return nil, err
		}
		out = append(out, TokenBalances{Token: token, Balances: m})
	}
	return out, nil
}
