// Package primitives holds the small value types shared by the ledger, the
// bridge and the storage layer.
package primitives

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AccountID is a 32-byte on-chain account public key.
type AccountID [32]byte

func (a AccountID) String() string {
	return hex.EncodeToString(a[:])
}

func (a AccountID) IsZero() bool {
	return a == AccountID{}
}

func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AccountID) UnmarshalText(text []byte) error {
	id, err := ParseAccountID(string(text))
	if err != nil {
		return err
	}
	*a = id
	return nil
}

func ParseAccountID(s string) (AccountID, error) {
	var id AccountID
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("account id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Token is the symbol of an asset, e.g. "PCX" or "X-BTC".
type Token string

// Chain is the origin chain of an asset.
type Chain uint8

const (
	ChainNative Chain = iota
	ChainBitcoin
	ChainEthereum
)

var chainNames = [...]string{"ChainX", "Bitcoin", "Ethereum"}

func (c Chain) String() string {
	if int(c) < len(chainNames) {
		return chainNames[c]
	}
	return fmt.Sprintf("Chain(%d)", uint8(c))
}

func Chains() []Chain {
	return []Chain{ChainNative, ChainBitcoin, ChainEthereum}
}

// AssetType partitions an account balance by purpose.
type AssetType uint8

const (
	Free AssetType = iota
	ReservedStaking
	ReservedStakingRevocation
	ReservedWithdrawal
	ReservedDexSpot
	ReservedDexFuture
)

var assetTypeNames = [...]string{
	"Free",
	"ReservedStaking",
	"ReservedStakingRevocation",
	"ReservedWithdrawal",
	"ReservedDexSpot",
	"ReservedDexFuture",
}

// AssetTypes lists every asset type in declaration order.
func AssetTypes() []AssetType {
	return []AssetType{
		Free, ReservedStaking, ReservedStakingRevocation,
		ReservedWithdrawal, ReservedDexSpot, ReservedDexFuture,
	}
}

func (t AssetType) String() string {
	if int(t) < len(assetTypeNames) {
		return assetTypeNames[t]
	}
	return fmt.Sprintf("AssetType(%d)", uint8(t))
}

func (t AssetType) MarshalText() ([]byte, error) {
	if int(t) >= len(assetTypeNames) {
		return nil, fmt.Errorf("unknown asset type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *AssetType) UnmarshalText(text []byte) error {
	for i, name := range assetTypeNames {
		if name == string(text) {
			*t = AssetType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown asset type %q", text)
}
