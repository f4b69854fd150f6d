package bridge

import (
	"bytes"
	"fmt"

	"btc-bridge/pkg/primitives"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// DefaultToken is the bridged bitcoin asset.
const DefaultToken primitives.Token = "X-BTC"

// Trustee is the m-of-n multisig that holds the bridged coins, paid through
// a P2SH address.
type Trustee struct {
	RedeemScript []byte
	Address      btcutil.Address
	PkScript     []byte
	PubKeys      []*btcec.PublicKey
	Required     int
}

// NewTrustee parses a standard multisig redeem script.
func NewTrustee(redeemScript []byte, net *chaincfg.Params) (*Trustee, error) {
	class, addrs, required, err := txscript.ExtractPkScriptAddrs(redeemScript, net)
	if err != nil {
		return nil, fmt.Errorf("parse trustee redeem script: %w", err)
	}
	if class != txscript.MultiSigTy {
		return nil, fmt.Errorf("trustee redeem script is %v, want %v", class, txscript.MultiSigTy)
	}

	pubKeys := make([]*btcec.PublicKey, 0, len(addrs))
	for _, a := range addrs {
		pk, ok := a.(*btcutil.AddressPubKey)
		if !ok {
			return nil, fmt.Errorf("trustee key %s is not a public key", a)
		}
		pubKeys = append(pubKeys, pk.PubKey())
	}

	addr, err := btcutil.NewAddressScriptHash(redeemScript, net)
	if err != nil {
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	return &Trustee{
		RedeemScript: redeemScript,
		Address:      addr,
		PkScript:     pkScript,
		PubKeys:      pubKeys,
		Required:     required,
	}, nil
}

// Pays reports whether pkScript pays the trustee address.
func (t *Trustee) Pays(pkScript []byte) bool {
	return bytes.Equal(pkScript, t.PkScript)
}

type Params struct {
	Net     *chaincfg.Params
	Trustee *Trustee

	// Trustees are the accounts allowed to sign withdrawal proposals,
	// Trustees[i] signing with the i-th key of the redeem script. A proposal
	// is cancelled once more than len(Trustees) - Required of them veto it.
	Trustees []primitives.AccountID

	Token primitives.Token

	// Confirmations is the depth at which relayed transactions take
	// effect. Record lists use it to report progress.
	Confirmations uint32
}

func (p Params) Validate() error {
	if p.Net == nil {
		return fmt.Errorf("network params are required")
	}
	if p.Trustee == nil {
		return fmt.Errorf("trustee is required")
	}
	if len(p.Trustees) < p.Trustee.Required {
		return fmt.Errorf("%d trustee accounts cannot reach %d signatures",
			len(p.Trustees), p.Trustee.Required)
	}
	if len(p.Trustees) != len(p.Trustee.PubKeys) {
		return fmt.Errorf("%d trustee accounts for %d trustee keys", len(p.Trustees), len(p.Trustee.PubKeys))
	}
	seen := make(map[primitives.AccountID]bool, len(p.Trustees))
	for _, t := range p.Trustees {
		if seen[t] {
			return fmt.Errorf("trustee account %s listed twice", t)
		}
		seen[t] = true
	}
	if p.Token == "" {
		return fmt.Errorf("bridge token is required")
	}
	if p.Confirmations == 0 {
		return fmt.Errorf("confirmations must be positive")
	}
	return nil
}

// trusteeKey returns the redeem script key index of who.
func (p Params) trusteeKey(who primitives.AccountID) (int, bool) {
	for i, t := range p.Trustees {
		if t == who {
			return i, true
		}
	}
	return 0, false
}

// AddressValidator accepts P2PKH and P2SH addresses of one network.
type AddressValidator struct {
	Net *chaincfg.Params
}

func (v AddressValidator) ValidateAddress(addr string) error {
	_, err := decodeAddress(addr, v.Net)
	return err
}

func decodeAddress(addr string, net *chaincfg.Params) (btcutil.Address, error) {
	a, err := btcutil.DecodeAddress(addr, net)
	if err != nil {
		return nil, err
	}
	if !a.IsForNet(net) {
		return nil, fmt.Errorf("address %s is not for %s", addr, net.Name)
	}
	switch a.(type) {
	case *btcutil.AddressPubKeyHash, *btcutil.AddressScriptHash:
		return a, nil
	}
	return nil, fmt.Errorf("address %s is neither P2PKH nor P2SH", addr)
}
