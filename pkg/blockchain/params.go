package blockchain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

const (
	DefaultConfirmations  = 6
	DefaultMaxForkRoute   = 1000
	DefaultReservedBlocks = 2100
)

type Params struct {
	Net *chaincfg.Params

	// Confirmations is the depth behind the best tip at which a block is
	// confirmed and its transactions take effect.
	Confirmations uint32

	// MaxForkRoute bounds the walk from a side chain header back to the
	// main chain.
	MaxForkRoute uint32

	// ReservedBlocks is the number of heights kept below the best tip.
	ReservedBlocks uint32
}

func DefaultParams(net *chaincfg.Params) Params {
	return Params{
		Net:            net,
		Confirmations:  DefaultConfirmations,
		MaxForkRoute:   DefaultMaxForkRoute,
		ReservedBlocks: DefaultReservedBlocks,
	}
}

func (p Params) Validate() error {
	if p.Net == nil {
		return fmt.Errorf("network params are required")
	}
	if p.Confirmations == 0 {
		return fmt.Errorf("confirmations must be positive")
	}
	if p.MaxForkRoute == 0 {
		return fmt.Errorf("max fork route must be positive")
	}
	if uint64(p.ReservedBlocks) <= uint64(p.Confirmations)+uint64(p.MaxForkRoute) {
		return fmt.Errorf("reserved blocks %d must exceed confirmations %d + max fork route %d",
			p.ReservedBlocks, p.Confirmations, p.MaxForkRoute)
	}
	return nil
}

// NetParams maps the configured network name to btcd parameters.
func NetParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "btc", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "btct", "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "btcrt", "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "btcs", "simnet":
		return &chaincfg.SimNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	}
	return nil, fmt.Errorf("unknown network %q", name)
}
