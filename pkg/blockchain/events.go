package blockchain

import "btc-bridge/database"

type NewBestEvent struct {
	Hash   string
	Height uint32
}

func (NewBestEvent) Name() string { return "blockchain.NewBest" }

type ConfirmedEvent struct {
	Hash   string
	Height uint32
}

func (ConfirmedEvent) Name() string { return "blockchain.Confirmed" }

type ReorgEvent struct {
	Ancestor    uint32
	Decanonized []string
	Canonized   []string
}

func (ReorgEvent) Name() string { return "blockchain.Reorg" }

// ChainFaultEvent is fatal: a reorganisation past the confirmation depth was
// refused and needs an operator.
type ChainFaultEvent struct {
	Fault database.ChainFault
}

func (ChainFaultEvent) Name() string { return "blockchain.ChainFault" }
