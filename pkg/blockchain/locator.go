package blockchain

import (
	"btc-bridge/database"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

type BlockLocator []*chainhash.Hash

// BlockLocator describes the main chain from the best tip back to the oldest
// retained height: the newest ten heights one by one, then doubling steps.
// Relays use it to find the fork point of their own view.
func (c *chain) BlockLocator() (BlockLocator, error) {
	best, err := c.best()
	if err != nil {
		return nil, err
	}
	genesis, err := c.store.Genesis()
	if err != nil {
		return nil, err
	}
	return c.getBlockLocator(int32(best.info.Height), int32(genesis.Height))
}

func (c *chain) getBlockLocator(height, floor int32) (BlockLocator, error) {
	if height < floor {
		return BlockLocator{}, nil
	}

	var maxEntries uint8
	span := height - floor
	if span <= 12 {
		maxEntries = uint8(span) + 1
	} else {
		adjustedHeight := uint32(span) - 10
		maxEntries = 12 + fastLog2Floor(adjustedHeight)
	}
	locator := make(BlockLocator, 0, maxEntries)

	step := int32(1)
	for height >= floor {
		blockHash, err := c.mainHashAt(uint32(height))
		if err == database.ErrNotFound {
			// pruned
			break
		}
		if err != nil {
			return nil, err
		}

		hash, err := chainhash.NewHashFromStr(blockHash)
		if err != nil {
			return nil, err
		}
		locator = append(locator, hash)

		if height == floor {
			break
		}

		height -= step
		if height < floor {
			height = floor
		}

		if len(locator) > 10 {
			step *= 2
		}
	}

	return locator, nil
}

func (c *chain) findNextHeaderCheckpoint(height int32) *chaincfg.Checkpoint {
	checkpoints := c.params.Net.Checkpoints
	if len(checkpoints) == 0 {
		return nil
	}

	finalCheckpoint := &checkpoints[len(checkpoints)-1]
	if height >= finalCheckpoint.Height {
		return nil
	}

	nextCheckpoint := finalCheckpoint
	for i := len(checkpoints) - 2; i >= 0; i-- {
		if height >= checkpoints[i].Height {
			break
		}
		nextCheckpoint = &checkpoints[i]
	}
	return nextCheckpoint
}

var log2FloorMasks = []uint32{0xffff0000, 0xff00, 0xf0, 0xc, 0x2}

func fastLog2Floor(n uint32) uint8 {
	rv := uint8(0)
	exponent := uint8(16)
	for i := 0; i < 5; i++ {
		if n&log2FloorMasks[i] != 0 {
			rv += exponent
			n >>= exponent
		}
		exponent >>= 1
	}
	return rv
}
