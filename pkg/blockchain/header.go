package blockchain

import (
	"math/big"
	"sort"
	"time"

	"btc-bridge/database"

	btcchain "github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const medianTimeBlocks = 11

// storedHeader is a decoded header together with its storage record.
type storedHeader struct {
	hash   chainhash.Hash
	header *wire.BlockHeader
	info   *database.BlockHeaderInfo
}

func (c *chain) loadHeader(hash string) (*storedHeader, error) {
	info, err := c.store.BlockHeader(hash)
	if err != nil {
		return nil, err
	}
	header, err := info.BlockHeader()
	if err != nil {
		return nil, err
	}
	return &storedHeader{hash: header.BlockHash(), header: header, info: info}, nil
}

// verifyHeader checks a header against its stored parent.
func (c *chain) verifyHeader(header *wire.BlockHeader, parent *storedHeader) error {
	hash := header.BlockHash()
	height := parent.info.Height + 1

	if err := checkProofOfWork(header, c.params.Net.PowLimit); err != nil {
		return err
	}
	if err := c.checkCheckpoint(hash, height); err != nil {
		return err
	}

	required, skip, err := c.requiredBits(parent, height)
	if err != nil {
		return err
	}
	if !skip && header.Bits != required {
		return newErrf(ErrBadDifficulty, "block %s at %d has bits %08x, want %08x",
			hash, height, header.Bits, required)
	}

	median, err := c.medianTimePast(parent)
	if err != nil {
		return err
	}
	if !header.Timestamp.After(median) {
		return newErrf(ErrTimeTooOld, "block %s timestamp %v is not after median time %v",
			hash, header.Timestamp, median)
	}
	return nil
}

func checkProofOfWork(header *wire.BlockHeader, powLimit *big.Int) error {
	target := btcchain.CompactToBig(header.Bits)
	if target.Sign() <= 0 {
		return newErrf(ErrBadPoW, "target %064x is not positive", target)
	}
	if target.Cmp(powLimit) > 0 {
		return newErrf(ErrBadPoW, "target %064x is above the pow limit %064x", target, powLimit)
	}

	hash := header.BlockHash()
	if btcchain.HashToBig(&hash).Cmp(target) > 0 {
		return newErrf(ErrBadPoW, "block hash %s is above target %064x", hash, target)
	}
	return nil
}

func (c *chain) checkCheckpoint(hash chainhash.Hash, height uint32) error {
	cp := c.findNextHeaderCheckpoint(int32(height) - 1)
	if cp == nil || cp.Height != int32(height) {
		return nil
	}
	if !cp.Hash.IsEqual(&hash) {
		return newErrf(ErrCheckpoint, "block %s at %d does not match checkpoint %s",
			hash, height, cp.Hash)
	}
	return nil
}

// requiredBits returns the bits a child of parent must carry. skip is set
// when the network allows minimum difficulty blocks or when the start of the
// retarget interval is no longer stored.
func (c *chain) requiredBits(parent *storedHeader, height uint32) (uint32, bool, error) {
	net := c.params.Net
	if net.ReduceMinDifficulty {
		return 0, true, nil
	}
	if net.PoWNoRetargeting {
		return parent.header.Bits, false, nil
	}

	blocksPerRetarget := uint32(net.TargetTimespan / net.TargetTimePerBlock)
	if height%blocksPerRetarget != 0 {
		return parent.header.Bits, false, nil
	}
	if height < blocksPerRetarget {
		return 0, true, nil
	}

	first, err := c.ancestorAt(parent, height-blocksPerRetarget)
	if err == database.ErrNotFound {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}

	targetTimespan := int64(net.TargetTimespan / time.Second)
	minTimespan := targetTimespan / net.RetargetAdjustmentFactor
	maxTimespan := targetTimespan * net.RetargetAdjustmentFactor

	actualTimespan := parent.header.Timestamp.Unix() - first.header.Timestamp.Unix()
	adjustedTimespan := actualTimespan
	if actualTimespan < minTimespan {
		adjustedTimespan = minTimespan
	} else if actualTimespan > maxTimespan {
		adjustedTimespan = maxTimespan
	}

	oldTarget := btcchain.CompactToBig(parent.header.Bits)
	newTarget := new(big.Int).Mul(oldTarget, big.NewInt(adjustedTimespan))
	newTarget.Div(newTarget, big.NewInt(targetTimespan))
	if newTarget.Cmp(net.PowLimit) > 0 {
		newTarget.Set(net.PowLimit)
	}
	return btcchain.BigToCompact(newTarget), false, nil
}

// ancestorAt walks back from start to height. Once the walk reaches the main
// chain it jumps through the height index.
func (c *chain) ancestorAt(start *storedHeader, height uint32) (*storedHeader, error) {
	node := start
	for node.info.Height > height {
		onMain, err := c.isMainChain(node.hash.String())
		if err != nil {
			return nil, err
		}
		if onMain {
			hash, err := c.mainHashAt(height)
			if err != nil {
				return nil, err
			}
			return c.loadHeader(hash)
		}
		if node, err = c.loadHeader(node.header.PrevBlock.String()); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// medianTimePast is the median timestamp of up to eleven stored headers
// ending at parent.
func (c *chain) medianTimePast(parent *storedHeader) (time.Time, error) {
	timestamps := make([]int64, 0, medianTimeBlocks)
	node := parent
	for len(timestamps) < medianTimeBlocks {
		timestamps = append(timestamps, node.header.Timestamp.Unix())

		next, err := c.loadHeader(node.header.PrevBlock.String())
		if err == database.ErrNotFound {
			break
		}
		if err != nil {
			return time.Time{}, err
		}
		node = next
	}

	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return time.Unix(timestamps[len(timestamps)/2], 0), nil
}
