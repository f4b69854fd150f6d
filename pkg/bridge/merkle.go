package bridge

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// maxProofTxs bounds the transaction count a proof may claim: a 4MB block of
// the smallest possible transactions.
const maxProofTxs = 4000000 / 60

// partialTree walks the partial merkle tree of a BIP37 merkleblock message.
type partialTree struct {
	numTx  uint32
	hashes []*chainhash.Hash
	bits   []bool

	bad        bool
	bitsUsed   int
	hashesUsed int
	matched    []chainhash.Hash
}

// parseMerkleProof decodes a serialized wire.MsgMerkleBlock and returns the
// merkle root its partial tree hashes to together with the matched leaves.
func parseMerkleProof(proof []byte) (chainhash.Hash, []chainhash.Hash, error) {
	var msg wire.MsgMerkleBlock
	err := msg.BtcDecode(bytes.NewReader(proof), wire.ProtocolVersion, wire.BaseEncoding)
	if err != nil {
		return chainhash.Hash{}, nil, newErrf(ErrMerkleMismatch, "decode merkle proof: %v", err)
	}

	if msg.Transactions == 0 || msg.Transactions > maxProofTxs {
		return chainhash.Hash{}, nil, newErrf(ErrMerkleMismatch, "merkle proof claims %d transactions",
			msg.Transactions)
	}
	if uint32(len(msg.Hashes)) > msg.Transactions {
		return chainhash.Hash{}, nil, newErrf(ErrMerkleMismatch, "merkle proof has %d hashes for %d transactions",
			len(msg.Hashes), msg.Transactions)
	}
	if len(msg.Flags)*8 < len(msg.Hashes) {
		return chainhash.Hash{}, nil, newErr(ErrMerkleMismatch, "merkle proof has fewer flag bits than hashes")
	}

	t := &partialTree{
		numTx:  msg.Transactions,
		hashes: msg.Hashes,
		bits:   make([]bool, len(msg.Flags)*8),
	}
	for i := range t.bits {
		t.bits[i] = msg.Flags[i/8]&(1<<(uint(i)%8)) != 0
	}

	var height uint
	for t.width(height) > 1 {
		height++
	}
	root := t.traverse(height, 0)

	if t.bad {
		return chainhash.Hash{}, nil, newErr(ErrMerkleMismatch, "malformed partial merkle tree")
	}
	// every flag byte and every hash has to be consumed
	if (t.bitsUsed+7)/8 != len(msg.Flags) || t.hashesUsed != len(t.hashes) {
		return chainhash.Hash{}, nil, newErr(ErrMerkleMismatch, "merkle proof has unused data")
	}
	return root, t.matched, nil
}

// width is the number of nodes at height, leaves being height zero.
func (t *partialTree) width(height uint) uint32 {
	return uint32((uint64(t.numTx) + (1 << height) - 1) >> height)
}

func (t *partialTree) traverse(height uint, pos uint32) chainhash.Hash {
	if t.bitsUsed >= len(t.bits) {
		t.bad = true
		return chainhash.Hash{}
	}
	parentOfMatch := t.bits[t.bitsUsed]
	t.bitsUsed++

	if height == 0 || !parentOfMatch {
		if t.hashesUsed >= len(t.hashes) {
			t.bad = true
			return chainhash.Hash{}
		}
		hash := *t.hashes[t.hashesUsed]
		t.hashesUsed++
		if height == 0 && parentOfMatch {
			t.matched = append(t.matched, hash)
		}
		return hash
	}

	left := t.traverse(height-1, pos*2)
	right := left
	if pos*2+1 < t.width(height-1) {
		right = t.traverse(height-1, pos*2+1)
		// identical siblings allow forging a second tree, CVE-2012-2459
		if right == left {
			t.bad = true
		}
	}

	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:])
}
