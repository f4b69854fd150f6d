package blockchain

import (
	"strings"
	"testing"
	"time"

	"btc-bridge/database"
	"btc-bridge/pkg/event"

	btcchain "github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

type confirmLog struct {
	hashes  []string
	heights []uint32
}

func (l *confirmLog) ConfirmBlock(hash string, info *database.BlockHeaderInfo) error {
	l.hashes = append(l.hashes, hash)
	l.heights = append(l.heights, info.Height)
	return nil
}

type testChain struct {
	Chain
	kv        database.KV
	store     database.Store
	confirmed *confirmLog
	events    *event.Buffer
	genesis   *wire.BlockHeader
}

func testParams() Params {
	return Params{
		Net:            &chaincfg.RegressionNetParams,
		Confirmations:  3,
		MaxForkRoute:   10,
		ReservedBlocks: 20,
	}
}

func newTestChain(t *testing.T, params Params) *testChain {
	require.NoError(t, params.Validate())

	kv, err := database.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	store := database.NewStore(kv)
	confirmed := &confirmLog{}
	events := &event.Buffer{}
	c := NewChain(store, Config{Params: params, Handler: confirmed, Sink: events})

	genesis := params.Net.GenesisBlock.Header
	require.NoError(t, c.InitGenesis(&genesis, 0))

	return &testChain{
		Chain:     c,
		kv:        kv,
		store:     store,
		confirmed: confirmed,
		events:    events,
		genesis:   &genesis,
	}
}

// mineHeader solves a child of prev with the given bits. nonceSeed makes
// siblings differ.
func mineHeader(prev *wire.BlockHeader, spacing time.Duration, bits uint32, nonceSeed uint32) *wire.BlockHeader {
	h := &wire.BlockHeader{
		Version:   4,
		PrevBlock: prev.BlockHash(),
		Timestamp: prev.Timestamp.Add(spacing),
		Bits:      bits,
		Nonce:     nonceSeed << 16,
	}
	target := btcchain.CompactToBig(bits)
	for {
		hash := h.BlockHash()
		if btcchain.HashToBig(&hash).Cmp(target) <= 0 {
			return h
		}
		h.Nonce++
	}
}

func (tc *testChain) extend(t *testing.T, prev *wire.BlockHeader, n int, seed uint32) []*wire.BlockHeader {
	t.Helper()
	out := make([]*wire.BlockHeader, 0, n)
	for i := 0; i < n; i++ {
		h := mineHeader(prev, 10*time.Minute, prev.Bits, seed)
		_, err := tc.InsertHeader(h)
		require.NoError(t, err)
		out = append(out, h)
		prev = h
	}
	return out
}

func (tc *testChain) requireBest(t *testing.T, h *wire.BlockHeader, height uint32) {
	t.Helper()
	hash, info, err := tc.BestHeader()
	require.NoError(t, err)
	require.Equal(t, h.BlockHash().String(), hash)
	require.Equal(t, height, info.Height)
}

func (tc *testChain) dump(t *testing.T) map[string]string {
	out := make(map[string]string)
	require.NoError(t, tc.kv.Iterate(nil, func(k, v []byte) error {
		out[string(k)] = string(v)
		return nil
	}))
	return out
}

func TestInitGenesisTwice(t *testing.T) {
	tc := newTestChain(t, testParams())
	err := tc.InitGenesis(tc.genesis, 0)
	require.True(t, IsError(err, ErrGenesisExists), "got %v", err)
	tc.requireBest(t, tc.genesis, 0)
}

func TestInsertHeaderIdempotent(t *testing.T) {
	tc := newTestChain(t, testParams())

	h1 := mineHeader(tc.genesis, 10*time.Minute, tc.genesis.Bits, 1)
	origin, err := tc.InsertHeader(h1)
	require.NoError(t, err)
	require.Equal(t, CanonChain, origin.Kind)
	require.Equal(t, uint32(1), origin.Height)

	before := tc.dump(t)
	origin, err = tc.InsertHeader(h1)
	require.NoError(t, err)
	require.Equal(t, KnownBlock, origin.Kind)
	require.Equal(t, before, tc.dump(t))
	tc.requireBest(t, h1, 1)
}

func TestCompetingHeaderStaysSide(t *testing.T) {
	tc := newTestChain(t, testParams())

	h1 := mineHeader(tc.genesis, 10*time.Minute, tc.genesis.Bits, 1)
	h1b := mineHeader(tc.genesis, 11*time.Minute, tc.genesis.Bits, 2)
	require.NotEqual(t, h1.BlockHash(), h1b.BlockHash())

	_, err := tc.InsertHeader(h1)
	require.NoError(t, err)
	origin, err := tc.InsertHeader(h1b)
	require.NoError(t, err)
	require.Equal(t, SideChain, origin.Kind)
	require.Equal(t, uint32(0), origin.Ancestor)

	tc.requireBest(t, h1, 1)
	onMain, err := tc.IsMainChain(h1b.BlockHash().String())
	require.NoError(t, err)
	require.False(t, onMain)

	info, err := tc.HeaderInfo(h1b.BlockHash().String())
	require.NoError(t, err)
	require.Equal(t, uint32(1), info.Height)
}

func TestReorgRoundTrip(t *testing.T) {
	tc := newTestChain(t, testParams())

	a := tc.extend(t, tc.genesis, 2, 1)
	tc.requireBest(t, a[1], 2)
	mainState := tc.dump(t)

	b := tc.extend(t, tc.genesis, 2, 2)
	tc.requireBest(t, a[1], 2)

	b3 := mineHeader(b[1], 10*time.Minute, b[1].Bits, 2)
	origin, err := tc.InsertHeader(b3)
	require.NoError(t, err)
	require.Equal(t, SideChainBecomingCanon, origin.Kind)
	require.Equal(t, []string{a[0].BlockHash().String(), a[1].BlockHash().String()}, origin.DecanonizedRoute)
	require.Equal(t, []string{b[0].BlockHash().String(), b[1].BlockHash().String()}, origin.CanonizedRoute)
	tc.requireBest(t, b3, 3)

	for _, h := range a {
		onMain, err := tc.IsMainChain(h.BlockHash().String())
		require.NoError(t, err)
		require.False(t, onMain)
	}
	hash, err := tc.MainHashAt(1)
	require.NoError(t, err)
	require.Equal(t, b[0].BlockHash().String(), hash)

	// back to the a branch
	a = append(a, tc.extend(t, a[1], 2, 1)...)
	tc.requireBest(t, a[3], 4)
	for i, h := range a {
		hash, err := tc.MainHashAt(uint32(i + 1))
		require.NoError(t, err)
		require.Equal(t, h.BlockHash().String(), hash)
	}

	// every main chain mapping of the first excursion is back in place
	after := tc.dump(t)
	for k, v := range mainState {
		if strings.HasPrefix(k, "NumberForHash/") {
			require.Equal(t, v, after[k], k)
		}
	}

	// height 4 confirms a1 only
	require.Equal(t, []uint32{1}, tc.confirmed.heights)
	require.Equal(t, a[0].BlockHash().String(), tc.confirmed.hashes[0])
}

func TestConfirmationDepth(t *testing.T) {
	tc := newTestChain(t, testParams())

	hs := tc.extend(t, tc.genesis, 7, 1)
	require.Equal(t, []uint32{1, 2, 3, 4}, tc.confirmed.heights)
	for i, h := range hs {
		info, err := tc.HeaderInfo(h.BlockHash().String())
		require.NoError(t, err)
		require.Equal(t, i < 4, info.Confirmed, "height %d", i+1)
	}

	var confirmedEvents int
	for _, e := range tc.events.Drain() {
		if _, ok := e.(ConfirmedEvent); ok {
			confirmedEvents++
		}
	}
	require.Equal(t, 4, confirmedEvents)
}

func TestUnknownParent(t *testing.T) {
	tc := newTestChain(t, testParams())

	orphan := mineHeader(&wire.BlockHeader{
		PrevBlock: chainhash.Hash{0xde, 0xad},
		Timestamp: tc.genesis.Timestamp,
		Bits:      tc.genesis.Bits,
	}, 10*time.Minute, tc.genesis.Bits, 1)
	_, err := tc.InsertHeader(orphan)
	require.True(t, IsError(err, ErrUnknownParent), "got %v", err)
}

func TestAncientFork(t *testing.T) {
	tc := newTestChain(t, testParams())
	tc.extend(t, tc.genesis, 5, 1)

	// height 1 is below 5 - 3
	old := mineHeader(tc.genesis, 3*time.Minute, tc.genesis.Bits, 9)
	_, err := tc.InsertHeader(old)
	require.True(t, IsError(err, ErrAncientFork), "got %v", err)

	has, err := tc.store.HasBlockHeader(old.BlockHash().String())
	require.NoError(t, err)
	require.False(t, has)
}

func TestDeepReorgRefused(t *testing.T) {
	tc := newTestChain(t, testParams())
	a := tc.extend(t, tc.genesis, 5, 1)
	require.Equal(t, []uint32{1, 2}, tc.confirmed.heights)

	// fork from a1; a2 is confirmed and would be unwound
	b := tc.extend(t, a[0], 4, 2)
	tc.requireBest(t, a[4], 5)

	b6 := mineHeader(b[3], 10*time.Minute, b[3].Bits, 2)
	tc.events.Drain()
	origin, err := tc.InsertHeader(b6)
	require.NoError(t, err)
	require.Equal(t, SideChain, origin.Kind)
	require.True(t, origin.Refused)
	tc.requireBest(t, a[4], 5)

	fault, err := tc.Fault()
	require.NoError(t, err)
	require.Equal(t, b6.BlockHash().String(), fault.ForkHash)
	require.Equal(t, uint32(1), fault.Ancestor)
	require.Equal(t, uint32(2), fault.Confirmed)

	events := tc.events.Drain()
	require.Len(t, events, 1)
	require.IsType(t, ChainFaultEvent{}, events[0])

	require.NoError(t, tc.ClearFault())
	_, err = tc.Fault()
	require.ErrorIs(t, err, database.ErrNotFound)
}

func TestPruning(t *testing.T) {
	tc := newTestChain(t, testParams())
	hs := tc.extend(t, tc.genesis, 5, 1)

	// attach a transaction record to height 3
	txid := "aa11"
	h3 := hs[2].BlockHash().String()
	info, err := tc.store.BlockHeader(h3)
	require.NoError(t, err)
	info.TxIDs = append(info.TxIDs, txid)
	require.NoError(t, tc.store.PutBlockHeader(h3, info))
	require.NoError(t, tc.store.PutTxInfo(txid, &database.TxInfo{RawTx: []byte{1}}))
	require.NoError(t, tc.store.SetTxHandled(txid))

	hs = append(hs, tc.extend(t, hs[4], 20, 1)...)
	tc.requireBest(t, hs[24], 25)

	for height := uint32(1); height <= 5; height++ {
		hashes, err := tc.store.BlockHashesFor(height)
		require.NoError(t, err)
		require.Empty(t, hashes, "height %d", height)
	}
	_, err = tc.HeaderInfo(h3)
	require.True(t, IsError(err, ErrNotFound), "got %v", err)

	has, err := tc.store.HasTx(txid)
	require.NoError(t, err)
	require.False(t, has)
	handled, err := tc.store.TxHandled(txid)
	require.NoError(t, err)
	require.False(t, handled)

	_, err = tc.HeaderInfo(hs[5].BlockHash().String())
	require.NoError(t, err)

	locator, err := tc.BlockLocator()
	require.NoError(t, err)
	require.Equal(t, hs[24].BlockHash(), *locator[0])
	require.Equal(t, tc.genesis.BlockHash(), *locator[len(locator)-1])
}

func TestBlockLocator(t *testing.T) {
	tc := newTestChain(t, testParams())
	hs := tc.extend(t, tc.genesis, 15, 1)

	locator, err := tc.BlockLocator()
	require.NoError(t, err)

	heights := []int{15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 2, 0}
	require.Len(t, locator, len(heights))
	for i, height := range heights {
		want := tc.genesis.BlockHash()
		if height > 0 {
			want = hs[height-1].BlockHash()
		}
		require.Equal(t, want, *locator[i], "entry %d", i)
	}
}

func TestHeaderVerification(t *testing.T) {
	tc := newTestChain(t, testParams())

	tooHard := mineHeader(tc.genesis, 10*time.Minute, tc.genesis.Bits, 1)
	tooHard.Bits = 0x1d00ffff
	_, err := tc.InsertHeader(tooHard)
	require.True(t, IsError(err, ErrBadPoW), "got %v", err)

	aboveLimit := mineHeader(tc.genesis, 10*time.Minute, tc.genesis.Bits, 1)
	aboveLimit.Bits = 0x2100ffff
	_, err = tc.InsertHeader(aboveLimit)
	require.True(t, IsError(err, ErrBadPoW), "got %v", err)

	stale := mineHeader(tc.genesis, 0, tc.genesis.Bits, 1)
	_, err = tc.InsertHeader(stale)
	require.True(t, IsError(err, ErrTimeTooOld), "got %v", err)

	_, info, err := tc.BestHeader()
	require.NoError(t, err)
	require.Equal(t, uint32(0), info.Height)
}

func TestDifficultyRetarget(t *testing.T) {
	net := chaincfg.RegressionNetParams
	net.ReduceMinDifficulty = false
	net.PoWNoRetargeting = false
	net.TargetTimePerBlock = 10 * time.Minute
	net.TargetTimespan = 40 * time.Minute
	net.RetargetAdjustmentFactor = 4
	params := testParams()
	params.Net = &net

	tc := newTestChain(t, params)

	// not a retarget height: bits must stay
	wrong := mineHeader(tc.genesis, time.Minute, 0x1f7fffff, 1)
	_, err := tc.InsertHeader(wrong)
	require.True(t, IsError(err, ErrBadDifficulty), "got %v", err)

	prev := tc.genesis
	for i := 0; i < 3; i++ {
		h := mineHeader(prev, time.Minute, prev.Bits, 1)
		_, err := tc.InsertHeader(h)
		require.NoError(t, err)
		prev = h
	}

	// three minutes for a forty minute window clamps to a quarter
	stale := mineHeader(prev, time.Minute, prev.Bits, 1)
	_, err = tc.InsertHeader(stale)
	require.True(t, IsError(err, ErrBadDifficulty), "got %v", err)

	oldTarget := btcchain.CompactToBig(prev.Bits)
	newBits := btcchain.BigToCompact(oldTarget.Rsh(oldTarget, 2))
	retarget := mineHeader(prev, time.Minute, newBits, 1)
	origin, err := tc.InsertHeader(retarget)
	require.NoError(t, err)
	require.Equal(t, uint32(4), origin.Height)
}
