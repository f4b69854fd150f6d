package bridge

import (
	"math"
	"testing"

	"btc-bridge/database"

	"github.com/stretchr/testify/require"
)

func TestReplayPendingKeepsFailedCredits(t *testing.T) {
	f := newFixture(t)
	a, _ := f.newAddress(t)
	addr := a.EncodeAddress()

	require.NoError(t, f.bridge.addPending(addr, "t1", 10))
	require.NoError(t, f.bridge.addPending(addr, "t2", math.MaxUint64))
	require.NoError(t, f.bridge.addPending(addr, "t3", 5))

	// t2 overflows the total once t1 is credited
	require.NoError(t, f.bridge.replayPending(addr, bob))
	require.Equal(t, uint64(15), f.free(t, bob))

	pending, err := f.bridge.PendingDeposits()
	require.NoError(t, err)
	require.Equal(t, map[string][]database.DepositCache{
		addr: {{TxID: "t2", Balance: math.MaxUint64}},
	}, pending)
}
