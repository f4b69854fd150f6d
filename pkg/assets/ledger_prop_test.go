package assets

import (
	"testing"

	"btc-bridge/database"
	"btc-bridge/pkg/primitives"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var propAccounts = []primitives.AccountID{{1}, {2}, {3}}

type ledgerSnapshot map[primitives.AccountID]database.BalanceMap

func snapshot(t *rapid.T, l *Ledger, token primitives.Token) ledgerSnapshot {
	out := make(ledgerSnapshot)
	for _, who := range propAccounts {
		m, err := l.BalanceOf(who, token)
		require.NoError(t, err)
		out[who] = m
	}
	return out
}

// checkConservation asserts that every type total equals the sum over all
// holders.
func checkConservation(t *rapid.T, l *Ledger, token primitives.Token) {
	for _, typ := range primitives.AssetTypes() {
		var sum uint64
		for _, who := range propAccounts {
			v, err := l.AssetBalance(who, token, typ)
			require.NoError(t, err)
			var ok bool
			sum, ok = primitives.CheckedAdd(sum, v)
			require.True(t, ok)
		}
		total, err := l.TotalAssetBalance(token, typ)
		require.NoError(t, err)
		require.Equal(t, sum, total, "%s %s", token, typ)
	}
}

func TestLedgerConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		kv, err := database.NewMemLevelDB()
		require.NoError(t, err)
		defer kv.Close()
		l := NewLedger(database.NewStore(kv), Config{})

		for _, a := range []Asset{
			{Token: DefaultNativeToken, TokenName: "PCX", Chain: primitives.ChainNative},
			{Token: xbtc, TokenName: "X-BTC", Chain: primitives.ChainBitcoin},
		} {
			require.NoError(t, l.RegisterAsset(a, true))
		}

		token := rapid.SampledFrom([]primitives.Token{DefaultNativeToken, xbtc}).Draw(t, "token")
		account := rapid.SampledFrom(propAccounts)
		assetType := rapid.SampledFrom(primitives.AssetTypes())
		amount := rapid.Uint64Range(0, 1_000)

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			before := snapshot(t, l, token)

			var err error
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				err = l.Issue(token, account.Draw(t, "who"), amount.Draw(t, "value"))
			case 1:
				err = l.MoveBalance(token,
					account.Draw(t, "from"), assetType.Draw(t, "fromType"),
					account.Draw(t, "to"), assetType.Draw(t, "toType"),
					amount.Draw(t, "value"))
			case 2:
				err = l.Destroy(token, account.Draw(t, "who"), amount.Draw(t, "value"))
			case 3:
				err = l.SetBalance(account.Draw(t, "who"), token, database.BalanceMap{
					assetType.Draw(t, "type"): amount.Draw(t, "value"),
				})
			}

			// a rejected operation writes nothing
			if err != nil {
				require.Equal(t, before, snapshot(t, l, token))
			}
			checkConservation(t, l, token)
		}
	})
}
