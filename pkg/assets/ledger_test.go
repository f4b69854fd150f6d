package assets

import (
	"errors"
	"math"
	"testing"

	"btc-bridge/database"
	"btc-bridge/pkg/event"
	"btc-bridge/pkg/primitives"

	"github.com/stretchr/testify/require"
)

const xbtc primitives.Token = "X-BTC"

var (
	alice = primitives.AccountID{1}
	bob   = primitives.AccountID{2}
)

func newTestLedger(t testing.TB, cfg Config) (*Ledger, database.Store) {
	kv, err := database.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	store := database.NewStore(kv)
	l := NewLedger(store, cfg)

	require.NoError(t, l.RegisterAsset(Asset{
		Token:     DefaultNativeToken,
		TokenName: "Polkadot ChainX",
		Chain:     primitives.ChainNative,
		Precision: 8,
		Desc:      "native token",
	}, true))
	require.NoError(t, l.RegisterAsset(Asset{
		Token:     xbtc,
		TokenName: "X-BTC",
		Chain:     primitives.ChainBitcoin,
		Precision: 8,
		Desc:      "bridged bitcoin",
	}, true))
	return l, store
}

func requireBalance(t *testing.T, l *Ledger, who primitives.AccountID, token primitives.Token,
	typ primitives.AssetType, want uint64) {

	t.Helper()
	got, err := l.AssetBalance(who, token, typ)
	require.NoError(t, err)
	require.Equal(t, want, got, "%s %s", token, typ)
}

func requireTotal(t *testing.T, l *Ledger, token primitives.Token, typ primitives.AssetType, want uint64) {
	t.Helper()
	got, err := l.TotalAssetBalance(token, typ)
	require.NoError(t, err)
	require.Equal(t, want, got, "total %s %s", token, typ)
}

func TestIssueReserveDestroy(t *testing.T) {
	l, _ := newTestLedger(t, Config{})

	require.NoError(t, l.Issue(xbtc, alice, 1000))
	requireBalance(t, l, alice, xbtc, primitives.Free, 1000)
	requireTotal(t, l, xbtc, primitives.Free, 1000)

	require.NoError(t, l.MoveBalance(xbtc, alice, primitives.Free, alice, primitives.ReservedWithdrawal, 400))
	requireBalance(t, l, alice, xbtc, primitives.Free, 600)
	requireBalance(t, l, alice, xbtc, primitives.ReservedWithdrawal, 400)
	requireTotal(t, l, xbtc, primitives.Free, 600)
	requireTotal(t, l, xbtc, primitives.ReservedWithdrawal, 400)

	require.NoError(t, l.Destroy(xbtc, alice, 400))
	requireBalance(t, l, alice, xbtc, primitives.Free, 600)
	requireBalance(t, l, alice, xbtc, primitives.ReservedWithdrawal, 0)
	requireTotal(t, l, xbtc, primitives.Free, 600)
	requireTotal(t, l, xbtc, primitives.ReservedWithdrawal, 0)
}

func TestMoveBalanceNoop(t *testing.T) {
	var events []event.Event
	l, _ := newTestLedger(t, Config{Sink: event.SinkFunc(func(e event.Event) {
		events = append(events, e)
	})})
	events = nil

	// same account and type, even with a bogus token
	require.NoError(t, l.MoveBalance("??", alice, primitives.Free, alice, primitives.Free, 10))
	require.NoError(t, l.MoveBalance(xbtc, alice, primitives.Free, bob, primitives.Free, 0))
	require.Empty(t, events)
}

func TestMoveBalanceErrors(t *testing.T) {
	l, store := newTestLedger(t, Config{})
	require.NoError(t, l.Issue(xbtc, alice, 100))

	tests := []struct {
		name  string
		token primitives.Token
		value uint64
		code  ErrorCode
	}{
		{"not enough", xbtc, 101, ErrNotEnough},
		{"bad symbol", "X BTC", 1, ErrInvalidToken},
		{"unknown token", "ETH", 1, ErrInvalidToken},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := l.MoveFreeBalance(tc.token, alice, bob, tc.value)
			require.True(t, IsError(err, tc.code), "got %v", err)
		})
	}

	// overflow on the receiving side leaves the sender untouched
	require.NoError(t, store.PutAssetBalance(bob, xbtc, database.BalanceMap{primitives.Free: math.MaxUint64}))
	err := l.MoveFreeBalance(xbtc, alice, bob, 1)
	require.True(t, IsError(err, ErrOverflow), "got %v", err)
	requireBalance(t, l, alice, xbtc, primitives.Free, 100)
}

func TestMoveBalanceTotalChecks(t *testing.T) {
	l, store := newTestLedger(t, Config{})
	require.NoError(t, l.Issue(xbtc, alice, 100))

	// corrupt the total so that the total side check fails after the
	// account side passed
	require.NoError(t, store.PutTotalAssetBalance(xbtc, database.BalanceMap{
		primitives.Free:            50,
		primitives.ReservedStaking: 0,
	}))
	err := l.MoveBalance(xbtc, alice, primitives.Free, alice, primitives.ReservedStaking, 60)
	require.True(t, IsError(err, ErrTotalAssetNotEnough), "got %v", err)
	requireBalance(t, l, alice, xbtc, primitives.Free, 100)
	requireBalance(t, l, alice, xbtc, primitives.ReservedStaking, 0)

	require.NoError(t, store.PutTotalAssetBalance(xbtc, database.BalanceMap{
		primitives.Free:            100,
		primitives.ReservedStaking: math.MaxUint64,
	}))
	err = l.MoveBalance(xbtc, alice, primitives.Free, alice, primitives.ReservedStaking, 60)
	require.True(t, IsError(err, ErrTotalAssetOverflow), "got %v", err)
	requireBalance(t, l, alice, xbtc, primitives.Free, 100)
}

func TestNativeFreeAliasesSystemBalance(t *testing.T) {
	l, store := newTestLedger(t, Config{})

	require.NoError(t, l.Issue(DefaultNativeToken, alice, 500))
	free, ok, err := store.SystemFreeBalance(alice)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(500), free)

	// the generic map never holds the native free balance
	m, err := store.AssetBalance(alice, DefaultNativeToken)
	require.NoError(t, err)
	require.Zero(t, m[primitives.Free])

	require.NoError(t, l.MoveBalance(DefaultNativeToken, alice, primitives.Free, alice, primitives.ReservedStaking, 200))
	requireBalance(t, l, alice, DefaultNativeToken, primitives.Free, 300)
	requireBalance(t, l, alice, DefaultNativeToken, primitives.ReservedStaking, 200)

	// issuance stays, the derived free total shrinks
	issuance, err := store.TotalIssuance()
	require.NoError(t, err)
	require.Equal(t, uint64(500), issuance)
	requireTotal(t, l, DefaultNativeToken, primitives.Free, 300)
	requireTotal(t, l, DefaultNativeToken, primitives.ReservedStaking, 200)

	all, err := l.AllTypeTotal(DefaultNativeToken)
	require.NoError(t, err)
	require.Equal(t, uint64(500), all)

	err = l.Destroy(DefaultNativeToken, alice, 1)
	require.True(t, IsError(err, ErrNativeToken), "got %v", err)
}

func TestIssueCreatesNativeAccount(t *testing.T) {
	l, _ := newTestLedger(t, Config{})
	require.NoError(t, l.Issue(xbtc, bob, 7))

	list, err := l.ValidAssetsOf(bob)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, DefaultNativeToken, list[0].Token)
	require.Equal(t, xbtc, list[1].Token)
	require.Equal(t, uint64(7), list[1].Balances[primitives.Free])
	require.Len(t, list[1].Balances, len(primitives.AssetTypes()))
}

func TestTransferMemo(t *testing.T) {
	l, _ := newTestLedger(t, Config{MemoLen: 4})
	require.NoError(t, l.Issue(xbtc, alice, 10))

	err := l.Transfer(alice, bob, xbtc, 5, "too long")
	require.True(t, IsError(err, ErrMemoTooLong), "got %v", err)

	require.NoError(t, l.Transfer(alice, bob, xbtc, 5, "ok"))
	require.NoError(t, l.Transfer(alice, alice, xbtc, 50, ""))
	requireBalance(t, l, alice, xbtc, primitives.Free, 5)
	requireBalance(t, l, bob, xbtc, primitives.Free, 5)
}

func TestSetBalance(t *testing.T) {
	l, store := newTestLedger(t, Config{})
	require.NoError(t, l.Issue(xbtc, alice, 100))

	require.NoError(t, l.SetBalance(alice, xbtc, database.BalanceMap{
		primitives.Free:            40,
		primitives.ReservedDexSpot: 30,
	}))
	requireBalance(t, l, alice, xbtc, primitives.Free, 40)
	requireBalance(t, l, alice, xbtc, primitives.ReservedDexSpot, 30)
	requireTotal(t, l, xbtc, primitives.Free, 40)
	requireTotal(t, l, xbtc, primitives.ReservedDexSpot, 30)

	require.NoError(t, l.SetBalance(bob, DefaultNativeToken, database.BalanceMap{
		primitives.Free:            70,
		primitives.ReservedStaking: 30,
	}))
	issuance, err := store.TotalIssuance()
	require.NoError(t, err)
	require.Equal(t, uint64(100), issuance)
	requireTotal(t, l, DefaultNativeToken, primitives.Free, 70)

	// a failing type leaves earlier types untouched
	require.NoError(t, store.PutTotalAssetBalance(xbtc, database.BalanceMap{
		primitives.Free:            40,
		primitives.ReservedDexSpot: math.MaxUint64,
	}))
	err = l.SetBalance(alice, xbtc, database.BalanceMap{
		primitives.Free:            1,
		primitives.ReservedDexSpot: 31,
	})
	require.True(t, IsError(err, ErrTotalAssetOverflow), "got %v", err)
	requireBalance(t, l, alice, xbtc, primitives.Free, 40)
}

func TestRegisterRevoke(t *testing.T) {
	var events []event.Event
	l, _ := newTestLedger(t, Config{Sink: event.SinkFunc(func(e event.Event) {
		events = append(events, e)
	})})

	err := l.RegisterAsset(Asset{Token: xbtc, TokenName: "X-BTC", Chain: primitives.ChainBitcoin}, true)
	require.True(t, IsError(err, ErrAssetExists), "got %v", err)

	err = l.RegisterAsset(Asset{Token: "L-BTC", TokenName: "L-BTC", Chain: primitives.ChainBitcoin, Desc: "bad\n"}, true)
	require.True(t, IsError(err, ErrInvalidAsset), "got %v", err)

	events = nil
	require.NoError(t, l.RegisterAsset(Asset{Token: "SDOT", TokenName: "Shadow DOT", Chain: primitives.ChainEthereum}, false))
	require.Len(t, events, 2)
	require.Equal(t, RegisterEvent{Token: "SDOT", Online: false}, events[0])
	require.Equal(t, RevokeEvent{Token: "SDOT"}, events[1])

	_, err = l.GetAsset("SDOT")
	require.True(t, IsError(err, ErrInvalidAsset), "got %v", err)
	err = l.Issue("SDOT", alice, 1)
	require.True(t, IsError(err, ErrInvalidAsset), "got %v", err)

	all, err := l.Assets()
	require.NoError(t, err)
	require.Equal(t, []primitives.Token{DefaultNativeToken, xbtc, "SDOT"}, all)
	valid, err := l.ValidAssets()
	require.NoError(t, err)
	require.Equal(t, []primitives.Token{DefaultNativeToken, xbtc}, valid)

	// balances of a revoked token stay readable
	require.NoError(t, l.Issue(xbtc, alice, 3))
	require.NoError(t, l.RevokeAsset(xbtc))
	requireBalance(t, l, alice, xbtc, primitives.Free, 3)
	err = l.MoveFreeBalance(xbtc, alice, bob, 1)
	require.True(t, IsError(err, ErrInvalidToken), "got %v", err)

	err = l.RevokeAsset(DefaultNativeToken)
	require.True(t, IsError(err, ErrNativeToken), "got %v", err)
}

func TestChangeHookFailsOperation(t *testing.T) {
	hookErr := errors.New("hook says no")
	var published int
	l, _ := newTestLedger(t, Config{
		Sink: event.SinkFunc(func(event.Event) { published++ }),
		Hook: func(e event.Event) error {
			if _, ok := e.(IssueEvent); ok {
				return hookErr
			}
			return nil
		},
	})
	published = 0

	err := l.Issue(xbtc, alice, 1)
	require.ErrorIs(t, err, hookErr)
	require.Zero(t, published)
}

func TestAllTypeBalanceOf(t *testing.T) {
	l, _ := newTestLedger(t, Config{})
	require.NoError(t, l.Issue(xbtc, alice, 100))
	require.NoError(t, l.MoveBalance(xbtc, alice, primitives.Free, alice, primitives.ReservedDexFuture, 25))

	total, err := l.AllTypeBalanceOf(alice, xbtc)
	require.NoError(t, err)
	require.Equal(t, uint64(100), total)

	m, err := l.TotalBalanceOf(xbtc)
	require.NoError(t, err)
	require.Equal(t, uint64(75), m[primitives.Free])
	require.Equal(t, uint64(25), m[primitives.ReservedDexFuture])
}
