package primitives

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCheckedArithmetic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.Uint64().Draw(rt, "a")
		b := rapid.Uint64().Draw(rt, "b")

		exact := new(big.Int).Add(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
		sum, ok := CheckedAdd(a, b)
		require.Equal(rt, exact.IsUint64(), ok)
		if ok {
			require.Equal(rt, exact.Uint64(), sum)
		}

		diff, ok := CheckedSub(a, b)
		require.Equal(rt, a >= b, ok)
		if ok {
			require.Equal(rt, a-b, diff)
		}
	})
}

func TestSum(t *testing.T) {
	total, ok := Sum(1, 2, 3)
	require.True(t, ok)
	require.Equal(t, uint64(6), total)

	_, ok = Sum(math.MaxUint64, 0, 1)
	require.False(t, ok)

	total, ok = Sum()
	require.True(t, ok)
	require.Zero(t, total)
}

func TestAccountIDText(t *testing.T) {
	id := AccountID{0xab, 0x01}
	text, err := id.MarshalText()
	require.NoError(t, err)

	var back AccountID
	require.NoError(t, back.UnmarshalText(append([]byte("0x"), text...)))
	require.Equal(t, id, back)

	_, err = ParseAccountID("abcd")
	require.Error(t, err)
}
