package database

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestOverlay(t *testing.T) {
	kv, err := NewMemLevelDB()
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Put([]byte("p/a"), []byte("1")))
	require.NoError(t, kv.Put([]byte("p/b"), []byte("2")))

	o := NewOverlay(kv)
	require.False(t, o.Dirty())
	require.NoError(t, o.Put([]byte("p/c"), []byte("3")))
	require.NoError(t, o.Delete([]byte("p/a")))
	require.NoError(t, o.Put([]byte("p/b"), []byte("20")))
	require.True(t, o.Dirty())

	_, err = o.Get([]byte("p/a"))
	require.ErrorIs(t, err, ErrNotFound)
	has, err := o.Has([]byte("p/c"))
	require.NoError(t, err)
	require.True(t, has)
	require.Equal(t, []string{"p/b=20", "p/c=3"}, collect(t, o, "p/"))

	// the backend is untouched until commit
	require.Equal(t, []string{"p/a=1", "p/b=2"}, collect(t, kv, "p/"))

	o.Discard()
	require.False(t, o.Dirty())
	require.Equal(t, []string{"p/a=1", "p/b=2"}, collect(t, o, "p/"))

	require.NoError(t, o.Delete([]byte("p/b")))
	require.NoError(t, o.Put([]byte("p/d"), []byte("4")))
	require.NoError(t, o.Commit())
	require.False(t, o.Dirty())
	require.Equal(t, []string{"p/a=1", "p/d=4"}, collect(t, kv, "p/"))
}

// An overlay committed over a backend leaves the same state as writing to
// the backend directly.
func TestOverlayMatchesDirectWrites(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		direct, err := NewMemLevelDB()
		require.NoError(rt, err)
		defer direct.Close()
		base, err := NewMemLevelDB()
		require.NoError(rt, err)
		defer base.Close()

		keyGen := rapid.SampledFrom([]string{"k/0", "k/1", "k/2", "k/3", "j/0"})

		// shared starting state
		for _, k := range rapid.SliceOfN(keyGen, 0, 5).Draw(rt, "initial") {
			require.NoError(rt, direct.Put([]byte(k), []byte("init")))
			require.NoError(rt, base.Put([]byte(k), []byte("init")))
		}

		o := NewOverlay(base)
		ops := rapid.IntRange(0, 30).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			k := []byte(keyGen.Draw(rt, "key"))
			if rapid.Bool().Draw(rt, "delete") {
				require.NoError(rt, direct.Delete(k))
				require.NoError(rt, o.Delete(k))
				continue
			}
			v := []byte(fmt.Sprint(i))
			require.NoError(rt, direct.Put(k, v))
			require.NoError(rt, o.Put(k, v))
		}

		dump := func(r Reader) []string {
			var out []string
			require.NoError(rt, r.Iterate(nil, func(k, v []byte) error {
				out = append(out, string(k)+"="+string(v))
				return nil
			}))
			return out
		}
		require.Equal(rt, dump(direct), dump(o))
		require.NoError(rt, o.Commit())
		require.Equal(rt, dump(direct), dump(base))
	})
}
