package layout

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/cairovm/cairogo/builtins"
)

func TestLayouts(t *testing.T) {
	for _, name := range Names() {
		l, err := Get(name)
		require.NoError(t, err)
		require.Equal(t, name, l.Name)
		names := make([]builtins.Name, 0, len(l.Builtins))
		for _, b := range l.Builtins {
			names = append(names, b.Name)
			_, err := builtins.New(b.Name, b.Def, true)
			require.NoError(t, err, "%s/%s", name, b.Name)
		}
		require.NoError(t, builtins.CheckOrder(names), name)
	}
}

func TestGet(t *testing.T) {
	l, err := Get("all_cairo")
	require.NoError(t, err)
	def, ok := l.Builtin(builtins.MulMod)
	require.True(t, ok)
	require.Equal(t, uint64(256), def.Ratio)
	require.Equal(t, uint64(4), def.NWords)

	l.Builtins[0].Def.Ratio = 99
	again, err := Get("all_cairo")
	require.NoError(t, err)
	require.Zero(t, again.Builtins[0].Def.Ratio, "Get must return a copy")

	_, err = Get("nope")
	require.ErrorIs(t, err, ErrUnknownLayout)

	small, err := Get("small")
	require.NoError(t, err)
	_, ok = small.Builtin(builtins.Bitwise)
	require.False(t, ok)
}
