package felt

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrime(t *testing.T) {
	p := new(big.Int).Lsh(big.NewInt(1), 251)
	p.Add(p, new(big.Int).Lsh(big.NewInt(17), 192))
	p.Add(p, big.NewInt(1))
	require.Equal(t, p, Prime())
	require.Equal(t, Bits, Prime().BitLen())
}

func TestArithmetic(t *testing.T) {
	a := FromUint64(17)
	b := FromUint64(40)
	require.Equal(t, FromUint64(57), a.Add(b))
	require.Equal(t, FromInt64(-23), a.Sub(b))
	require.Equal(t, FromUint64(680), a.Mul(b))
	require.True(t, a.Sub(a).IsZero())

	t.Run("negative", func(t *testing.T) {
		minusOne := FromInt64(-1)
		expected := new(big.Int).Sub(Prime(), big.NewInt(1))
		require.Equal(t, expected, minusOne.BigInt())
		require.Equal(t, "-1", minusOne.Decimal())
		require.True(t, minusOne.Add(One()).IsZero())
	})

	t.Run("division", func(t *testing.T) {
		q, err := FromUint64(680).Div(b)
		require.NoError(t, err)
		require.Equal(t, a, q)
		_, err = a.Div(Zero())
		require.ErrorIs(t, err, ErrDivisionByZero)
	})
}

func TestParse(t *testing.T) {
	v, err := FromString("0x10")
	require.NoError(t, err)
	require.Equal(t, FromUint64(16), v)

	v, err = FromString("-5")
	require.NoError(t, err)
	require.Equal(t, FromInt64(-5), v)

	v, err = FromHex("ff")
	require.NoError(t, err)
	require.Equal(t, FromUint64(255), v)

	_, err = FromString("0xzz")
	require.Error(t, err)

	// values are reduced modulo the prime
	v, err = FromString(new(big.Int).Add(Prime(), big.NewInt(3)).String())
	require.NoError(t, err)
	require.Equal(t, FromUint64(3), v)
}

func TestUint64(t *testing.T) {
	v, ok := FromUint64(1 << 63).Uint64()
	require.True(t, ok)
	require.Equal(t, uint64(1<<63), v)
	_, ok = FromInt64(-1).Uint64()
	require.False(t, ok)
}

func TestBytes32(t *testing.T) {
	v := FromUint64(0x0102)
	le := v.Bytes32()
	require.Equal(t, byte(0x02), le[0])
	require.Equal(t, byte(0x01), le[1])
	require.Equal(t, v, SetBytes32(le))
}

func TestJSON(t *testing.T) {
	in := []Felt{FromUint64(0), FromUint64(255), FromInt64(-1)}
	dat, err := json.Marshal(in)
	require.NoError(t, err)
	require.Contains(t, string(dat), `"0xff"`)
	var out []Felt
	require.NoError(t, json.Unmarshal(dat, &out))
	require.Equal(t, in, out)
}
