package crypto

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
)

func TestCurvePoints(t *testing.T) {
	require.True(t, Generator().IsOnCurve())
	require.True(t, pedersenShift.IsOnCurve())
	for i, p := range pedersenPoints {
		require.True(t, p.IsOnCurve(), "pedersen point %d", i)
	}
	y, err := RecoverY(Generator().X)
	require.NoError(t, err)
	require.True(t, y.Equal(Generator().Y) || y.Neg().Equal(Generator().Y))
}

func TestPedersen(t *testing.T) {
	t.Run("zero inputs", func(t *testing.T) {
		require.Equal(t, PedersenShift(), Pedersen(felt.Zero(), felt.Zero()))
	})
	t.Run("known vector", func(t *testing.T) {
		a := mustHex("0x3d937c035c878245caf64531a5756109c53068da139362728feb561405371cb")
		b := mustHex("0x208a0a10250e382e1e4bbe2880906c2791bf6275695e02fbbc6aeff9cd8b31a")
		want := mustHex("0x30e480bed5fe53fa909cc0f8c4d99b8f9f2c016be4c41e13a4848797979c662")
		require.Equal(t, want, Pedersen(a, b))
	})
	t.Run("not symmetric", func(t *testing.T) {
		require.NotEqual(t, Pedersen(felt.One(), felt.Zero()), Pedersen(felt.Zero(), felt.One()))
	})
}

func TestECOp(t *testing.T) {
	g := Generator()
	g2, err := ECDouble(g)
	require.NoError(t, err)

	t.Run("double and add", func(t *testing.T) {
		r, err := ECOp(g, g2, felt.FromUint64(3), 256)
		require.NoError(t, err)
		j := scalarMul(g.affine(), big.NewInt(7))
		var want Point
		want.X, want.Y = affineOf(j)
		require.Equal(t, want, r)
		require.True(t, r.IsOnCurve())
	})
	t.Run("same x", func(t *testing.T) {
		_, err := ECOp(g, g, felt.One(), 256)
		require.ErrorIs(t, err, ErrSameX)
	})
	t.Run("scalar too wide", func(t *testing.T) {
		_, err := ECOp(g, g2, felt.FromUint64(1<<10), 10)
		require.ErrorIs(t, err, ErrScalarTooWide)
	})
	t.Run("add matches jacobian", func(t *testing.T) {
		sum, err := ECAdd(g, g2)
		require.NoError(t, err)
		x, y := affineOf(scalarMul(g.affine(), big.NewInt(3)))
		require.Equal(t, Point{X: x, Y: y}, sum)
	})
}

func TestSignatures(t *testing.T) {
	priv, _ := new(big.Int).SetString("3c1e9550e66958296d11b60f8e8e7a7ad990d07fa65d5f7652c4a6c87d4e3cc", 16)
	pub := PublicKey(priv)
	msg := mustHex("0x397e76d1667c4454bfb83514e120583af836f8e32a516765497823eabe16a3f")

	k := big.NewInt(0x1234567)
	var r, s felt.Felt
	var err error
	for {
		r, s, err = Sign(priv, msg, k)
		if err == nil {
			break
		}
		require.ErrorIs(t, err, ErrBadNonce)
		k.Add(k, big.NewInt(1))
	}
	require.True(t, VerifySignature(msg, r, s, pub))
	require.False(t, VerifySignature(msg.Add(felt.One()), r, s, pub))
	require.False(t, VerifySignature(msg, r, s.Add(felt.One()), pub))
	require.False(t, VerifySignature(msg, felt.Zero(), s, pub))
	require.False(t, VerifySignature(msg, r, s, PublicKey(big.NewInt(2))))
}

func TestKeccakF1600(t *testing.T) {
	// keccak256 of the empty string is a single padded block
	var state [25]uint64
	state[0] ^= 0x01
	state[16] ^= 0x80 << 56
	KeccakF1600(&state)
	var out [32]byte
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(out[8*i:], state[i])
	}
	require.Equal(t, crypto.Keccak256(nil), out[:])

	t.Run("arbitrary message", func(t *testing.T) {
		msg := []byte("cairo builtin keccak")
		var block [136]byte
		copy(block[:], msg)
		block[len(msg)] ^= 0x01
		block[135] ^= 0x80
		var st [25]uint64
		for i := 0; i < 17; i++ {
			st[i] = binary.LittleEndian.Uint64(block[8*i:])
		}
		KeccakF1600(&st)
		var digest [32]byte
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint64(digest[8*i:], st[i])
		}
		require.Equal(t, crypto.Keccak256(msg), digest[:])
	})
}
