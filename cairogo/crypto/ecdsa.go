package crypto

import (
	"errors"
	"math/big"

	starkcurve "github.com/consensys/gnark-crypto/ecc/stark-curve"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
)

// ecdsaBits bounds the message hash, r and w.
const ecdsaBits = 251

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrBadNonce         = errors.New("nonce yields an unusable r, pick another")

	ecdsaBound = new(big.Int).Lsh(big.NewInt(1), ecdsaBits)
)

func inRange(v, lo, hi *big.Int) bool {
	return v.Cmp(lo) >= 0 && v.Cmp(hi) < 0
}

// VerifySignature checks a STARK curve ECDSA signature. The public key is
// given by its x coordinate only; either y is accepted.
func VerifySignature(msgHash, r, s, pubKeyX felt.Felt) bool {
	one := big.NewInt(1)
	msg, rv, sv := msgHash.BigInt(), r.BigInt(), s.BigInt()
	if msg.Cmp(ecdsaBound) >= 0 || !inRange(rv, one, ecdsaBound) || !inRange(sv, one, Order) {
		return false
	}
	w := new(big.Int).ModInverse(sv, Order)
	if w == nil || !inRange(w, one, ecdsaBound) {
		return false
	}
	y, err := RecoverY(pubKeyX)
	if err != nil {
		return false
	}
	_, g := starkcurve.Generators()
	var gJac starkcurve.G1Jac
	gJac.FromAffine(&g)
	msgG := new(starkcurve.G1Jac).ScalarMultiplication(&gJac, msg)

	for _, cand := range []felt.Felt{y, y.Neg()} {
		rq := scalarMul(Point{X: pubKeyX, Y: cand}.affine(), rv)
		sum := *msgG
		sum.AddAssign(&rq)
		sum.ScalarMultiplication(&sum, w)
		var res starkcurve.G1Affine
		res.FromJacobian(&sum)
		if res.IsInfinity() {
			continue
		}
		if felt.FromElement(res.X).BigInt().Cmp(rv) == 0 {
			return true
		}
	}
	return false
}

// PublicKey returns the x coordinate of priv*G.
func PublicKey(priv *big.Int) felt.Felt {
	_, g := starkcurve.Generators()
	j := scalarMul(g, priv)
	var a starkcurve.G1Affine
	a.FromJacobian(&j)
	return felt.FromElement(a.X)
}

// Sign produces (r, s) for msgHash with the given private key and nonce.
func Sign(priv *big.Int, msgHash felt.Felt, k *big.Int) (felt.Felt, felt.Felt, error) {
	msg := msgHash.BigInt()
	if msg.Cmp(ecdsaBound) >= 0 {
		return felt.Felt{}, felt.Felt{}, ErrInvalidSignature
	}
	_, g := starkcurve.Generators()
	j := scalarMul(g, k)
	var kg starkcurve.G1Affine
	kg.FromJacobian(&j)
	r := felt.FromElement(kg.X).BigInt()
	if !inRange(r, big.NewInt(1), ecdsaBound) || r.Cmp(Order) >= 0 {
		return felt.Felt{}, felt.Felt{}, ErrBadNonce
	}
	sum := new(big.Int).Mul(r, priv)
	sum.Add(sum, msg)
	sum.Mod(sum, Order)
	if sum.Sign() == 0 {
		return felt.Felt{}, felt.Felt{}, ErrBadNonce
	}
	kInv := new(big.Int).ModInverse(k, Order)
	if kInv == nil {
		return felt.Felt{}, felt.Felt{}, ErrBadNonce
	}
	s := new(big.Int).Mul(kInv, sum)
	s.Mod(s, Order)
	w := new(big.Int).ModInverse(s, Order)
	if w == nil || w.Cmp(ecdsaBound) >= 0 {
		return felt.Felt{}, felt.Felt{}, ErrBadNonce
	}
	return felt.FromBigInt(r), felt.FromBigInt(s), nil
}
