// Package crypto implements the STARK curve primitives the builtins rely on.
package crypto

import (
	"errors"
	"math/big"

	starkcurve "github.com/consensys/gnark-crypto/ecc/stark-curve"
	"github.com/consensys/gnark-crypto/ecc/stark-curve/fp"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
)

var (
	ErrNotOnCurve    = errors.New("point is not on the curve")
	ErrSameX         = errors.New("points have the same x coordinate")
	ErrScalarTooWide = errors.New("scalar does not fit in the given height")
)

// Curve is y^2 = x^3 + Alpha*x + Beta over the STARK field.
var (
	Alpha = felt.One()
	Beta  = mustHex("0x6f21413efbe40de150e596d72f7a8c5609ad26c15c915c1f4cdfcb99cee9e89")
	// Order of the generator subgroup.
	Order, _ = new(big.Int).SetString("800000000000010ffffffffffffffffb781126dcae7b2321e66a241adc64d2f", 16)
)

func mustHex(s string) felt.Felt {
	f, err := felt.FromHex(s)
	if err != nil {
		panic(err)
	}
	return f
}

// Point is an affine curve point. The point at infinity is not representable.
type Point struct {
	X, Y felt.Felt
}

func mustPoint(x, y string) Point {
	return Point{X: mustHex(x), Y: mustHex(y)}
}

// Generator returns the curve generator.
func Generator() Point {
	_, g := starkcurve.Generators()
	return fromAffine(&g)
}

func (p Point) affine() starkcurve.G1Affine {
	return starkcurve.G1Affine{X: p.X.Element(), Y: p.Y.Element()}
}

func fromAffine(a *starkcurve.G1Affine) Point {
	return Point{X: felt.FromElement(a.X), Y: felt.FromElement(a.Y)}
}

func (p Point) IsOnCurve() bool {
	return p.Y.Mul(p.Y).Equal(curveRHS(p.X))
}

func curveRHS(x felt.Felt) felt.Felt {
	return x.Mul(x).Mul(x).Add(Alpha.Mul(x)).Add(Beta)
}

// RecoverY returns a y such that (x, y) lies on the curve.
func RecoverY(x felt.Felt) (felt.Felt, error) {
	rhs := curveRHS(x).Element()
	var y fp.Element
	if y.Sqrt(&rhs) == nil {
		return felt.Felt{}, ErrNotOnCurve
	}
	return felt.FromElement(y), nil
}

// ECAdd adds two points with distinct x coordinates.
func ECAdd(p, q Point) (Point, error) {
	dx := q.X.Sub(p.X)
	if dx.IsZero() {
		return Point{}, ErrSameX
	}
	slope, _ := q.Y.Sub(p.Y).Div(dx)
	x := slope.Mul(slope).Sub(p.X).Sub(q.X)
	y := slope.Mul(p.X.Sub(x)).Sub(p.Y)
	return Point{X: x, Y: y}, nil
}

// ECDouble doubles a point with y != 0.
func ECDouble(p Point) (Point, error) {
	two := felt.FromUint64(2)
	denom := two.Mul(p.Y)
	if denom.IsZero() {
		return Point{}, ErrSameX
	}
	slope, _ := felt.FromUint64(3).Mul(p.X).Mul(p.X).Add(Alpha).Div(denom)
	x := slope.Mul(slope).Sub(two.Mul(p.X))
	y := slope.Mul(p.X.Sub(x)).Sub(p.Y)
	return Point{X: x, Y: y}, nil
}

// ECOp computes p + m*q by double-and-add over height bits. It fails when
// an intermediate addition would combine two points sharing an x
// coordinate, which the arithmetic circuit cannot express.
func ECOp(p, q Point, m felt.Felt, height int) (Point, error) {
	if m.BitLen() > height {
		return Point{}, ErrScalarTooWide
	}
	scalar := m.BigInt()
	partial, doubled := p, q
	var err error
	for i := 0; i < height; i++ {
		if doubled.X.Equal(partial.X) {
			return Point{}, ErrSameX
		}
		if scalar.Bit(i) == 1 {
			if partial, err = ECAdd(partial, doubled); err != nil {
				return Point{}, err
			}
		}
		if doubled, err = ECDouble(doubled); err != nil {
			return Point{}, err
		}
	}
	return partial, nil
}

// scalarMul uses the Jacobian arithmetic of gnark-crypto, which handles
// the point at infinity.
func scalarMul(p starkcurve.G1Affine, s *big.Int) starkcurve.G1Jac {
	var j starkcurve.G1Jac
	j.FromAffine(&p)
	j.ScalarMultiplication(&j, s)
	return j
}

func affineOf(j starkcurve.G1Jac) (felt.Felt, felt.Felt) {
	var a starkcurve.G1Affine
	a.FromJacobian(&j)
	return felt.FromElement(a.X), felt.FromElement(a.Y)
}
