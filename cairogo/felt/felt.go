// Package felt implements the field element type held by Cairo memory cells.
package felt

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
)

// Bits is the bit length of the field prime.
const Bits = 252

var ErrDivisionByZero = errors.New("division by zero")

// Felt is an integer modulo the STARK prime 2^251 + 17*2^192 + 1.
// The zero value is the field element 0.
type Felt struct {
	e fp.Element
}

func Zero() Felt { return Felt{} }

func One() Felt {
	var f Felt
	f.e.SetOne()
	return f
}

// Prime returns a copy of the field modulus.
func Prime() *big.Int {
	return fp.Modulus()
}

func FromUint64(v uint64) Felt {
	var f Felt
	f.e.SetUint64(v)
	return f
}

// FromInt64 maps negative values to P - |v|.
func FromInt64(v int64) Felt {
	var f Felt
	f.e.SetInt64(v)
	return f
}

// FromBigInt reduces v modulo the prime.
func FromBigInt(v *big.Int) Felt {
	var f Felt
	f.e.SetBigInt(v)
	return f
}

// FromString parses a decimal or 0x-prefixed hex integer, possibly negative,
// and reduces it modulo the prime.
func FromString(s string) (Felt, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || s == "" {
		return Felt{}, fmt.Errorf("invalid field element %q", s)
	}
	if neg {
		v.Neg(v)
	}
	return FromBigInt(v), nil
}

// FromHex is FromString restricted to hex input, with or without 0x prefix.
func FromHex(s string) (Felt, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return FromString(s)
}

func (f Felt) Add(o Felt) Felt {
	var r Felt
	r.e.Add(&f.e, &o.e)
	return r
}

func (f Felt) Sub(o Felt) Felt {
	var r Felt
	r.e.Sub(&f.e, &o.e)
	return r
}

func (f Felt) Mul(o Felt) Felt {
	var r Felt
	r.e.Mul(&f.e, &o.e)
	return r
}

func (f Felt) Neg() Felt {
	var r Felt
	r.e.Neg(&f.e)
	return r
}

func (f Felt) Inverse() (Felt, error) {
	if f.IsZero() {
		return Felt{}, ErrDivisionByZero
	}
	var r Felt
	r.e.Inverse(&f.e)
	return r, nil
}

// Div returns f / o in the field.
func (f Felt) Div(o Felt) (Felt, error) {
	inv, err := o.Inverse()
	if err != nil {
		return Felt{}, err
	}
	return f.Mul(inv), nil
}

func (f Felt) IsZero() bool { return f.e.IsZero() }

func (f Felt) Equal(o Felt) bool { return f.e.Equal(&o.e) }

// Cmp compares the canonical integer representatives of f and o.
func (f Felt) Cmp(o Felt) int { return f.e.Cmp(&o.e) }

func (f Felt) BigInt() *big.Int {
	return f.e.BigInt(new(big.Int))
}

// Uint64 returns the value if it fits into 64 bits.
func (f Felt) Uint64() (uint64, bool) {
	if !f.e.IsUint64() {
		return 0, false
	}
	return f.e.Uint64(), true
}

func (f Felt) BitLen() int { return f.e.BitLen() }

// Element exposes the underlying field element for curve arithmetic.
func (f Felt) Element() fp.Element { return f.e }

func FromElement(e fp.Element) Felt { return Felt{e: e} }

// Bytes32 returns the canonical value in little-endian order.
func (f Felt) Bytes32() [32]byte {
	be := f.e.Bytes()
	var out [32]byte
	for i := range be {
		out[31-i] = be[i]
	}
	return out
}

// SetBytes32 reads a little-endian value and reduces it modulo the prime.
func SetBytes32(le [32]byte) Felt {
	var be [32]byte
	for i := range le {
		be[31-i] = le[i]
	}
	var f Felt
	f.e.SetBytes(be[:])
	return f
}

func (f Felt) String() string {
	return "0x" + f.e.Text(16)
}

// Decimal renders the value the way cairo-run prints program output:
// values above P/2 are shown as negative numbers.
func (f Felt) Decimal() string {
	v := f.BigInt()
	half := new(big.Int).Rsh(Prime(), 1)
	if v.Cmp(half) > 0 {
		v.Sub(v, Prime())
	}
	return v.String()
}

func (f Felt) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Felt) UnmarshalText(text []byte) error {
	v, err := FromString(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
