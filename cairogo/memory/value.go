package memory

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
)

var ErrInvalidOperation = errors.New("invalid operation on memory values")

// MaybeRelocatable is the content of a memory cell or register: either a
// field element or a relocatable address.
type MaybeRelocatable struct {
	felt  felt.Felt
	addr  Relocatable
	isRel bool
}

func FromFelt(f felt.Felt) MaybeRelocatable {
	return MaybeRelocatable{felt: f}
}

func FromUint64(v uint64) MaybeRelocatable {
	return MaybeRelocatable{felt: felt.FromUint64(v)}
}

func FromRelocatable(r Relocatable) MaybeRelocatable {
	return MaybeRelocatable{addr: r, isRel: true}
}

func (m MaybeRelocatable) IsRelocatable() bool { return m.isRel }

func (m MaybeRelocatable) IsFelt() bool { return !m.isRel }

func (m MaybeRelocatable) Felt() (felt.Felt, bool) {
	return m.felt, !m.isRel
}

func (m MaybeRelocatable) Relocatable() (Relocatable, bool) {
	return m.addr, m.isRel
}

// IsZero is true only for the field element 0.
func (m MaybeRelocatable) IsZero() bool {
	return !m.isRel && m.felt.IsZero()
}

func (m MaybeRelocatable) Equal(o MaybeRelocatable) bool {
	if m.isRel != o.isRel {
		return false
	}
	if m.isRel {
		return m.addr == o.addr
	}
	return m.felt.Equal(o.felt)
}

func (m MaybeRelocatable) Add(o MaybeRelocatable) (MaybeRelocatable, error) {
	switch {
	case !m.isRel && !o.isRel:
		return FromFelt(m.felt.Add(o.felt)), nil
	case m.isRel && !o.isRel:
		r, err := m.addr.AddFelt(o.felt)
		return FromRelocatable(r), err
	case !m.isRel && o.isRel:
		r, err := o.addr.AddFelt(m.felt)
		return FromRelocatable(r), err
	}
	return MaybeRelocatable{}, fmt.Errorf("%w: cannot add two relocatable values %s and %s", ErrInvalidOperation, m, o)
}

func (m MaybeRelocatable) Sub(o MaybeRelocatable) (MaybeRelocatable, error) {
	switch {
	case !m.isRel && !o.isRel:
		return FromFelt(m.felt.Sub(o.felt)), nil
	case m.isRel && !o.isRel:
		r, err := m.addr.AddFelt(o.felt.Neg())
		return FromRelocatable(r), err
	case m.isRel && o.isRel:
		d, err := m.addr.Sub(o.addr)
		return FromFelt(d), err
	}
	return MaybeRelocatable{}, fmt.Errorf("%w: cannot subtract relocatable %s from field element %s", ErrInvalidOperation, o, m)
}

func (m MaybeRelocatable) Mul(o MaybeRelocatable) (MaybeRelocatable, error) {
	if m.isRel || o.isRel {
		return MaybeRelocatable{}, fmt.Errorf("%w: cannot multiply %s and %s", ErrInvalidOperation, m, o)
	}
	return FromFelt(m.felt.Mul(o.felt)), nil
}

func (m MaybeRelocatable) String() string {
	if m.isRel {
		return m.addr.String()
	}
	return m.felt.String()
}

type jsonValue struct {
	Felt        *felt.Felt   `json:"felt,omitempty"`
	Relocatable *Relocatable `json:"relocatable,omitempty"`
}

func (m MaybeRelocatable) MarshalJSON() ([]byte, error) {
	if m.isRel {
		return json.Marshal(jsonValue{Relocatable: &m.addr})
	}
	return json.Marshal(jsonValue{Felt: &m.felt})
}

func (m *MaybeRelocatable) UnmarshalJSON(data []byte) error {
	var v jsonValue
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch {
	case v.Relocatable != nil:
		*m = FromRelocatable(*v.Relocatable)
	case v.Felt != nil:
		*m = FromFelt(*v.Felt)
	default:
		return errors.New("memory value must hold a felt or a relocatable")
	}
	return nil
}
