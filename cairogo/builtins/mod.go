package builtins

import (
	"fmt"
	"math/big"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

// fillMemoryMax bounds the number of gates FillMemory will lay out.
const fillMemoryMax = 100000

// ModRunner implements add_mod and mul_mod. An instance holds the modulus
// p as NWords limbs, followed by values_ptr, offsets_ptr and the number of
// gates n still to run from this instance onward. Each gate relates three
// multi-limb values a, b, c of the values table, located through the
// offsets table, by a + b = c or a * b = c modulo p.
type ModRunner struct {
	simpleRunner
	wordBitLen uint64
	nWords     uint64
	batchSize  uint64
	// shift is 2^wordBitLen, bound is shift^nWords.
	shift *big.Int
	bound *big.Int
}

type modInputs struct {
	p          *big.Int
	pWords     []memory.MaybeRelocatable
	valuesPtr  memory.Relocatable
	offsetsPtr memory.Relocatable
	n          uint64
}

// ModFill describes one builtin for FillMemory: the builtin pointer of its
// first instance and the number of gates in its offsets table.
type ModFill struct {
	Runner *ModRunner
	Ptr    memory.Relocatable
	N      uint64
}

func NewMod(name Name, def InstanceDef, included bool) (*ModRunner, error) {
	if name != AddMod && name != MulMod {
		return nil, fmt.Errorf("%w: %s is not a modular builtin", ErrUnknownBuiltin, name)
	}
	if def.WordBitLen == 0 || def.NWords == 0 || def.BatchSize == 0 {
		return nil, fmt.Errorf("%s: word_bit_len, n_words and batch_size must be positive", name)
	}
	cells := def.NWords + 3
	r := &ModRunner{
		simpleRunner: newSimpleRunner(name, def, included, cells, cells),
		wordBitLen:   def.WordBitLen,
		nWords:       def.NWords,
		batchSize:    def.BatchSize,
		shift:        new(big.Int).Lsh(big.NewInt(1), uint(def.WordBitLen)),
		bound:        new(big.Int).Lsh(big.NewInt(1), uint(def.WordBitLen*def.NWords)),
	}
	r.extraChecks = r.checkGates
	return r, nil
}

func (r *ModRunner) BatchSize() uint64 { return r.batchSize }

func (r *ModRunner) NWords() uint64 { return r.nWords }

func (r *ModRunner) readModInputs(mem *memory.Memory, addr memory.Relocatable) (*modInputs, error) {
	in := &modInputs{p: new(big.Int)}
	for i := uint64(0); i < r.nWords; i++ {
		v, err := mem.Read(addr.AddUint(i))
		if err != nil {
			return nil, err
		}
		in.pWords = append(in.pWords, v)
	}
	p, known, err := r.readWords(mem, addr)
	if err != nil {
		return nil, err
	}
	if !known || p.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s modulus at %s must be positive", ErrModBound, r.name, addr)
	}
	in.p = p
	if in.valuesPtr, err = mem.ReadRelocatable(addr.AddUint(r.nWords)); err != nil {
		return nil, err
	}
	if in.offsetsPtr, err = mem.ReadRelocatable(addr.AddUint(r.nWords + 1)); err != nil {
		return nil, err
	}
	nFelt, err := mem.ReadFelt(addr.AddUint(r.nWords + 2))
	if err != nil {
		return nil, err
	}
	n, ok := nFelt.Uint64()
	if !ok || n < 1 {
		return nil, fmt.Errorf("%w: %s gate count %s at %s", ErrModBound, r.name, nFelt, addr.AddUint(r.nWords+2))
	}
	in.n = n
	return in, nil
}

// fillInputs derives the inputs of every later instance from the first.
func (r *ModRunner) fillInputs(mem *memory.Memory, ptr memory.Relocatable, in *modInputs) error {
	if in.n > fillMemoryMax {
		return fmt.Errorf("%w: %s gate count %d exceeds %d", ErrModFill, r.name, in.n, fillMemoryMax)
	}
	if in.n%r.batchSize != 0 {
		return fmt.Errorf("%w: %s gate count %d is not a multiple of the batch size %d", ErrModFill, r.name, in.n, r.batchSize)
	}
	instances := in.n / r.batchSize
	for i := uint64(1); i < instances; i++ {
		inst := ptr.AddUint(i * r.cellsPerInstance)
		for w, v := range in.pWords {
			if err := mem.Write(inst.AddUint(uint64(w)), v); err != nil {
				return err
			}
		}
		if err := mem.Write(inst.AddUint(r.nWords), memory.FromRelocatable(in.valuesPtr)); err != nil {
			return err
		}
		offsets := in.offsetsPtr.AddUint(3 * r.batchSize * i)
		if err := mem.Write(inst.AddUint(r.nWords+1), memory.FromRelocatable(offsets)); err != nil {
			return err
		}
		if err := mem.Write(inst.AddUint(r.nWords+2), memory.FromUint64(in.n-r.batchSize*i)); err != nil {
			return err
		}
	}
	return nil
}

// fillOffsets pads the offsets table with copies of the gate before index.
func fillOffsets(mem *memory.Memory, offsetsPtr memory.Relocatable, index, copies uint64) error {
	if copies == 0 {
		return nil
	}
	if index == 0 {
		return fmt.Errorf("%w: no gate to copy offsets from", ErrModFill)
	}
	for i := uint64(0); i < 3; i++ {
		v, err := mem.Read(offsetsPtr.AddUint(3*(index-1) + i))
		if err != nil {
			return err
		}
		for c := uint64(0); c < copies; c++ {
			if err := mem.Write(offsetsPtr.AddUint(3*(index+c)+i), v); err != nil {
				return err
			}
		}
	}
	return nil
}

// readWords reads a multi-limb value. known is false if any limb is unset.
func (r *ModRunner) readWords(mem *memory.Memory, addr memory.Relocatable) (*big.Int, bool, error) {
	value := new(big.Int)
	for i := int(r.nWords) - 1; i >= 0; i-- {
		v, ok := mem.Get(addr.AddUint(uint64(i)))
		if !ok {
			return nil, false, nil
		}
		f, ok := v.Felt()
		if !ok {
			return nil, false, fmt.Errorf("%w: %s word at %s", ErrNotFelt, r.name, addr.AddUint(uint64(i)))
		}
		w := f.BigInt()
		if w.Cmp(r.shift) >= 0 {
			return nil, false, fmt.Errorf("%w: word %s at %s exceeds %d bits", ErrModBound, f, addr.AddUint(uint64(i)), r.wordBitLen)
		}
		value.Lsh(value, uint(r.wordBitLen))
		value.Or(value, w)
	}
	return value, true, nil
}

func (r *ModRunner) writeWords(mem *memory.Memory, addr memory.Relocatable, value *big.Int) error {
	if value.Sign() < 0 || value.Cmp(r.bound) >= 0 {
		return fmt.Errorf("%w: %s value %s does not fit in %d words", ErrModBound, r.name, value, r.nWords)
	}
	mask := new(big.Int).Sub(r.shift, big.NewInt(1))
	rest := new(big.Int).Set(value)
	for i := uint64(0); i < r.nWords; i++ {
		w := new(big.Int).And(rest, mask)
		if err := mem.Write(addr.AddUint(i), memory.FromFelt(felt.FromBigInt(w))); err != nil {
			return err
		}
		rest.Rsh(rest, uint(r.wordBitLen))
	}
	return nil
}

// gateAddrs resolves the value addresses of gate index.
func (r *ModRunner) gateAddrs(mem *memory.Memory, in *modInputs, index uint64) ([3]memory.Relocatable, error) {
	var out [3]memory.Relocatable
	for i := range out {
		addr := in.offsetsPtr.AddUint(3*index + uint64(i))
		f, err := mem.ReadFelt(addr)
		if err != nil {
			return out, err
		}
		off, ok := f.Uint64()
		if !ok {
			return out, fmt.Errorf("%w: offset %s at %s", ErrModBound, f, addr)
		}
		out[i] = in.valuesPtr.AddUint(off)
	}
	return out, nil
}

// fillValue computes the missing value of a gate. It reports false if more
// than one value is missing.
func (r *ModRunner) fillValue(mem *memory.Memory, in *modInputs, index uint64) (bool, error) {
	addrs, err := r.gateAddrs(mem, in, index)
	if err != nil {
		return false, err
	}
	var vals [3]*big.Int
	for i, addr := range addrs {
		v, known, err := r.readWords(mem, addr)
		if err != nil {
			return false, err
		}
		if known {
			vals[i] = v
		}
	}
	a, b, c := vals[0], vals[1], vals[2]
	switch {
	case a != nil && b != nil && c != nil:
		return true, nil
	case a != nil && b != nil:
		v, err := r.forward(a, b, in.p)
		if err != nil {
			return false, fmt.Errorf("%s gate %d: %w", r.name, index, err)
		}
		return true, r.writeWords(mem, addrs[2], v)
	case a != nil && c != nil:
		v, err := r.inverse(c, a, in.p)
		if err != nil {
			return false, fmt.Errorf("%s gate %d: %w", r.name, index, err)
		}
		return true, r.writeWords(mem, addrs[1], v)
	case b != nil && c != nil:
		v, err := r.inverse(c, b, in.p)
		if err != nil {
			return false, fmt.Errorf("%s gate %d: %w", r.name, index, err)
		}
		return true, r.writeWords(mem, addrs[0], v)
	}
	return false, nil
}

// forward computes c from a and b as c = a op b - k*p.
func (r *ModRunner) forward(a, b, p *big.Int) (*big.Int, error) {
	if r.name == AddMod {
		c := new(big.Int).Add(a, b)
		if c.Cmp(p) >= 0 {
			c.Sub(c, p)
		}
		if c.Cmp(r.bound) >= 0 {
			return nil, fmt.Errorf("%w: sum %s does not fit after subtracting p", ErrModBound, c)
		}
		return c, nil
	}
	k, c := new(big.Int).QuoRem(new(big.Int).Mul(a, b), p, new(big.Int))
	if k.Cmp(r.bound) >= 0 {
		return nil, fmt.Errorf("%w: quotient %s of the product is too large", ErrModBound, k)
	}
	return c, nil
}

// inverse computes the missing operand x from c and the known operand
// such that x op known = c modulo p.
func (r *ModRunner) inverse(c, known, p *big.Int) (*big.Int, error) {
	if r.name == AddMod {
		x := new(big.Int).Sub(c, known)
		if x.Sign() < 0 {
			x.Add(x, p)
		}
		if x.Sign() < 0 {
			return nil, fmt.Errorf("%w: addend %s exceeds sum %s plus p", ErrModBound, known, c)
		}
		return x, nil
	}
	inv, g := new(big.Int), new(big.Int)
	g.GCD(inv, nil, known, p)
	if g.Cmp(big.NewInt(1)) != 0 {
		if r.batchSize != 1 {
			return nil, fmt.Errorf("%w: %s is not invertible modulo %s", ErrInverseUnsupportedForBatch, known, p)
		}
		// nullifier: a non-zero x with x * known = 0 (mod p)
		return new(big.Int).Quo(p, g), nil
	}
	inv.Mod(inv, p)
	x := inv.Mul(inv, c)
	return x.Mod(x, p), nil
}

// FillMemory lays out the inputs of every instance from those of the first,
// pads the offsets tables to the instance gate counts and computes the
// missing values, alternating between the builtins until both are done.
func FillMemory(mem *memory.Memory, add, mul *ModFill) error {
	if add != nil && mul != nil && add.Runner.nWords != mul.Runner.nWords {
		return fmt.Errorf("%w: add_mod and mul_mod disagree on n_words", ErrModFill)
	}
	type job struct {
		fill  *ModFill
		in    *modInputs
		index uint64
	}
	var jobs []*job
	for _, f := range []*ModFill{add, mul} {
		if f == nil {
			continue
		}
		in, err := f.Runner.readModInputs(mem, f.Ptr)
		if err != nil {
			return err
		}
		if err := f.Runner.fillInputs(mem, f.Ptr, in); err != nil {
			return err
		}
		if f.N > in.n {
			return fmt.Errorf("%w: %s has %d gates but its first instance declares %d", ErrModFill, f.Runner.name, f.N, in.n)
		}
		if err := fillOffsets(mem, in.offsetsPtr, f.N, in.n-f.N); err != nil {
			return err
		}
		jobs = append(jobs, &job{fill: f, in: in})
	}
	for {
		pending, progressed := false, false
		for _, j := range jobs {
			if j.index >= j.fill.N {
				continue
			}
			pending = true
			ok, err := j.fill.Runner.fillValue(mem, j.in, j.index)
			if err != nil {
				return err
			}
			if ok {
				j.index++
				progressed = true
				break
			}
		}
		if !pending {
			return nil
		}
		if !progressed {
			msg := ""
			for _, j := range jobs {
				msg += fmt.Sprintf(" %s index %d;", j.fill.Runner.name, j.index)
			}
			return fmt.Errorf("%w:%s", ErrModFill, msg)
		}
	}
}

// checkGates verifies a op b = c (mod p) for every gate of every used
// instance.
func (r *ModRunner) checkGates(segments *memory.SegmentManager) error {
	mem := segments.Memory
	instances, err := r.UsedInstances(segments)
	if err != nil {
		return err
	}
	for i := uint64(0); i < instances; i++ {
		ptr := r.base.AddUint(i * r.cellsPerInstance)
		in, err := r.readModInputs(mem, ptr)
		if err != nil {
			return &SecurityError{Builtin: r.name, Reason: err.Error(), Offsets: []uint64{ptr.Offset}}
		}
		for g := uint64(0); g < r.batchSize; g++ {
			addrs, err := r.gateAddrs(mem, in, g)
			if err != nil {
				return &SecurityError{Builtin: r.name, Reason: err.Error(), Offsets: []uint64{ptr.Offset}}
			}
			var vals [3]*big.Int
			for k, addr := range addrs {
				v, known, err := r.readWords(mem, addr)
				if err != nil {
					return &SecurityError{Builtin: r.name, Reason: err.Error(), Offsets: []uint64{ptr.Offset}}
				}
				if !known {
					return &SecurityError{Builtin: r.name, Reason: fmt.Sprintf("gate %d value at %s is unset", g, addr), Offsets: []uint64{ptr.Offset}}
				}
				vals[k] = v
			}
			lhs := new(big.Int)
			if r.name == AddMod {
				lhs.Add(vals[0], vals[1])
			} else {
				lhs.Mul(vals[0], vals[1])
			}
			lhs.Mod(lhs, in.p)
			if lhs.Cmp(new(big.Int).Mod(vals[2], in.p)) != 0 {
				return &SecurityError{
					Builtin: r.name,
					Reason:  fmt.Sprintf("gate %d: %s %s %s != %s (mod %s)", g, vals[0], r.opSymbol(), vals[1], vals[2], in.p),
					Offsets: []uint64{ptr.Offset},
				}
			}
		}
	}
	return nil
}

func (r *ModRunner) opSymbol() string {
	if r.name == AddMod {
		return "+"
	}
	return "*"
}
