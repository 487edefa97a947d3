package hints

import (
	"fmt"

	"github.com/ethereum-optimism/cairovm/cairogo/builtins"
	"github.com/ethereum-optimism/cairovm/cairogo/felt"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

// Hint codes as emitted by the Cairo compiler for the common library.
const (
	AllocCode      = "memory[ap] = segments.add()"
	EnterScopeCode = "vm_enter_scope()"
	ExitScopeCode  = "vm_exit_scope()"

	IsNNCode           = "memory[ap] = 0 if 0 <= (ids.a % PRIME) < range_check_builtin.bound else 1"
	IsNNOutOfRangeCode = "memory[ap] = 0 if 0 <= ((-ids.a - 1) % PRIME) < range_check_builtin.bound else 1"

	AssertNNCode = `from starkware.cairo.common.math_utils import assert_integer
assert_integer(ids.a)
assert 0 <= ids.a % PRIME < range_check_builtin.bound, f'a = {ids.a} is out of range.'`

	RunModPCircuitCode = `from starkware.cairo.lang.builtins.modulo.mod_builtin_runner import ModBuiltinRunner
assert builtin_runners["add_mod_builtin"].instance_def.batch_size == 1
assert builtin_runners["mul_mod_builtin"].instance_def.batch_size == 1

ModBuiltinRunner.fill_memory(
    memory=memory,
    add_mod=(ids.add_mod_ptr.address_, builtin_runners["add_mod_builtin"], ids.add_mod_n),
    mul_mod=(ids.mul_mod_ptr.address_, builtin_runners["mul_mod_builtin"], ids.mul_mod_n),
)`
)

func registerLibrary(p *Processor) {
	p.Register(AllocCode, alloc)
	p.Register(EnterScopeCode, enterScope)
	p.Register(ExitScopeCode, exitScope)
	p.Register(IsNNCode, isNN)
	p.Register(IsNNOutOfRangeCode, isNNOutOfRange)
	p.Register(AssertNNCode, assertNN)
	p.Register(RunModPCircuitCode, runModPCircuit)
}

func alloc(ctx *Context) error {
	return ctx.Write(ctx.AP(), memory.FromRelocatable(ctx.AddSegment()))
}

func enterScope(ctx *Context) error {
	ctx.Scopes().Enter(nil)
	return nil
}

func exitScope(ctx *Context) error {
	return ctx.Scopes().Exit()
}

func rangeCheckBound(ctx *Context) (felt.Felt, error) {
	r, err := ctx.Builtin(builtins.RangeCheck)
	if err != nil {
		return felt.Felt{}, err
	}
	return r.(*builtins.RangeCheckRunner).Bound(), nil
}

// inRange reports 0 <= v < bound on canonical representatives.
func inRange(v, bound felt.Felt) bool {
	return v.Cmp(bound) < 0
}

func writeBool(ctx *Context, b bool) error {
	v := uint64(1)
	if b {
		v = 0
	}
	return ctx.Write(ctx.AP(), memory.FromUint64(v))
}

func isNN(ctx *Context) error {
	a, err := ctx.GetFelt("a")
	if err != nil {
		return err
	}
	bound, err := rangeCheckBound(ctx)
	if err != nil {
		return err
	}
	return writeBool(ctx, inRange(a, bound))
}

func isNNOutOfRange(ctx *Context) error {
	a, err := ctx.GetFelt("a")
	if err != nil {
		return err
	}
	bound, err := rangeCheckBound(ctx)
	if err != nil {
		return err
	}
	return writeBool(ctx, inRange(a.Neg().Sub(felt.One()), bound))
}

func assertNN(ctx *Context) error {
	a, err := ctx.GetFelt("a")
	if err != nil {
		return err
	}
	bound, err := rangeCheckBound(ctx)
	if err != nil {
		return err
	}
	if !inRange(a, bound) {
		return fmt.Errorf("%w: a = %s", ErrValueOutOfRange, a.Decimal())
	}
	return nil
}

func modFill(ctx *Context, name builtins.Name, ptrID, nID string) (*builtins.ModFill, error) {
	r, err := ctx.Builtin(name)
	if err != nil {
		return nil, err
	}
	ptr, err := ctx.GetRelocatable(ptrID)
	if err != nil {
		return nil, err
	}
	n, err := ctx.GetFelt(nID)
	if err != nil {
		return nil, err
	}
	count, ok := n.Uint64()
	if !ok {
		return nil, fmt.Errorf("%w: ids.%s = %s", ErrValueOutOfRange, nID, n)
	}
	mod := r.(*builtins.ModRunner)
	if mod.BatchSize() != 1 {
		return nil, fmt.Errorf("%w: %s batch size is %d, run_mod_p_circuit requires 1", builtins.ErrModFill, name, mod.BatchSize())
	}
	if count == 0 {
		return nil, nil
	}
	return &builtins.ModFill{Runner: mod, Ptr: ptr, N: count}, nil
}

func runModPCircuit(ctx *Context) error {
	add, err := modFill(ctx, builtins.AddMod, "add_mod_ptr", "add_mod_n")
	if err != nil {
		return err
	}
	mul, err := modFill(ctx, builtins.MulMod, "mul_mod_ptr", "mul_mod_n")
	if err != nil {
		return err
	}
	return builtins.FillMemory(ctx.Memory(), add, mul)
}
