// Package vm implements the Cairo execution loop.
package vm

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/cairovm/cairogo/builtins"
	"github.com/ethereum-optimism/cairovm/cairogo/felt"
	"github.com/ethereum-optimism/cairovm/cairogo/instruction"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

// cancelCheckInterval is how many steps run between context checks.
const cancelCheckInterval = 100

type TraceEntry struct {
	PC memory.Relocatable
	AP memory.Relocatable
	FP memory.Relocatable
}

// RelocatedTraceEntry is a trace entry with registers as flat addresses.
type RelocatedTraceEntry struct {
	PC uint64
	AP uint64
	FP uint64
}

type VirtualMachine struct {
	ctx      RunContext
	segments *memory.SegmentManager
	runners  []builtins.Runner
	// runner owning each builtin segment
	bySegment map[int]builtins.Runner

	hintProcessor HintProcessor
	hints         map[uint64][]any
	programBase   memory.Relocatable

	currentStep uint64
	trace       []TraceEntry
	tracing     bool
	instCache   map[memory.Relocatable]*instruction.Instruction

	// smallest and largest biased instruction offset executed
	rcMin, rcMax uint64

	finished bool
	log      log.Logger
}

func New(segments *memory.SegmentManager, runners []builtins.Runner, hp HintProcessor, logger log.Logger) *VirtualMachine {
	if logger == nil {
		logger = log.Root()
	}
	vm := &VirtualMachine{
		segments:      segments,
		runners:       runners,
		bySegment:     make(map[int]builtins.Runner, len(runners)),
		hintProcessor: hp,
		hints:         make(map[uint64][]any),
		instCache:     make(map[memory.Relocatable]*instruction.Instruction),
		rcMin:         math.MaxUint64,
		log:           logger,
	}
	for _, r := range runners {
		vm.bySegment[r.Base().Segment] = r
	}
	return vm
}

// EnableTrace records the registers before every step.
func (vm *VirtualMachine) EnableTrace() { vm.tracing = true }

// SetContext sets the registers and the program base hints are keyed by.
func (vm *VirtualMachine) SetContext(ctx RunContext, programBase memory.Relocatable) {
	vm.ctx = ctx
	vm.programBase = programBase
}

// LoadHints installs compiled hints keyed by program offset.
func (vm *VirtualMachine) LoadHints(hints map[uint64][]any) {
	vm.hints = hints
}

func (vm *VirtualMachine) Context() RunContext               { return vm.ctx }
func (vm *VirtualMachine) Segments() *memory.SegmentManager  { return vm.segments }
func (vm *VirtualMachine) Memory() *memory.Memory            { return vm.segments.Memory }
func (vm *VirtualMachine) BuiltinRunners() []builtins.Runner { return vm.runners }
func (vm *VirtualMachine) CurrentStep() uint64               { return vm.currentStep }
func (vm *VirtualMachine) Trace() []TraceEntry               { return vm.trace }
func (vm *VirtualMachine) Logger() log.Logger                { return vm.log }
func (vm *VirtualMachine) ProgramBase() memory.Relocatable   { return vm.programBase }
func (vm *VirtualMachine) HintProcessor() HintProcessor      { return vm.hintProcessor }

// BuiltinRunner returns the runner of name, if present.
func (vm *VirtualMachine) BuiltinRunner(name builtins.Name) (builtins.Runner, bool) {
	for _, r := range vm.runners {
		if r.Name() == name {
			return r, true
		}
	}
	return nil, false
}

// RcLimits returns the smallest and largest biased instruction offsets
// executed so far.
func (vm *VirtualMachine) RcLimits() (uint64, uint64, bool) {
	if vm.rcMin > vm.rcMax {
		return 0, 0, false
	}
	return vm.rcMin, vm.rcMax, true
}

// Step runs the hints at pc and then the instruction at pc.
func (vm *VirtualMachine) Step() error {
	if vm.finished {
		return ErrRunFinished
	}
	pc := vm.ctx.PC
	if pc.Segment == vm.programBase.Segment && pc.Offset >= vm.programBase.Offset {
		for _, h := range vm.hints[pc.Offset-vm.programBase.Offset] {
			if err := vm.hintProcessor.ExecuteHint(vm, h); err != nil {
				return &VMException{PC: pc, Err: fmt.Errorf("%w: %w", ErrHint, err)}
			}
		}
	}
	inst, err := vm.decodeCurrentInstruction()
	if err != nil {
		return &VMException{PC: pc, Err: err}
	}
	if err := vm.runInstruction(inst); err != nil {
		return &VMException{PC: pc, Err: err}
	}
	return nil
}

func (vm *VirtualMachine) decodeCurrentInstruction() (*instruction.Instruction, error) {
	pc := vm.ctx.PC
	if inst, ok := vm.instCache[pc]; ok {
		return inst, nil
	}
	word, err := vm.segments.Memory.ReadFelt(pc)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch instruction: %w", err)
	}
	encoding, ok := word.Uint64()
	if !ok {
		return nil, &instruction.DecodeError{Encoding: math.MaxUint64, Reason: fmt.Sprintf("instruction word %s does not fit in 63 bits", word)}
	}
	var imm *felt.Felt
	if instruction.HasImmediate(encoding) {
		v, err := vm.segments.Memory.ReadFelt(pc.AddUint(1))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch immediate: %w", err)
		}
		imm = &v
	}
	inst, err := instruction.Decode(encoding, imm)
	if err != nil {
		return nil, err
	}
	for _, off := range instruction.BiasedOffsets(encoding) {
		vm.rcMin = min(vm.rcMin, off)
		vm.rcMax = max(vm.rcMax, off)
	}
	vm.instCache[pc] = inst
	return inst, nil
}

type operands struct {
	dst, op0, op1 memory.MaybeRelocatable
	// res is nil when unconstrained
	res *memory.MaybeRelocatable

	dstAddr, op0Addr, op1Addr memory.Relocatable
}

func (vm *VirtualMachine) runInstruction(inst *instruction.Instruction) error {
	ops, err := vm.computeOperands(inst)
	if err != nil {
		return err
	}
	if err := vm.opcodeAssertions(inst, ops); err != nil {
		return err
	}
	if vm.tracing {
		vm.trace = append(vm.trace, TraceEntry{PC: vm.ctx.PC, AP: vm.ctx.AP, FP: vm.ctx.FP})
	}
	mem := vm.segments.Memory
	mem.MarkAccessed(ops.dstAddr)
	mem.MarkAccessed(ops.op0Addr)
	mem.MarkAccessed(ops.op1Addr)
	for i := uint64(0); i < inst.Size(); i++ {
		mem.MarkAccessed(vm.ctx.PC.AddUint(i))
	}
	if err := vm.updateRegisters(inst, ops); err != nil {
		return err
	}
	vm.currentStep++
	return nil
}

// deduceMemoryCell asks the builtin owning addr, if any, for its value.
func (vm *VirtualMachine) deduceMemoryCell(addr memory.Relocatable) (*memory.MaybeRelocatable, error) {
	r, ok := vm.bySegment[addr.Segment]
	if !ok {
		return nil, nil
	}
	v, ok, err := r.DeduceMemoryCell(addr, vm.segments.Memory)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func (vm *VirtualMachine) computeOperands(inst *instruction.Instruction) (*operands, error) {
	mem := vm.segments.Memory
	ops := &operands{}
	var err error

	if ops.dstAddr, err = vm.ctx.DstAddr(inst); err != nil {
		return nil, fmt.Errorf("%w: dst: %w", ErrUnknownOperand, err)
	}
	var dst *memory.MaybeRelocatable
	if v, ok := mem.Get(ops.dstAddr); ok {
		dst = &v
	}

	if ops.op0Addr, err = vm.ctx.Op0Addr(inst); err != nil {
		return nil, fmt.Errorf("%w: op0: %w", ErrUnknownOperand, err)
	}
	var op0 *memory.MaybeRelocatable
	if v, ok := mem.Get(ops.op0Addr); ok {
		op0 = &v
	}
	writeOp0 := op0 == nil
	if op0 == nil {
		if op0, err = vm.deduceMemoryCell(ops.op0Addr); err != nil {
			return nil, err
		}
	}

	var op1 *memory.MaybeRelocatable
	var res *memory.MaybeRelocatable
	if op0 == nil && inst.Op1Addr != instruction.Op1SrcOp0 {
		// op0 may be deducible from op1, which does not depend on it here.
		if ops.op1Addr, err = vm.ctx.Op1Addr(inst, nil); err != nil {
			return nil, err
		}
		if v, ok := mem.Get(ops.op1Addr); ok {
			op1 = &v
		}
		if op1 == nil {
			if op1, err = vm.deduceMemoryCell(ops.op1Addr); err != nil {
				return nil, err
			}
		}
		if op0, res, err = vm.deduceOp0(inst, dst, op1); err != nil {
			return nil, err
		}
	} else if op0 == nil {
		if op0, res, err = vm.deduceOp0(inst, dst, nil); err != nil {
			return nil, err
		}
	}
	if op0 == nil {
		return nil, fmt.Errorf("%w: failed to compute op0 at %s", ErrUnknownOperand, ops.op0Addr)
	}

	if ops.op1Addr, err = vm.ctx.Op1Addr(inst, op0); err != nil {
		return nil, err
	}
	op1 = nil
	if v, ok := mem.Get(ops.op1Addr); ok {
		op1 = &v
	}
	writeOp1 := op1 == nil
	if op1 == nil {
		if op1, err = vm.deduceMemoryCell(ops.op1Addr); err != nil {
			return nil, err
		}
	}
	if op1 == nil {
		var deducedRes *memory.MaybeRelocatable
		if op1, deducedRes, err = vm.deduceOp1(inst, dst, op0); err != nil {
			return nil, err
		}
		if res == nil {
			res = deducedRes
		}
	}
	if op1 == nil {
		return nil, fmt.Errorf("%w: failed to compute op1 at %s", ErrUnknownOperand, ops.op1Addr)
	}

	if res == nil {
		if res, err = computeRes(inst, *op0, *op1); err != nil {
			return nil, err
		}
	}

	writeDst := dst == nil
	if dst == nil {
		switch {
		case inst.Opcode == instruction.OpcodeAssertEq && res != nil:
			dst = res
		case inst.Opcode == instruction.OpcodeCall:
			fp := memory.FromRelocatable(vm.ctx.FP)
			dst = &fp
		default:
			return nil, fmt.Errorf("%w: failed to compute dst at %s", ErrUnknownOperand, ops.dstAddr)
		}
	}

	if writeDst {
		if err := mem.Write(ops.dstAddr, *dst); err != nil {
			return nil, err
		}
	}
	if writeOp0 {
		if err := mem.Write(ops.op0Addr, *op0); err != nil {
			return nil, err
		}
	}
	if writeOp1 {
		if err := mem.Write(ops.op1Addr, *op1); err != nil {
			return nil, err
		}
	}
	ops.dst, ops.op0, ops.op1, ops.res = *dst, *op0, *op1, res
	return ops, nil
}

// deduceOp0 infers op0 from the opcode, dst and op1. It also returns res
// when the deduction fixes it.
func (vm *VirtualMachine) deduceOp0(inst *instruction.Instruction, dst, op1 *memory.MaybeRelocatable) (*memory.MaybeRelocatable, *memory.MaybeRelocatable, error) {
	switch inst.Opcode {
	case instruction.OpcodeCall:
		ret := memory.FromRelocatable(vm.ctx.PC.AddUint(inst.Size()))
		return &ret, nil, nil
	case instruction.OpcodeAssertEq:
		if dst == nil || op1 == nil {
			return nil, nil, nil
		}
		switch inst.Res {
		case instruction.ResAdd:
			v, err := dst.Sub(*op1)
			if err != nil {
				return nil, nil, err
			}
			return &v, dst, nil
		case instruction.ResMul:
			v, ok := divide(*dst, *op1)
			if !ok {
				return nil, nil, nil
			}
			return &v, dst, nil
		}
	}
	return nil, nil, nil
}

// deduceOp1 infers op1 from the opcode, dst and op0.
func (vm *VirtualMachine) deduceOp1(inst *instruction.Instruction, dst, op0 *memory.MaybeRelocatable) (*memory.MaybeRelocatable, *memory.MaybeRelocatable, error) {
	if inst.Opcode != instruction.OpcodeAssertEq || dst == nil {
		return nil, nil, nil
	}
	switch inst.Res {
	case instruction.ResOp1:
		return dst, dst, nil
	case instruction.ResAdd:
		if op0 == nil {
			return nil, nil, nil
		}
		v, err := dst.Sub(*op0)
		if err != nil {
			return nil, nil, err
		}
		return &v, dst, nil
	case instruction.ResMul:
		if op0 == nil {
			return nil, nil, nil
		}
		v, ok := divide(*dst, *op0)
		if !ok {
			return nil, nil, nil
		}
		return &v, dst, nil
	}
	return nil, nil, nil
}

// divide returns a/b for felts with b != 0.
func divide(a, b memory.MaybeRelocatable) (memory.MaybeRelocatable, bool) {
	fa, okA := a.Felt()
	fb, okB := b.Felt()
	if !okA || !okB || fb.IsZero() {
		return memory.MaybeRelocatable{}, false
	}
	q, err := fa.Div(fb)
	if err != nil {
		return memory.MaybeRelocatable{}, false
	}
	return memory.FromFelt(q), true
}

func computeRes(inst *instruction.Instruction, op0, op1 memory.MaybeRelocatable) (*memory.MaybeRelocatable, error) {
	var res memory.MaybeRelocatable
	var err error
	switch inst.Res {
	case instruction.ResOp1:
		res = op1
	case instruction.ResAdd:
		res, err = op0.Add(op1)
	case instruction.ResMul:
		res, err = op0.Mul(op1)
	case instruction.ResUnconstrained:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRes, err)
	}
	return &res, nil
}

func (vm *VirtualMachine) opcodeAssertions(inst *instruction.Instruction, ops *operands) error {
	switch inst.Opcode {
	case instruction.OpcodeAssertEq:
		if ops.res == nil {
			return fmt.Errorf("%w: assert_eq with an unconstrained res", ErrInvalidRes)
		}
		if !ops.dst.Equal(*ops.res) {
			return &AssertionError{Dst: ops.dst, Res: *ops.res}
		}
	case instruction.OpcodeCall:
		ret := memory.FromRelocatable(vm.ctx.PC.AddUint(inst.Size()))
		if !ops.op0.Equal(ret) {
			return fmt.Errorf("%w: return pc %s, op0 %s", ErrInvalidCall, ret, ops.op0)
		}
		if fp := memory.FromRelocatable(vm.ctx.FP); !ops.dst.Equal(fp) {
			return fmt.Errorf("%w: return fp %s, dst %s", ErrInvalidCall, fp, ops.dst)
		}
	}
	return nil
}

func (vm *VirtualMachine) updateRegisters(inst *instruction.Instruction, ops *operands) error {
	next := vm.ctx

	switch inst.FpUpdate {
	case instruction.FpUpdateAPPlus2:
		next.FP = vm.ctx.AP.AddUint(2)
	case instruction.FpUpdateDst:
		if r, ok := ops.dst.Relocatable(); ok {
			next.FP = r
		} else {
			f, _ := ops.dst.Felt()
			fp, err := vm.ctx.FP.AddFelt(f)
			if err != nil {
				return err
			}
			next.FP = fp
		}
	}

	switch inst.ApUpdate {
	case instruction.ApUpdateAdd:
		if ops.res == nil {
			return fmt.Errorf("%w: ap += res with an unconstrained res", ErrInvalidRes)
		}
		f, ok := ops.res.Felt()
		if !ok {
			return fmt.Errorf("%w: ap += %s", ErrInvalidRes, ops.res)
		}
		ap, err := vm.ctx.AP.AddFelt(f)
		if err != nil {
			return err
		}
		next.AP = ap
	case instruction.ApUpdateAdd1:
		next.AP = vm.ctx.AP.AddUint(1)
	case instruction.ApUpdateAdd2:
		next.AP = vm.ctx.AP.AddUint(2)
	}

	switch inst.PcUpdate {
	case instruction.PcUpdateRegular:
		next.PC = vm.ctx.PC.AddUint(inst.Size())
	case instruction.PcUpdateJump:
		if ops.res == nil {
			return fmt.Errorf("%w: jump with an unconstrained res", ErrInvalidRes)
		}
		r, ok := ops.res.Relocatable()
		if !ok {
			return fmt.Errorf("%w: absolute jump to %s, expected an address", ErrInvalidRes, ops.res)
		}
		next.PC = r
	case instruction.PcUpdateJumpRel:
		if ops.res == nil {
			return fmt.Errorf("%w: relative jump with an unconstrained res", ErrInvalidRes)
		}
		f, ok := ops.res.Felt()
		if !ok {
			return fmt.Errorf("%w: relative jump by %s, expected a field element", ErrInvalidRes, ops.res)
		}
		pc, err := vm.ctx.PC.AddFelt(f)
		if err != nil {
			return err
		}
		next.PC = pc
	case instruction.PcUpdateJnz:
		if ops.dst.IsZero() {
			next.PC = vm.ctx.PC.AddUint(inst.Size())
			break
		}
		f, ok := ops.op1.Felt()
		if !ok {
			return fmt.Errorf("%w: jump offset %s is not a field element", ErrInvalidJnz, ops.op1)
		}
		pc, err := vm.ctx.PC.AddFelt(f)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidJnz, err)
		}
		next.PC = pc
	}

	vm.ctx = next
	return nil
}

// RunUntilPC steps until pc reaches end. The step budget is checked before
// every fetch, cancellation of ctx every few steps.
func (vm *VirtualMachine) RunUntilPC(ctx context.Context, end memory.Relocatable, resources *RunResources) error {
	for vm.ctx.PC != end {
		if resources.Consumed() {
			return &VMException{PC: vm.ctx.PC, Err: ErrOutOfResources}
		}
		if vm.currentStep%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := vm.Step(); err != nil {
			return err
		}
		resources.ConsumeStep()
	}
	return nil
}

// RunSteps executes exactly n steps.
func (vm *VirtualMachine) RunSteps(ctx context.Context, n uint64) error {
	for i := uint64(0); i < n; i++ {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := vm.Step(); err != nil {
			return err
		}
	}
	return nil
}

// VerifyAutoDeductions checks every builtin cell against its deduction.
func (vm *VirtualMachine) VerifyAutoDeductions() error {
	mem := vm.segments.Memory
	for _, r := range vm.runners {
		for _, off := range mem.Offsets(r.Base().Segment) {
			addr := r.Base().AddUint(off)
			want, ok, err := r.DeduceMemoryCell(addr, mem)
			if err != nil {
				return fmt.Errorf("%s builtin at %s: %w", r.Name(), addr, err)
			}
			if !ok {
				continue
			}
			if got, _ := mem.Get(addr); !got.Equal(want) {
				return fmt.Errorf("%w: %s builtin at %s: expected %s, found %s", ErrInconsistentAutoDeduction, r.Name(), addr, want, got)
			}
		}
	}
	return nil
}

// EndRun verifies auto-deductions and freezes memory.
func (vm *VirtualMachine) EndRun() error {
	if vm.finished {
		return ErrRunFinished
	}
	if err := vm.VerifyAutoDeductions(); err != nil {
		return err
	}
	vm.finished = true
	vm.segments.Memory.Freeze()
	vm.log.Debug("VM run ended", "steps", vm.currentStep, "pc", vm.ctx.PC, "ap", vm.ctx.AP, "fp", vm.ctx.FP)
	return nil
}

func (vm *VirtualMachine) Finished() bool { return vm.finished }

// RelocateTrace resolves the trace registers against a relocation table.
func (vm *VirtualMachine) RelocateTrace(table []uint64) ([]RelocatedTraceEntry, error) {
	if !vm.tracing {
		return nil, errors.New("trace was not enabled")
	}
	out := make([]RelocatedTraceEntry, len(vm.trace))
	for i, e := range vm.trace {
		var regs [3]uint64
		for j, r := range []memory.Relocatable{e.PC, e.AP, e.FP} {
			f, err := memory.RelocateValue(memory.FromRelocatable(r), table)
			if err != nil {
				return nil, err
			}
			regs[j], _ = f.Uint64()
		}
		out[i] = RelocatedTraceEntry{PC: regs[0], AP: regs[1], FP: regs[2]}
	}
	return out, nil
}
