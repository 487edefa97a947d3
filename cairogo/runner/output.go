package runner

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum-optimism/cairovm/cairogo/builtins"
	"github.com/ethereum-optimism/cairovm/cairogo/felt"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
	"github.com/ethereum-optimism/cairovm/cairogo/pie"
	"github.com/ethereum-optimism/cairovm/cairogo/vm"
)

var ErrNotRelocated = errors.New("run was not relocated")

// Relocate flattens memory and, when tracing, the trace.
func (r *CairoRunner) Relocate() error {
	if !r.runEnded {
		return ErrRunNotEnded
	}
	mem, table, err := r.segments.RelocateMemory()
	if err != nil {
		return fmt.Errorf("failed to relocate memory: %w", err)
	}
	r.relocatedMemory, r.relocationTable = mem, table
	if r.cfg.Trace {
		if r.relocatedTrace, err = r.vm.RelocateTrace(table); err != nil {
			return fmt.Errorf("failed to relocate trace: %w", err)
		}
	}
	r.log.Debug("Relocated run", "memory_cells", len(mem), "trace_entries", len(r.relocatedTrace))
	return nil
}

func (r *CairoRunner) RelocatedMemory() memory.RelocatedMemory  { return r.relocatedMemory }
func (r *CairoRunner) RelocatedTrace() []vm.RelocatedTraceEntry { return r.relocatedTrace }
func (r *CairoRunner) RelocationTable() []uint64                { return r.relocationTable }

// WriteBinaryTrace writes the relocated trace as little-endian (ap, fp, pc)
// triples of 8 bytes each.
func (r *CairoRunner) WriteBinaryTrace(w io.Writer) error {
	if r.relocatedTrace == nil {
		return ErrNotRelocated
	}
	var buf [24]byte
	for _, e := range r.relocatedTrace {
		binary.LittleEndian.PutUint64(buf[0:], e.AP)
		binary.LittleEndian.PutUint64(buf[8:], e.FP)
		binary.LittleEndian.PutUint64(buf[16:], e.PC)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// WriteBinaryMemory writes each relocated cell as an 8 byte little-endian
// address followed by its 32 byte little-endian value.
func (r *CairoRunner) WriteBinaryMemory(w io.Writer) error {
	if r.relocatedMemory == nil {
		return ErrNotRelocated
	}
	var buf [memory.AddrSize + memory.FieldSize]byte
	for addr, v := range r.relocatedMemory {
		if v == nil {
			continue
		}
		binary.LittleEndian.PutUint64(buf[:memory.AddrSize], uint64(addr))
		b := v.Bytes32()
		copy(buf[memory.AddrSize:], b[:])
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// Output returns the values written to the output builtin.
func (r *CairoRunner) Output() ([]felt.Felt, error) {
	b, ok := r.BuiltinRunner(builtins.Output)
	if !ok {
		return nil, nil
	}
	return b.(*builtins.OutputRunner).Values(r.segments.Memory)
}

// CairoPie packs the finalized run. Runs started from main only.
func (r *CairoRunner) CairoPie() (*pie.CairoPie, error) {
	if r.cfg.ProofMode {
		return nil, errors.New("cairo pie is not supported in proof mode")
	}
	retFP, ok := r.returnFP.Relocatable()
	if !ok {
		return nil, errors.New("cairo pie requires a run started from main")
	}
	if err := r.FinalizeSegments(); err != nil {
		return nil, err
	}
	info := func(segment int) (pie.SegmentInfo, error) {
		size, err := r.segments.SegmentSize(segment)
		return pie.SegmentInfo{Index: segment, Size: size}, err
	}
	main, err := r.prog.Main()
	if err != nil {
		return nil, err
	}
	md := pie.Metadata{
		Program: pie.StrippedProgram{
			Data:     r.prog.Data,
			Builtins: r.prog.Builtins,
			Main:     main,
			Prime:    "0x" + felt.Prime().Text(16),
		},
		BuiltinSegments: make(map[string]pie.SegmentInfo),
	}
	known := make(map[int]bool)
	for _, s := range []struct {
		segment int
		dst     *pie.SegmentInfo
	}{
		{r.programBase.Segment, &md.ProgramSegment},
		{r.executionBase.Segment, &md.ExecutionSegment},
		{retFP.Segment, &md.RetFPSegment},
		{r.finalPC.Segment, &md.RetPCSegment},
	} {
		if *s.dst, err = info(s.segment); err != nil {
			return nil, err
		}
		known[s.segment] = true
	}
	additional := make(map[string]json.RawMessage)
	for _, b := range r.runners {
		if !b.Included() {
			continue
		}
		if md.BuiltinSegments[string(b.Name())], err = info(b.Base().Segment); err != nil {
			return nil, err
		}
		known[b.Base().Segment] = true
		if data := b.AdditionalData(); data != nil {
			raw, err := json.Marshal(data)
			if err != nil {
				return nil, fmt.Errorf("%s additional data: %w", b.Name(), err)
			}
			additional[b.Name().WithSuffix()] = raw
		}
	}
	for i := 0; i < r.segments.NumSegments(); i++ {
		if known[i] {
			continue
		}
		s, err := info(i)
		if err != nil {
			return nil, err
		}
		md.ExtraSegments = append(md.ExtraSegments, s)
	}
	resources, err := r.ExecutionResources()
	if err != nil {
		return nil, err
	}
	return &pie.CairoPie{
		Metadata:           md,
		Memory:             r.segments.Memory,
		ExecutionResources: *resources,
		AdditionalData:     additional,
		Version:            map[string]string{"cairo_pie": pie.Version},
	}, nil
}
