// Package pie reads and writes Cairo PIEs: the memory, segment layout and
// resources of a run, packed so the run can be re-checked without the
// program source.
package pie

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zip"

	"github.com/ethereum-optimism/cairovm/cairogo/builtins"
	"github.com/ethereum-optimism/cairovm/cairogo/felt"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

const (
	metadataFile           = "metadata.json"
	memoryFile             = "memory.bin"
	executionResourcesFile = "execution_resources.json"
	additionalDataFile     = "additional_data.json"
	versionFile            = "version.json"

	Version = "1.1"
)

var ErrInvalidPie = errors.New("invalid cairo pie")

type SegmentInfo struct {
	Index int    `json:"index"`
	Size  uint64 `json:"size"`
}

// StrippedProgram is the part of a program needed to re-run it.
type StrippedProgram struct {
	Data     []felt.Felt     `json:"data"`
	Builtins []builtins.Name `json:"builtins"`
	Main     uint64          `json:"main"`
	Prime    string          `json:"prime"`
}

type Metadata struct {
	Program          StrippedProgram        `json:"program"`
	ProgramSegment   SegmentInfo            `json:"program_segment"`
	ExecutionSegment SegmentInfo            `json:"execution_segment"`
	RetFPSegment     SegmentInfo            `json:"ret_fp_segment"`
	RetPCSegment     SegmentInfo            `json:"ret_pc_segment"`
	BuiltinSegments  map[string]SegmentInfo `json:"builtin_segments"`
	ExtraSegments    []SegmentInfo          `json:"extra_segments"`
}

// ExecutionResources summarizes a run.
type ExecutionResources struct {
	NSteps                 uint64            `json:"n_steps"`
	BuiltinInstanceCounter map[string]uint64 `json:"builtin_instance_counter"`
	NMemoryHoles           uint64            `json:"n_memory_holes"`
}

type CairoPie struct {
	Metadata           Metadata
	Memory             *memory.Memory
	ExecutionResources ExecutionResources
	AdditionalData     map[string]json.RawMessage
	Version            map[string]string
}

// Write packs the PIE into a zip archive.
func (p *CairoPie) Write(w io.Writer) error {
	zw := zip.NewWriter(w)
	add := func(name string, write func(io.Writer) error) error {
		f, err := zw.Create(name)
		if err != nil {
			return err
		}
		if err := write(f); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		return nil
	}
	jsonOf := func(v any) func(io.Writer) error {
		return func(w io.Writer) error {
			return json.NewEncoder(w).Encode(v)
		}
	}
	version := p.Version
	if version == nil {
		version = map[string]string{"cairo_pie": Version}
	}
	steps := []struct {
		name  string
		write func(io.Writer) error
	}{
		{metadataFile, jsonOf(p.Metadata)},
		{memoryFile, p.Memory.Serialize},
		{executionResourcesFile, jsonOf(p.ExecutionResources)},
		{additionalDataFile, jsonOf(p.AdditionalData)},
		{versionFile, jsonOf(version)},
	}
	for _, s := range steps {
		if err := add(s.name, s.write); err != nil {
			return err
		}
	}
	return zw.Close()
}

func (p *CairoPie) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", path, err)
	}
	if err := p.Write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Read unpacks a PIE archive of the given size.
func Read(r io.ReaderAt, size int64) (*CairoPie, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPie, err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	open := func(name string) (io.ReadCloser, error) {
		f, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidPie, name)
		}
		return f.Open()
	}
	decode := func(name string, v any) error {
		rc, err := open(name)
		if err != nil {
			return err
		}
		defer rc.Close()
		if err := json.NewDecoder(rc).Decode(v); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidPie, name, err)
		}
		return nil
	}

	p := &CairoPie{Memory: memory.NewMemory()}
	if err := decode(metadataFile, &p.Metadata); err != nil {
		return nil, err
	}
	if err := decode(executionResourcesFile, &p.ExecutionResources); err != nil {
		return nil, err
	}
	if err := decode(additionalDataFile, &p.AdditionalData); err != nil {
		return nil, err
	}
	if err := decode(versionFile, &p.Version); err != nil {
		return nil, err
	}
	rc, err := open(memoryFile)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if err := p.Memory.Deserialize(rc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPie, memoryFile, err)
	}
	return p, nil
}

func ReadFile(path string) (*CairoPie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return Read(f, info.Size())
}

// segments returns every declared segment in index order.
func (m *Metadata) segments() []SegmentInfo {
	out := []SegmentInfo{m.ProgramSegment, m.ExecutionSegment, m.RetFPSegment, m.RetPCSegment}
	for _, s := range m.BuiltinSegments {
		out = append(out, s)
	}
	out = append(out, m.ExtraSegments...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (m *Metadata) runValidityChecks() error {
	if m.ProgramSegment.Size != uint64(len(m.Program.Data)) {
		return fmt.Errorf("%w: program length mismatch, segment size %d, program length %d",
			ErrInvalidPie, m.ProgramSegment.Size, len(m.Program.Data))
	}
	if m.ProgramSegment.Index != 0 || m.ExecutionSegment.Index != 1 {
		return fmt.Errorf("%w: program and execution segments must come first", ErrInvalidPie)
	}
	for i, s := range m.segments() {
		if s.Index != i {
			return fmt.Errorf("%w: segment indices are not consecutive, expected %d, found %d", ErrInvalidPie, i, s.Index)
		}
	}
	return nil
}

// RunValidityChecks verifies that the metadata, memory and resources are
// consistent with each other.
func (p *CairoPie) RunValidityChecks() error {
	if err := p.Metadata.runValidityChecks(); err != nil {
		return err
	}
	segs := p.Metadata.segments()
	err := p.Memory.ForEach(func(addr memory.Relocatable, value memory.MaybeRelocatable) error {
		if addr.Segment >= len(segs) || addr.Offset >= segs[addr.Segment].Size {
			return fmt.Errorf("%w: address %s lies outside its segment", ErrInvalidPie, addr)
		}
		if r, ok := value.Relocatable(); ok && (r.Segment < 0 || r.Segment >= len(segs)) {
			return fmt.Errorf("%w: value %s at %s points to an unknown segment", ErrInvalidPie, value, addr)
		}
		return nil
	})
	if err != nil {
		return err
	}

	want := make(map[string]bool, len(p.Metadata.Program.Builtins))
	for _, b := range p.Metadata.Program.Builtins {
		want[string(b)] = true
	}
	if !sameKeys(want, p.Metadata.BuiltinSegments) {
		return fmt.Errorf("%w: builtin list mismatch in builtin_segments", ErrInvalidPie)
	}
	suffixed := make(map[string]bool, len(want))
	for _, b := range p.Metadata.Program.Builtins {
		suffixed[b.WithSuffix()] = true
	}
	if !sameKeys(suffixed, p.ExecutionResources.BuiltinInstanceCounter) {
		return fmt.Errorf("%w: builtin list mismatch in execution_resources", ErrInvalidPie)
	}
	return nil
}

func sameKeys[V any](want map[string]bool, got map[string]V) bool {
	if len(want) != len(got) {
		return false
	}
	for k := range got {
		if !want[k] {
			return false
		}
	}
	return true
}
