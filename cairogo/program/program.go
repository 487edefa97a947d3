// Package program loads compiled Cairo programs in the JSON format
// produced by cairo-compile.
package program

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum-optimism/cairovm/cairogo/builtins"
	"github.com/ethereum-optimism/cairovm/cairogo/felt"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

var (
	ErrUnsupportedPrime  = errors.New("program prime is not the STARK prime")
	ErrUnknownIdentifier = errors.New("unknown identifier")
	ErrNotALabel         = errors.New("identifier has no pc")
)

// maxAliasDepth bounds alias chains, which are acyclic in valid programs.
const maxAliasDepth = 100

type APTracking struct {
	Group  int `json:"group"`
	Offset int `json:"offset"`
}

type FlowTrackingData struct {
	APTracking   APTracking     `json:"ap_tracking"`
	ReferenceIDs map[string]int `json:"reference_ids"`
}

// HintParams is a hint attached to a pc, as compiled.
type HintParams struct {
	Code             string           `json:"code"`
	AccessibleScopes []string         `json:"accessible_scopes"`
	FlowTrackingData FlowTrackingData `json:"flow_tracking_data"`
}

// Reference is a reference manager entry: an expression such as
// "[cast(fp + (-3), felt*)]" valid from pc onward.
type Reference struct {
	APTrackingData APTracking `json:"ap_tracking_data"`
	PC             uint64     `json:"pc"`
	Value          string     `json:"value"`
}

type Member struct {
	CairoType string `json:"cairo_type"`
	Offset    int    `json:"offset"`
}

type Identifier struct {
	Type        string            `json:"type"`
	PC          *uint64           `json:"pc,omitempty"`
	Destination string            `json:"destination,omitempty"`
	FullName    string            `json:"full_name,omitempty"`
	CairoType   string            `json:"cairo_type,omitempty"`
	Members     map[string]Member `json:"members,omitempty"`
	Size        *uint64           `json:"size,omitempty"`
	Decorators  []string          `json:"decorators,omitempty"`
	References  []Reference       `json:"references,omitempty"`
	// Value holds the value of constants. Constants may exceed 64 bits and
	// are kept as raw JSON numbers.
	Value json.RawMessage `json:"value,omitempty"`
}

type InputFile struct {
	Filename string `json:"filename"`
}

type Location struct {
	StartLine      int             `json:"start_line"`
	StartCol       int             `json:"start_col"`
	EndLine        int             `json:"end_line"`
	EndCol         int             `json:"end_col"`
	InputFile      InputFile       `json:"input_file"`
	ParentLocation json.RawMessage `json:"parent_location,omitempty"`
}

func (l *Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.InputFile.Filename, l.StartLine, l.StartCol)
}

type InstructionLocation struct {
	Inst             Location         `json:"inst"`
	AccessibleScopes []string         `json:"accessible_scopes"`
	FlowTrackingData FlowTrackingData `json:"flow_tracking_data"`
}

type DebugInfo struct {
	InstructionLocations map[uint64]InstructionLocation `json:"instruction_locations"`
	FileContents         map[string]string              `json:"file_contents"`
}

type referenceManager struct {
	References []Reference `json:"references"`
}

type jsonProgram struct {
	Prime            string                  `json:"prime"`
	Data             []felt.Felt             `json:"data"`
	Builtins         []string                `json:"builtins"`
	Hints            map[uint64][]HintParams `json:"hints"`
	Identifiers      map[string]Identifier   `json:"identifiers"`
	ReferenceManager referenceManager        `json:"reference_manager"`
	MainScope        string                  `json:"main_scope"`
	DebugInfo        *DebugInfo              `json:"debug_info"`
	CompilerVersion  string                  `json:"compiler_version"`
}

type Program struct {
	Data        []felt.Felt
	Builtins    []builtins.Name
	Hints       map[uint64][]HintParams
	Identifiers map[string]Identifier
	References  []Reference
	MainScope   string
	DebugInfo   *DebugInfo

	CompilerVersion string
}

func Load(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse program %q: %w", path, err)
	}
	return p, nil
}

func Parse(data []byte) (*Program, error) {
	var raw jsonProgram
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if !strings.EqualFold(strings.TrimPrefix(raw.Prime, "0x"), felt.Prime().Text(16)) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPrime, raw.Prime)
	}
	p := &Program{
		Data:            raw.Data,
		Hints:           raw.Hints,
		Identifiers:     raw.Identifiers,
		References:      raw.ReferenceManager.References,
		MainScope:       raw.MainScope,
		DebugInfo:       raw.DebugInfo,
		CompilerVersion: raw.CompilerVersion,
	}
	if p.MainScope == "" {
		p.MainScope = "__main__"
	}
	if p.Hints == nil {
		p.Hints = make(map[uint64][]HintParams)
	}
	if p.Identifiers == nil {
		p.Identifiers = make(map[string]Identifier)
	}
	for _, b := range raw.Builtins {
		name, err := builtins.ParseName(b)
		if err != nil {
			return nil, err
		}
		p.Builtins = append(p.Builtins, name)
	}
	if err := builtins.CheckOrder(p.Builtins); err != nil {
		return nil, err
	}
	for pc := range p.Hints {
		if pc >= uint64(len(p.Data)) {
			return nil, fmt.Errorf("hint at pc %d is outside the program of length %d", pc, len(p.Data))
		}
	}
	return p, nil
}

// MemoryData returns the bytecode as memory values for the program segment.
func (p *Program) MemoryData() []memory.MaybeRelocatable {
	out := make([]memory.MaybeRelocatable, len(p.Data))
	for i, f := range p.Data {
		out[i] = memory.FromFelt(f)
	}
	return out
}

// Identifier resolves name, following aliases.
func (p *Program) Identifier(name string) (Identifier, error) {
	for i := 0; i < maxAliasDepth; i++ {
		id, ok := p.Identifiers[name]
		if !ok {
			return Identifier{}, fmt.Errorf("%w: %s", ErrUnknownIdentifier, name)
		}
		if id.Type != "alias" {
			return id, nil
		}
		name = id.Destination
	}
	return Identifier{}, fmt.Errorf("%w: alias chain of %s is too long", ErrUnknownIdentifier, name)
}

// Label returns the pc of a function or label.
func (p *Program) Label(name string) (uint64, error) {
	id, err := p.Identifier(name)
	if err != nil {
		return 0, err
	}
	if id.PC == nil {
		return 0, fmt.Errorf("%w: %s is a %s", ErrNotALabel, name, id.Type)
	}
	return *id.PC, nil
}

func (p *Program) Main() (uint64, error) { return p.Label(p.MainScope + ".main") }

// Start and End delimit the proof mode entry code.
func (p *Program) Start() (uint64, error) { return p.Label(p.MainScope + ".__start__") }

func (p *Program) End() (uint64, error) { return p.Label(p.MainScope + ".__end__") }

// Constant returns the value of a const identifier.
func (p *Program) Constant(name string) (felt.Felt, error) {
	id, err := p.Identifier(name)
	if err != nil {
		return felt.Felt{}, err
	}
	if id.Type != "const" || len(id.Value) == 0 {
		return felt.Felt{}, fmt.Errorf("%w: %s is not a constant", ErrUnknownIdentifier, name)
	}
	return felt.FromString(strings.Trim(string(id.Value), `"`))
}

// InstructionLocation returns the source location of the instruction at pc.
func (p *Program) InstructionLocation(pc uint64) (*InstructionLocation, bool) {
	if p.DebugInfo == nil {
		return nil, false
	}
	loc, ok := p.DebugInfo.InstructionLocations[pc]
	if !ok {
		return nil, false
	}
	return &loc, true
}
