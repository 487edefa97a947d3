// Package hints runs the nondeterministic hints attached to program pcs.
//
// Hint code is not interpreted. Each supported code string maps to a Go
// function that receives a Context exposing the hint's ids, memory and
// scopes.
package hints

import (
	"fmt"
	"strings"

	"github.com/ethereum-optimism/cairovm/cairogo/program"
	"github.com/ethereum-optimism/cairovm/cairogo/vm"
)

// Func implements a hint.
type Func func(ctx *Context) error

// Hint is a hint compiled for its pc.
type Hint struct {
	PC   uint64
	Code string
	// ids visible to the hint, by short name
	IDs              map[string]*Reference
	APTracking       program.APTracking
	AccessibleScopes []string

	fn Func
}

// Processor resolves hint codes to registered functions. A Processor holds
// the scopes of one run and must not be shared between runs.
type Processor struct {
	prog   *program.Program
	funcs  map[string]Func
	scopes *Scopes
}

var _ vm.HintProcessor = (*Processor)(nil)

// NewProcessor returns a processor for prog with the standard hint library
// registered.
func NewProcessor(prog *program.Program) *Processor {
	p := &Processor{
		prog:   prog,
		funcs:  make(map[string]Func),
		scopes: NewScopes(),
	}
	registerLibrary(p)
	return p
}

// Register binds code to fn, replacing any previous binding.
func (p *Processor) Register(code string, fn Func) {
	p.funcs[normalize(code)] = fn
}

func normalize(code string) string {
	return strings.TrimSpace(code)
}

func (p *Processor) Scopes() *Scopes { return p.scopes }

// CheckScopes fails unless every entered scope was exited.
func (p *Processor) CheckScopes() error {
	if d := p.scopes.Depth(); d != 1 {
		return fmt.Errorf("%w: %d scopes still open", ErrScopeNotExited, d-1)
	}
	return nil
}

func (p *Processor) CompileHint(pc uint64, params program.HintParams) (any, error) {
	fn, ok := p.funcs[normalize(params.Code)]
	if !ok {
		return nil, fmt.Errorf("%w at pc %d: %q", ErrUnknownHint, pc, params.Code)
	}
	h := &Hint{
		PC:               pc,
		Code:             params.Code,
		IDs:              make(map[string]*Reference, len(params.FlowTrackingData.ReferenceIDs)),
		APTracking:       params.FlowTrackingData.APTracking,
		AccessibleScopes: params.AccessibleScopes,
		fn:               fn,
	}
	for fullName, idx := range params.FlowTrackingData.ReferenceIDs {
		if p.prog == nil || idx < 0 || idx >= len(p.prog.References) {
			return nil, fmt.Errorf("%w: reference %d of %s at pc %d", ErrUnknownID, idx, fullName, pc)
		}
		r := p.prog.References[idx]
		ref, err := ParseReference(r.Value, r.APTrackingData)
		if err != nil {
			return nil, fmt.Errorf("hint at pc %d: %w", pc, err)
		}
		h.IDs[fullName[strings.LastIndex(fullName, ".")+1:]] = ref
	}
	return h, nil
}

func (p *Processor) ExecuteHint(machine *vm.VirtualMachine, hint any) error {
	h, ok := hint.(*Hint)
	if !ok {
		return fmt.Errorf("%w: unexpected compiled hint %T", ErrUnknownHint, hint)
	}
	return h.fn(&Context{vm: machine, hint: h, prog: p.prog, scopes: p.scopes})
}
