package hints

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/cairovm/cairogo/builtins"
	"github.com/ethereum-optimism/cairovm/cairogo/felt"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
	"github.com/ethereum-optimism/cairovm/cairogo/program"
	"github.com/ethereum-optimism/cairovm/cairogo/vm"
)

// Context is what a hint sees while it runs. Registers are read-only.
type Context struct {
	vm     *vm.VirtualMachine
	hint   *Hint
	prog   *program.Program
	scopes *Scopes
}

func (c *Context) AP() memory.Relocatable { return c.vm.Context().AP }
func (c *Context) FP() memory.Relocatable { return c.vm.Context().FP }
func (c *Context) PC() memory.Relocatable { return c.vm.Context().PC }

func (c *Context) Scopes() *Scopes { return c.scopes }

func (c *Context) Logger() log.Logger { return c.vm.Logger() }

func (c *Context) Memory() *memory.Memory { return c.vm.Memory() }

func (c *Context) Read(addr memory.Relocatable) (memory.MaybeRelocatable, error) {
	return c.vm.Memory().Read(addr)
}

func (c *Context) Write(addr memory.Relocatable, v memory.MaybeRelocatable) error {
	return c.vm.Memory().Write(addr, v)
}

func (c *Context) AddSegment() memory.Relocatable {
	return c.vm.Segments().AddSegment()
}

// Builtin returns the runner of a builtin in use by the program.
func (c *Context) Builtin(name builtins.Name) (builtins.Runner, error) {
	r, ok := c.vm.BuiltinRunner(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingBuiltin, name)
	}
	return r, nil
}

func (c *Context) reference(name string) (*Reference, error) {
	ref, ok := c.hint.IDs[name]
	if !ok {
		return nil, fmt.Errorf("%w: ids.%s", ErrUnknownID, name)
	}
	return ref, nil
}

func (c *Context) eval(ref *Reference) (memory.MaybeRelocatable, error) {
	rc := c.vm.Context()
	return ref.eval(registers{ap: rc.AP, fp: rc.FP}, c.hint.APTracking, c.vm.Memory())
}

// Address returns the address of the cell holding ids.name.
func (c *Context) Address(name string) (memory.Relocatable, error) {
	ref, err := c.reference(name)
	if err != nil {
		return memory.Relocatable{}, err
	}
	if !ref.Dereference {
		return memory.Relocatable{}, fmt.Errorf("%w: ids.%s", ErrNotAddressable, name)
	}
	v, err := c.eval(ref)
	if err != nil {
		return memory.Relocatable{}, fmt.Errorf("ids.%s: %w", name, err)
	}
	addr, ok := v.Relocatable()
	if !ok {
		return memory.Relocatable{}, fmt.Errorf("%w: ids.%s evaluates to %s", ErrNotAddressable, name, v)
	}
	return addr, nil
}

// Get returns the value of ids.name.
func (c *Context) Get(name string) (memory.MaybeRelocatable, error) {
	ref, err := c.reference(name)
	if err != nil {
		return memory.MaybeRelocatable{}, err
	}
	if !ref.Dereference {
		return c.eval(ref)
	}
	addr, err := c.Address(name)
	if err != nil {
		return memory.MaybeRelocatable{}, err
	}
	return c.vm.Memory().Read(addr)
}

func (c *Context) GetFelt(name string) (felt.Felt, error) {
	v, err := c.Get(name)
	if err != nil {
		return felt.Felt{}, err
	}
	f, ok := v.Felt()
	if !ok {
		return felt.Felt{}, fmt.Errorf("%w: ids.%s = %s, expected a field element", ErrUnexpectedIDValue, name, v)
	}
	return f, nil
}

func (c *Context) GetRelocatable(name string) (memory.Relocatable, error) {
	v, err := c.Get(name)
	if err != nil {
		return memory.Relocatable{}, err
	}
	r, ok := v.Relocatable()
	if !ok {
		return memory.Relocatable{}, fmt.Errorf("%w: ids.%s = %s, expected an address", ErrUnexpectedIDValue, name, v)
	}
	return r, nil
}

// Set assigns ids.name.
func (c *Context) Set(name string, v memory.MaybeRelocatable) error {
	addr, err := c.Address(name)
	if err != nil {
		return err
	}
	return c.vm.Memory().Write(addr, v)
}

// Constant resolves a constant the way the hint's code sees it, trying the
// accessible scopes from the innermost out.
func (c *Context) Constant(name string) (felt.Felt, error) {
	if c.prog == nil {
		return felt.Felt{}, fmt.Errorf("%w: %s", ErrUnknownID, name)
	}
	for i := len(c.hint.AccessibleScopes) - 1; i >= 0; i-- {
		if v, err := c.prog.Constant(c.hint.AccessibleScopes[i] + "." + name); err == nil {
			return v, nil
		}
	}
	return c.prog.Constant(name)
}
