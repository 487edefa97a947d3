// Package layout holds the builtin ratios and memory parameters of the
// supported Cairo layouts.
package layout

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum-optimism/cairovm/cairogo/builtins"
)

var ErrUnknownLayout = errors.New("unknown layout")

// Builtin is a builtin present in a layout.
type Builtin struct {
	Name builtins.Name
	Def  builtins.InstanceDef
}

type Layout struct {
	Name string
	// RcUnits is the number of range-check units per step.
	RcUnits              uint64
	MemoryUnitsPerStep   uint64
	PublicMemoryFraction uint64
	// Builtins in canonical order.
	Builtins []Builtin
}

// Builtin returns the definition of name, if the layout has it.
func (l *Layout) Builtin(name builtins.Name) (builtins.InstanceDef, bool) {
	for _, b := range l.Builtins {
		if b.Name == name {
			return b.Def, true
		}
	}
	return builtins.InstanceDef{}, false
}

func modDef(ratio uint64) builtins.InstanceDef {
	return builtins.InstanceDef{Ratio: ratio, WordBitLen: 96, NWords: 4, BatchSize: 1}
}

var layouts = map[string]*Layout{
	"plain": {
		Name: "plain", RcUnits: 16, MemoryUnitsPerStep: 8, PublicMemoryFraction: 4,
	},
	"small": {
		Name: "small", RcUnits: 16, MemoryUnitsPerStep: 8, PublicMemoryFraction: 4,
		Builtins: []Builtin{
			{builtins.Output, builtins.InstanceDef{}},
			{builtins.Pedersen, builtins.InstanceDef{Ratio: 8}},
			{builtins.RangeCheck, builtins.InstanceDef{Ratio: 8}},
			{builtins.ECDSA, builtins.InstanceDef{Ratio: 512}},
		},
	},
	"recursive": {
		Name: "recursive", RcUnits: 4, MemoryUnitsPerStep: 8, PublicMemoryFraction: 8,
		Builtins: []Builtin{
			{builtins.Output, builtins.InstanceDef{}},
			{builtins.Pedersen, builtins.InstanceDef{Ratio: 128}},
			{builtins.RangeCheck, builtins.InstanceDef{Ratio: 8}},
			{builtins.Bitwise, builtins.InstanceDef{Ratio: 8}},
		},
	},
	// poseidon is left out until it is supported.
	"starknet": {
		Name: "starknet", RcUnits: 4, MemoryUnitsPerStep: 8, PublicMemoryFraction: 8,
		Builtins: []Builtin{
			{builtins.Output, builtins.InstanceDef{}},
			{builtins.Pedersen, builtins.InstanceDef{Ratio: 32}},
			{builtins.RangeCheck, builtins.InstanceDef{Ratio: 16}},
			{builtins.ECDSA, builtins.InstanceDef{Ratio: 2048}},
			{builtins.Bitwise, builtins.InstanceDef{Ratio: 64}},
			{builtins.ECOp, builtins.InstanceDef{Ratio: 1024}},
		},
	},
	"all_cairo": {
		Name: "all_cairo", RcUnits: 4, MemoryUnitsPerStep: 8, PublicMemoryFraction: 8,
		Builtins: []Builtin{
			{builtins.Output, builtins.InstanceDef{}},
			{builtins.Pedersen, builtins.InstanceDef{Ratio: 256}},
			{builtins.RangeCheck, builtins.InstanceDef{Ratio: 8}},
			{builtins.ECDSA, builtins.InstanceDef{Ratio: 2048}},
			{builtins.Bitwise, builtins.InstanceDef{Ratio: 16}},
			{builtins.ECOp, builtins.InstanceDef{Ratio: 1024}},
			{builtins.Keccak, builtins.InstanceDef{Ratio: 2048, InstancesPerComponent: 16}},
			{builtins.RangeCheck96, builtins.InstanceDef{Ratio: 8}},
			{builtins.AddMod, modDef(128)},
			{builtins.MulMod, modDef(256)},
		},
	},
	"dynamic": {
		Name: "dynamic", RcUnits: 16, MemoryUnitsPerStep: 8, PublicMemoryFraction: 8,
		Builtins: []Builtin{
			{builtins.Output, builtins.InstanceDef{}},
			{builtins.Pedersen, builtins.InstanceDef{}},
			{builtins.RangeCheck, builtins.InstanceDef{}},
			{builtins.ECDSA, builtins.InstanceDef{}},
			{builtins.Bitwise, builtins.InstanceDef{}},
			{builtins.ECOp, builtins.InstanceDef{}},
			{builtins.Keccak, builtins.InstanceDef{InstancesPerComponent: 16}},
			{builtins.RangeCheck96, builtins.InstanceDef{}},
			{builtins.AddMod, modDef(0)},
			{builtins.MulMod, modDef(0)},
		},
	},
}

// Get returns a copy of the named layout.
func Get(name string) (*Layout, error) {
	l, ok := layouts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q, expected one of %v", ErrUnknownLayout, name, Names())
	}
	out := *l
	out.Builtins = append([]Builtin(nil), l.Builtins...)
	return &out, nil
}

func Names() []string {
	out := make([]string, 0, len(layouts))
	for name := range layouts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
