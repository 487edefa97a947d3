package hints

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
	"github.com/ethereum-optimism/cairovm/cairogo/instruction"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
	"github.com/ethereum-optimism/cairovm/cairogo/program"
)

// Reference is a parsed reference expression of the form
//
//	[cast(reg + off1, T)]            outer dereference
//	cast([reg + off1] + off2, T)     inner dereference, no outer one
//	imm
//
// with the register optionally replaced by an immediate.
type Reference struct {
	Register instruction.Register
	// Immediate replaces the register term when set.
	Immediate *felt.Felt
	Offset1   int
	// InnerDeref reads the cell at reg+off1 before adding Offset2.
	InnerDeref bool
	Offset2    int
	// Dereference makes the expression an address whose cell is the value.
	Dereference bool
	CairoType   string
	APTracking  program.APTracking
}

// ParseReference parses a reference manager value.
func ParseReference(value string, tracking program.APTracking) (*Reference, error) {
	ref := &Reference{APTracking: tracking}
	s := strings.TrimSpace(value)
	if inner, ok := enclosed(s, "[", "]"); ok {
		ref.Dereference = true
		s = inner
	}
	if inner, ok := enclosed(s, "cast(", ")"); ok {
		i := lastTopLevel(inner, ',')
		if i < 0 {
			return nil, fmt.Errorf("invalid cast in reference %q", value)
		}
		ref.CairoType = strings.TrimSpace(inner[i+1:])
		s = strings.TrimSpace(inner[:i])
	}
	terms := splitTopLevel(s, '+')
	if len(terms) == 0 || len(terms) > 2 {
		return nil, fmt.Errorf("unsupported reference %q", value)
	}
	if err := ref.parseBase(terms[0]); err != nil {
		return nil, fmt.Errorf("reference %q: %w", value, err)
	}
	if len(terms) == 2 {
		off, err := parseOffset(terms[1])
		if err != nil {
			return nil, fmt.Errorf("reference %q: %w", value, err)
		}
		if ref.Immediate == nil && !ref.InnerDeref {
			// reg + a + b folds into a single offset
			ref.Offset1 += off
		} else {
			ref.Offset2 = off
		}
	}
	return ref, nil
}

func (r *Reference) parseBase(term string) error {
	if inner, ok := enclosed(term, "[", "]"); ok {
		r.InnerDeref = true
		term = inner
	}
	parts := splitTopLevel(term, '+')
	if len(parts) == 0 || len(parts) > 2 {
		return fmt.Errorf("unsupported term %q", term)
	}
	switch parts[0] {
	case "ap":
		r.Register = instruction.AP
	case "fp":
		r.Register = instruction.FP
	default:
		if r.InnerDeref || len(parts) > 1 {
			return fmt.Errorf("unsupported term %q", term)
		}
		v, err := felt.FromString(strings.Trim(parts[0], "()"))
		if err != nil {
			return err
		}
		r.Immediate = &v
		return nil
	}
	if len(parts) == 2 {
		off, err := parseOffset(parts[1])
		if err != nil {
			return err
		}
		r.Offset1 = off
	}
	return nil
}

func parseOffset(s string) (int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	return v, nil
}

// enclosed strips open and the matching close when they wrap all of s.
func enclosed(s, open, close string) (string, bool) {
	if !strings.HasPrefix(s, open) || !strings.HasSuffix(s, close) {
		return "", false
	}
	depth := 0
	for i := len(open) - 1; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
			if depth == 0 && i != len(s)-1 {
				return "", false
			}
		}
	}
	return strings.TrimSpace(s[len(open) : len(s)-len(close)]), true
}

func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

func lastTopLevel(s string, sep byte) int {
	depth := 0
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case ')', ']':
			depth++
		case '(', '[':
			depth--
		case sep:
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// register returns the base register of the reference as seen from a hint.
// ap moved by the tracked offset difference since the reference was made.
func (r *Reference) register(rc registers, hintTracking program.APTracking) (memory.Relocatable, error) {
	if r.Register == instruction.FP {
		return rc.fp, nil
	}
	if r.APTracking.Group != hintTracking.Group {
		return memory.Relocatable{}, fmt.Errorf("%w: reference group %d, hint group %d",
			ErrAPTrackingGroup, r.APTracking.Group, hintTracking.Group)
	}
	return rc.ap.AddInt(r.APTracking.Offset - hintTracking.Offset)
}

type registers struct {
	ap, fp memory.Relocatable
}

// eval computes the reference's value, which for dereferenced references is
// the address of the cell holding the variable.
func (r *Reference) eval(rc registers, hintTracking program.APTracking, mem *memory.Memory) (memory.MaybeRelocatable, error) {
	var base memory.MaybeRelocatable
	if r.Immediate != nil {
		base = memory.FromFelt(*r.Immediate)
	} else {
		reg, err := r.register(rc, hintTracking)
		if err != nil {
			return memory.MaybeRelocatable{}, err
		}
		addr, err := reg.AddInt(r.Offset1)
		if err != nil {
			return memory.MaybeRelocatable{}, err
		}
		base = memory.FromRelocatable(addr)
		if r.InnerDeref {
			if base, err = mem.Read(addr); err != nil {
				return memory.MaybeRelocatable{}, err
			}
		}
	}
	if r.Offset2 == 0 {
		return base, nil
	}
	return base.Add(memory.FromFelt(felt.FromInt64(int64(r.Offset2))))
}
