package hints

import "fmt"

// Scopes is the stack of hint variable scopes of a run. The bottom scope is
// the main scope and is never exited.
type Scopes struct {
	stack []map[string]any
}

func NewScopes() *Scopes {
	return &Scopes{stack: []map[string]any{{}}}
}

// Enter pushes a scope holding vars.
func (s *Scopes) Enter(vars map[string]any) {
	scope := make(map[string]any, len(vars))
	for k, v := range vars {
		scope[k] = v
	}
	s.stack = append(s.stack, scope)
}

func (s *Scopes) Exit() error {
	if len(s.stack) == 1 {
		return ErrExitMainScope
	}
	s.stack = s.stack[:len(s.stack)-1]
	return nil
}

func (s *Scopes) Depth() int { return len(s.stack) }

func (s *Scopes) current() map[string]any { return s.stack[len(s.stack)-1] }

// Get looks a variable up in the innermost scope only.
func (s *Scopes) Get(name string) (any, error) {
	v, ok := s.current()[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariable, name)
	}
	return v, nil
}

func (s *Scopes) Set(name string, v any) { s.current()[name] = v }

func (s *Scopes) Delete(name string) { delete(s.current(), name) }
