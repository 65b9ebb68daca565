package compiler

import "github.com/ilvm-project/ilvm/internal/word"

// bindingKind distinguishes a variable binding's storage class: a global
// lives at a fixed arena address, a local (parameter or temporary) lives at
// a BP-relative slot referenced by BP_LOAD/BP_STORE's stack-popped index.
type bindingKind uint8

const (
	global bindingKind = iota
	local
)

// binding is what a name resolves to in a scope. For a local, idx is the
// exact word pushed before BP_LOAD/BP_STORE -- computed once, at binding
// time, so every reference site is just "PUSH idx; BP_LOAD" regardless of
// whether the name is a parameter or a declared local. Parameters get a
// negative idx (i - n - 2 for parameter i of an n-ary function); declared
// locals and loop variables get their allocated non-negative slot number
// directly. See DESIGN.md for the derivation.
type binding struct {
	kind bindingKind
	addr word.Word // valid when kind == global
	idx  word.Word // valid when kind == local
}

// scope is one lexical level: the function-call frame it belongs to (so
// nested lets inside a function still allocate local slots, not globals)
// and the names bound directly in it.
type scope struct {
	names     map[string]binding
	inFunc    bool // true if this scope or an enclosing one is a function body
}

func newScope(inFunc bool) *scope {
	return &scope{names: make(map[string]binding), inFunc: inFunc}
}

// scopes is the compiler's lexical scope stack, innermost last.
type scopes []*scope

func (s scopes) top() *scope { return s[len(s)-1] }

func (s scopes) inFunction() bool { return s.top().inFunc }

// define adds name to the innermost scope. Redefining a name already bound
// in that same (innermost) scope is an error; shadowing a name bound in an
// enclosing scope is not.
func (s scopes) define(name string, b binding) error {
	top := s.top()
	if _, ok := top.names[name]; ok {
		return &CompileError{Kind: RedefinitionInScope, Symbol: name}
	}

	top.names[name] = b

	return nil
}

// lookup searches from the innermost scope outward.
func (s scopes) lookup(name string) (binding, error) {
	for i := len(s) - 1; i >= 0; i-- {
		if b, ok := s[i].names[name]; ok {
			return b, nil
		}
	}

	return binding{}, &CompileError{Kind: UnboundName, Symbol: name}
}
