package compiler

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a compile-time failure, mirroring the taxonomy's
// "Compile error" row: unbound name, arity mismatch, redefinition in scope,
// malformed form, signal out of range, undefined function.
type ErrorKind uint8

const (
	UnboundName ErrorKind = iota
	ArityMismatch
	RedefinitionInScope
	MalformedForm
	SignalOutOfRange
	UndefinedFunction
)

func (k ErrorKind) String() string {
	switch k {
	case UnboundName:
		return "unbound name"
	case ArityMismatch:
		return "arity mismatch"
	case RedefinitionInScope:
		return "redefinition in scope"
	case MalformedForm:
		return "malformed form"
	case SignalOutOfRange:
		return "signal out of range"
	case UndefinedFunction:
		return "undefined function"
	default:
		return "compile error"
	}
}

var (
	errCompiler = errors.New("compiler")

	// ErrCompile is the sentinel every CompileError wraps.
	ErrCompile = fmt.Errorf("%w: compile error", errCompiler)
)

// CompileError reports a compile failure with the offending symbol, the way
// the teacher's asm.SyntaxError/SymbolError carry source position. ILVM's
// compiler works over an already-parsed tree rather than source text, so
// the error carries the offending name instead of a line/column.
type CompileError struct {
	Kind   ErrorKind
	Symbol string
}

func (e *CompileError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("%s: %s", ErrCompile, e.Kind)
	}

	return fmt.Sprintf("%s: %s: %q", ErrCompile, e.Kind, e.Symbol)
}

func (e *CompileError) Is(target error) bool {
	return target == ErrCompile
}
