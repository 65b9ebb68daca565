// Package compiler lowers a parsed ast.Node tree into ILVM bytecode in a
// single pass. It is grounded on the teacher's internal/asm package's
// two-pass parse/generate shape -- a symbol table built incrementally,
// forward references resolved by a fixup list patched once every address is
// known -- generalised from asm's line-oriented assembly source to an
// s-expression tree, and from a flat linear program to one with nested
// lexical scope and function bodies queued for emission after the main
// expression.
package compiler

import (
	"fmt"

	"github.com/ilvm-project/ilvm/internal/arena"
	"github.com/ilvm-project/ilvm/internal/ast"
	"github.com/ilvm-project/ilvm/internal/engine"
	"github.com/ilvm-project/ilvm/internal/symtab"
	"github.com/ilvm-project/ilvm/internal/word"
)

// Program is a compiled unit ready to hand to engine.Engine.Load: bytecode,
// the interned string table in packing order, and a symbol table of the
// globals and functions defined at top level (for debugging and for
// annotating disassembly).
type Program struct {
	Code    []word.Word
	Strings []string
	Symbols *symtab.SymbolTable
}

// blockKind distinguishes the two flavours of code queued for emission
// after the main expression: ordinary functions (CALL/CALLI targets, end in
// RET) and signal handlers (SIGNAL_REG targets, end in IRET).
type blockKind uint8

const (
	funcBlock blockKind = iota
	handlerBlock
)

// pendingBlock is a function or signal-handler body whose code is deferred
// until after the main expression's HALT. Queueing (rather than emitting
// inline) is what lets forward-referenced and mutually-recursive functions
// work in one pass: every call site just records a fixup against the name
// and gets patched once the block's address is known.
type pendingBlock struct {
	kind   blockKind
	name   string // function name, or a synthetic name for a handler block
	params []string
	body   ast.Node
	addr   word.Word // filled in once the block's code is emitted
}

// fixup is a single operand word that could not be filled in when it was
// emitted because it names a function whose address isn't known yet --
// either a CALL target, a function-address literal, or a SIGNAL_REG handler
// address. All three are patched identically once every pendingBlock has
// been emitted and has a final address.
type fixup struct {
	offset word.Word
	name   string
}

// Compiler holds all compile-time state for a single Compile call. Compile
// resets that state before it starts, so one Compiler can compile several
// unrelated trees in turn.
type Compiler struct {
	layout arena.Layout

	code    []word.Word
	scopes  scopes
	symbols *symtab.SymbolTable

	globalNext word.Word
	localNext  word.Word

	funcArity map[string]int

	pending []*pendingBlock
	fixups  []fixup

	strings     map[string]word.Word
	stringOrder []string
	stringNext  word.Word

	gensym int
}

// New constructs a Compiler targeting the given arena layout, which
// determines where the global-variable allocator and the string table
// start. Callers compiling for the default engine configuration can pass
// arena.DefaultLayout().
func New(layout arena.Layout) *Compiler {
	c := &Compiler{layout: layout}
	c.reset()

	return c
}

// reset restores the compiler to its initial state: one global scope, fresh
// allocators, and empty pending/fixup/string tables. Compile calls it first,
// so a Compiler can be reused for a second, unrelated tree.
func (c *Compiler) reset() {
	c.code = nil
	c.scopes = scopes{newScope(false)}
	c.symbols = symtab.New()

	c.globalNext = c.layout.CodeEnd
	c.localNext = 0

	c.funcArity = make(map[string]int)

	c.pending = nil
	c.fixups = nil

	c.strings = make(map[string]word.Word)
	c.stringOrder = nil
	c.stringNext = c.layout.HeapStart

	c.gensym = 0
}

// Compile lowers root to bytecode: the main expression first (ending in
// HALT), then every queued function and signal-handler body, in the order
// they were defined. It returns a Program with every forward-reference
// fixup resolved, or a *CompileError if one never was.
func Compile(root ast.Node, layout arena.Layout) (*Program, error) {
	c := New(layout)
	return c.Compile(root)
}

func (c *Compiler) Compile(root ast.Node) (*Program, error) {
	c.reset()

	if err := c.compileExpr(root); err != nil {
		return nil, err
	}

	c.emit(engine.HALT)

	if err := c.emitPending(); err != nil {
		return nil, err
	}

	if err := c.resolveFixups(); err != nil {
		return nil, err
	}

	for _, blk := range c.pending {
		if blk.kind == funcBlock {
			c.symbols.DefineFunction(blk.name, blk.addr, blk.params)
		}
	}

	return &Program{
		Code:    c.code,
		Strings: c.stringOrder,
		Symbols: c.symbols,
	}, nil
}

// emitPending compiles every queued function/handler body. Bodies can queue
// further bodies (a define-func or define-int nested inside a body), so
// this keeps draining the queue until it is empty rather than ranging once.
func (c *Compiler) emitPending() error {
	for i := 0; i < len(c.pending); i++ {
		blk := c.pending[i]
		if err := c.emitBlock(blk); err != nil {
			return err
		}
	}

	return nil
}

func (c *Compiler) emitBlock(blk *pendingBlock) error {
	blk.addr = c.here()

	c.scopes = append(c.scopes, newScope(true))
	savedLocalNext := c.localNext
	c.localNext = 0

	n := len(blk.params)
	for i, p := range blk.params {
		idx := word.FromSigned(int64(i - n - 2))
		if err := c.scopes.define(p, binding{kind: local, idx: idx}); err != nil {
			return err
		}
	}

	enterOffset := c.here() + 1
	c.emit(engine.ENTER, 0) // patched below once locals are counted

	switch blk.kind {
	case funcBlock:
		if err := c.compileExpr(blk.body); err != nil {
			return err
		}

		c.emit(engine.LEAVE, c.localNext)
		c.emit(engine.RET, word.Word(n))
	case handlerBlock:
		if err := c.compileExpr(blk.body); err != nil {
			return err
		}

		c.emit(engine.POP)     // handler bodies are run for effect only
		c.emit(engine.PUSH, 0) // dummy result for LEAVE to pop/restore
		c.emit(engine.LEAVE, c.localNext)
		c.emit(engine.POP) // discard the dummy; IRET doesn't take a result
		c.emit(engine.IRET)
	}

	c.code[enterOffset] = c.localNext

	c.scopes = c.scopes[:len(c.scopes)-1]
	c.localNext = savedLocalNext

	return nil
}

// resolveFixups patches every deferred address operand now that all
// pendingBlocks have a final address.
func (c *Compiler) resolveFixups() error {
	addrs := make(map[string]word.Word, len(c.pending))
	for _, blk := range c.pending {
		addrs[blk.name] = blk.addr
	}

	for _, fx := range c.fixups {
		addr, ok := addrs[fx.name]
		if !ok {
			return &CompileError{Kind: UndefinedFunction, Symbol: fx.name}
		}

		c.code[fx.offset] = addr
	}

	return nil
}

func (c *Compiler) here() word.Word { return word.Word(len(c.code)) }

func (c *Compiler) emit(op engine.Opcode, operands ...word.Word) {
	c.code = append(c.code, word.Word(op))
	c.code = append(c.code, operands...)
}

// patch overwrites a single previously emitted word, for backpatching
// within-pass branch targets (if/while/for) whose destination is only known
// once the code that follows has been emitted.
func (c *Compiler) patch(offset word.Word, v word.Word) {
	c.code[offset] = v
}

func (c *Compiler) allocGlobal() word.Word {
	addr := word.AlignUp(c.globalNext)
	c.globalNext = addr + 1

	return addr
}

func (c *Compiler) allocLocal() word.Word {
	idx := c.localNext
	c.localNext++

	return idx
}

// internString returns the address the string will live at once loaded,
// interning by content so two identical literals share one copy. The
// address arithmetic mirrors engine.Engine.Load's packing loop exactly --
// same starting cursor, same "advance then align up" step -- so the
// addresses baked into PUSH here match where Load will actually place each
// string.
func (c *Compiler) internString(s string) word.Word {
	if addr, ok := c.strings[s]; ok {
		return addr
	}

	addr := c.stringNext
	width := word.Word(1 + (len(s)+7)/8)
	c.stringNext = word.AlignUp(addr + width)

	c.strings[s] = addr
	c.stringOrder = append(c.stringOrder, s)

	return addr
}

func (c *Compiler) gensymName(prefix string) string {
	c.gensym++
	return fmt.Sprintf("$%s%d", prefix, c.gensym)
}
