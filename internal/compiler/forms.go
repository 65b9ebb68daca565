package compiler

import (
	"github.com/ilvm-project/ilvm/internal/ast"
	"github.com/ilvm-project/ilvm/internal/engine"
	"github.com/ilvm-project/ilvm/internal/word"
)

// compileExpr lowers a single ast.Node, leaving exactly one value on the
// stack when it returns successfully.
func (c *Compiler) compileExpr(n ast.Node) error {
	switch n.Kind {
	case ast.Number:
		c.emit(engine.PUSH, word.FromSigned(n.Value))
		return nil

	case ast.String:
		addr := c.internString(n.Text)
		c.emit(engine.PUSH, addr)

		return nil

	case ast.Symbol:
		return c.compileVariableRef(n.Text)

	case ast.List:
		return c.compileList(n)

	default:
		return &CompileError{Kind: MalformedForm}
	}
}

func (c *Compiler) compileVariableRef(name string) error {
	b, err := c.scopes.lookup(name)
	if err != nil {
		return err
	}

	c.loadBinding(b)

	return nil
}

func (c *Compiler) loadBinding(b binding) {
	switch b.kind {
	case global:
		c.emit(engine.PUSH, b.addr)
		c.emit(engine.LOAD)
	case local:
		c.emit(engine.PUSH, b.idx)
		c.emit(engine.BPLOAD)
	}
}

// storeBinding emits code assuming the value to store is already on top of
// stack; it consumes it.
func (c *Compiler) storeBinding(b binding) {
	switch b.kind {
	case global:
		c.emit(engine.PUSH, b.addr)
		c.emit(engine.STORE)
	case local:
		c.emit(engine.PUSH, b.idx)
		c.emit(engine.BPSTORE)
	}
}

func (c *Compiler) compileList(n ast.Node) error {
	head, ok := n.Head()
	if !ok {
		return &CompileError{Kind: MalformedForm}
	}

	if head.Kind != ast.Symbol {
		return &CompileError{Kind: MalformedForm}
	}

	args := n.Args()

	if fn, ok := primitives[head.Text]; ok {
		return fn(c, args)
	}

	switch head.Text {
	case "define-var":
		return c.compileDefineVar(args)
	case "define-func":
		return c.compileDefineFunc(args)
	case "set":
		return c.compileSet(args)
	case "let":
		return c.compileLet(args)
	case "do":
		return c.compileDo(args)
	case "if":
		return c.compileIf(args)
	case "while":
		return c.compileWhile(args)
	case "for":
		return c.compileFor(args)
	case "define-int":
		return c.compileDefineInt(args)
	case "function-address":
		return c.compileFunctionAddress(args)
	case "funcall":
		return c.compileFuncall(args)
	default:
		return c.compileCall(head.Text, args)
	}
}

// compileBody lowers a sequence of expressions as statements: every value
// but the last is discarded. If keepLast is false the last value is
// discarded too and the sequence has no value of its own.
func (c *Compiler) compileBody(exprs []ast.Node, keepLast bool) error {
	if len(exprs) == 0 {
		return &CompileError{Kind: MalformedForm}
	}

	for i, e := range exprs {
		if err := c.compileExpr(e); err != nil {
			return err
		}

		if i < len(exprs)-1 || !keepLast {
			c.emit(engine.POP)
		}
	}

	return nil
}

func (c *Compiler) compileDo(args []ast.Node) error {
	return c.compileBody(args, true)
}

// compileDefineVar implements "define-var name expr": the name is bound in
// the current scope -- as a global if we're not inside a function body,
// else as a fresh local slot -- and the form's own value is the value
// stored, via the same duplicate-then-store idiom used by set and by
// poke's "leaves the stored value on the stack".
func (c *Compiler) compileDefineVar(args []ast.Node) error {
	if len(args) != 2 || args[0].Kind != ast.Symbol {
		return &CompileError{Kind: MalformedForm}
	}

	name := args[0].Text

	if err := c.compileExpr(args[1]); err != nil {
		return err
	}

	var b binding
	if c.scopes.inFunction() {
		b = binding{kind: local, idx: c.allocLocal()}
	} else {
		b = binding{kind: global, addr: c.allocGlobal()}
		c.symbols.DefineVariable(name, b.addr)
	}

	if err := c.scopes.define(name, b); err != nil {
		return err
	}

	c.emit(engine.DUP)
	c.storeBinding(b)

	return nil
}

// compileSet implements "set name expr": like define-var, but the name must
// already be bound -- it is looked up, not allocated.
func (c *Compiler) compileSet(args []ast.Node) error {
	if len(args) != 2 || args[0].Kind != ast.Symbol {
		return &CompileError{Kind: MalformedForm}
	}

	b, err := c.scopes.lookup(args[0].Text)
	if err != nil {
		return err
	}

	if err := c.compileExpr(args[1]); err != nil {
		return err
	}

	c.emit(engine.DUP)
	c.storeBinding(b)

	return nil
}

// compileDefineFunc implements "define-func (name params...) body": it
// queues the body for emission after the main expression's HALT and yields
// zero at the definition site. The function's name lives in a namespace
// separate from variables, so it never collides with (and is never shadowed
// by) ordinary bindings.
func (c *Compiler) compileDefineFunc(args []ast.Node) error {
	if len(args) < 2 || args[0].Kind != ast.List {
		return &CompileError{Kind: MalformedForm}
	}

	header := args[0].Children
	if len(header) == 0 || header[0].Kind != ast.Symbol {
		return &CompileError{Kind: MalformedForm}
	}

	name := header[0].Text

	params := make([]string, 0, len(header)-1)
	for _, p := range header[1:] {
		if p.Kind != ast.Symbol {
			return &CompileError{Kind: MalformedForm}
		}

		params = append(params, p.Text)
	}

	if _, exists := c.funcArity[name]; exists {
		return &CompileError{Kind: RedefinitionInScope, Symbol: name}
	}

	c.funcArity[name] = len(params)
	c.symbols.DefineFunction(name, 0, params)

	body := bodyOf(args[1:])

	c.pending = append(c.pending, &pendingBlock{
		kind:   funcBlock,
		name:   name,
		params: params,
		body:   body,
	})

	c.emit(engine.PUSH, 0)

	return nil
}

// bodyOf folds multiple trailing body expressions into a single "do" node,
// so every pendingBlock carries exactly one expression to compile.
func bodyOf(exprs []ast.Node) ast.Node {
	if len(exprs) == 1 {
		return exprs[0]
	}

	children := append([]ast.Node{ast.NewSymbol("do")}, exprs...)

	return ast.NewList(children...)
}

// compileLet implements "let ((n1 e1) (n2 e2) ...) body...": a fresh scope
// in which each binding is evaluated and stored (global or local, per
// whether we're currently inside a function body), then the body is
// compiled as a do-sequence.
func (c *Compiler) compileLet(args []ast.Node) error {
	if len(args) < 2 || args[0].Kind != ast.List {
		return &CompileError{Kind: MalformedForm}
	}

	c.scopes = append(c.scopes, newScope(c.scopes.inFunction()))
	defer func() { c.scopes = c.scopes[:len(c.scopes)-1] }()

	for _, pair := range args[0].Children {
		if pair.Kind != ast.List || len(pair.Children) != 2 || pair.Children[0].Kind != ast.Symbol {
			return &CompileError{Kind: MalformedForm}
		}

		name := pair.Children[0].Text

		if err := c.compileExpr(pair.Children[1]); err != nil {
			return err
		}

		var b binding
		if c.scopes.inFunction() {
			b = binding{kind: local, idx: c.allocLocal()}
		} else {
			b = binding{kind: global, addr: c.allocGlobal()}
		}

		if err := c.scopes.define(name, b); err != nil {
			return err
		}

		c.storeBinding(b)
	}

	return c.compileBody(args[1:], true)
}

// compileIf implements "if cond then else": cond is compiled, JZ skips to
// the else branch, then skips over it with an unconditional jump once the
// then branch finishes. Both branch targets are simple within-pass
// backpatches (not the cross-function fixup list) since the target is
// always known by the time we reach it.
func (c *Compiler) compileIf(args []ast.Node) error {
	if len(args) != 3 {
		return &CompileError{Kind: MalformedForm}
	}

	if err := c.compileExpr(args[0]); err != nil {
		return err
	}

	c.emit(engine.JZ, 0)
	elseJump := c.here() - 1

	if err := c.compileExpr(args[1]); err != nil {
		return err
	}

	c.emit(engine.JMP, 0)
	endJump := c.here() - 1

	c.patch(elseJump, c.here())

	if err := c.compileExpr(args[2]); err != nil {
		return err
	}

	c.patch(endJump, c.here())

	return nil
}

// compileWhile implements "while cond body...": body is run purely for
// effect (every value popped); the form itself always yields zero.
func (c *Compiler) compileWhile(args []ast.Node) error {
	if len(args) < 2 {
		return &CompileError{Kind: MalformedForm}
	}

	start := c.here()

	if err := c.compileExpr(args[0]); err != nil {
		return err
	}

	c.emit(engine.JZ, 0)
	endJump := c.here() - 1

	if err := c.compileBody(args[1:], false); err != nil {
		return err
	}

	c.emit(engine.JMP, start)
	c.patch(endJump, c.here())
	c.emit(engine.PUSH, 0)

	return nil
}

// compileFor implements "for (i start end) body...": i counts from start up
// to (exclusive of) end, both evaluated once at loop entry. Like while, the
// form always yields zero.
func (c *Compiler) compileFor(args []ast.Node) error {
	if len(args) < 2 || args[0].Kind != ast.List || len(args[0].Children) != 3 {
		return &CompileError{Kind: MalformedForm}
	}

	header := args[0].Children
	if header[0].Kind != ast.Symbol {
		return &CompileError{Kind: MalformedForm}
	}

	name := header[0].Text

	c.scopes = append(c.scopes, newScope(c.scopes.inFunction()))
	defer func() { c.scopes = c.scopes[:len(c.scopes)-1] }()

	allocSlot := func() binding {
		if c.scopes.inFunction() {
			return binding{kind: local, idx: c.allocLocal()}
		}

		return binding{kind: global, addr: c.allocGlobal()}
	}

	iBinding := allocSlot()
	endBinding := allocSlot()

	if err := c.compileExpr(header[1]); err != nil {
		return err
	}

	c.storeBinding(iBinding)

	if err := c.compileExpr(header[2]); err != nil {
		return err
	}

	c.storeBinding(endBinding)

	if err := c.scopes.define(name, iBinding); err != nil {
		return err
	}

	start := c.here()

	c.loadBinding(iBinding)
	c.loadBinding(endBinding)
	c.emit(engine.LT)
	c.emit(engine.JZ, 0)
	endJump := c.here() - 1

	if err := c.compileBody(args[1:], false); err != nil {
		return err
	}

	c.loadBinding(iBinding)
	c.emit(engine.PUSH, word.FromSigned(1))
	c.emit(engine.ADD)
	c.storeBinding(iBinding)

	c.emit(engine.JMP, start)
	c.patch(endJump, c.here())
	c.emit(engine.PUSH, 0)

	return nil
}

// compileDefineInt implements "define-int sig handler-body". sig must be a
// compile-time literal in 1..31 -- the taxonomy lists "signal out of range"
// as a compile error, which only makes sense if it's checked here rather
// than left to the engine's runtime SIGNAL_REG fault. The handler body is
// queued like a function body (so its code doesn't fall through into from
// the surrounding program) and SIGNAL_REG is emitted inline at the
// definition site, referencing the queued block via the same fixup
// mechanism as a forward function call.
func (c *Compiler) compileDefineInt(args []ast.Node) error {
	if len(args) < 2 || args[0].Kind != ast.Number {
		return &CompileError{Kind: MalformedForm}
	}

	sig := args[0].Value
	if sig < 1 || sig > 31 {
		return &CompileError{Kind: SignalOutOfRange}
	}

	name := c.gensymName("handler")
	body := bodyOf(args[1:])

	c.pending = append(c.pending, &pendingBlock{
		kind: handlerBlock,
		name: name,
		body: body,
	})

	c.emit(engine.PUSH, word.FromSigned(sig))
	c.emit(engine.PUSH, 0)
	c.fixups = append(c.fixups, fixup{offset: c.here() - 1, name: name})
	c.emit(engine.SIGNALREG)
	c.emit(engine.PUSH, 0)

	return nil
}

// compileFunctionAddress implements "function-address name": pushes the
// eventual address of a queued function body, resolved by the same fixup
// mechanism as a call target.
func (c *Compiler) compileFunctionAddress(args []ast.Node) error {
	if len(args) != 1 || args[0].Kind != ast.Symbol {
		return &CompileError{Kind: MalformedForm}
	}

	name := args[0].Text
	if _, ok := c.funcArity[name]; !ok {
		return &CompileError{Kind: UndefinedFunction, Symbol: name}
	}

	c.emit(engine.PUSH, 0)
	c.fixups = append(c.fixups, fixup{offset: c.here() - 1, name: name})

	return nil
}

// compileFuncall implements "funcall addr-expr args...": arguments are
// evaluated left to right, then the address expression, then CALLI -- the
// CALL variant that takes its target from the stack instead of an
// immediate operand.
func (c *Compiler) compileFuncall(args []ast.Node) error {
	if len(args) < 1 {
		return &CompileError{Kind: MalformedForm}
	}

	addrExpr := args[0]
	callArgs := args[1:]

	for _, a := range callArgs {
		if err := c.compileExpr(a); err != nil {
			return err
		}
	}

	if err := c.compileExpr(addrExpr); err != nil {
		return err
	}

	c.emit(engine.CALLI, word.Word(len(callArgs)))

	return nil
}

// compileCall implements an ordinary "(name args...)" function call:
// arguments evaluated left to right, then CALL with a fixup for the target.
func (c *Compiler) compileCall(name string, args []ast.Node) error {
	if n, ok := c.funcArity[name]; ok && n != len(args) {
		return &CompileError{Kind: ArityMismatch, Symbol: name}
	}

	for _, a := range args {
		if err := c.compileExpr(a); err != nil {
			return err
		}
	}

	c.emit(engine.CALL, 0, word.Word(len(args)))
	c.fixups = append(c.fixups, fixup{offset: c.here() - 2, name: name})

	return nil
}
