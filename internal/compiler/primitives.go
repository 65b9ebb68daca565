package compiler

import (
	"github.com/ilvm-project/ilvm/internal/ast"
	"github.com/ilvm-project/ilvm/internal/engine"
)

// primitiveFn lowers one primitive form's arguments. It is looked up by the
// symbol in operator position before falling back to user function calls,
// so a define-func can never shadow a primitive.
type primitiveFn func(c *Compiler, args []ast.Node) error

// primitives maps every built-in operator symbol to its lowering. The
// arithmetic/bitwise/comparison forms share foldLeft and binaryOp; peek and
// poke share lowerPeek/lowerPoke.
var primitives = map[string]primitiveFn{
	"+": foldLeft(engine.ADD),
	"-": foldLeft(engine.SUB),
	"*": foldLeft(engine.MUL),
	"/": foldLeft(engine.DIV),

	"mod": binaryOp(engine.MOD),
	"=":   binaryOp(engine.EQ),
	"<":   binaryOp(engine.LT),
	">":   binaryOp(engine.GT),

	"bit-and": binaryOp(engine.AND),
	"bit-or":  binaryOp(engine.OR),
	"bit-xor": binaryOp(engine.XOR),
	"bit-shl": binaryOp(engine.SHL),
	"bit-shr": binaryOp(engine.SHR),
	"bit-ashr": binaryOp(engine.ASHR),

	"peek":      lowerPeek(engine.LOAD),
	"peek-byte": lowerPeek(engine.PEEKBYTE),
	"peek32":    lowerPeek(engine.PEEK32),

	"poke":      lowerPoke(engine.STORE),
	"poke-byte": lowerPoke(engine.POKEBYTE),
	"poke32":    lowerPoke(engine.POKE32),
}

// foldLeft compiles a variadic form (+ a b c ...) as a left fold:
// ((a op b) op c) ... -- matching "multi-argument forms of + - * / fold
// left" -- and requires at least two arguments (unary +/- is out of scope).
func foldLeft(op engine.Opcode) primitiveFn {
	return func(c *Compiler, args []ast.Node) error {
		if len(args) < 2 {
			return &CompileError{Kind: MalformedForm}
		}

		if err := c.compileExpr(args[0]); err != nil {
			return err
		}

		for _, a := range args[1:] {
			if err := c.compileExpr(a); err != nil {
				return err
			}

			c.emit(op)
		}

		return nil
	}
}

// binaryOp compiles a strictly two-argument form.
func binaryOp(op engine.Opcode) primitiveFn {
	return func(c *Compiler, args []ast.Node) error {
		if len(args) != 2 {
			return &CompileError{Kind: MalformedForm}
		}

		if err := c.compileExpr(args[0]); err != nil {
			return err
		}

		if err := c.compileExpr(args[1]); err != nil {
			return err
		}

		c.emit(op)

		return nil
	}
}

// lowerPeek compiles "(peek addr)" (and its byte/32-bit variants): push the
// address, then the read opcode.
func lowerPeek(op engine.Opcode) primitiveFn {
	return func(c *Compiler, args []ast.Node) error {
		if len(args) != 1 {
			return &CompileError{Kind: MalformedForm}
		}

		if err := c.compileExpr(args[0]); err != nil {
			return err
		}

		c.emit(op)

		return nil
	}
}

// lowerPoke compiles "(poke addr val)" (and its byte/32-bit variants). The
// write opcodes all pop their address off the top of stack and the value
// beneath it, so the value is compiled (and duplicated, to leave poke's own
// value per the spec's "poke leaves the stored value on the stack") before
// the address -- the reverse of the form's own argument order, since
// nothing in the spec requires left-to-right evaluation for this binary
// form the way it does for call arguments.
func lowerPoke(op engine.Opcode) primitiveFn {
	return func(c *Compiler, args []ast.Node) error {
		if len(args) != 2 {
			return &CompileError{Kind: MalformedForm}
		}

		if err := c.compileExpr(args[1]); err != nil {
			return err
		}

		c.emit(engine.DUP)

		if err := c.compileExpr(args[0]); err != nil {
			return err
		}

		c.emit(op)

		return nil
	}
}
