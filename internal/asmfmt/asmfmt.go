// Package asmfmt formats compiled bytecode back into readable assembly
// text, the inverse of what internal/compiler does. It is a thin
// collaborator over internal/engine's opcode table: for each instruction it
// prints the address, mnemonic, and any immediate operands, annotating
// addresses that internal/symtab knows a name for.
package asmfmt

import (
	"fmt"
	"io"

	"github.com/ilvm-project/ilvm/internal/engine"
	"github.com/ilvm-project/ilvm/internal/symtab"
	"github.com/ilvm-project/ilvm/internal/word"
)

// Disassemble writes one line per instruction in code to out, starting at
// base. When symbols is non-nil, any address that names a function or
// variable is annotated with a trailing comment.
func Disassemble(out io.Writer, code []word.Word, base word.Word, symbols *symtab.SymbolTable) error {
	names := labelsByAddress(symbols)

	for i := 0; i < len(code); {
		addr := base + word.Word(i)
		op := engine.Opcode(code[i])

		if !op.Valid() {
			if _, err := fmt.Fprintf(out, "%s  %-10s %s\n", addr, "???", code[i]); err != nil {
				return err
			}

			i++

			continue
		}

		n := op.Operands()
		operands := make([]word.Word, 0, n)

		for j := 1; j <= n && i+j < len(code); j++ {
			operands = append(operands, code[i+j])
		}

		line := fmt.Sprintf("%s  %-10s", addr, op)

		for _, operand := range operands {
			line += " " + operand.String()
		}

		if label, ok := names[addr]; ok {
			line += "  ; " + label
		}

		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}

		i += 1 + n
	}

	return nil
}

// labelsByAddress inverts the symbol table into address -> name, for
// annotating disassembly. symtab.SymbolTable does not expose this mapping
// directly, so it is rebuilt here from the enumeration surface it does
// expose.
func labelsByAddress(symbols *symtab.SymbolTable) map[word.Word]string {
	out := make(map[word.Word]string)

	if symbols == nil {
		return out
	}

	for _, e := range symbols.EnumerateVariables() {
		out[e.Address] = e.Name
	}

	for _, e := range symbols.EnumerateFunctions() {
		out[e.Address] = e.Name
	}

	return out
}
