// Package sexpr is a minimal literal reader that turns parenthesized text
// into an internal/ast.Node tree: numbers, symbols, double-quoted strings,
// and nested lists. It has no notion of macros, quoting, or operator syntax
// -- it is CLI input plumbing only, distinct from the surface-language
// lexer/parser the compiler's design explicitly treats as an external,
// out-of-scope collaborator (see internal/ast's package doc). Without some
// way to get a tree onto disk, ilvm's compile sub-command would have
// nothing to read; this is the smallest thing that could work.
package sexpr

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/ilvm-project/ilvm/internal/ast"
)

// Read parses exactly one top-level form from r.
func Read(r io.Reader) (ast.Node, error) {
	text, err := io.ReadAll(r)
	if err != nil {
		return ast.Node{}, err
	}

	p := &parser{src: []rune(string(text))}
	p.skipSpace()

	if p.eof() {
		return ast.Node{}, fmt.Errorf("sexpr: empty input")
	}

	node, err := p.readForm()
	if err != nil {
		return ast.Node{}, err
	}

	return node, nil
}

type parser struct {
	src []rune
	pos int
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() rune { return p.src[p.pos] }

func (p *parser) skipSpace() {
	for !p.eof() {
		r := p.peek()

		switch {
		case unicode.IsSpace(r):
			p.pos++
		case r == ';':
			for !p.eof() && p.peek() != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

func (p *parser) readForm() (ast.Node, error) {
	p.skipSpace()

	if p.eof() {
		return ast.Node{}, fmt.Errorf("sexpr: unexpected end of input")
	}

	switch r := p.peek(); {
	case r == '(':
		return p.readList()
	case r == '"':
		return p.readString()
	default:
		return p.readAtom()
	}
}

func (p *parser) readList() (ast.Node, error) {
	p.pos++ // consume '('

	var children []ast.Node

	for {
		p.skipSpace()

		if p.eof() {
			return ast.Node{}, fmt.Errorf("sexpr: unterminated list")
		}

		if p.peek() == ')' {
			p.pos++
			return ast.NewList(children...), nil
		}

		child, err := p.readForm()
		if err != nil {
			return ast.Node{}, err
		}

		children = append(children, child)
	}
}

func (p *parser) readString() (ast.Node, error) {
	p.pos++ // consume opening '"'

	var b strings.Builder

	for {
		if p.eof() {
			return ast.Node{}, fmt.Errorf("sexpr: unterminated string")
		}

		r := p.peek()
		p.pos++

		if r == '"' {
			return ast.NewString(b.String()), nil
		}

		if r == '\\' && !p.eof() {
			r = p.peek()
			p.pos++
		}

		b.WriteRune(r)
	}
}

func (p *parser) readAtom() (ast.Node, error) {
	start := p.pos

	for !p.eof() && !isDelimiter(p.peek()) {
		p.pos++
	}

	text := string(p.src[start:p.pos])
	if text == "" {
		return ast.Node{}, fmt.Errorf("sexpr: empty atom at offset %d", start)
	}

	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return ast.NewNumber(v), nil
	}

	return ast.NewSymbol(text), nil
}

func isDelimiter(r rune) bool {
	return unicode.IsSpace(r) || r == '(' || r == ')' || r == ';'
}

// ReadAll parses every top-level form in r, for tools that want the whole
// file rather than a single form.
func ReadAll(r io.Reader) ([]ast.Node, error) {
	text, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	p := &parser{src: []rune(string(text))}

	var forms []ast.Node

	for {
		p.skipSpace()

		if p.eof() {
			return forms, nil
		}

		node, err := p.readForm()
		if err != nil {
			return nil, err
		}

		forms = append(forms, node)
	}
}
