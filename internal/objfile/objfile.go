// Package objfile implements marshalling and unmarshalling of compiled
// ILVM programs to a line-oriented text encoding: a small header record
// giving a count, followed by one record per payload item. Records carry
// no checksum; decoding checks only the counts and string lengths.
//
// A program has two payloads, the code words and the string-literal table,
// so each gets its own section rather than reusing the single CODE/END
// record pair the hex format uses.
package objfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ilvm-project/ilvm/internal/word"
)

var errObjfile = errors.New("objfile")

// File is the on-disk representation of a compiler.Program: the bytecode
// and the string-literal table the loader needs to place alongside it.
type File struct {
	Code    []word.Word
	Strings []string
}

// MarshalText encodes f as lines of the form:
//
//	CODE <count>
//	C <hex word>
//	STRINGS <count>
//	S <length> <text>
//
// a CODE header and one C record per code word, followed by a STRINGS
// header and one S record per string, in order.
func (f File) MarshalText() ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "CODE %d\n", len(f.Code))

	for _, w := range f.Code {
		fmt.Fprintf(&buf, "C %016x\n", uint64(w))
	}

	fmt.Fprintf(&buf, "STRINGS %d\n", len(f.Strings))

	for _, s := range f.Strings {
		fmt.Fprintf(&buf, "S %d %s\n", len(s), s)
	}

	return buf.Bytes(), nil
}

// UnmarshalText decodes the format written by MarshalText.
func (f *File) UnmarshalText(data []byte) error {
	scan := bufio.NewScanner(bytes.NewReader(data))
	scan.Buffer(make([]byte, 0, 64*1024), 1<<20)

	wantCode, err := readHeader(scan, "CODE")
	if err != nil {
		return err
	}

	code := make([]word.Word, 0, wantCode)

	for i := 0; i < wantCode; i++ {
		if !scan.Scan() {
			return fmt.Errorf("%w: truncated code section at record %d", errObjfile, i)
		}

		line := scan.Text()

		val, ok := strings0(line, "C ")
		if !ok {
			return fmt.Errorf("%w: malformed code record %q", errObjfile, line)
		}

		n, err := strconv.ParseUint(val, 16, 64)
		if err != nil {
			return fmt.Errorf("%w: code record %q: %w", errObjfile, line, err)
		}

		code = append(code, word.Word(n))
	}

	wantStrings, err := readHeader(scan, "STRINGS")
	if err != nil {
		return err
	}

	strs := make([]string, 0, wantStrings)

	for i := 0; i < wantStrings; i++ {
		if !scan.Scan() {
			return fmt.Errorf("%w: truncated string section at record %d", errObjfile, i)
		}

		line := scan.Text()

		rest, ok := strings0(line, "S ")
		if !ok {
			return fmt.Errorf("%w: malformed string record %q", errObjfile, line)
		}

		parts := strings.SplitN(rest, " ", 2)

		n, err := strconv.Atoi(parts[0])
		if err != nil {
			return fmt.Errorf("%w: string record %q: %w", errObjfile, line, err)
		}

		var s string
		if len(parts) == 2 {
			s = parts[1]
		}

		if len(s) != n {
			return fmt.Errorf("%w: string record %q: want length %d, got %d", errObjfile, line, n, len(s))
		}

		strs = append(strs, s)
	}

	f.Code = code
	f.Strings = strs

	return nil
}

func readHeader(scan *bufio.Scanner, tag string) (int, error) {
	if !scan.Scan() {
		return 0, fmt.Errorf("%w: missing %s header", errObjfile, tag)
	}

	rest, ok := strings0(scan.Text(), tag+" ")
	if !ok {
		return 0, fmt.Errorf("%w: expected %s header, got %q", errObjfile, tag, scan.Text())
	}

	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("%w: %s header: %w", errObjfile, tag, err)
	}

	return n, nil
}

func strings0(line, prefix string) (string, bool) {
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}

	return line[len(prefix):], true
}
