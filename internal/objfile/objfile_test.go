package objfile_test

import (
	"testing"

	"github.com/ilvm-project/ilvm/internal/objfile"
	"github.com/ilvm-project/ilvm/internal/word"
)

func TestRoundTrip(t *testing.T) {
	want := objfile.File{
		Code:    []word.Word{0x0001, 0xdeadbeef, 0, 42},
		Strings: []string{"hello", "", "world"},
	}

	text, err := want.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %s", err)
	}

	var got objfile.File
	if err := got.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %s", err)
	}

	if len(got.Code) != len(want.Code) {
		t.Fatalf("Code = %v, want %v", got.Code, want.Code)
	}

	for i := range want.Code {
		if got.Code[i] != want.Code[i] {
			t.Fatalf("Code[%d] = %s, want %s", i, got.Code[i], want.Code[i])
		}
	}

	if len(got.Strings) != len(want.Strings) {
		t.Fatalf("Strings = %v, want %v", got.Strings, want.Strings)
	}

	for i := range want.Strings {
		if got.Strings[i] != want.Strings[i] {
			t.Fatalf("Strings[%d] = %q, want %q", i, got.Strings[i], want.Strings[i])
		}
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	var f objfile.File
	if err := f.UnmarshalText([]byte("CODE 2\nC 0000000000000001\n")); err == nil {
		t.Fatalf("UnmarshalText: want error on truncated code section")
	}
}

func TestEmptyProgram(t *testing.T) {
	want := objfile.File{}

	text, err := want.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %s", err)
	}

	var got objfile.File
	if err := got.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %s", err)
	}

	if len(got.Code) != 0 || len(got.Strings) != 0 {
		t.Fatalf("got = %+v, want empty", got)
	}
}
