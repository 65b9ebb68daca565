// Package word defines the base data type the engine and compiler operate
// on: a flat 64-bit word with no built-in notion of signedness. The
// arithmetic shift instruction reinterprets the bits as signed; the
// package itself only carries the bit-level helpers that both the compiler's
// allocator and the engine's ALU share.
package word

import "fmt"

// Word is the base data type on which the engine operates. Registers, memory
// cells, and instruction operands all work on 64-bit values.
type Word uint64

func (w Word) String() string {
	return fmt.Sprintf("%0#16x", uint64(w))
}

// Signed reinterprets the word as a two's-complement 64-bit signed integer,
// for the one instruction that treats its operand as signed (ASHR); the
// comparison opcodes compare unsigned.
func (w Word) Signed() int64 {
	return int64(w)
}

// FromSigned packs a signed value back into a word.
func FromSigned(v int64) Word {
	return Word(v)
}

// Bool packs the engine's canonical truthiness encoding: zero is false,
// everything else is true; comparison opcodes produce exactly 0 or 1.
func Bool(b bool) Word {
	if b {
		return 1
	}

	return 0
}

// IsZero reports the engine's truthiness test for conditional branches.
func (w Word) IsZero() bool {
	return w == 0
}

// Alignment enforced by the compiler's heap allocator so that the low
// TagBits of a heap address are free for the surface language's tagged
// pointers; see Tag and Untag.
const (
	TagBits  = 3
	TagMask  = Word(1)<<TagBits - 1
	AddrAlign = Word(1) << TagBits
)

// AlignUp rounds addr up to the next multiple of AddrAlign (8), so that
// callers of the heap allocator always receive a value with its low TagBits
// clear and available for tagging.
func AlignUp(addr Word) Word {
	return (addr + AddrAlign - 1) &^ (AddrAlign - 1)
}

// Tag packs a small tag into the low TagBits of an otherwise 8-byte-aligned
// address or integer. The allocator is responsible for guaranteeing addr has
// its low bits clear before tagging; Tag itself does not validate alignment,
// matching the spec's framing that this is purely a convention the compiler
// enforces, not something the hardware checks.
func Tag(addr Word, tag Word) Word {
	return addr | (tag & TagMask)
}

// Untag splits a tagged word back into its address/integer payload and its
// tag.
func Untag(w Word) (payload Word, tag Word) {
	tag = w & TagMask
	payload = w &^ TagMask

	return payload, tag
}
