// Package bits holds the bit and byte-string helpers shared by the APDU and
// secure messaging code. Bit positions follow ISO 7816 notation: b1 is the
// least significant bit, b8 the most significant.
package bits

import mb "math/bits"

// Bit returns a byte with only bn set. Positions outside 1..8 give 0.
func Bit(n uint) byte {
	if n-1 > 7 {
		return 0
	}
	return 1 << (n - 1)
}

func IsSet(b byte, n uint) bool { return b&Bit(n) != 0 }

func Set(b byte, n uint) byte { return b | Bit(n) }

// GetRange returns bits high..low of b shifted down to b1, so
// GetRange(0x0C, 4, 3) is 3.
func GetRange(b byte, high, low uint) byte {
	if low < 1 || high > 8 || high < low {
		return 0
	}
	return b >> (low - 1) & byte(1<<(high-low+1)-1)
}

// BYTE STRING HELPERS:
// The secure messaging layers work on whole byte strings rather than single bytes:
// - DES keys carry an odd parity bit in bit 1 of every byte (FIPS 46-3).
// - The Send Sequence Counter is a big-endian unsigned integer of 8 or 16 bytes.
// - Key seeds and challenges are combined with XOR.

// IsOddParity reports whether b has an odd number of bits set.
func IsOddParity(b byte) bool {
	return mb.OnesCount8(b)%2 == 1
}

// AdjustParity returns a copy of key where bit 1 of every byte is set so that
// each byte has odd parity.
func AdjustParity(key []byte) []byte {
	out := make([]byte, len(key))
	for i, b := range key {
		b &^= Bit(1)
		if !IsOddParity(b) {
			b = Set(b, 1)
		}
		out[i] = b
	}
	return out
}

// Xor returns a XOR b. Both slices must have the same length, otherwise nil is returned.
func Xor(a, b []byte) []byte {
	if len(a) != len(b) {
		return nil
	}
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Increment adds one to the big-endian counter in place, wrapping around on overflow.
func Increment(counter []byte) {
	for i := len(counter) - 1; i >= 0; i-- {
		counter[i]++
		if counter[i] != 0 {
			return
		}
	}
}
