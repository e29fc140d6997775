package bits

import "testing"

func TestBitPrimitives(t *testing.T) {
	// CLA '1C': chaining (b5) with secure messaging b4-b3 = 11.
	const cla = 0x1C

	if Bit(5) != 0x10 || Bit(0) != 0 || Bit(9) != 0 {
		t.Errorf("Bit() out of range handling broken")
	}
	if !IsSet(cla, 5) || IsSet(cla, 8) {
		t.Errorf("IsSet(%02X) wrong", cla)
	}
	if got := Set(0x0C, 5); got != cla {
		t.Errorf("Set(0C, 5) = %02X; want 1C", got)
	}

	tests := []struct {
		in        byte
		high, low uint
		want      byte
	}{
		{cla, 4, 3, 3},
		{0x03, 2, 1, 3},
		{0xC2, 4, 1, 2},
		{0xC2, 8, 5, 0x0C},
		{0xAA, 8, 1, 0xAA},
		{0xAA, 1, 2, 0},
	}
	for _, tt := range tests {
		if got := GetRange(tt.in, tt.high, tt.low); got != tt.want {
			t.Errorf("GetRange(%02X, %d, %d) = %d; want %d", tt.in, tt.high, tt.low, got, tt.want)
		}
	}
}

func TestAdjustParity(t *testing.T) {
	// ICAO 9303-11 worked example: Ka before and after parity adjustment.
	in := []byte{0xAB, 0x94, 0xFC, 0xED, 0xF2, 0x66, 0x4E, 0xDF}
	want := []byte{0xAB, 0x94, 0xFD, 0xEC, 0xF2, 0x67, 0x4F, 0xDF}

	got := AdjustParity(in)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("AdjustParity() = %X; want %X", got, want)
		}
	}
	for _, b := range got {
		if !IsOddParity(b) {
			t.Errorf("byte %02X does not have odd parity", b)
		}
	}
	if in[2] != 0xFC {
		t.Error("AdjustParity must not modify its input")
	}
}

func TestXor(t *testing.T) {
	got := Xor([]byte{0xF0, 0x0F}, []byte{0xFF, 0xFF})
	if len(got) != 2 || got[0] != 0x0F || got[1] != 0xF0 {
		t.Errorf("Xor = %X; want 0FF0", got)
	}
	if Xor([]byte{0x01}, []byte{0x01, 0x02}) != nil {
		t.Error("Xor of different lengths should return nil")
	}
}

func TestIncrement(t *testing.T) {
	tests := []struct {
		in   []byte
		want []byte
	}{
		{[]byte{0x00, 0x00}, []byte{0x00, 0x01}},
		{[]byte{0x00, 0xFF}, []byte{0x01, 0x00}},
		{[]byte{0xFF, 0xFF}, []byte{0x00, 0x00}}, // wraps
	}

	for _, tt := range tests {
		Increment(tt.in)
		if tt.in[0] != tt.want[0] || tt.in[1] != tt.want[1] {
			t.Errorf("Increment = %X; want %X", tt.in, tt.want)
		}
	}
}
