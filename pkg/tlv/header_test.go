package tlv

import (
	"testing"
)

func TestHeader(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantHeader int
		wantValue  int
		wantErr    bool
	}{
		{"Short form (DG1)", Hex("61 5B 5F1F 58"), 2, 0x5B, false},
		{"Long form 81", Hex("6B 81 9C 5C 02"), 3, 0x9C, false},
		{"Long form 82", Hex("75 82 12 34"), 4, 0x1234, false},
		{"Two-byte tag", Hex("7F61 82 01 00"), 5, 0x0100, false},
		{"Empty", nil, 0, 0, true},
		{"Missing length", Hex("61"), 0, 0, true},
		{"Truncated long form", Hex("6C 82 01"), 0, 0, true},
		{"Indefinite length", Hex("30 80"), 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, v, err := Header(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got header=%d value=%d", h, v)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h != tt.wantHeader || v != tt.wantValue {
				t.Errorf("Header() = (%d, %d); want (%d, %d)", h, v, tt.wantHeader, tt.wantValue)
			}
		})
	}
}

func TestEncodeLength(t *testing.T) {
	tests := []struct {
		n    int
		want []byte
	}{
		{0x10, Hex("10")},
		{0x7F, Hex("7F")},
		{0x80, Hex("8180")},
		{0x0100, Hex("820100")},
		{0x010000, Hex("83010000")},
	}

	for _, tt := range tests {
		got := EncodeLength(tt.n)
		if string(got) != string(tt.want) {
			t.Errorf("EncodeLength(%d) = %X; want %X", tt.n, got, tt.want)
		}
	}
}

func TestTemplate(t *testing.T) {
	data := Hex("7C 0A", "80 08 0102030405060708")

	children, err := Template(data, "7c")
	if err != nil {
		t.Fatalf("Template failed: %v", err)
	}
	nonce, ok := Find(children, "80")
	if !ok {
		t.Fatal("tag 80 not found")
	}
	if len(nonce.Value) != 8 || nonce.Value[7] != 0x08 {
		t.Errorf("unexpected nonce %X", nonce.Value)
	}

	if _, err := Template(data, "6B"); err == nil {
		t.Error("expected error for missing template")
	}
}
