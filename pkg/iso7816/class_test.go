package iso7816

import "testing"

func TestNewClass(t *testing.T) {
	tests := []struct {
		cla     byte
		want    Class
		wantErr bool
	}{
		{cla: 0x00, want: Class{Raw: 0x00}},
		{cla: 0x0C, want: Class{Raw: 0x0C, SecureMessaging: SMHeaderAuth}},
		{cla: 0x10, want: Class{Raw: 0x10, IsChained: true}},
		{cla: 0x1C, want: Class{Raw: 0x1C, IsChained: true, SecureMessaging: SMHeaderAuth}},
		{cla: 0x03, want: Class{Raw: 0x03, Channel: 3}},
		{cla: 0x40, want: Class{Raw: 0x40, Channel: 4}},
		{cla: 0x7F, want: Class{Raw: 0x7F, IsChained: true, SecureMessaging: SMHeaderNoProc, Channel: 19}},
		{cla: 0x80, want: Class{Raw: 0x80, IsProprietary: true}},
		{cla: 0xFF, wantErr: true},
	}

	for _, tt := range tests {
		got, err := NewClass(tt.cla)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewClass(%02X) error = %v, wantErr %v", tt.cla, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NewClass(%02X) = %+v; want %+v", tt.cla, got, tt.want)
		}
	}
}

func TestClass_EncodeRoundTrip(t *testing.T) {
	for _, cla := range []byte{0x00, 0x0C, 0x10, 0x1C, 0x03, 0x40, 0x7F, 0x81} {
		c, err := NewClass(cla)
		if err != nil {
			t.Fatalf("NewClass(%02X) error = %v", cla, err)
		}
		got, err := c.Encode()
		if err != nil {
			t.Fatalf("Encode(%+v) error = %v", c, err)
		}
		if got != cla {
			t.Errorf("Encode() = %02X; want %02X", got, cla)
		}
	}
}

func TestClass_Encode_Invalid(t *testing.T) {
	bad := []Class{
		{Channel: 20},
		{Channel: 5, SecureMessaging: SMHeaderAuth},
	}
	for _, c := range bad {
		if _, err := c.Encode(); err == nil {
			t.Errorf("Encode(%+v) should fail", c)
		}
	}
}

func TestClass_Transitions(t *testing.T) {
	plain, _ := NewClass(0x00)

	if got := plain.Protected().Raw; got != 0x0C {
		t.Errorf("Protected() = %02X; want 0C", got)
	}
	if got := plain.Chained(true).Raw; got != 0x10 {
		t.Errorf("Chained(true) = %02X; want 10", got)
	}
	if got := plain.Chained(true).Protected().Raw; got != 0x1C {
		t.Errorf("Chained(true).Protected() = %02X; want 1C", got)
	}
	if got := plain.Protected().Unprotected().Chained(false).Raw; got != 0x00 {
		t.Errorf("round trip = %02X; want 00", got)
	}
	if plain.Raw != 0x00 {
		t.Errorf("receiver was modified: %02X", plain.Raw)
	}
}
