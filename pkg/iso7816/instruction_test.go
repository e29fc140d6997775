package iso7816

import "testing"

func TestNewInstruction(t *testing.T) {
	tests := []struct {
		ins     InsCode
		wantBER bool
		wantErr bool
	}{
		{ins: INS_SELECT},
		{ins: INS_READ_BINARY},
		{ins: INS_READ_BINARY_BER, wantBER: true},
		{ins: INS_GENERAL_AUTHENTICATE},
		{ins: 0x6A, wantErr: true},
		{ins: 0x90, wantErr: true},
	}

	for _, tt := range tests {
		got, err := NewInstruction(tt.ins)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewInstruction(%02X) error = %v, wantErr %v", byte(tt.ins), err, tt.wantErr)
			continue
		}
		if !tt.wantErr && (got.Raw != tt.ins || got.IsBERTLV != tt.wantBER) {
			t.Errorf("NewInstruction(%02X) = %+v", byte(tt.ins), got)
		}
	}
}

func TestInstruction_Verbose(t *testing.T) {
	tests := []struct {
		ins  InsCode
		want string
	}{
		{INS_SELECT, "SELECT [A4]"},
		{INS_READ_BINARY_BER, "READ BINARY (BER-TLV) [B1, BER-TLV data]"},
		{0x2A, "INS 2A [2A]"},
	}
	for _, tt := range tests {
		i, err := NewInstruction(tt.ins)
		if err != nil {
			t.Fatal(err)
		}
		if got := i.Verbose(); got != tt.want {
			t.Errorf("Verbose() = %q; want %q", got, tt.want)
		}
	}
}
