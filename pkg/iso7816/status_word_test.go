package iso7816

import "testing"

func TestStatusWord_Families(t *testing.T) {
	tests := []struct {
		sw                StatusWord
		success, warn, er bool
	}{
		{SW_NO_ERROR, true, false, false},
		{NewStatusWord(0x61, 0x10), true, false, false},
		{SW_WARN_EOF_REACHED, false, true, false},
		{NewStatusWord(0x63, 0xC2), false, true, false},
		{SW_ERR_SECURITY_STATUS_NOT_SAT, false, false, true},
		{SW_ERR_SM_OBJ_INCORRECT, false, false, true},
	}

	for _, tt := range tests {
		if tt.sw.IsSuccess() != tt.success || tt.sw.IsWarning() != tt.warn || tt.sw.IsError() != tt.er {
			t.Errorf("%s: success=%v warning=%v error=%v", tt.sw, tt.sw.IsSuccess(), tt.sw.IsWarning(), tt.sw.IsError())
		}
	}
}

func TestStatusWord_RetryCounter(t *testing.T) {
	if n, ok := NewStatusWord(0x63, 0xC1).RetryCounter(); !ok || n != 1 {
		t.Errorf("63C1 RetryCounter = %d, %v", n, ok)
	}
	if _, ok := SW_WARN_NV_CHANGED_NO_INFO.RetryCounter(); ok {
		t.Error("6300 should not carry a counter")
	}
}

func TestStatusWord_Verbose(t *testing.T) {
	tests := []struct {
		sw   StatusWord
		want string
	}{
		{SW_ERR_FILE_NOT_FOUND, "[6A82] file or application not found"},
		{NewStatusWord(0x61, 0x20), "[6120] 32 bytes available"},
		{NewStatusWord(0x6C, 0xDF), "[6CDF] wrong Le, expected 223"},
		{NewStatusWord(0x63, 0xC2), "[63C2] 2 attempts left"},
		{NewStatusWord(0x69, 0x99), "[6999] checking error"},
	}
	for _, tt := range tests {
		if got := tt.sw.Verbose(); got != tt.want {
			t.Errorf("Verbose() = %q; want %q", got, tt.want)
		}
	}

	if got := NewStatusWord(0x90, 0x01).String(); got != "StatusWord(0x9001)" {
		t.Errorf("String() = %q", got)
	}
}
