package iso7816

import (
	"fmt"

	"github.com/gregLibert/emrtd/pkg/bits"
)

// INSTRUCTION BYTE (INS):
// An odd INS announces a BER-TLV data field (READ BINARY 'B1' addresses the
// file by offset DO '54'). '6X' and '9X' collide with SW1 procedure bytes in
// T=0 and are never valid instructions.

// InsCode is the raw instruction byte.
type InsCode byte

// Instructions exchanged while opening access to a passport and reading its files.
const (
	INS_MANAGE_SECURITY_ENVIRONMENT InsCode = 0x22
	INS_EXTERNAL_AUTHENTICATE       InsCode = 0x82
	INS_GET_CHALLENGE               InsCode = 0x84
	INS_GENERAL_AUTHENTICATE        InsCode = 0x86
	INS_INTERNAL_AUTHENTICATE       InsCode = 0x88
	INS_SELECT                      InsCode = 0xA4
	INS_READ_BINARY                 InsCode = 0xB0
	INS_READ_BINARY_BER             InsCode = 0xB1
	INS_GET_RESPONSE                InsCode = 0xC0
)

var insNames = map[InsCode]string{
	INS_MANAGE_SECURITY_ENVIRONMENT: "MANAGE SECURITY ENVIRONMENT",
	INS_EXTERNAL_AUTHENTICATE:       "EXTERNAL AUTHENTICATE",
	INS_GET_CHALLENGE:               "GET CHALLENGE",
	INS_GENERAL_AUTHENTICATE:        "GENERAL AUTHENTICATE",
	INS_INTERNAL_AUTHENTICATE:       "INTERNAL AUTHENTICATE",
	INS_SELECT:                      "SELECT",
	INS_READ_BINARY:                 "READ BINARY",
	INS_READ_BINARY_BER:             "READ BINARY (BER-TLV)",
	INS_GET_RESPONSE:                "GET RESPONSE",
}

func (i InsCode) String() string {
	if name, ok := insNames[i]; ok {
		return name
	}
	return fmt.Sprintf("INS %02X", byte(i))
}

// Instruction is a validated INS byte.
type Instruction struct {
	Raw      InsCode
	IsBERTLV bool
}

// NewInstruction validates ins.
func NewInstruction(ins InsCode) (Instruction, error) {
	switch byte(ins) & 0xF0 {
	case 0x60, 0x90:
		return Instruction{}, fmt.Errorf("invalid INS 0x%02X: 6X and 9X are reserved", byte(ins))
	}
	return Instruction{Raw: ins, IsBERTLV: bits.IsSet(byte(ins), 1)}, nil
}

func (i Instruction) Verbose() string {
	if i.IsBERTLV {
		return fmt.Sprintf("%s [%02X, BER-TLV data]", i.Raw, byte(i.Raw))
	}
	return fmt.Sprintf("%s [%02X]", i.Raw, byte(i.Raw))
}
