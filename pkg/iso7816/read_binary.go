package iso7816

import (
	"fmt"
)

// READ BINARY COMMAND LOGIC (ISO 7816-4):
// The READ BINARY command (INS 'B0') reads part of the content of a transparent
// Elementary File (EF), starting at an offset.
//
// P1-P2 (Offset or Short EF):
// - If bit 8 of P1 is 0: P1-P2 is a 15-bit offset into the currently selected EF.
// - If bit 8 of P1 is 1: bits 5-1 of P1 are a Short File Identifier (SFI); the file
//   is implicitly selected and P2 is an 8-bit offset.
//
// Le gives the number of bytes to read. Reading past the end of the file is answered
// with '6282' (End of file reached before Le bytes) and the bytes that were available.

// Limits for the READ BINARY addressing modes.
const (
	// MaxReadBinaryOffset is the highest offset encodable in P1-P2 (15 bits).
	MaxReadBinaryOffset = 0x7FFF

	// MaxShortEFOffset is the highest offset encodable in P2 when P1 carries an SFI.
	MaxShortEFOffset = 0xFF

	// MaxSFI is the highest Short File Identifier (5 bits).
	MaxSFI = 0x1F
)

// ReadBinary reads ne bytes from the currently selected EF, starting at offset.
func ReadBinary(cla Class, offset int, ne int) (*CommandAPDU, error) {
	if offset < 0 || offset > MaxReadBinaryOffset {
		return nil, fmt.Errorf("offset %d out of range (max %d)", offset, MaxReadBinaryOffset)
	}

	ins, _ := NewInstruction(INS_READ_BINARY)
	return NewCommandAPDU(cla, ins, byte(offset>>8), byte(offset), nil, ne), nil
}

// ReadBinarySFI reads ne bytes from the EF identified by its Short File Identifier,
// starting at offset. The EF becomes the current file.
func ReadBinarySFI(cla Class, sfi byte, offset int, ne int) (*CommandAPDU, error) {
	if sfi == 0 || sfi > MaxSFI {
		return nil, fmt.Errorf("SFI %d out of range (1..%d)", sfi, MaxSFI)
	}
	if offset < 0 || offset > MaxShortEFOffset {
		return nil, fmt.Errorf("offset %d out of range for short EF (max %d)", offset, MaxShortEFOffset)
	}

	ins, _ := NewInstruction(INS_READ_BINARY)
	return NewCommandAPDU(cla, ins, 0x80|sfi, byte(offset), nil, ne), nil
}

// readBinaryTarget decodes P1-P2 of a READ BINARY command.
// It returns the SFI (0 when the current EF is used) and the offset.
func readBinaryTarget(p1, p2 byte) (sfi byte, offset int) {
	if p1&0x80 != 0 {
		return p1 & MaxSFI, int(p2)
	}
	return 0, int(p1)<<8 | int(p2)
}

// ReadBinaryTarget decodes P1-P2 of a READ BINARY command.
func (c *CommandAPDU) ReadBinaryTarget() (sfi byte, offset int, err error) {
	if c.Instruction.Raw != INS_READ_BINARY {
		return 0, 0, fmt.Errorf("not a READ BINARY command (INS %02X)", byte(c.Instruction.Raw))
	}
	sfi, offset = readBinaryTarget(c.P1, c.P2)
	return sfi, offset, nil
}
