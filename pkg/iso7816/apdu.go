package iso7816

import "fmt"

// Length limits of ISO 7816-3 short and extended APDUs. Ne = 256 is sent as
// Le '00' and Ne = 65536 as extended Le '0000'.
const (
	MaxShortLc    = 255
	MaxShortLe    = 256
	MaxExtendedLe = 65536
)

// CommandAPDU is a C-APDU before encoding. Ne = 0 means no Le field.
type CommandAPDU struct {
	Class       Class
	Instruction Instruction
	P1, P2      byte
	Data        []byte
	Ne          int
}

func NewCommandAPDU(cla Class, ins Instruction, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{Class: cla, Instruction: ins, P1: p1, P2: p2, Data: data, Ne: ne}
}

// Bytes encodes the command, switching to extended length as soon as either
// Nc or Ne does not fit the short form.
func (c *CommandAPDU) Bytes() ([]byte, error) {
	cla, err := c.Class.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding CLA: %w", err)
	}
	nc, ne := len(c.Data), c.Ne
	if nc > 0xFFFF || ne > MaxExtendedLe {
		return nil, fmt.Errorf("Nc %d / Ne %d exceed extended length", nc, ne)
	}
	extended := nc > MaxShortLc || ne > MaxShortLe

	out := make([]byte, 0, 4+3+nc+3)
	out = append(out, cla, byte(c.Instruction.Raw), c.P1, c.P2)

	if nc > 0 {
		if extended {
			out = append(out, 0x00, byte(nc>>8), byte(nc))
		} else {
			out = append(out, byte(nc))
		}
		out = append(out, c.Data...)
	}

	switch {
	case ne == 0:
	case !extended:
		out = append(out, byte(ne)) // 256 wraps to 00
	default:
		if nc == 0 {
			out = append(out, 0x00)
		}
		out = append(out, byte(ne>>8), byte(ne)) // 65536 wraps to 0000
	}
	return out, nil
}

func (c *CommandAPDU) String() string {
	return fmt.Sprintf("%s | P1: %02X, P2: %02X | Lc: %d | Le: %d",
		c.Instruction.Verbose(), c.P1, c.P2, len(c.Data), c.Ne)
}

// ResponseAPDU is a decoded R-APDU.
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord
}

// ParseResponseAPDU splits raw into data and the trailing status word.
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	n := len(raw)
	if n < 2 {
		return nil, fmt.Errorf("response too short: length %d", n)
	}
	return &ResponseAPDU{Data: raw[:n-2], Status: NewStatusWord(raw[n-2], raw[n-1])}, nil
}

func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}

// ParseCommandAPDU decodes a raw C-APDU. It is the inverse of Bytes and recognizes the
// four ISO 7816-3 cases in both Short and Extended length modes.
// Layers that sit between the Client and the card (secure messaging, emulators) use it
// to recover the command structure from the bytes they receive.
func ParseCommandAPDU(raw []byte) (*CommandAPDU, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("command too short: length %d", len(raw))
	}

	cla, err := NewClass(raw[0])
	if err != nil {
		return nil, err
	}
	ins, err := NewInstruction(InsCode(raw[1]))
	if err != nil {
		return nil, err
	}

	cmd := NewCommandAPDU(cla, ins, raw[2], raw[3], nil, 0)
	body := raw[4:]

	switch {
	case len(body) == 0:
		// Case 1
		return cmd, nil

	case len(body) == 1:
		// Case 2 Short
		cmd.Ne = decodeShortLe(body[0])
		return cmd, nil

	case body[0] == 0x00 && len(body) >= 3:
		// Extended length
		if len(body) == 3 {
			cmd.Ne = decodeExtendedLe(body[1], body[2])
			return cmd, nil
		}
		nc := int(body[1])<<8 | int(body[2])
		rest := body[3:]
		if len(rest) < nc {
			return nil, fmt.Errorf("extended Lc %d exceeds body length %d", nc, len(rest))
		}
		cmd.Data = rest[:nc]
		switch len(rest) - nc {
		case 0:
		case 2:
			cmd.Ne = decodeExtendedLe(rest[nc], rest[nc+1])
		default:
			return nil, fmt.Errorf("invalid extended Le field (%d bytes)", len(rest)-nc)
		}
		return cmd, nil

	default:
		// Case 3/4 Short
		nc := int(body[0])
		rest := body[1:]
		if nc == 0 || len(rest) < nc {
			return nil, fmt.Errorf("short Lc %d does not match body length %d", nc, len(rest))
		}
		cmd.Data = rest[:nc]
		switch len(rest) - nc {
		case 0:
		case 1:
			cmd.Ne = decodeShortLe(rest[nc])
		default:
			return nil, fmt.Errorf("invalid short Le field (%d bytes)", len(rest)-nc)
		}
		return cmd, nil
	}
}

func decodeShortLe(le byte) int {
	if le == 0x00 {
		return MaxShortLe
	}
	return int(le)
}

func decodeExtendedLe(hi, lo byte) int {
	ne := int(hi)<<8 | int(lo)
	if ne == 0 {
		return MaxExtendedLe
	}
	return ne
}

// Bytes encodes the response back to its raw form (Data || SW1 SW2).
func (r *ResponseAPDU) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	return append(out, r.Status.SW1(), r.Status.SW2())
}
