package iso7816

import (
	"fmt"

	"github.com/gregLibert/emrtd/pkg/bits"
)

// CLASS BYTE (CLA):
// A passport terminal only ever emits first interindustry classes on the basic
// channel: '00' for plain commands, '0C' once secure messaging is running and
// '10' / '1C' while a GENERAL AUTHENTICATE chain is in progress.
//
//	b8     0 = interindustry, 1 = proprietary
//	b7     0 = first range (channels 0-3), 1 = further range (channels 4-19)
//	b5     command chaining
//	b4-b3  secure messaging indication (first range)
//	b2-b1  logical channel (first range)
//
// Further range classes are decoded so that a chip emulator can answer them,
// but only the first range is ever produced.

// SecureMessaging is the secure messaging indication carried in CLA.
type SecureMessaging int

const (
	SMNone         SecureMessaging = 0
	SMProprietary  SecureMessaging = 1
	SMHeaderNoProc SecureMessaging = 2
	// SMHeaderAuth is the ICAO 9303 setting: the header is covered by the MAC.
	SMHeaderAuth SecureMessaging = 3
)

func (sm SecureMessaging) String() string {
	switch sm {
	case SMNone:
		return "none"
	case SMProprietary:
		return "proprietary"
	case SMHeaderNoProc:
		return "iso, header not authenticated"
	case SMHeaderAuth:
		return "iso, header authenticated"
	default:
		return fmt.Sprintf("SecureMessaging(%d)", int(sm))
	}
}

// Class is a decoded CLA byte.
type Class struct {
	Raw             byte
	IsProprietary   bool
	IsChained       bool
	SecureMessaging SecureMessaging
	Channel         uint8
}

// NewClass decodes cla. 'FF' is reserved for PPS and rejected.
func NewClass(cla byte) (Class, error) {
	if cla == 0xFF {
		return Class{}, fmt.Errorf("invalid CLA value: 0xFF is reserved")
	}

	c := Class{Raw: cla}
	if bits.IsSet(cla, 8) {
		c.IsProprietary = true
		return c, nil
	}

	c.IsChained = bits.IsSet(cla, 5)
	if bits.IsSet(cla, 7) {
		if bits.IsSet(cla, 6) {
			c.SecureMessaging = SMHeaderNoProc
		}
		c.Channel = bits.GetRange(cla, 4, 1) + 4
		return c, nil
	}
	c.SecureMessaging = SecureMessaging(bits.GetRange(cla, 4, 3))
	c.Channel = bits.GetRange(cla, 2, 1)
	return c, nil
}

// Encode rebuilds the CLA byte from the decoded fields.
func (c *Class) Encode() (byte, error) {
	if c.IsProprietary {
		return c.Raw, nil
	}
	if c.Channel > 19 {
		return 0, fmt.Errorf("logical channel %d out of range", c.Channel)
	}

	var b byte
	if c.IsChained {
		b = bits.Set(b, 5)
	}
	if c.Channel <= 3 {
		return b | byte(c.SecureMessaging)<<2 | c.Channel, nil
	}

	switch c.SecureMessaging {
	case SMNone:
	case SMHeaderNoProc:
		b = bits.Set(b, 6)
	default:
		return 0, fmt.Errorf("secure messaging %q not encodable on channel %d", c.SecureMessaging, c.Channel)
	}
	return bits.Set(b, 7) | (c.Channel - 4), nil
}

// with returns a copy of c changed by fn, with Raw re-encoded.
func (c Class) with(fn func(*Class)) Class {
	fn(&c)
	if raw, err := c.Encode(); err == nil {
		c.Raw = raw
	}
	return c
}

// Protected returns c with the ICAO secure messaging indication set.
func (c Class) Protected() Class {
	return c.with(func(c *Class) { c.SecureMessaging = SMHeaderAuth })
}

// Unprotected returns c without secure messaging indication.
func (c Class) Unprotected() Class {
	return c.with(func(c *Class) { c.SecureMessaging = SMNone })
}

// Chained returns c with the chaining bit set to more.
func (c Class) Chained(more bool) Class {
	return c.with(func(c *Class) { c.IsChained = more })
}

// Verbose describes the class on one line.
func (c Class) Verbose() string {
	if c.IsProprietary {
		return fmt.Sprintf("CLA %02X: proprietary", c.Raw)
	}
	chain := "last"
	if c.IsChained {
		chain = "chained"
	}
	return fmt.Sprintf("CLA %02X: channel %d, sm %s, %s", c.Raw, c.Channel, c.SecureMessaging, chain)
}
