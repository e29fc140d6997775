package tlv

import (
	"fmt"
	"strings"

	"github.com/moov-io/bertlv"
)

// BER-TLV HEADER LOGIC (ISO/IEC 8825-1):
// Files on a chip are usually one top-level TLV object. Reading them in chunks requires
// knowing the full object size before the value has been received, so the header is
// decoded on its own from the first bytes of the file.
//
// Tag field:
//   - Single byte unless bits 5-1 are all set (xx11111), in which case subsequent bytes
//     follow while their bit 8 is set.
//
// Length field:
//   - Short form: one byte 0x00-0x7F.
//   - Long form: 0x81 to 0x84 followed by 1 to 4 length bytes (big endian).

// Header decodes the tag and length fields at the start of data. It returns the size of
// the header (tag + length bytes) and the announced length of the value.
func Header(data []byte) (headerLen int, valueLen int, err error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("empty TLV header")
	}

	pos := 1
	if data[0]&0x1F == 0x1F {
		for {
			if pos >= len(data) {
				return 0, 0, fmt.Errorf("truncated tag field")
			}
			b := data[pos]
			pos++
			if b&0x80 == 0 {
				break
			}
		}
	}

	if pos >= len(data) {
		return 0, 0, fmt.Errorf("missing length field")
	}

	first := data[pos]
	pos++
	if first < 0x80 {
		return pos, int(first), nil
	}

	n := int(first & 0x7F)
	if n == 0 || n > 4 {
		return 0, 0, fmt.Errorf("unsupported length form 0x%02X", first)
	}
	if pos+n > len(data) {
		return 0, 0, fmt.Errorf("truncated length field")
	}
	for _, b := range data[pos : pos+n] {
		valueLen = valueLen<<8 | int(b)
	}
	return pos + n, valueLen, nil
}

// EncodeLength encodes a value length using the shortest BER form.
func EncodeLength(n int) []byte {
	switch {
	case n < 0x80:
		return []byte{byte(n)}
	case n <= 0xFF:
		return []byte{0x81, byte(n)}
	case n <= 0xFFFF:
		return []byte{0x82, byte(n >> 8), byte(n)}
	default:
		return []byte{0x83, byte(n >> 16), byte(n >> 8), byte(n)}
	}
}

// Find returns the first packet with the given tag (hex, case-insensitive).
func Find(packets []bertlv.TLV, tag string) (bertlv.TLV, bool) {
	for _, p := range packets {
		if strings.EqualFold(p.Tag, tag) {
			return p, true
		}
	}
	return bertlv.TLV{}, false
}

// Template decodes data and returns the children of the top-level object carrying tag.
// Data groups and dynamic authentication data are wrapped in such a template.
func Template(data []byte, tag string) ([]bertlv.TLV, error) {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("bertlv decode failed: %w", err)
	}

	outer, ok := Find(packets, tag)
	if !ok {
		return nil, fmt.Errorf("template %s not found", strings.ToUpper(tag))
	}
	return outer.TLVs, nil
}
