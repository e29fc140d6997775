package tlv

import (
	"encoding/hex"
	"strings"
)

// Hex decodes the concatenation of parts, ignoring spaces, and panics on
// malformed input. It is meant for fixtures such as Hex("00 A4 02 0C", "02 01 1E").
func Hex(parts ...string) []byte {
	s := strings.ReplaceAll(strings.Join(parts, ""), " ", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("tlv.Hex(" + s + "): " + err.Error())
	}
	return b
}
