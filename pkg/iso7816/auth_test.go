package iso7816

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/gregLibert/emrtd/pkg/tlv"
)

func TestAuthenticationCommands(t *testing.T) {
	cls, _ := NewClass(0x00)

	tests := []struct {
		name     string
		cmd      *CommandAPDU
		expected []byte
	}{
		{
			name:     "GET CHALLENGE",
			cmd:      GetChallenge(cls, ChallengeLength),
			expected: tlv.Hex("00 84 00 00", "08"),
		},
		{
			name: "EXTERNAL AUTHENTICATE",
			cmd:  ExternalAuthenticate(cls, make([]byte, BACCryptogramLength), BACCryptogramLength),
			expected: tlv.Hex(
				"00 82 00 00",
				"28",
				hex.EncodeToString(make([]byte, BACCryptogramLength)),
				"28",
			),
		},
		{
			name: "MSE:Set AT for PACE",
			cmd: MSESetAT(cls, tlv.Hex(
				"80 0A 04 00 7F 00 07 02 02 04 02 02",
				"83 01 01",
				"84 01 0C",
			)),
			expected: tlv.Hex(
				"00 22 C1 A4",
				"12",
				"80 0A 04 00 7F 00 07 02 02 04 02 02",
				"83 01 01",
				"84 01 0C",
			),
		},
		{
			name:     "GENERAL AUTHENTICATE chained",
			cmd:      GeneralAuthenticate(cls, tlv.Hex("7C 00"), true),
			expected: tlv.Hex("10 86 00 00", "02", "7C 00", "00"),
		},
		{
			name:     "GENERAL AUTHENTICATE last step",
			cmd:      GeneralAuthenticate(cls, tlv.Hex("7C 02 85 00"), false),
			expected: tlv.Hex("00 86 00 00", "04", "7C 02 85 00", "00"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.Bytes()
			if err != nil {
				t.Fatalf("Failed to encode bytes: %v", err)
			}

			if !bytes.Equal(got, tt.expected) {
				t.Errorf("Mismatch:\nExpected: %s\nGot:      %s",
					hex.EncodeToString(tt.expected),
					hex.EncodeToString(got))
			}
		})
	}
}
