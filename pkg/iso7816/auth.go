package iso7816

// AUTHENTICATION COMMANDS (ISO 7816-4 / ICAO 9303-11):
// Access control on an eMRTD chip uses four interindustry commands.
//
// - GET CHALLENGE (INS '84'): the chip returns a random nonce (8 bytes for BAC).
// - EXTERNAL AUTHENTICATE (INS '82'): the terminal proves knowledge of the
//   document keys by sending a cryptogram built over both nonces.
// - MANAGE SECURITY ENVIRONMENT (INS '22'): with P1-P2 'C1A4' (Set AT), selects
//   the PACE protocol, the password reference and the domain parameters.
// - GENERAL AUTHENTICATE (INS '86'): carries the PACE steps, each wrapped in a
//   Dynamic Authentication Data template ('7C'). All steps except the last one
//   are sent with the command chaining bit set in CLA.

// BAC challenge and cryptogram sizes.
const (
	ChallengeLength     = 8
	BACCryptogramLength = 40
)

// MSE:Set AT parameters for mutual authentication.
const (
	MSESetATP1 = 0xC1
	MSESetATP2 = 0xA4
)

// GetChallenge requests a random nonce of ne bytes.
func GetChallenge(cla Class, ne int) *CommandAPDU {
	ins, _ := NewInstruction(INS_GET_CHALLENGE)
	return NewCommandAPDU(cla, ins, 0x00, 0x00, nil, ne)
}

// ExternalAuthenticate sends the terminal cryptogram and expects the chip's one back.
func ExternalAuthenticate(cla Class, data []byte, ne int) *CommandAPDU {
	ins, _ := NewInstruction(INS_EXTERNAL_AUTHENTICATE)
	return NewCommandAPDU(cla, ins, 0x00, 0x00, data, ne)
}

// MSESetAT selects the authentication protocol described by data (a list of
// control reference data objects).
func MSESetAT(cla Class, data []byte) *CommandAPDU {
	ins, _ := NewInstruction(INS_MANAGE_SECURITY_ENVIRONMENT)
	return NewCommandAPDU(cla, ins, MSESetATP1, MSESetATP2, data, 0)
}

// GeneralAuthenticate sends one step of a multi-step authentication.
// When chained is true, the chaining bit is set, announcing that more steps follow.
func GeneralAuthenticate(cla Class, data []byte, chained bool) *CommandAPDU {
	ins, _ := NewInstruction(INS_GENERAL_AUTHENTICATE)
	return NewCommandAPDU(cla.Chained(chained), ins, 0x00, 0x00, data, MaxShortLe)
}
