package iso7816

import (
	"fmt"

	"github.com/gregLibert/emrtd/pkg/bits"
)

// StatusWord is the SW1-SW2 trailer of a response APDU.
//
// Three families carry a parameter in SW2 instead of a fixed meaning:
// '61XX' (XX bytes waiting for GET RESPONSE), '6CXX' (retry with Le = XX) and
// '63CX' (X attempts left, reported by PACE for a suspended or blocked password).
type StatusWord uint16

// Status words a passport chip answers during access control and file reads.
const (
	SW_NO_ERROR StatusWord = 0x9000

	SW_WARN_EOF_REACHED        StatusWord = 0x6282
	SW_WARN_NV_CHANGED_NO_INFO StatusWord = 0x6300

	SW_ERR_EXEC_NO_INFO            StatusWord = 0x6400
	SW_ERR_WRONG_LENGTH            StatusWord = 0x6700
	SW_ERR_SECURITY_STATUS_NOT_SAT StatusWord = 0x6982
	SW_ERR_AUTH_METHOD_BLOCKED     StatusWord = 0x6983
	SW_ERR_REF_DATA_NOT_USABLE     StatusWord = 0x6984
	SW_ERR_COND_OF_USE_NOT_SAT     StatusWord = 0x6985
	SW_ERR_CMD_NOT_ALLOWED_NO_EF   StatusWord = 0x6986
	SW_ERR_SM_OBJ_MISSING          StatusWord = 0x6987
	SW_ERR_SM_OBJ_INCORRECT        StatusWord = 0x6988
	SW_ERR_INCORRECT_PARAMS_DATA   StatusWord = 0x6A80
	SW_ERR_FUNC_NOT_SUPPORTED      StatusWord = 0x6A81
	SW_ERR_FILE_NOT_FOUND          StatusWord = 0x6A82
	SW_ERR_INCORRECT_PARAMS_P1P2   StatusWord = 0x6A86
	SW_ERR_REF_DATA_NOT_FOUND      StatusWord = 0x6A88
	SW_ERR_WRONG_P1P2              StatusWord = 0x6B00
	SW_ERR_INS_INVALID             StatusWord = 0x6D00
	SW_ERR_CLA_NOT_SUPPORTED       StatusWord = 0x6E00
	SW_ERR_UNKNOWN                 StatusWord = 0x6F00
)

var statusWords = map[StatusWord]struct{ name, meaning string }{
	SW_NO_ERROR:                    {"SW_NO_ERROR", "ok"},
	SW_WARN_EOF_REACHED:            {"SW_WARN_EOF_REACHED", "end of file reached before Le bytes"},
	SW_WARN_NV_CHANGED_NO_INFO:     {"SW_WARN_NV_CHANGED_NO_INFO", "authentication failed"},
	SW_ERR_EXEC_NO_INFO:            {"SW_ERR_EXEC_NO_INFO", "execution error"},
	SW_ERR_WRONG_LENGTH:            {"SW_ERR_WRONG_LENGTH", "wrong length"},
	SW_ERR_SECURITY_STATUS_NOT_SAT: {"SW_ERR_SECURITY_STATUS_NOT_SAT", "security status not satisfied"},
	SW_ERR_AUTH_METHOD_BLOCKED:     {"SW_ERR_AUTH_METHOD_BLOCKED", "authentication method blocked"},
	SW_ERR_REF_DATA_NOT_USABLE:     {"SW_ERR_REF_DATA_NOT_USABLE", "reference data not usable"},
	SW_ERR_COND_OF_USE_NOT_SAT:     {"SW_ERR_COND_OF_USE_NOT_SAT", "conditions of use not satisfied"},
	SW_ERR_CMD_NOT_ALLOWED_NO_EF:   {"SW_ERR_CMD_NOT_ALLOWED_NO_EF", "no current EF"},
	SW_ERR_SM_OBJ_MISSING:          {"SW_ERR_SM_OBJ_MISSING", "secure messaging objects missing"},
	SW_ERR_SM_OBJ_INCORRECT:        {"SW_ERR_SM_OBJ_INCORRECT", "secure messaging objects incorrect"},
	SW_ERR_INCORRECT_PARAMS_DATA:   {"SW_ERR_INCORRECT_PARAMS_DATA", "incorrect data field"},
	SW_ERR_FUNC_NOT_SUPPORTED:      {"SW_ERR_FUNC_NOT_SUPPORTED", "function not supported"},
	SW_ERR_FILE_NOT_FOUND:          {"SW_ERR_FILE_NOT_FOUND", "file or application not found"},
	SW_ERR_INCORRECT_PARAMS_P1P2:   {"SW_ERR_INCORRECT_PARAMS_P1P2", "incorrect P1-P2"},
	SW_ERR_REF_DATA_NOT_FOUND:      {"SW_ERR_REF_DATA_NOT_FOUND", "reference data not found"},
	SW_ERR_WRONG_P1P2:              {"SW_ERR_WRONG_P1P2", "wrong P1-P2"},
	SW_ERR_INS_INVALID:             {"SW_ERR_INS_INVALID", "instruction not supported"},
	SW_ERR_CLA_NOT_SUPPORTED:       {"SW_ERR_CLA_NOT_SUPPORTED", "class not supported"},
	SW_ERR_UNKNOWN:                 {"SW_ERR_UNKNOWN", "no precise diagnosis"},
}

func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord(uint16(sw1)<<8 | uint16(sw2))
}

func (sw StatusWord) SW1() byte { return byte(sw >> 8) }
func (sw StatusWord) SW2() byte { return byte(sw) }

// IsSuccess reports 9000 and 61XX.
func (sw StatusWord) IsSuccess() bool {
	return sw == SW_NO_ERROR || sw.SW1() == 0x61
}

func (sw StatusWord) IsWarning() bool {
	return sw.SW1() == 0x62 || sw.SW1() == 0x63
}

func (sw StatusWord) IsError() bool {
	return sw.SW1() >= 0x64 && sw.SW1() <= 0x6F
}

// RetryCounter returns X for a '63CX' status.
func (sw StatusWord) RetryCounter() (int, bool) {
	if sw.SW1() != 0x63 || bits.GetRange(sw.SW2(), 8, 5) != 0x0C {
		return 0, false
	}
	return int(bits.GetRange(sw.SW2(), 4, 1)), true
}

func (sw StatusWord) String() string {
	if e, ok := statusWords[sw]; ok {
		return e.name
	}
	return fmt.Sprintf("StatusWord(0x%04X)", uint16(sw))
}

// Verbose returns "[SW] meaning".
func (sw StatusWord) Verbose() string {
	var meaning string
	switch {
	case sw.SW1() == 0x61:
		meaning = fmt.Sprintf("%d bytes available", sw.SW2())
	case sw.SW1() == 0x6C:
		meaning = fmt.Sprintf("wrong Le, expected %d", sw.SW2())
	default:
		if n, ok := sw.RetryCounter(); ok {
			meaning = fmt.Sprintf("%d attempts left", n)
		} else if e, ok := statusWords[sw]; ok {
			meaning = e.meaning
		} else {
			meaning = sw.category()
		}
	}
	return fmt.Sprintf("[%04X] %s", uint16(sw), meaning)
}

func (sw StatusWord) category() string {
	switch sw.SW1() {
	case 0x62, 0x63:
		return "warning"
	case 0x64, 0x65, 0x66:
		return "execution error"
	case 0x67, 0x68, 0x69, 0x6A, 0x6B, 0x6D, 0x6E, 0x6F:
		return "checking error"
	default:
		return "unknown status"
	}
}
