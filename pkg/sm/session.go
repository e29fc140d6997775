package sm

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gregLibert/emrtd/pkg/bits"
	"github.com/gregLibert/emrtd/pkg/iso7816"
	"github.com/gregLibert/emrtd/pkg/tlv"
)

// SECURE MESSAGING (ICAO 9303-11 §9.8, ISO 7816-4 §10):
// Once access control succeeds, every APDU is protected with the session keys.
//
// Command:
//   CLA is masked with '0C' (SM, header authenticated).
//   DO'87' = 01 || E(KSenc, pad(data))          when the command carries data
//   DO'97' = Le                                 when a response is expected
//   DO'8E' = MAC(KSmac, pad(SSC || pad(CLA INS P1 P2) || DO'87' || DO'97'))
//   The protected APDU is CLA INS P1 P2 Lc DO'87' DO'97' DO'8E' 00.
//
// Response:
//   DO'87' = 01 || E(KSenc, pad(data))          when the response carries data
//   DO'99' = SW1 SW2 of the unprotected processing
//   DO'8E' = MAC(KSmac, pad(SSC || DO'87' || DO'99'))
//
// The send sequence counter (SSC) is incremented before each command and before each
// response, on both sides.

// ErrSecureMessaging reports a response that failed verification or could not be decoded.
var ErrSecureMessaging = errors.New("secure messaging failure")

// Data object tags.
const (
	tagEncryptedData = 0x87
	tagExpectedLen   = 0x97
	tagProcessStatus = 0x99
	tagChecksum      = 0x8E

	paddingIndicator = 0x01
)

// channel holds the state shared by both ends of a secure channel.
type channel struct {
	cipher *Cipher
	ssc    []byte
}

func newChannel(c *Cipher, ssc []byte) (*channel, error) {
	if len(ssc) != c.alg.BlockSize() {
		return nil, fmt.Errorf("SSC must be %d bytes for %s, got %d", c.alg.BlockSize(), c.alg, len(ssc))
	}
	return &channel{cipher: c, ssc: append([]byte(nil), ssc...)}, nil
}

func (ch *channel) blockSize() int { return ch.cipher.alg.BlockSize() }

func (ch *channel) encryptObject(data []byte) ([]byte, error) {
	enc, err := ch.cipher.Encrypt(ch.cipher.IV(ch.ssc), Pad(data, ch.blockSize()))
	if err != nil {
		return nil, err
	}
	value := append([]byte{paddingIndicator}, enc...)
	return buildObject(tagEncryptedData, value), nil
}

func (ch *channel) decryptObject(value []byte) ([]byte, error) {
	if len(value) < 1 || value[0] != paddingIndicator {
		return nil, fmt.Errorf("%w: unexpected padding indicator", ErrSecureMessaging)
	}
	plain, err := ch.cipher.Decrypt(ch.cipher.IV(ch.ssc), value[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecureMessaging, err)
	}
	out, err := Unpad(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecureMessaging, err)
	}
	return out, nil
}

// checksum computes MAC(pad(SSC || parts...)).
func (ch *channel) checksum(parts ...[]byte) ([]byte, error) {
	input := append([]byte(nil), ch.ssc...)
	for _, p := range parts {
		input = append(input, p...)
	}
	return ch.cipher.MAC(Pad(input, ch.blockSize()))
}

func (ch *channel) verify(expected []byte, parts ...[]byte) error {
	mac, err := ch.checksum(parts...)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(mac, expected) != 1 {
		return fmt.Errorf("%w: checksum mismatch", ErrSecureMessaging)
	}
	return nil
}

// Session is a secure channel on top of a Transmitter. It protects every command
// and verifies every response; callers use it exactly like the underlying link.
type Session struct {
	mu     sync.Mutex
	next   iso7816.Transmitter
	ch     *channel
	logger *slog.Logger
	closed bool
}

// NewSession wraps next with a secure channel using the given session keys and initial SSC.
func NewSession(next iso7816.Transmitter, alg Algorithm, ksEnc, ksMAC, ssc []byte, logger *slog.Logger) (*Session, error) {
	c, err := NewCipher(alg, ksEnc, ksMAC)
	if err != nil {
		return nil, err
	}
	ch, err := newChannel(c, ssc)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{next: next, ch: ch, logger: logger}, nil
}

// Algorithm returns the cipher suite of the session.
func (s *Session) Algorithm() Algorithm { return s.ch.cipher.alg }

// Transmit protects cmd, sends it and returns the verified, decrypted response (data || SW).
// A plain status word answered without secure messaging objects is passed through as is.
func (s *Session) Transmit(cmd []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("secure session closed")
	}

	plain, err := iso7816.ParseCommandAPDU(cmd)
	if err != nil {
		return nil, err
	}

	protected, err := s.protect(plain)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("secure messaging",
		"ins", fmt.Sprintf("0x%02X", byte(plain.Instruction.Raw)),
		"ssc", upperHex(s.ch.ssc),
		"apdu", upperHex(protected))

	raw, err := s.next.Transmit(protected)
	if err != nil {
		return nil, err
	}

	return s.unprotect(raw)
}

// Close ends the secure channel and zeroes the session keys.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.ch.cipher.Wipe()
	clear(s.ch.ssc)
	return nil
}

func (s *Session) protect(cmd *iso7816.CommandAPDU) ([]byte, error) {
	bits.Increment(s.ch.ssc)

	cls := cmd.Class.Protected()
	claByte, err := cls.Encode()
	if err != nil {
		return nil, err
	}

	header := []byte{claByte, byte(cmd.Instruction.Raw), cmd.P1, cmd.P2}

	var do87, do97 []byte
	if len(cmd.Data) > 0 {
		if do87, err = s.ch.encryptObject(cmd.Data); err != nil {
			return nil, err
		}
	}
	if cmd.Ne > 0 {
		do97 = buildObject(tagExpectedLen, encodeLe(cmd.Ne))
	}

	mac, err := s.ch.checksum(Pad(header, s.ch.blockSize()), do87, do97)
	if err != nil {
		return nil, err
	}

	body := make([]byte, 0, len(do87)+len(do97)+2+MACLength)
	body = append(body, do87...)
	body = append(body, do97...)
	body = append(body, buildObject(tagChecksum, mac)...)

	ne := iso7816.MaxShortLe
	if cmd.Ne > iso7816.MaxShortLe {
		ne = iso7816.MaxExtendedLe
	}
	return iso7816.NewCommandAPDU(cls, cmd.Instruction, cmd.P1, cmd.P2, body, ne).Bytes()
}

func (s *Session) unprotect(raw []byte) ([]byte, error) {
	bits.Increment(s.ch.ssc)

	resp, err := iso7816.ParseResponseAPDU(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecureMessaging, err)
	}

	if len(resp.Data) == 0 {
		if resp.Status.IsError() {
			return raw, nil
		}
		return nil, fmt.Errorf("%w: response %04X without secure messaging objects", ErrSecureMessaging, uint16(resp.Status))
	}

	objs, err := splitObjects(resp.Data)
	if err != nil {
		return nil, err
	}
	if objs.checksum == nil {
		return nil, fmt.Errorf("%w: missing checksum", ErrSecureMessaging)
	}
	if err := s.ch.verify(objs.checksum, objs.rawEncrypted, objs.rawStatus); err != nil {
		return nil, err
	}

	var data []byte
	if objs.encrypted != nil {
		if data, err = s.ch.decryptObject(objs.encrypted); err != nil {
			return nil, err
		}
	}

	status := resp.Status
	if objs.status != nil {
		if len(objs.status) != 2 {
			return nil, fmt.Errorf("%w: malformed status object", ErrSecureMessaging)
		}
		status = iso7816.NewStatusWord(objs.status[0], objs.status[1])
	}

	out := &iso7816.ResponseAPDU{Data: data, Status: status}
	return out.Bytes(), nil
}

// smObjects are the secure messaging data objects found in a message body.
// The raw fields keep the full TLV encoding, which is what the checksum covers.
type smObjects struct {
	encrypted    []byte
	rawEncrypted []byte
	expectedLen  []byte
	rawExpected  []byte
	status       []byte
	rawStatus    []byte
	checksum     []byte
}

func splitObjects(data []byte) (*smObjects, error) {
	objs := &smObjects{}
	for pos := 0; pos < len(data); {
		hl, vl, err := tlv.Header(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSecureMessaging, err)
		}
		end := pos + hl + vl
		if end > len(data) {
			return nil, fmt.Errorf("%w: object %02X overflows message", ErrSecureMessaging, data[pos])
		}
		raw := data[pos:end]
		value := data[pos+hl : end]

		switch data[pos] {
		case tagEncryptedData:
			objs.encrypted, objs.rawEncrypted = value, raw
		case tagExpectedLen:
			objs.expectedLen, objs.rawExpected = value, raw
		case tagProcessStatus:
			objs.status, objs.rawStatus = value, raw
		case tagChecksum:
			objs.checksum = value
		default:
			return nil, fmt.Errorf("%w: unexpected object %02X", ErrSecureMessaging, data[pos])
		}
		pos = end
	}
	return objs, nil
}

func buildObject(tag byte, value []byte) []byte {
	out := []byte{tag}
	out = append(out, tlv.EncodeLength(len(value))...)
	return append(out, value...)
}

func encodeLe(ne int) []byte {
	switch {
	case ne == iso7816.MaxShortLe:
		return []byte{0x00}
	case ne < iso7816.MaxShortLe:
		return []byte{byte(ne)}
	case ne == iso7816.MaxExtendedLe:
		return []byte{0x00, 0x00}
	default:
		return []byte{byte(ne >> 8), byte(ne)}
	}
}

func decodeLe(le []byte) int {
	switch len(le) {
	case 1:
		if le[0] == 0 {
			return iso7816.MaxShortLe
		}
		return int(le[0])
	case 2:
		ne := int(le[0])<<8 | int(le[1])
		if ne == 0 {
			return iso7816.MaxExtendedLe
		}
		return ne
	default:
		return 0
	}
}

func upperHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
