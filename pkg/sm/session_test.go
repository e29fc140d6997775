package sm

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gregLibert/emrtd/pkg/iso7816"
	"github.com/gregLibert/emrtd/pkg/tlv"
)

// exchange is one expected protected command and the chip answer to it.
type exchange struct {
	command  []byte
	response []byte
}

type scriptedLink struct {
	t         *testing.T
	exchanges []exchange
}

func (l *scriptedLink) Transmit(cmd []byte) ([]byte, error) {
	if len(l.exchanges) == 0 {
		return nil, fmt.Errorf("unexpected command %X", cmd)
	}
	next := l.exchanges[0]
	l.exchanges = l.exchanges[1:]
	if !bytes.Equal(cmd, next.command) {
		l.t.Errorf("protected command mismatch:\nwant %X\ngot  %X", next.command, cmd)
	}
	return next.response, nil
}

// ICAO 9303-11 Appendix D.4: SELECT EF.COM and READ BINARY under 3DES secure messaging.
func TestSession_ICAOWorkedExample(t *testing.T) {
	link := &scriptedLink{t: t, exchanges: []exchange{
		{
			command:  tlv.Hex("0C A4 02 0C 15 87 09 01 63 75 43 29 08 C0 44 F6 8E 08 BF 8B 92 D6 35 FF 24 F8 00"),
			response: tlv.Hex("99 02 90 00 8E 08 FA 85 5A 5D 4C 50 A8 ED 90 00"),
		},
		{
			command:  tlv.Hex("0C B0 00 00 0D 97 01 04 8E 08 ED 67 05 41 7E 96 BA 55 00"),
			response: tlv.Hex("87 09 01 9F F0 EC 34 F9 92 26 51 99 02 90 00 8E 08 AD 55 CC 17 14 0B 2D ED 90 00"),
		},
	}}

	s, err := NewSession(link, TDES,
		tlv.Hex("979EC13B1CBFE9DCD01AB0FED307EAE5"),
		tlv.Hex("F1CB1F1FB5ADF208806B89DC579DC1F8"),
		tlv.Hex("887022120C06C226"),
		nil)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	resp, err := s.Transmit(tlv.Hex("00 A4 02 0C 02 01 1E"))
	if err != nil {
		t.Fatalf("SELECT error = %v", err)
	}
	if !bytes.Equal(resp, tlv.Hex("90 00")) {
		t.Errorf("SELECT response = %X; want 9000", resp)
	}

	resp, err = s.Transmit(tlv.Hex("00 B0 00 00 04"))
	if err != nil {
		t.Fatalf("READ BINARY error = %v", err)
	}
	if !bytes.Equal(resp, tlv.Hex("60 14 5F 01 90 00")) {
		t.Errorf("READ BINARY response = %X; want 60145F019000", resp)
	}
}

func TestSession_RejectsBadChecksum(t *testing.T) {
	link := &scriptedLink{t: t, exchanges: []exchange{
		{
			command:  tlv.Hex("0C A4 02 0C 15 87 09 01 63 75 43 29 08 C0 44 F6 8E 08 BF 8B 92 D6 35 FF 24 F8 00"),
			response: tlv.Hex("99 02 90 00 8E 08 00 00 00 00 00 00 00 00 90 00"),
		},
	}}

	s, _ := NewSession(link, TDES,
		tlv.Hex("979EC13B1CBFE9DCD01AB0FED307EAE5"),
		tlv.Hex("F1CB1F1FB5ADF208806B89DC579DC1F8"),
		tlv.Hex("887022120C06C226"),
		nil)

	_, err := s.Transmit(tlv.Hex("00 A4 02 0C 02 01 1E"))
	if !errors.Is(err, ErrSecureMessaging) {
		t.Errorf("Transmit() error = %v; want ErrSecureMessaging", err)
	}
}

// cardLink runs the chip end of the channel in process.
type cardLink struct {
	card     *Card
	received []*iso7816.CommandAPDU
	answer   func(*iso7816.CommandAPDU) ([]byte, iso7816.StatusWord)
}

func (l *cardLink) Transmit(raw []byte) ([]byte, error) {
	cmd, err := iso7816.ParseCommandAPDU(raw)
	if err != nil {
		return nil, err
	}
	plain, err := l.card.UnwrapCommand(cmd)
	if err != nil {
		return (&iso7816.ResponseAPDU{Status: iso7816.SW_ERR_SM_OBJ_INCORRECT}).Bytes(), nil
	}
	l.received = append(l.received, plain)
	data, sw := l.answer(plain)
	return l.card.WrapResponse(data, sw)
}

func TestSession_AESRoundTrip(t *testing.T) {
	ksEnc := KDF([]byte("shared secret"), CounterEnc, AES128)
	ksMAC := KDF([]byte("shared secret"), CounterMAC, AES128)
	ssc := make([]byte, 16)

	card, err := NewCard(AES128, ksEnc, ksMAC, ssc)
	if err != nil {
		t.Fatalf("NewCard() error = %v", err)
	}

	payload := bytes.Repeat([]byte{0xA5}, 40)
	link := &cardLink{card: card, answer: func(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
		if cmd.Instruction.Raw == iso7816.INS_READ_BINARY {
			return payload[:cmd.Ne], iso7816.SW_NO_ERROR
		}
		return nil, iso7816.SW_ERR_FILE_NOT_FOUND
	}}

	s, err := NewSession(link, AES128, ksEnc, ksMAC, ssc, nil)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	resp, err := s.Transmit(tlv.Hex("00 B0 00 00 20"))
	if err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	if diff := cmp.Diff(append(payload[:32:32], 0x90, 0x00), resp); diff != "" {
		t.Errorf("READ BINARY response mismatch (-want +got):\n%s", diff)
	}

	resp, err = s.Transmit(tlv.Hex("00 A4 02 0C 02 01 0E"))
	if err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	if !bytes.Equal(resp, tlv.Hex("6A 82")) {
		t.Errorf("SELECT response = %X; want 6A82", resp)
	}

	if len(link.received) != 2 {
		t.Fatalf("card received %d commands; want 2", len(link.received))
	}
	if got := link.received[0].Ne; got != 0x20 {
		t.Errorf("unwrapped Ne = %d; want 32", got)
	}
	if got := link.received[1].Data; !bytes.Equal(got, tlv.Hex("01 0E")) {
		t.Errorf("unwrapped data = %X; want 010E", got)
	}
}

func TestSession_PlainErrorPassesThrough(t *testing.T) {
	link := &scriptedLink{t: t, exchanges: []exchange{
		{
			command:  tlv.Hex("0C A4 02 0C 15 87 09 01 63 75 43 29 08 C0 44 F6 8E 08 BF 8B 92 D6 35 FF 24 F8 00"),
			response: tlv.Hex("69 88"),
		},
	}}

	s, _ := NewSession(link, TDES,
		tlv.Hex("979EC13B1CBFE9DCD01AB0FED307EAE5"),
		tlv.Hex("F1CB1F1FB5ADF208806B89DC579DC1F8"),
		tlv.Hex("887022120C06C226"),
		nil)

	resp, err := s.Transmit(tlv.Hex("00 A4 02 0C 02 01 1E"))
	if err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	if !bytes.Equal(resp, tlv.Hex("69 88")) {
		t.Errorf("response = %X; want 6988", resp)
	}
}

func TestSession_Close(t *testing.T) {
	s, _ := NewSession(&scriptedLink{t: t}, AES128, make([]byte, 16), make([]byte, 16), make([]byte, 16), nil)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := s.Transmit(tlv.Hex("00 B0 00 00 04")); err == nil {
		t.Error("expected error after Close")
	}
}
