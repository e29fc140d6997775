package iso7816

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/gregLibert/emrtd/pkg/tlv"
)

// scriptedCard answers each transmitted command with the next scripted response
// and records what it received.
type scriptedCard struct {
	responses [][]byte
	received  [][]byte
}

func (s *scriptedCard) Transmit(cmd []byte) ([]byte, error) {
	s.received = append(s.received, cmd)
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("no scripted response")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func TestClient_Send_GetResponse(t *testing.T) {
	card := &scriptedCard{responses: [][]byte{
		tlv.Hex("61 03"),
		tlv.Hex("AA BB CC 90 00"),
	}}

	trace, err := NewClient(card).Send(GetChallenge(Class{}, 8))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(trace) != 2 {
		t.Fatalf("trace length = %d; want 2", len(trace))
	}
	if !bytes.Equal(card.received[1], tlv.Hex("00 C0 00 00 03")) {
		t.Errorf("GET RESPONSE = %X", card.received[1])
	}
	if !bytes.Equal(trace.Last().Response.Data, tlv.Hex("AA BB CC")) {
		t.Errorf("final data = %X", trace.Last().Response.Data)
	}
}

func TestClient_Send_WrongLength(t *testing.T) {
	tests := []struct {
		name string
		sw   string
		reLe string
	}{
		{"Le corrected to 4", "6C 04", "04"},
		{"Le corrected to 256", "6C 00", "00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := &scriptedCard{responses: [][]byte{
				tlv.Hex(tt.sw),
				tlv.Hex("01 02 03 04 90 00"),
			}}

			cmd, _ := ReadBinary(Class{}, 0, 8)
			trace, err := NewClient(card).Send(cmd)
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if !trace.IsSuccess() {
				t.Fatal("expected successful trace")
			}
			if !bytes.Equal(card.received[1], tlv.Hex("00 B0 00 00", tt.reLe)) {
				t.Errorf("re-issued command = %X", card.received[1])
			}
		})
	}
}

func TestTrace_Check(t *testing.T) {
	ok := Trace{{Command: GetChallenge(Class{}, 8), Response: &ResponseAPDU{Status: SW_NO_ERROR}}}
	if err := ok.Check(); err != nil {
		t.Errorf("Check() = %v; want nil", err)
	}

	failed := Trace{{Command: SelectEF(Class{}, 0x011C), Response: &ResponseAPDU{Status: SW_ERR_FILE_NOT_FOUND}}}
	err := failed.Check()

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Check() = %v; want *StatusError", err)
	}
	if se.Command != INS_SELECT || se.Status != SW_ERR_FILE_NOT_FOUND {
		t.Errorf("StatusError = %+v", se)
	}

	if err := (Trace{}).Check(); err == nil {
		t.Error("expected error for empty trace")
	}
}

func TestClient_Send_RoundLimit(t *testing.T) {
	card := &scriptedCard{}
	for i := 0; i < maxRounds+1; i++ {
		card.responses = append(card.responses, tlv.Hex("61 01"))
	}

	trace, err := NewClient(card).Send(GetChallenge(Class{}, 8))
	if err == nil {
		t.Fatal("expected error for endless 61XX chain")
	}
	if len(trace) != maxRounds {
		t.Errorf("trace length = %d; want %d", len(trace), maxRounds)
	}
}
