package iso7816

import "fmt"

// maxRounds bounds the number of 61XX / 6CXX follow-ups for one command.
const maxRounds = 16

// Transmitter sends a raw C-APDU and returns the raw R-APDU.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Client sends commands and performs the T=0 follow-ups itself: a 61XX status
// is answered with GET RESPONSE (Le = XX), a 6CXX status by repeating the
// command with Le = XX.
type Client struct {
	Card Transmitter
}

func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Send returns every transaction that was needed, in order.
func (c *Client) Send(cmd *CommandAPDU) (Trace, error) {
	var trace Trace
	for round := 0; round < maxRounds; round++ {
		raw, err := cmd.Bytes()
		if err != nil {
			return trace, fmt.Errorf("encoding %s: %w", cmd.Instruction.Raw, err)
		}
		rawResp, err := c.Card.Transmit(raw)
		if err != nil {
			return trace, fmt.Errorf("transmit %s: %w", cmd.Instruction.Raw, err)
		}
		resp, err := ParseResponseAPDU(rawResp)
		if err != nil {
			return trace, err
		}
		trace = append(trace, Transaction{Command: cmd, Response: resp})

		switch resp.Status.SW1() {
		case 0x61:
			cmd = GetResponse(cmd.Class, decodeShortLe(resp.Status.SW2()))
		case 0x6C:
			retry := *cmd
			retry.Ne = decodeShortLe(resp.Status.SW2())
			cmd = &retry
		default:
			return trace, nil
		}
	}
	return trace, fmt.Errorf("no final status after %d rounds", maxRounds)
}

// GetResponse fetches ne pending bytes on the channel of cls.
func GetResponse(cls Class, ne int) *CommandAPDU {
	ins, _ := NewInstruction(INS_GET_RESPONSE)
	return NewCommandAPDU(cls.Chained(false), ins, 0x00, 0x00, nil, ne)
}
