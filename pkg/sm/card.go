package sm

import (
	"fmt"

	"github.com/gregLibert/emrtd/pkg/bits"
	"github.com/gregLibert/emrtd/pkg/iso7816"
)

// Card is the chip end of a secure channel. It verifies protected commands and
// protects the responses; the emulator uses it once access control has succeeded.
type Card struct {
	ch *channel
}

// NewCard creates the chip end of a secure channel.
func NewCard(alg Algorithm, ksEnc, ksMAC, ssc []byte) (*Card, error) {
	c, err := NewCipher(alg, ksEnc, ksMAC)
	if err != nil {
		return nil, err
	}
	ch, err := newChannel(c, ssc)
	if err != nil {
		return nil, err
	}
	return &Card{ch: ch}, nil
}

// UnwrapCommand verifies a protected command and returns its plain form.
func (c *Card) UnwrapCommand(cmd *iso7816.CommandAPDU) (*iso7816.CommandAPDU, error) {
	bits.Increment(c.ch.ssc)

	if cmd.Class.SecureMessaging != iso7816.SMHeaderAuth {
		return nil, fmt.Errorf("%w: command is not protected (CLA %02X)", ErrSecureMessaging, cmd.Class.Raw)
	}

	objs, err := splitObjects(cmd.Data)
	if err != nil {
		return nil, err
	}
	if objs.checksum == nil {
		return nil, fmt.Errorf("%w: missing checksum", ErrSecureMessaging)
	}

	header := []byte{cmd.Class.Raw, byte(cmd.Instruction.Raw), cmd.P1, cmd.P2}
	if err := c.ch.verify(objs.checksum, Pad(header, c.ch.blockSize()), objs.rawEncrypted, objs.rawExpected); err != nil {
		return nil, err
	}

	plain := *cmd
	plain.Class = cmd.Class.Unprotected()
	plain.Data = nil
	plain.Ne = 0

	if objs.encrypted != nil {
		if plain.Data, err = c.ch.decryptObject(objs.encrypted); err != nil {
			return nil, err
		}
	}
	if objs.expectedLen != nil {
		plain.Ne = decodeLe(objs.expectedLen)
	}
	return &plain, nil
}

// WrapResponse protects a response for the terminal.
func (c *Card) WrapResponse(data []byte, sw iso7816.StatusWord) ([]byte, error) {
	bits.Increment(c.ch.ssc)

	var do87 []byte
	var err error
	if len(data) > 0 {
		if do87, err = c.ch.encryptObject(data); err != nil {
			return nil, err
		}
	}
	do99 := buildObject(tagProcessStatus, []byte{sw.SW1(), sw.SW2()})

	mac, err := c.ch.checksum(do87, do99)
	if err != nil {
		return nil, err
	}

	body := make([]byte, 0, len(do87)+len(do99)+2+MACLength)
	body = append(body, do87...)
	body = append(body, do99...)
	body = append(body, buildObject(tagChecksum, mac)...)

	resp := &iso7816.ResponseAPDU{Data: body, Status: sw}
	return resp.Bytes(), nil
}
