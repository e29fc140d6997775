package pace

import (
	"bytes"
	"crypto/elliptic"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/moov-io/bertlv"

	"github.com/gregLibert/emrtd/pkg/sm"
	"github.com/gregLibert/emrtd/pkg/tlv"
)

// ErrProtocol is returned by Chip when the terminal deviates from the PACE sequence.
var ErrProtocol = errors.New("pace: unexpected step")

// Chip is the chip side of PACE-GM, as run by an emulated document.
type Chip struct {
	password []byte
	infos    []Info
	rand     io.Reader

	info     Info
	alg      sm.Algorithm
	curve    elliptic.Curve
	step     int
	nonce    []byte
	skMap    []byte
	mapped   point
	skEph    []byte
	pkEph    point
	pkEphIFD point
	ksEnc    []byte
	ksMAC    []byte
}

// NewChip prepares the chip side for a document password and its advertised PACEInfos.
func NewChip(password []byte, infos []Info, rand io.Reader) *Chip {
	return &Chip{password: append([]byte(nil), password...), infos: infos, rand: rand}
}

// SetAT handles MSE:Set AT. It accepts only a protocol advertised in EF.CardAccess
// with the MRZ password.
func (c *Chip) SetAT(data []byte) error {
	c.step = 0
	objs, err := bertlv.Decode(data)
	if err != nil {
		return err
	}
	proto, ok := tlv.Find(objs, "80")
	if !ok {
		return fmt.Errorf("%w: protocol missing", ErrProtocol)
	}
	ref, ok := tlv.Find(objs, "83")
	if !ok || !bytes.Equal(ref.Value, []byte{PasswordMRZ}) {
		return fmt.Errorf("%w: unsupported password reference", ErrProtocol)
	}
	param, ok := tlv.Find(objs, "84")
	if !ok || len(param.Value) != 1 {
		return fmt.Errorf("%w: domain parameters missing", ErrProtocol)
	}

	for _, info := range c.infos {
		if bytes.Equal(info.Protocol, proto.Value) && info.ParameterID == int(param.Value[0]) {
			if _, err := Select([]Info{info}); err != nil {
				return err
			}
			c.info = info
			c.alg, _ = info.Algorithm()
			c.curve, _ = CurveByID(info.ParameterID)
			c.step = 1
			return nil
		}
	}
	return fmt.Errorf("%w: protocol not offered", ErrProtocol)
}

// GeneralAuthenticate handles one GENERAL AUTHENTICATE step. After the last step it
// returns the chip end of the secure channel.
func (c *Chip) GeneralAuthenticate(data []byte) ([]byte, *sm.Card, error) {
	objs, err := tlv.Template(data, "7C")
	if err != nil {
		return nil, nil, err
	}

	switch c.step {
	case 1:
		return c.encryptedNonce()
	case 2:
		return c.mapNonce(objs)
	case 3:
		return c.keyAgreement(objs)
	case 4:
		return c.mutualAuthentication(objs)
	default:
		return nil, nil, ErrProtocol
	}
}

func (c *Chip) fail(err error) ([]byte, *sm.Card, error) {
	c.step = 0
	return nil, nil, err
}

func (c *Chip) encryptedNonce() ([]byte, *sm.Card, error) {
	c.nonce = make([]byte, 16)
	if _, err := io.ReadFull(c.rand, c.nonce); err != nil {
		return c.fail(err)
	}
	kpi := sm.KDF(c.password, sm.CounterPassword, c.alg)
	ciph, err := sm.NewCipher(c.alg, kpi, kpi)
	if err != nil {
		return c.fail(err)
	}
	defer ciph.Wipe()

	z, err := ciph.Encrypt(make([]byte, c.alg.BlockSize()), c.nonce)
	if err != nil {
		return c.fail(err)
	}
	c.step = 2
	return c.reply("80", z)
}

func (c *Chip) mapNonce(objs []bertlv.TLV) ([]byte, *sm.Card, error) {
	obj, ok := tlv.Find(objs, "81")
	if !ok {
		return c.fail(fmt.Errorf("%w: mapping data missing", ErrProtocol))
	}
	pkMapIFD, err := decodePoint(c.curve, obj.Value)
	if err != nil {
		return c.fail(err)
	}

	if c.skMap, err = randomScalar(c.curve, c.rand); err != nil {
		return c.fail(err)
	}
	pkMap, _ := generator(c.curve).scalarMult(c.skMap)

	h, err := pkMapIFD.scalarMult(c.skMap)
	if err != nil {
		return c.fail(err)
	}
	if c.mapped, err = mapNonce(c.curve, c.nonce, h); err != nil {
		return c.fail(err)
	}
	c.step = 3
	return c.reply("82", pkMap.Bytes())
}

func (c *Chip) keyAgreement(objs []bertlv.TLV) ([]byte, *sm.Card, error) {
	obj, ok := tlv.Find(objs, "83")
	if !ok {
		return c.fail(fmt.Errorf("%w: ephemeral key missing", ErrProtocol))
	}
	var err error
	if c.pkEphIFD, err = decodePoint(c.curve, obj.Value); err != nil {
		return c.fail(err)
	}

	if c.skEph, err = randomScalar(c.curve, c.rand); err != nil {
		return c.fail(err)
	}
	if c.pkEph, err = c.mapped.scalarMult(c.skEph); err != nil {
		return c.fail(err)
	}

	shared, err := c.pkEphIFD.scalarMult(c.skEph)
	if err != nil {
		return c.fail(err)
	}
	k := sharedSecret(shared)
	c.ksEnc = sm.KDF(k, sm.CounterEnc, c.alg)
	c.ksMAC = sm.KDF(k, sm.CounterMAC, c.alg)
	clear(k)

	c.step = 4
	return c.reply("84", c.pkEph.Bytes())
}

func (c *Chip) mutualAuthentication(objs []bertlv.TLV) ([]byte, *sm.Card, error) {
	obj, ok := tlv.Find(objs, "85")
	if !ok {
		return c.fail(fmt.Errorf("%w: terminal token missing", ErrProtocol))
	}

	ciph, err := sm.NewCipher(c.alg, c.ksEnc, c.ksMAC)
	if err != nil {
		return c.fail(err)
	}
	defer ciph.Wipe()

	expected, err := authToken(ciph, c.info.Protocol, c.pkEph)
	if err != nil {
		return c.fail(err)
	}
	if subtle.ConstantTimeCompare(expected, obj.Value) != 1 {
		return c.fail(fmt.Errorf("%w: terminal token mismatch", ErrProtocol))
	}
	token, err := authToken(ciph, c.info.Protocol, c.pkEphIFD)
	if err != nil {
		return c.fail(err)
	}

	card, err := sm.NewCard(c.alg, c.ksEnc, c.ksMAC, make([]byte, c.alg.BlockSize()))
	if err != nil {
		return c.fail(err)
	}
	c.step = 0
	resp, _, err := c.reply("86", token)
	return resp, card, err
}

func (c *Chip) reply(tag string, value []byte) ([]byte, *sm.Card, error) {
	data, err := encodeDynamicAuthData([]bertlv.TLV{{Tag: tag, Value: value}})
	return data, nil, err
}
