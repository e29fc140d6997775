package bac

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"io"

	"github.com/gregLibert/emrtd/pkg/bits"
	"github.com/gregLibert/emrtd/pkg/sm"
)

// ErrAccessDenied is returned by Chip when the terminal cryptogram does not verify.
var ErrAccessDenied = errors.New("bac: terminal cryptogram rejected")

// Chip is the chip side of BAC, as run by an emulated document.
type Chip struct {
	keySeed []byte
	rand    io.Reader
	rndIC   []byte
}

// NewChip prepares the chip side for the given document key seed.
func NewChip(keySeed []byte, rand io.Reader) *Chip {
	return &Chip{keySeed: append([]byte(nil), keySeed...), rand: rand}
}

// Challenge returns a fresh RND.IC.
func (c *Chip) Challenge() ([]byte, error) {
	c.rndIC = make([]byte, 8)
	if _, err := io.ReadFull(c.rand, c.rndIC); err != nil {
		return nil, err
	}
	return append([]byte(nil), c.rndIC...), nil
}

// Authenticate verifies E_IFD || M_IFD and returns E_IC || M_IC together with the
// chip end of the secure channel.
func (c *Chip) Authenticate(cryptogram []byte) ([]byte, *sm.Card, error) {
	if c.rndIC == nil || len(cryptogram) != 40 {
		return nil, nil, ErrAccessDenied
	}
	rndIC := c.rndIC
	c.rndIC = nil

	ciph, err := sm.NewCipher(sm.TDES,
		sm.KDF(c.keySeed, sm.CounterEnc, sm.TDES),
		sm.KDF(c.keySeed, sm.CounterMAC, sm.TDES))
	if err != nil {
		return nil, nil, err
	}
	defer ciph.Wipe()

	eIFD, mIFD := cryptogram[:32], cryptogram[32:]
	mac, err := ciph.MAC(sm.Pad(eIFD, 8))
	if err != nil {
		return nil, nil, err
	}
	if subtle.ConstantTimeCompare(mac, mIFD) != 1 {
		return nil, nil, ErrAccessDenied
	}

	iv := make([]byte, 8)
	s, err := ciph.Decrypt(iv, eIFD)
	if err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(s[8:16], rndIC) {
		return nil, nil, ErrAccessDenied
	}
	rndIFD, kIFD := s[:8], s[16:32]

	kIC := make([]byte, 16)
	if _, err := io.ReadFull(c.rand, kIC); err != nil {
		return nil, nil, err
	}

	r := make([]byte, 0, 32)
	r = append(r, rndIC...)
	r = append(r, rndIFD...)
	r = append(r, kIC...)
	eIC, err := ciph.Encrypt(iv, r)
	if err != nil {
		return nil, nil, err
	}
	mIC, err := ciph.MAC(sm.Pad(eIC, 8))
	if err != nil {
		return nil, nil, err
	}

	kSeed := bits.Xor(kIFD, kIC)
	ssc := append(append([]byte(nil), rndIC[4:]...), rndIFD[4:]...)
	card, err := sm.NewCard(sm.TDES,
		sm.KDF(kSeed, sm.CounterEnc, sm.TDES),
		sm.KDF(kSeed, sm.CounterMAC, sm.TDES),
		ssc)
	if err != nil {
		return nil, nil, err
	}
	return append(eIC, mIC...), card, nil
}
