package bac

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"

	"github.com/gregLibert/emrtd/pkg/bits"
	"github.com/gregLibert/emrtd/pkg/iso7816"
	"github.com/gregLibert/emrtd/pkg/sm"
)

// BASIC ACCESS CONTROL (ICAO 9303-11 §4.3):
//
//  1. Kenc = KDF(K_seed, 1), Kmac = KDF(K_seed, 2)  (3DES)
//  2. GET CHALLENGE                         -> RND.IC (8 bytes)
//  3. S = RND.IFD || RND.IC || K.IFD        (8 + 8 + 16 random bytes)
//     E_IFD = E(Kenc, S), M_IFD = MAC(Kmac, E_IFD)
//  4. EXTERNAL AUTHENTICATE(E_IFD || M_IFD) -> E_IC || M_IC
//     D(Kenc, E_IC) = RND.IC || RND.IFD || K.IC
//  5. K_seed' = K.IFD xor K.IC, KSenc = KDF(K_seed', 1), KSmac = KDF(K_seed', 2)
//     SSC = RND.IC[4:8] || RND.IFD[4:8]

// Steps reported in a StepError.
const (
	StepChallenge    = "get-challenge"
	StepAuthenticate = "external-authenticate"
	StepVerify       = "verify"
)

// StepError reports a BAC failure at a specific step.
type StepError struct {
	Step  string
	SW    iso7816.StatusWord // Status word (if applicable)
	Cause error
}

func (e *StepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("bac %s failed: %v", e.Step, e.Cause)
	}
	return fmt.Sprintf("bac %s failed (SW=%04X)", e.Step, uint16(e.SW))
}

func (e *StepError) Unwrap() error { return e.Cause }

// Authenticator runs BAC against a chip.
type Authenticator struct {
	Rand   io.Reader
	Logger *slog.Logger
}

// Authenticate performs BAC with the default random source.
func Authenticate(t iso7816.Transmitter, keySeed []byte, logger *slog.Logger) (*sm.Session, error) {
	return (&Authenticator{Logger: logger}).Authenticate(t, keySeed)
}

// Authenticate performs BAC over t and returns the resulting 3DES secure session.
func (a *Authenticator) Authenticate(t iso7816.Transmitter, keySeed []byte) (*sm.Session, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rnd := a.Rand
	if rnd == nil {
		rnd = rand.Reader
	}

	kEnc := sm.KDF(keySeed, sm.CounterEnc, sm.TDES)
	kMAC := sm.KDF(keySeed, sm.CounterMAC, sm.TDES)
	c, err := sm.NewCipher(sm.TDES, kEnc, kMAC)
	if err != nil {
		return nil, err
	}
	defer c.Wipe()

	client := iso7816.NewClient(t)
	cls, _ := iso7816.NewClass(0x00)

	trace, err := client.Send(iso7816.GetChallenge(cls, iso7816.ChallengeLength))
	if err != nil {
		return nil, &StepError{Step: StepChallenge, Cause: err}
	}
	last := trace.Last().Response
	if !last.Status.IsSuccess() || len(last.Data) != iso7816.ChallengeLength {
		return nil, &StepError{Step: StepChallenge, SW: last.Status}
	}
	rndIC := last.Data

	// RND.IFD || K.IFD
	secret := make([]byte, 8+16)
	if _, err := io.ReadFull(rnd, secret); err != nil {
		return nil, fmt.Errorf("random: %w", err)
	}
	rndIFD, kIFD := secret[:8], secret[8:]
	defer clear(secret)

	s := make([]byte, 0, 32)
	s = append(s, rndIFD...)
	s = append(s, rndIC...)
	s = append(s, kIFD...)

	iv := make([]byte, 8)
	eIFD, err := c.Encrypt(iv, s)
	if err != nil {
		return nil, err
	}
	mIFD, err := c.MAC(sm.Pad(eIFD, 8))
	if err != nil {
		return nil, err
	}

	logger.Debug("bac external authenticate",
		"rnd_ic", fmt.Sprintf("%X", rndIC),
		"e_ifd", fmt.Sprintf("%X", eIFD),
		"m_ifd", fmt.Sprintf("%X", mIFD))

	cmd := iso7816.ExternalAuthenticate(cls, append(eIFD, mIFD...), iso7816.BACCryptogramLength)
	trace, err = client.Send(cmd)
	if err != nil {
		return nil, &StepError{Step: StepAuthenticate, Cause: err}
	}
	last = trace.Last().Response
	if !last.Status.IsSuccess() || len(last.Data) != iso7816.BACCryptogramLength {
		return nil, &StepError{Step: StepAuthenticate, SW: last.Status}
	}

	eIC, mIC := last.Data[:32], last.Data[32:]
	mac, err := c.MAC(sm.Pad(eIC, 8))
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(mac, mIC) != 1 {
		return nil, &StepError{Step: StepVerify, Cause: fmt.Errorf("chip cryptogram MAC mismatch")}
	}

	r, err := c.Decrypt(iv, eIC)
	if err != nil {
		return nil, err
	}
	defer clear(r)
	if !bytes.Equal(r[:8], rndIC) || !bytes.Equal(r[8:16], rndIFD) {
		return nil, &StepError{Step: StepVerify, Cause: fmt.Errorf("nonce mismatch")}
	}
	kIC := r[16:32]

	kSeed := bits.Xor(kIFD, kIC)
	defer clear(kSeed)

	ssc := make([]byte, 0, 8)
	ssc = append(ssc, rndIC[4:]...)
	ssc = append(ssc, rndIFD[4:]...)

	return sm.NewSession(t, sm.TDES,
		sm.KDF(kSeed, sm.CounterEnc, sm.TDES),
		sm.KDF(kSeed, sm.CounterMAC, sm.TDES),
		ssc, logger)
}
