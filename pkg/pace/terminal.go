package pace

import (
	"crypto/elliptic"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"

	"github.com/moov-io/bertlv"

	"github.com/gregLibert/emrtd/pkg/iso7816"
	"github.com/gregLibert/emrtd/pkg/sm"
	"github.com/gregLibert/emrtd/pkg/tlv"
)

// PACE WITH GENERIC MAPPING (ICAO 9303-11 §4.4, ECDH):
//
//	MSE:Set AT   80 protocol, 83 01 01 (MRZ password), 84 parameterId
//	GA step 1    7C{}                -> 7C{80 z}     s = D(K_pi, z), K_pi = KDF(K, 3)
//	GA step 2    7C{81 PK_map,IFD}   -> 7C{82 PK_map,IC}
//	             G' = s*G + SK_map,IFD * PK_map,IC
//	GA step 3    7C{83 PK_IFD}       -> 7C{84 PK_IC}  (ephemeral keys on G')
//	             K = x(SK_IFD * PK_IC), KSenc = KDF(K, 1), KSmac = KDF(K, 2)
//	GA step 4    7C{85 T_IFD}        -> 7C{86 T_IC}
//	             T_IFD = MAC(KSmac, PKDO(PK_IC)), T_IC = MAC(KSmac, PKDO(PK_IFD))
//
// Steps 1 to 3 are sent with command chaining; the SSC of the resulting channel is zero.

// Password references (MSE:Set AT tag 83).
const (
	PasswordMRZ = 0x01
	PasswordCAN = 0x02
)

// Steps reported in a StepError.
const (
	StepSetAT        = "mse-set-at"
	StepNonce        = "encrypted-nonce"
	StepMapping      = "map-nonce"
	StepKeyAgreement = "key-agreement"
	StepMutualAuth   = "mutual-authentication"
)

// StepError reports a PACE failure at a specific step.
type StepError struct {
	Step  string
	SW    iso7816.StatusWord // Status word (if applicable)
	Cause error
}

func (e *StepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("pace %s failed: %v", e.Step, e.Cause)
	}
	return fmt.Sprintf("pace %s failed (SW=%04X)", e.Step, uint16(e.SW))
}

func (e *StepError) Unwrap() error { return e.Cause }

// Terminal runs PACE against a chip.
type Terminal struct {
	Rand   io.Reader
	Logger *slog.Logger
}

// Establish runs PACE-GM with the first supported entry of infos, using the
// MRZ-derived password, and returns the secure session.
func (p *Terminal) Establish(t iso7816.Transmitter, infos []Info, password []byte) (*sm.Session, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.Reader
	}

	info, err := Select(infos)
	if err != nil {
		return nil, err
	}
	alg, _ := info.Algorithm()
	curve, _ := CurveByID(info.ParameterID)
	logger.Debug("pace protocol selected", "protocol", info.String())

	client := iso7816.NewClient(t)
	cls, _ := iso7816.NewClass(0x00)

	// MSE:Set AT
	setAT, err := bertlv.Encode([]bertlv.TLV{
		{Tag: "80", Value: info.Protocol},
		{Tag: "83", Value: []byte{PasswordMRZ}},
		{Tag: "84", Value: []byte{byte(info.ParameterID)}},
	})
	if err != nil {
		return nil, err
	}
	trace, err := client.Send(iso7816.MSESetAT(cls, setAT))
	if err != nil {
		return nil, &StepError{Step: StepSetAT, Cause: err}
	}
	if !trace.IsSuccess() {
		return nil, &StepError{Step: StepSetAT, SW: trace.Last().Response.Status}
	}

	// Step 1: encrypted nonce
	z, err := p.step(client, cls, StepNonce, "", nil, "80", true)
	if err != nil {
		return nil, err
	}
	kpi := sm.KDF(password, sm.CounterPassword, alg)
	nonceCipher, err := sm.NewCipher(alg, kpi, kpi)
	if err != nil {
		return nil, err
	}
	s, err := nonceCipher.Decrypt(make([]byte, alg.BlockSize()), z)
	nonceCipher.Wipe()
	if err != nil {
		return nil, &StepError{Step: StepNonce, Cause: err}
	}
	defer clear(s)

	// Step 2: map nonce
	skMap, err := randomScalar(curve, rnd)
	if err != nil {
		return nil, err
	}
	pkMap, _ := generator(curve).scalarMult(skMap)
	resp, err := p.step(client, cls, StepMapping, "81", pkMap.Bytes(), "82", true)
	if err != nil {
		return nil, err
	}
	pkMapIC, err := decodePoint(curve, resp)
	if err != nil {
		return nil, &StepError{Step: StepMapping, Cause: err}
	}
	h, err := pkMapIC.scalarMult(skMap)
	if err != nil {
		return nil, &StepError{Step: StepMapping, Cause: err}
	}
	gMapped, err := mapNonce(curve, s, h)
	if err != nil {
		return nil, &StepError{Step: StepMapping, Cause: err}
	}

	// Step 3: key agreement on the mapped generator
	skEph, err := randomScalar(curve, rnd)
	if err != nil {
		return nil, err
	}
	pkEph, err := gMapped.scalarMult(skEph)
	if err != nil {
		return nil, &StepError{Step: StepKeyAgreement, Cause: err}
	}
	resp, err = p.step(client, cls, StepKeyAgreement, "83", pkEph.Bytes(), "84", true)
	if err != nil {
		return nil, err
	}
	pkEphIC, err := decodePoint(curve, resp)
	if err != nil {
		return nil, &StepError{Step: StepKeyAgreement, Cause: err}
	}
	if pkEphIC.equal(pkEph) {
		return nil, &StepError{Step: StepKeyAgreement, Cause: fmt.Errorf("chip reflected the terminal key")}
	}
	shared, err := pkEphIC.scalarMult(skEph)
	if err != nil {
		return nil, &StepError{Step: StepKeyAgreement, Cause: err}
	}
	k := sharedSecret(shared)
	defer clear(k)

	ksEnc := sm.KDF(k, sm.CounterEnc, alg)
	ksMAC := sm.KDF(k, sm.CounterMAC, alg)

	// Step 4: mutual authentication
	tokenCipher, err := sm.NewCipher(alg, ksEnc, ksMAC)
	if err != nil {
		return nil, err
	}
	defer tokenCipher.Wipe()

	tIFD, err := authToken(tokenCipher, info.Protocol, pkEphIC)
	if err != nil {
		return nil, err
	}
	tIC, err := p.step(client, cls, StepMutualAuth, "85", tIFD, "86", false)
	if err != nil {
		return nil, err
	}
	expected, err := authToken(tokenCipher, info.Protocol, pkEph)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(expected, tIC) != 1 {
		return nil, &StepError{Step: StepMutualAuth, Cause: fmt.Errorf("chip authentication token mismatch")}
	}

	logger.Debug("pace established", "protocol", info.String(), "curve", curveName(curve))
	return sm.NewSession(t, alg, ksEnc, ksMAC, make([]byte, alg.BlockSize()), logger)
}

// step sends one GENERAL AUTHENTICATE and returns the value of the expected response object.
func (p *Terminal) step(client *iso7816.Client, cls iso7816.Class, name, tag string, value []byte, respTag string, chained bool) ([]byte, error) {
	var inner []bertlv.TLV
	if tag != "" {
		inner = []bertlv.TLV{{Tag: tag, Value: value}}
	}
	data, err := encodeDynamicAuthData(inner)
	if err != nil {
		return nil, err
	}

	trace, err := client.Send(iso7816.GeneralAuthenticate(cls, data, chained))
	if err != nil {
		return nil, &StepError{Step: name, Cause: err}
	}
	last := trace.Last().Response
	if !last.Status.IsSuccess() {
		return nil, &StepError{Step: name, SW: last.Status}
	}

	objs, err := tlv.Template(last.Data, "7C")
	if err != nil {
		return nil, &StepError{Step: name, Cause: err}
	}
	obj, ok := tlv.Find(objs, respTag)
	if !ok {
		return nil, &StepError{Step: name, Cause: fmt.Errorf("response object %s missing", respTag)}
	}
	return obj.Value, nil
}

// encodeDynamicAuthData wraps objects in the '7C' template.
func encodeDynamicAuthData(objs []bertlv.TLV) ([]byte, error) {
	if len(objs) == 0 {
		return []byte{0x7C, 0x00}, nil
	}
	return bertlv.Encode([]bertlv.TLV{{Tag: "7C", TLVs: objs}})
}

// authToken computes MAC(KSmac, 7F49{06 protocol, 86 point}).
// 3DES tokens are computed over padded data, CMAC tokens over the raw encoding.
func authToken(c *sm.Cipher, protocol []byte, pk point) ([]byte, error) {
	pkdo, err := bertlv.Encode([]bertlv.TLV{{Tag: "7F49", TLVs: []bertlv.TLV{
		{Tag: "06", Value: protocol},
		{Tag: "86", Value: pk.Bytes()},
	}}})
	if err != nil {
		return nil, err
	}
	if c.Algorithm() == sm.TDES {
		pkdo = sm.Pad(pkdo, c.Algorithm().BlockSize())
	}
	return c.MAC(pkdo)
}

func curveName(c elliptic.Curve) string {
	if name := c.Params().Name; name != "" {
		return name
	}
	return fmt.Sprintf("%d-bit", c.Params().BitSize)
}
