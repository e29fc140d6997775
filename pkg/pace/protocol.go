package pace

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/moov-io/bertlv"

	"github.com/gregLibert/emrtd/pkg/sm"
	"github.com/gregLibert/emrtd/pkg/tlv"
)

// EF.CardAccess (ICAO 9303-11 §9.2):
// The file is a DER encoded SET of SecurityInfos. A PACEInfo announces one supported
// PACE variant:
//
//	PACEInfo ::= SEQUENCE {
//	    protocol    OBJECT IDENTIFIER,   -- id-PACE-<mapping>-<cipher>
//	    version     INTEGER,             -- 2
//	    parameterId INTEGER OPTIONAL     -- standardized domain parameters
//	}
//
// id-PACE = 0.4.0.127.0.7.2.2.4, followed by the mapping arc (1 DH-GM, 2 ECDH-GM,
// 3 DH-IM, 4 ECDH-IM, 6 ECDH-CAM) and the cipher arc (1 3DES, 2 AES-128, 3 AES-192,
// 4 AES-256).

// ErrUnsupported is returned when EF.CardAccess offers no usable PACE variant.
var ErrUnsupported = errors.New("no supported PACE protocol")

// idPACE is the DER encoding of id-PACE.
var idPACE = []byte{0x04, 0x00, 0x7F, 0x00, 0x07, 0x02, 0x02, 0x04}

// Mapping is the nonce mapping arc of a PACE protocol OID.
type Mapping byte

const (
	MappingDHGeneric       Mapping = 1
	MappingECDHGeneric     Mapping = 2
	MappingDHIntegrated    Mapping = 3
	MappingECDHIntegrated  Mapping = 4
	MappingECDHChipAuthMap Mapping = 6
)

func (m Mapping) String() string {
	switch m {
	case MappingDHGeneric:
		return "DH-GM"
	case MappingECDHGeneric:
		return "ECDH-GM"
	case MappingDHIntegrated:
		return "DH-IM"
	case MappingECDHIntegrated:
		return "ECDH-IM"
	case MappingECDHChipAuthMap:
		return "ECDH-CAM"
	default:
		return fmt.Sprintf("Mapping(%d)", byte(m))
	}
}

// Info is a PACEInfo entry of EF.CardAccess.
type Info struct {
	Protocol    []byte // DER encoded OID value
	Version     int
	ParameterID int // -1 when absent
}

// Mapping returns the mapping arc of the protocol.
func (i Info) Mapping() Mapping {
	return Mapping(i.Protocol[len(idPACE)])
}

// Algorithm returns the secure messaging cipher of the protocol.
func (i Info) Algorithm() (sm.Algorithm, error) {
	switch i.Protocol[len(idPACE)+1] {
	case 1:
		return sm.TDES, nil
	case 2:
		return sm.AES128, nil
	case 3:
		return sm.AES192, nil
	case 4:
		return sm.AES256, nil
	default:
		return 0, fmt.Errorf("unknown PACE cipher arc %d", i.Protocol[len(idPACE)+1])
	}
}

func (i Info) String() string {
	alg, _ := i.Algorithm()
	return fmt.Sprintf("PACE %s %s param=%d", i.Mapping(), alg, i.ParameterID)
}

// ProtocolOID builds the DER OID value of id-PACE-<mapping>-<cipher>.
func ProtocolOID(m Mapping, alg sm.Algorithm) []byte {
	oid := append([]byte(nil), idPACE...)
	return append(oid, byte(m), byte(alg))
}

// ParseCardAccess decodes EF.CardAccess and returns its PACEInfos in file order.
// SecurityInfos of other protocols are skipped.
func ParseCardAccess(data []byte) ([]Info, error) {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode EF.CardAccess: %w", err)
	}
	set, ok := tlv.Find(packets, "31")
	if !ok {
		return nil, fmt.Errorf("EF.CardAccess: SecurityInfos SET not found")
	}

	var infos []Info
	for _, seq := range set.TLVs {
		if seq.Tag != "30" || len(seq.TLVs) < 2 {
			continue
		}
		oid := seq.TLVs[0]
		if oid.Tag != "06" || len(oid.Value) != len(idPACE)+2 || !bytes.HasPrefix(oid.Value, idPACE) {
			continue
		}
		if seq.TLVs[1].Tag != "02" {
			return nil, fmt.Errorf("PACEInfo: version is not an INTEGER")
		}

		info := Info{
			Protocol:    oid.Value,
			Version:     int(new(big.Int).SetBytes(seq.TLVs[1].Value).Int64()),
			ParameterID: -1,
		}
		if len(seq.TLVs) > 2 && seq.TLVs[2].Tag == "02" {
			info.ParameterID = int(new(big.Int).SetBytes(seq.TLVs[2].Value).Int64())
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// EncodeCardAccess builds an EF.CardAccess holding the given PACEInfos.
func EncodeCardAccess(infos []Info) ([]byte, error) {
	seqs := make([]bertlv.TLV, 0, len(infos))
	for _, info := range infos {
		children := []bertlv.TLV{
			{Tag: "06", Value: info.Protocol},
			{Tag: "02", Value: []byte{byte(info.Version)}},
		}
		if info.ParameterID >= 0 {
			children = append(children, bertlv.TLV{Tag: "02", Value: []byte{byte(info.ParameterID)}})
		}
		seqs = append(seqs, bertlv.TLV{Tag: "30", TLVs: children})
	}
	return bertlv.Encode([]bertlv.TLV{{Tag: "31", TLVs: seqs}})
}

// Select returns the first PACEInfo this terminal can run: ECDH generic mapping,
// a known cipher and standardized domain parameters with an available curve.
func Select(infos []Info) (Info, error) {
	for _, info := range infos {
		if info.Mapping() != MappingECDHGeneric {
			continue
		}
		if _, err := info.Algorithm(); err != nil {
			continue
		}
		if _, err := CurveByID(info.ParameterID); err != nil {
			continue
		}
		return info, nil
	}
	return Info{}, ErrUnsupported
}
