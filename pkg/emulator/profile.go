package emulator

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/moov-io/bertlv"

	"github.com/gregLibert/emrtd/pkg/lds"
	"github.com/gregLibert/emrtd/pkg/mrz"
)

const td3LineLength = 44

// Profile is the personalization data of an emulated passport.
type Profile struct {
	MRZ              [2]string `yaml:"mrz"`
	NameOfHolder     string    `yaml:"name_of_holder"`
	FullDateOfBirth  string    `yaml:"full_date_of_birth"`
	PlaceOfBirth     string    `yaml:"place_of_birth"`
	Address          string    `yaml:"address"`
	IssuingAuthority string    `yaml:"issuing_authority"`
	DateOfIssue      string    `yaml:"date_of_issue"`
}

// SampleProfile is the ICAO 9303 specimen passport of Anna Maria Eriksson.
func SampleProfile() Profile {
	return Profile{
		MRZ: [2]string{
			"P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<",
			"L898902C36UTO7408122F1204159ZE184226B<<<<<10",
		},
		NameOfHolder:     "ERIKSSON<<ANNA<MARIA",
		FullDateOfBirth:  "19740812",
		PlaceOfBirth:     "ZENITH<UTOPIA",
		Address:          " 12 MAIN ST<75001<ZENITH<<UTOPIA",
		IssuingAuthority: "UTOPIA PASSPORT OFFICE",
		DateOfIssue:      "20020415",
	}
}

// Validate checks the MRZ layout.
func (p Profile) Validate() error {
	for i, line := range p.MRZ {
		if len(line) != td3LineLength {
			return fmt.Errorf("mrz line %d: length %d, want %d", i+1, len(line), td3LineLength)
		}
	}
	_, err := p.Seed()
	return err
}

// Seed returns the access key material printed in the second MRZ line.
func (p Profile) Seed() (mrz.Seed, error) {
	l := p.MRZ[1]
	if len(l) != td3LineLength {
		return mrz.Seed{}, fmt.Errorf("%w: mrz line 2 has length %d", mrz.ErrInvalidKeyMaterial, len(l))
	}
	return mrz.NewSeed(strings.TrimRight(l[0:9], "<"), l[13:19], l[21:27])
}

// files builds the LDS content of the application.
func (p Profile) files() (map[uint16][]byte, error) {
	com, err := bertlv.Encode([]bertlv.TLV{{Tag: "60", TLVs: []bertlv.TLV{
		{Tag: "5F01", Value: []byte("0107")},
		{Tag: "5F36", Value: []byte("040000")},
		{Tag: "5C", Value: []byte{0x61, 0x6B, 0x6C}},
	}}})
	if err != nil {
		return nil, err
	}

	dg1, err := bertlv.Encode([]bertlv.TLV{{Tag: "61", TLVs: []bertlv.TLV{
		{Tag: "5F1F", Value: []byte(p.MRZ[0] + p.MRZ[1])},
	}}})
	if err != nil {
		return nil, err
	}

	dg11Fields := []bertlv.TLV{
		{Tag: "5F0E", Value: []byte(p.NameOfHolder)},
		{Tag: "5F2B", Value: []byte(p.FullDateOfBirth)},
		{Tag: "5F11", Value: []byte(p.PlaceOfBirth)},
		{Tag: "5F42", Value: []byte(p.Address)},
	}
	dg11, err := bertlv.Encode([]bertlv.TLV{{Tag: "6B", TLVs: withTagList(dg11Fields)}})
	if err != nil {
		return nil, err
	}

	dg12Fields := []bertlv.TLV{
		{Tag: "5F19", Value: []byte(p.IssuingAuthority)},
		{Tag: "5F26", Value: []byte(p.DateOfIssue)},
	}
	dg12, err := bertlv.Encode([]bertlv.TLV{{Tag: "6C", TLVs: withTagList(dg12Fields)}})
	if err != nil {
		return nil, err
	}

	return map[uint16][]byte{
		lds.FileCOM:  com,
		lds.FileDG1:  dg1,
		lds.FileDG11: dg11,
		lds.FileDG12: dg12,
	}, nil
}

// withTagList drops empty fields and prefixes the '5C' list of the remaining tags.
func withTagList(fields []bertlv.TLV) []bertlv.TLV {
	var present []bertlv.TLV
	var tags []byte
	for _, f := range fields {
		if len(f.Value) == 0 {
			continue
		}
		present = append(present, f)
		tags = append(tags, tagBytes(f.Tag)...)
	}
	return append([]bertlv.TLV{{Tag: "5C", Value: tags}}, present...)
}

func tagBytes(tag string) []byte {
	b, _ := hex.DecodeString(tag)
	return b
}
