package lds

import (
	"fmt"
	"strings"

	"github.com/gmrtd/gmrtd/document"
)

// DG1 holds the MRZ information stored on the chip.
type DG1 struct {
	DocumentCode        string
	IssuingState        string
	DocumentNumber      string
	PrimaryIdentifier   string
	SecondaryIdentifier string
	Nationality         string
	DateOfBirth         string // YYMMDD
	Sex                 string
	DateOfExpiry        string // YYMMDD
}

// ParseDG1 decodes the content of EF.DG1 (template '61', MRZ in '5F1F').
func ParseDG1(data []byte) (*DG1, error) {
	dg, err := document.NewDG1(data)
	if err != nil {
		return nil, fmt.Errorf("%w: DG1: %v", ErrMalformedDataGroup, err)
	}
	if dg == nil {
		return nil, fmt.Errorf("%w: DG1: empty", ErrMalformedDataGroup)
	}

	m := dg.Mrz
	out := &DG1{
		DocumentCode:        fillerless(m.DocumentCode),
		IssuingState:        fillerless(m.IssuingState),
		DocumentNumber:      fillerless(m.DocumentNumber),
		PrimaryIdentifier:   m.NameOfHolder.Primary,
		SecondaryIdentifier: m.NameOfHolder.Secondary,
		Nationality:         fillerless(m.Nationality),
		DateOfBirth:         m.DateOfBirth,
		Sex:                 m.Sex,
		DateOfExpiry:        m.DateOfExpiry,
	}
	if out.DocumentNumber == "" {
		return nil, fmt.Errorf("%w: DG1: no document number", ErrMalformedDataGroup)
	}
	return out, nil
}

// Gender maps the MRZ sex field to "M", "F", or "" for anything else.
func (d *DG1) Gender() string {
	return Gender(d.Sex)
}

// Gender maps an MRZ sex code to a single letter. Unspecified or unknown codes yield "".
func Gender(sex string) string {
	switch strings.ToUpper(strings.TrimSpace(sex)) {
	case "M", "MALE":
		return "M"
	case "F", "FEMALE":
		return "F"
	default:
		return ""
	}
}

func fillerless(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "<")
}
