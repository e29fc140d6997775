package lds

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/gregLibert/emrtd/pkg/tlv"
)

// DG11 holds the additional personal details of the holder (template '6B').
// Multi-part fields use '<' as separator; repeated tags are collected in order.
type DG11 struct {
	TagList         []byte      `tlv:"5C"`
	NameOfHolder    string      `tlv:"5F0E" fmt:"text"`
	OtherNames      *otherNames `tlv:"A0"`
	PersonalNumber  string      `tlv:"5F10" fmt:"text"`
	RawDateOfBirth  []byte      `tlv:"5F2B"`
	RawPlaceOfBirth []string    `tlv:"5F11" fmt:"text"`
	RawAddress      []string    `tlv:"5F42" fmt:"text"`
	Telephone       string      `tlv:"5F12" fmt:"text"`
	Profession      string      `tlv:"5F13" fmt:"text"`
	Title           string      `tlv:"5F14" fmt:"text"`
	PersonalSummary string      `tlv:"5F15" fmt:"text"`
	CustodyInfo     string      `tlv:"5F18" fmt:"text"`
}

type otherNames struct {
	Count []byte   `tlv:"02"`
	Names []string `tlv:"5F0F" fmt:"text"`
}

// Describe lists the elements present in the data group, one per line.
func (dg *DG11) Describe() string {
	var sb strings.Builder
	sb.WriteString("=== DG11 ADDITIONAL PERSONAL DETAILS ===")
	tlv.WriteStructFields(&sb, "DG11", dg)
	tlv.WriteStructFields(&sb, "DG11.OtherNames", dg.OtherNames)
	return sb.String()
}

// ParseDG11 decodes the content of EF.DG11.
func ParseDG11(data []byte) (*DG11, error) {
	packets, err := tlv.Template(data, "6B")
	if err != nil {
		return nil, fmt.Errorf("%w: DG11: %v", ErrMalformedDataGroup, err)
	}

	dg := &DG11{}
	if err := tlv.UnmarshalFromPackets(packets, dg); err != nil {
		return nil, fmt.Errorf("%w: DG11: %v", ErrMalformedDataGroup, err)
	}

	dg.NameOfHolder = norm.NFC.String(dg.NameOfHolder)
	dg.PersonalNumber = norm.NFC.String(dg.PersonalNumber)
	dg.Telephone = norm.NFC.String(dg.Telephone)
	dg.Profession = norm.NFC.String(dg.Profession)
	dg.Title = norm.NFC.String(dg.Title)
	dg.PersonalSummary = norm.NFC.String(dg.PersonalSummary)
	dg.CustodyInfo = norm.NFC.String(dg.CustodyInfo)
	normalizeAll(dg.RawPlaceOfBirth)
	normalizeAll(dg.RawAddress)
	if dg.OtherNames != nil {
		normalizeAll(dg.OtherNames.Names)
	}
	return dg, nil
}

func normalizeAll(values []string) {
	for i, v := range values {
		values[i] = norm.NFC.String(v)
	}
}

// Surname returns the names following '<<' in the name of holder.
func (d *DG11) Surname() string {
	return ExtractNames(d.NameOfHolder)
}

// Aliases returns the other names of the holder, if any.
func (d *DG11) Aliases() []string {
	if d.OtherNames == nil {
		return nil
	}
	return d.OtherNames.Names
}

// PlaceOfBirth returns the place of birth components.
func (d *DG11) PlaceOfBirth() []string {
	return splitComponents(d.RawPlaceOfBirth)
}

// AddressLines returns the permanent address components in stored order.
func (d *DG11) AddressLines() []string {
	return splitComponents(d.RawAddress)
}

// FullDateOfBirth returns the date of birth as YYYYMMDD. Both the ASCII digit
// form and the 4-byte BCD form found on some chips are accepted.
func (d *DG11) FullDateOfBirth() string {
	return decodeDigits(d.RawDateOfBirth, 8)
}

func splitComponents(fields []string) []string {
	var out []string
	for _, f := range fields {
		out = append(out, strings.Split(f, "<")...)
	}
	return out
}

// ExtractNames returns everything following the first '<<' of an MRZ-style
// name, with '<' separators (single or repeated) turned into single spaces.
// "SMITH<<JOHN<<JACOB" gives "JOHN JACOB". A name without '<<' gives "".
func ExtractNames(name string) string {
	parts := strings.SplitN(name, "<<", 2)
	if len(parts) < 2 {
		return ""
	}

	var tokens []string
	for _, tok := range strings.Split(parts[1], "<") {
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return strings.Join(tokens, " ")
}

// Address is the postal view of the permanent address lines.
type Address struct {
	Street     string
	PostalCode string
	City       string
	Country    string
}

// ParseAddress maps address lines by position: 0 street, 1 postal code,
// 2 city, 4 country. Missing lines yield empty fields.
func ParseAddress(lines []string) Address {
	at := func(i int) string {
		if i < len(lines) {
			return lines[i]
		}
		return ""
	}
	return Address{
		Street:     strings.TrimLeft(at(0), " "),
		PostalCode: at(1),
		City:       at(2),
		Country:    at(4),
	}
}

// JoinPlaceOfBirth renders the place of birth components as a single line.
func JoinPlaceOfBirth(parts []string) string {
	return strings.Join(parts, ", ")
}
