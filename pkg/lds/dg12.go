package lds

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/gregLibert/emrtd/pkg/tlv"
)

// DG12 holds the additional document details (template '6C').
type DG12 struct {
	TagList                []byte `tlv:"5C"`
	IssuingAuthority       string `tlv:"5F19" fmt:"text"`
	RawDateOfIssue         []byte `tlv:"5F26"`
	Endorsements           string `tlv:"5F1B" fmt:"text"`
	TaxOrExitRequirements  string `tlv:"5F1C" fmt:"text"`
	RawPersonalizationTime []byte `tlv:"5F55"`
	PersonalizationSerial  string `tlv:"5F56" fmt:"text"`

	// DateOfIssue is the validated YYYYMMDD date of issue, empty when absent.
	DateOfIssue string `tlv:"-"`
}

// Describe lists the elements present in the data group, one per line.
func (dg *DG12) Describe() string {
	var sb strings.Builder
	sb.WriteString("=== DG12 ADDITIONAL DOCUMENT DETAILS ===")
	tlv.WriteStructFields(&sb, "DG12", dg)
	return sb.String()
}

// ParseDG12 decodes the content of EF.DG12.
func ParseDG12(data []byte) (*DG12, error) {
	packets, err := tlv.Template(data, "6C")
	if err != nil {
		return nil, fmt.Errorf("%w: DG12: %v", ErrMalformedDataGroup, err)
	}

	dg := &DG12{}
	if err := tlv.UnmarshalFromPackets(packets, dg); err != nil {
		return nil, fmt.Errorf("%w: DG12: %v", ErrMalformedDataGroup, err)
	}
	dg.IssuingAuthority = norm.NFC.String(dg.IssuingAuthority)
	dg.Endorsements = norm.NFC.String(dg.Endorsements)

	if len(dg.RawDateOfIssue) > 0 {
		date := decodeDigits(dg.RawDateOfIssue, 8)
		if _, err := time.Parse("20060102", date); err != nil {
			return nil, fmt.Errorf("%w: DG12: date of issue %q", ErrMalformedDataGroup, date)
		}
		dg.DateOfIssue = date
	}
	return dg, nil
}

// PersonalizationTime returns the personalization timestamp as YYYYMMDDhhmmss, or "".
func (d *DG12) PersonalizationTime() string {
	return decodeDigits(d.RawPersonalizationTime, 14)
}

// decodeDigits reads a numeric field stored either as ASCII digits or packed BCD.
func decodeDigits(raw []byte, digits int) string {
	switch len(raw) {
	case digits:
		return string(raw)
	case digits / 2:
		return hex.EncodeToString(raw)
	default:
		return ""
	}
}
