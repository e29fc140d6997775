// Package identity assembles the data groups read from a passport chip into a
// single normalized record.
package identity

import (
	"time"

	"github.com/gregLibert/emrtd/pkg/lds"
)

// DocumentPassport is the only document type produced.
const DocumentPassport = "PASSPORT"

// Record is the normalized view of the holder's identity. Dates are DD/MM/YYYY.
type Record struct {
	DocumentType   string `json:"documentType" yaml:"document_type"`
	DocumentNumber string `json:"documentNumber" yaml:"document_number"`
	FirstName      string `json:"firstName" yaml:"first_name"`
	LastName       string `json:"lastName" yaml:"last_name"`
	Gender         string `json:"gender" yaml:"gender"`
	IssuingCountry string `json:"issuingCountry" yaml:"issuing_country"`
	Nationality    string `json:"nationality" yaml:"nationality"`
	Address        string `json:"address" yaml:"address"`
	City           string `json:"city" yaml:"city"`
	PostalCode     string `json:"postalCode" yaml:"postal_code"`
	Country        string `json:"country" yaml:"country"`
	PlaceOfBirth   string `json:"placeOfBirth" yaml:"place_of_birth"`
	BirthDate      string `json:"birthDate" yaml:"birth_date"`
	ExpirationDate string `json:"expirationDate" yaml:"expiration_date"`
	DeliveryDate   string `json:"deliveryDate" yaml:"delivery_date"`
}

// Assemble merges the decoded data groups. now anchors the century of the
// two-digit birth year.
func Assemble(dg1 *lds.DG1, dg11 *lds.DG11, dg12 *lds.DG12, now time.Time) Record {
	r := Record{DocumentType: DocumentPassport}

	if dg1 != nil {
		r.DocumentNumber = dg1.DocumentNumber
		r.FirstName = dg1.PrimaryIdentifier
		r.Gender = dg1.Gender()
		r.IssuingCountry = dg1.IssuingState
		r.Nationality = dg1.Nationality
		r.BirthDate = FormatBirthDate(dg1.DateOfBirth, now)
		r.ExpirationDate = FormatShortDate(dg1.DateOfExpiry)
	}

	if dg11 != nil {
		r.LastName = dg11.Surname()
		addr := lds.ParseAddress(dg11.AddressLines())
		r.Address = addr.Street
		r.PostalCode = addr.PostalCode
		r.City = addr.City
		r.Country = addr.Country
		r.PlaceOfBirth = lds.JoinPlaceOfBirth(dg11.PlaceOfBirth())
	}

	if dg12 != nil {
		r.DeliveryDate = FormatLongDate(dg12.DateOfIssue)
	}
	return r
}
