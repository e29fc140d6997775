package mrz

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"strings"
	"time"
)

// KEY MATERIAL (ICAO 9303-11 §9.7 and §4.4):
// Access to the chip is protected by keys derived from three fields printed in the
// Machine Readable Zone:
//
//   MRZ information = DocumentNumber || CD || DateOfBirth || CD || DateOfExpiry || CD
//
// where each CD is the 7-3-1 check digit of the preceding field, the document number is
// padded with '<' to 9 characters and dates are YYMMDD.
//
// - BAC:  K_seed = first 16 bytes of SHA-1(MRZ information)
// - PACE: password K = SHA-1(MRZ information) (20 bytes), K_pi = KDF(K, 3)

// ErrInvalidKeyMaterial is returned when the document number or one of the dates is
// missing or cannot be encoded into MRZ information.
var ErrInvalidKeyMaterial = errors.New("invalid key material")

// Field lengths in the MRZ information.
const (
	DocumentNumberLength = 9
	DateLength           = 6
	KeySeedLength        = 16
)

// Seed is the triple of MRZ fields from which all access keys are derived.
type Seed struct {
	DocumentNumber string
	DateOfBirth    string // YYMMDD
	DateOfExpiry   string // YYMMDD
}

// NewSeed validates and normalizes the MRZ fields.
// Dates are accepted as YYMMDD, YYYYMMDD or YYYY-MM-DD.
func NewSeed(number, birth, expiry string) (Seed, error) {
	doc := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(number), " ", ""))
	if doc == "" {
		return Seed{}, fmt.Errorf("%w: document number is empty", ErrInvalidKeyMaterial)
	}
	if !isMRZCharset(doc) {
		return Seed{}, fmt.Errorf("%w: document number %q has characters outside [0-9A-Z<]", ErrInvalidKeyMaterial, doc)
	}
	if len(doc) < DocumentNumberLength {
		doc += strings.Repeat("<", DocumentNumberLength-len(doc))
	}

	dob, err := normalizeDate(birth)
	if err != nil {
		return Seed{}, fmt.Errorf("%w: date of birth: %v", ErrInvalidKeyMaterial, err)
	}
	doe, err := normalizeDate(expiry)
	if err != nil {
		return Seed{}, fmt.Errorf("%w: date of expiry: %v", ErrInvalidKeyMaterial, err)
	}

	return Seed{DocumentNumber: doc, DateOfBirth: dob, DateOfExpiry: doe}, nil
}

// Info returns the MRZ information string used as input of the key derivation.
// The seed must come from NewSeed.
func (s Seed) Info() string {
	var sb strings.Builder
	for _, field := range []string{s.DocumentNumber, s.DateOfBirth, s.DateOfExpiry} {
		cd, _ := CheckDigit(field)
		sb.WriteString(field)
		sb.WriteByte(cd)
	}
	return sb.String()
}

func (s Seed) validate() error {
	if s.DocumentNumber == "" || s.DateOfBirth == "" || s.DateOfExpiry == "" {
		return fmt.Errorf("%w: incomplete seed", ErrInvalidKeyMaterial)
	}
	for _, field := range []string{s.DocumentNumber, s.DateOfBirth, s.DateOfExpiry} {
		if !isMRZCharset(field) {
			return fmt.Errorf("%w: field %q has characters outside [0-9A-Z<]", ErrInvalidKeyMaterial, field)
		}
	}
	if len(s.DateOfBirth) != DateLength || len(s.DateOfExpiry) != DateLength {
		return fmt.Errorf("%w: dates must be YYMMDD", ErrInvalidKeyMaterial)
	}
	return nil
}

// Keys holds the access secrets derived from a Seed.
type Keys struct {
	// BAC is the 16-byte key seed for Basic Access Control.
	BAC []byte
	// PACE is the MRZ-derived PACE password K (the full SHA-1 digest).
	PACE []byte
}

// Derive computes the BAC key seed and the PACE password. It is pure and deterministic.
func Derive(seed Seed) (Keys, error) {
	if err := seed.validate(); err != nil {
		return Keys{}, err
	}

	digest := sha1.Sum([]byte(seed.Info()))
	pace := make([]byte, len(digest))
	copy(pace, digest[:])

	return Keys{
		BAC:  pace[:KeySeedLength:KeySeedLength],
		PACE: pace,
	}, nil
}

// Wipe zeroes the key material in place.
func (k Keys) Wipe() {
	clear(k.PACE)
	clear(k.BAC)
}

// CheckDigit computes the ICAO 9303 check digit of s ('0'..'9').
// Digits count as their value, 'A'..'Z' as 10..35 and '<' as 0; weights cycle 7, 3, 1.
func CheckDigit(s string) (byte, error) {
	weights := [3]int{7, 3, 1}
	sum := 0
	for i := 0; i < len(s); i++ {
		v, err := charValue(s[i])
		if err != nil {
			return 0, err
		}
		sum += v * weights[i%3]
	}
	return byte('0' + sum%10), nil
}

func charValue(c byte) (int, error) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), nil
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10, nil
	case c == '<':
		return 0, nil
	default:
		return 0, fmt.Errorf("invalid MRZ character %q", c)
	}
}

func isMRZCharset(s string) bool {
	for i := 0; i < len(s); i++ {
		if _, err := charValue(s[i]); err != nil {
			return false
		}
	}
	return true
}

var dateLayouts = []struct {
	layout string
	length int
}{
	{"060102", 6},
	{"20060102", 8},
	{"2006-01-02", 10},
}

func normalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("empty")
	}
	for _, l := range dateLayouts {
		if len(s) != l.length {
			continue
		}
		t, err := time.Parse(l.layout, s)
		if err != nil {
			return "", fmt.Errorf("%q is not a calendar date", s)
		}
		return t.Format("060102"), nil
	}
	return "", fmt.Errorf("%q: expected YYMMDD, YYYYMMDD or YYYY-MM-DD", s)
}
