// Package tlv maps BER-TLV data objects onto Go structs and decodes the
// headers needed to read a TLV-encoded file in chunks.
//
// A field is bound to a data object with a `tlv:"<tag>"` struct tag. Supported
// field types are []byte (raw value), string (hex, or the value itself with
// `fmt:"text"`), []string (one entry per occurrence), a nested struct or
// pointer to struct (constructed object) and []bertlv.TLV tagged `tlv:",rest"`,
// which receives every object no other field claimed.
package tlv

import (
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/moov-io/bertlv"
)

var errNotStructPointer = errors.New("target must be a non-nil pointer to a struct")

var tlvSliceType = reflect.TypeOf([]bertlv.TLV(nil))

type binding struct {
	tag   string
	text  bool
	value reflect.Value
}

// Unmarshal decodes data and maps the top-level objects onto target.
func Unmarshal(data []byte, target any) error {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return fmt.Errorf("bertlv decode failed: %w", err)
	}
	return UnmarshalFromPackets(packets, target)
}

// UnmarshalFromPackets maps already decoded objects onto target.
func UnmarshalFromPackets(packets []bertlv.TLV, target any) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return errNotStructPointer
	}

	bindings, rest := bind(v.Elem())
	claimed := make([]bool, len(packets))

	for _, b := range bindings {
		for i, p := range packets {
			if !strings.EqualFold(p.Tag, b.tag) {
				continue
			}
			if err := assign(b, p); err != nil {
				return fmt.Errorf("tag %s: %w", strings.ToUpper(p.Tag), err)
			}
			claimed[i] = true
		}
	}

	if rest.IsValid() {
		var leftovers []bertlv.TLV
		for i, p := range packets {
			if !claimed[i] {
				leftovers = append(leftovers, p)
			}
		}
		rest.Set(reflect.ValueOf(leftovers))
	}
	return nil
}

func bind(v reflect.Value) (bindings []binding, rest reflect.Value) {
	t := v.Type()
	for i := range t.NumField() {
		sf := t.Field(i)
		tag, _, _ := strings.Cut(sf.Tag.Get("tlv"), ",")
		switch {
		case sf.Tag.Get("tlv") == ",rest" && sf.Type == tlvSliceType:
			rest = v.Field(i)
		case tag != "" && tag != "-":
			bindings = append(bindings, binding{tag: tag, text: sf.Tag.Get("fmt") == "text", value: v.Field(i)})
		}
	}
	return bindings, rest
}

func assign(b binding, p bertlv.TLV) error {
	f := b.value
	switch {
	case f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.Uint8:
		raw, err := rawValue(p)
		if err != nil {
			return err
		}
		f.SetBytes(raw)
	case f.Kind() == reflect.String:
		s, err := stringValue(p.Value, b.text)
		if err != nil {
			return err
		}
		f.SetString(s)
	case f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.String:
		s, err := stringValue(p.Value, b.text)
		if err != nil {
			return err
		}
		f.Set(reflect.Append(f, reflect.ValueOf(s)))
	case f.Kind() == reflect.Struct:
		return nested(p, f.Addr())
	case f.Kind() == reflect.Pointer && f.Type().Elem().Kind() == reflect.Struct:
		if f.IsNil() {
			f.Set(reflect.New(f.Type().Elem()))
		}
		return nested(p, f)
	default:
		return fmt.Errorf("unsupported field type %s", f.Type())
	}
	return nil
}

func nested(p bertlv.TLV, target reflect.Value) error {
	if len(p.TLVs) > 0 {
		return UnmarshalFromPackets(p.TLVs, target.Interface())
	}
	return Unmarshal(p.Value, target.Interface())
}

func rawValue(p bertlv.TLV) ([]byte, error) {
	if len(p.TLVs) > 0 {
		return bertlv.Encode(p.TLVs)
	}
	return p.Value, nil
}

func stringValue(value []byte, text bool) (string, error) {
	if !text {
		return hex.EncodeToString(value), nil
	}
	if !utf8.Valid(value) {
		return "", errors.New("value is not valid UTF-8")
	}
	return string(value), nil
}
