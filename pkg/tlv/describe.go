package tlv

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// WriteStructFields appends one line per populated field of s to sb:
//
//   - <prefix>.<Field> (<tag>): <value>
//
// Byte values are printed as upper-case hex and strings quoted. Lines are
// separated from earlier content by a newline and no newline is written at
// the end. A nil pointer writes nothing.
func WriteStructFields(sb *strings.Builder, prefix string, s any) {
	v := reflect.ValueOf(s)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}

	var lines []string
	t := v.Type()
	for i := range t.NumField() {
		sf, f := t.Field(i), v.Field(i)
		label := prefix + "." + sf.Name
		if tag := sf.Tag.Get("tlv"); tag != "" && tag != "-" && !strings.HasPrefix(tag, ",") {
			label += " (" + tag + ")"
		}

		switch {
		case f.Type() == tlvSliceType:
			for _, p := range f.Interface().([]bertlv.TLV) {
				lines = append(lines, fmt.Sprintf("    - %s.Unknown Tag %s: %X", prefix, p.Tag, p.Value))
			}
		case f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.Uint8:
			if f.Len() > 0 {
				lines = append(lines, fmt.Sprintf("    - %s: %X", label, f.Bytes()))
			}
		case f.Kind() == reflect.String:
			if f.Len() > 0 {
				lines = append(lines, fmt.Sprintf("    - %s: %q", label, f.String()))
			}
		case f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.String:
			for j := range f.Len() {
				lines = append(lines, fmt.Sprintf("    - %s: %q", label, f.Index(j).String()))
			}
		}
	}

	if len(lines) == 0 {
		return
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(strings.Join(lines, "\n"))
}
