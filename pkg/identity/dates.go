package identity

import "time"

const (
	shortLayout  = "060102"
	longLayout   = "20060102"
	outputLayout = "02/01/2006"
)

// ParseBirthDate reads a YYMMDD birth date. A date that would lie after now is
// moved back one century.
func ParseBirthDate(s string, now time.Time) (time.Time, bool) {
	d, err := time.Parse(shortLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	if d.After(now) {
		d = d.AddDate(-100, 0, 0)
	}
	return d, true
}

// FormatBirthDate renders a YYMMDD birth date as DD/MM/YYYY, or "" when unreadable.
func FormatBirthDate(s string, now time.Time) string {
	d, ok := ParseBirthDate(s, now)
	if !ok {
		return ""
	}
	return d.Format(outputLayout)
}

// FormatShortDate renders a YYMMDD date as DD/MM/YYYY without any century adjustment.
func FormatShortDate(s string) string {
	return reformat(s, shortLayout)
}

// FormatLongDate renders a YYYYMMDD date as DD/MM/YYYY.
func FormatLongDate(s string) string {
	return reformat(s, longLayout)
}

func reformat(s, layout string) string {
	d, err := time.Parse(layout, s)
	if err != nil {
		return ""
	}
	return d.Format(outputLayout)
}
