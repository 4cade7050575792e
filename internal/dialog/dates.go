package dialog

import (
	"fmt"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate reads a date or timestamp as sent by the platform or the CRM.
// The returned value keeps the offset it was written with so callers can
// compare calendar days on the value's own wall clock.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	// CRM dates sometimes carry a "+0000" style offset.
	if t, err := time.Parse("2006-01-02T15:04:05.000-0700", value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("dialog: unrecognized date %q", value)
}

// SameCalendarDate reports whether a and b fall on the same year, month and
// day. Time of day and offset are ignored.
func SameCalendarDate(a, b string) bool {
	ta, err := ParseDate(a)
	if err != nil {
		return false
	}
	tb, err := ParseDate(b)
	if err != nil {
		return false
	}
	ya, ma, da := ta.Date()
	yb, mb, db := tb.Date()
	return ya == yb && ma == mb && da == db
}

var (
	frenchWeekdays = [...]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"}
	frenchMonths   = [...]string{"janvier", "février", "mars", "avril", "mai", "juin", "juillet", "août", "septembre", "octobre", "novembre", "décembre"}
)

// LongDate renders t as a weekday, month and day in every catalog language.
func LongDate(t time.Time) Message {
	return Message{
		"en": t.Format("Monday, January 2"),
		"fr": fmt.Sprintf("%s %d %s", frenchWeekdays[t.Weekday()], t.Day(), frenchMonths[t.Month()-1]),
	}
}

// ShortDate renders t as dd/mm/yyyy.
func ShortDate(t time.Time) string {
	return t.Format("02/01/2006")
}
