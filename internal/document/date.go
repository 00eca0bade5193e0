package document

import (
	"fmt"
	"time"
)

const dateLayout = "20060102150405"

// EncodeDate renders t in UTC as yyyyMMddHHmmssSSS. The fixed width makes
// lexicographic order equal chronological order. The zero time encodes as
// NoValue.
func EncodeDate(t time.Time) string {
	if t.IsZero() {
		return NoValue
	}
	t = t.UTC()
	return t.Format(dateLayout) + fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond))
}

// EncodeDatePtr is EncodeDate for optional dates.
func EncodeDatePtr(t *time.Time) string {
	if t == nil {
		return NoValue
	}
	return EncodeDate(*t)
}

// DecodeDate parses a value produced by EncodeDate.
func DecodeDate(s string) (time.Time, error) {
	if s == NoValue {
		return time.Time{}, nil
	}
	if len(s) != len(dateLayout)+3 {
		return time.Time{}, fmt.Errorf("invalid encoded date %q", s)
	}
	t, err := time.ParseInLocation(dateLayout, s[:len(dateLayout)], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid encoded date %q: %w", s, err)
	}
	var ms int
	if _, err := fmt.Sscanf(s[len(dateLayout):], "%03d", &ms); err != nil {
		return time.Time{}, fmt.Errorf("invalid encoded date %q: %w", s, err)
	}
	return t.Add(time.Duration(ms) * time.Millisecond), nil
}
