package state

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Codec converts a field value to and from its persisted text form. The
// empty string is reserved for null values of optional codecs.
type Codec[T any] interface {
	Format(v T) string
	Parse(s string) (T, error)
}

var (
	String       Codec[string]     = stringCodec{}
	Int64        Codec[int64]      = int64Codec{}
	Bool         Codec[bool]       = boolCodec{}
	Cents        Codec[int64]      = centsCodec{}
	Time         Codec[time.Time]  = timeCodec{}
	OptionalTime Codec[*time.Time] = optionalTimeCodec{}
	OptionalInt  Codec[*int64]     = optionalIntCodec{}
	StringList   Codec[[]string]   = stringListCodec{}
)

type stringCodec struct{}

func (stringCodec) Format(v string) string         { return v }
func (stringCodec) Parse(s string) (string, error) { return s, nil }

type int64Codec struct{}

func (int64Codec) Format(v int64) string { return strconv.FormatInt(v, 10) }
func (int64Codec) Parse(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

type boolCodec struct{}

func (boolCodec) Format(v bool) string         { return strconv.FormatBool(v) }
func (boolCodec) Parse(s string) (bool, error) { return strconv.ParseBool(strings.TrimSpace(s)) }

type centsCodec struct{}

func (centsCodec) Format(v int64) string         { return FormatCents(v) }
func (centsCodec) Parse(s string) (int64, error) { return ParseCents(s) }

type timeCodec struct{}

func (timeCodec) Format(v time.Time) string { return v.UTC().Format(time.RFC3339) }
func (timeCodec) Parse(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, strings.TrimSpace(s))
}

type optionalTimeCodec struct{}

func (optionalTimeCodec) Format(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}

func (optionalTimeCodec) Parse(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type optionalIntCodec struct{}

func (optionalIntCodec) Format(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func (optionalIntCodec) Parse(s string) (*int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

type stringListCodec struct{}

func (stringListCodec) Format(v []string) string { return strings.Join(v, "|") }
func (stringListCodec) Parse(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	return strings.Split(s, "|"), nil
}

// FormatCents renders an amount of cents as a decimal with two places.
func FormatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

// ParseCents parses a decimal money amount ("12", "12.5", "12.50", "$3.10")
// into cents. More than two fractional digits is an error.
func ParseCents(s string) (int64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	if s == "" {
		return 0, fmt.Errorf("parse amount: empty")
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && !hasFrac {
		return 0, fmt.Errorf("parse amount %q", s)
	}
	if !digits(whole) || !digits(frac) {
		return 0, fmt.Errorf("parse amount %q: not a decimal number", s)
	}
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	var cents int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("parse amount %q: expected at most two decimals", s)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse amount %q: %w", s, err)
		}
	}
	total := units*100 + cents
	if neg {
		total = -total
	}
	return total, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
