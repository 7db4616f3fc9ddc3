package guide

import (
	"fmt"
	"strings"
	"time"
)

const xmltvLayout = "20060102150405"

// ParseTime decodes an XMLTV timestamp: fourteen digits YYYYMMDDHHMMSS,
// optionally followed by whitespace and a signed four-digit UTC offset
// (+HHMM / -HHMM). No offset means UTC. The result is always in UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) < 14 {
		return time.Time{}, fmt.Errorf("xmltv time %q: want 14 digits", s)
	}
	digits, rest := s[:14], strings.TrimSpace(s[14:])
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return time.Time{}, fmt.Errorf("xmltv time %q: non-digit in date", s)
		}
	}
	loc := time.UTC
	if rest != "" {
		off, err := parseOffset(rest)
		if err != nil {
			return time.Time{}, fmt.Errorf("xmltv time %q: %w", s, err)
		}
		loc = time.FixedZone(rest, off)
	}
	t, err := time.ParseInLocation(xmltvLayout, digits, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseOffset turns "+0130" / "-0500" into seconds east of UTC.
func parseOffset(s string) (int, error) {
	if len(s) != 5 || (s[0] != '+' && s[0] != '-') {
		return 0, fmt.Errorf("bad offset %q", s)
	}
	n := 0
	for i := 1; i < 5; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("bad offset %q", s)
		}
		n = n*10 + int(c-'0')
	}
	hh, mm := n/100, n%100
	if mm >= 60 {
		return 0, fmt.Errorf("bad offset minutes %q", s)
	}
	secs := hh*3600 + mm*60
	if s[0] == '-' {
		secs = -secs
	}
	return secs, nil
}

// FormatTime renders t in XMLTV form with an explicit +0000 offset.
func FormatTime(t time.Time) string {
	return t.UTC().Format(xmltvLayout) + " +0000"
}
