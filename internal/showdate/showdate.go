// Package showdate resolves free-text venue mentions and date/time fragments
// into canonical forms usable as store keys and for chronological sorting.
package showdate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnparseable signals a fragment that carries no recognizable show date.
// Callers must propagate it (log and mark the record unscheduled), never
// substitute "now".
var ErrUnparseable = errors.New("unparseable show date")

// DefaultVenues is the curated list of known venue names, in match-priority
// order. Declaration order breaks ties when one name is a substring of
// another.
var DefaultVenues = []string{
	"Valencia",
	"Stowaway",
	"Palace",
	"Citizen",
	"Church",
	"Blind Barber Fulton Market",
	"Townhouse",
}

// CityFor maps a canonical venue name to its market city, or "Unknown".
func CityFor(venue string) string {
	switch strings.ToLower(venue) {
	case "valencia", "palace", "church":
		return "SF"
	case "stowaway", "citizen", "townhouse":
		return "LA"
	case "blind barber fulton market":
		return "CHI"
	default:
		return "Unknown"
	}
}

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

var (
	monthDayRe = regexp.MustCompile(`([a-z]+)\s+(\d{1,2})`)
	timeRe     = regexp.MustCompile(`(\d{1,2}(?::\d{2})?)\s*(pm|am)`)
	yearRe     = regexp.MustCompile(`\b(\d{4})\b`)
)

// Normalizer converts free-text venue and date fragments into canonical
// forms. The clock and location are injectable so year-rollover behavior is
// deterministic under test.
type Normalizer struct {
	venues []string
	loc    *time.Location
	now    func() time.Time
}

// Option adjusts a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the reference clock used for year inference.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithVenues replaces the curated venue list.
func WithVenues(venues []string) Option {
	return func(n *Normalizer) { n.venues = venues }
}

// New builds a Normalizer for the given location.
func New(loc *time.Location, opts ...Option) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	n := &Normalizer{
		venues: DefaultVenues,
		loc:    loc,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ResolveVenue finds the first known venue name contained in text,
// case-insensitively, and returns its canonical form. ok is false when no
// known venue appears; callers must treat that as "uncategorized", not guess.
func (n *Normalizer) ResolveVenue(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, venue := range n.venues {
		if strings.Contains(lower, strings.ToLower(venue)) {
			return venue, true
		}
	}
	return "", false
}

// Parse extracts a show timestamp from a free-text fragment such as
// "Saturday December 6th 9pm" or "Wednesday May 7th 8pm 2025".
//
// The month name and day number are required; the time defaults to 9:00 PM
// when absent. A 4-digit year in the text wins; otherwise the current year is
// assumed, rolling to next year when the month/day has already passed —
// listings are posted without a year shortly before the event.
func (n *Normalizer) Parse(text string) (time.Time, error) {
	lower := strings.ToLower(text)

	m := monthDayRe.FindStringSubmatch(lower)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: no month/day in %q", ErrUnparseable, text)
	}
	month, ok := months[m[1]]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unknown month %q in %q", ErrUnparseable, m[1], text)
	}
	day, err := strconv.Atoi(m[2])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("%w: bad day %q in %q", ErrUnparseable, m[2], text)
	}

	hour, minute := 21, 0 // 9pm default when no time token is present
	if tm := timeRe.FindStringSubmatch(lower); tm != nil {
		part := tm[1]
		if colon := strings.IndexByte(part, ':'); colon >= 0 {
			hour, _ = strconv.Atoi(part[:colon])
			minute, _ = strconv.Atoi(part[colon+1:])
		} else {
			hour, _ = strconv.Atoi(part)
			minute = 0
		}
		if tm[2] == "pm" && hour != 12 {
			hour += 12
		} else if tm[2] == "am" && hour == 12 {
			hour = 0
		}
	}

	var year int
	if ym := yearRe.FindStringSubmatch(text); ym != nil {
		year, _ = strconv.Atoi(ym[1])
	} else {
		year = n.inferYear(month, day)
	}

	return time.Date(year, month, day, hour, minute, 0, 0, n.loc), nil
}

// inferYear picks the current year, or next year when the month/day already
// passed relative to today in the normalizer's location.
func (n *Normalizer) inferYear(month time.Month, day int) int {
	today := n.now().In(n.loc)
	year := today.Year()
	candidate := time.Date(year, month, day, 0, 0, 0, 0, n.loc)
	todayMidnight := time.Date(year, today.Month(), today.Day(), 0, 0, 0, 0, n.loc)
	if candidate.Before(todayMidnight) {
		return year + 1
	}
	return year
}

// Format renders the canonical human-facing show-date string, e.g.
// "Saturday December 6th 9pm". Minutes are shown only when nonzero.
func Format(t time.Time) string {
	return fmt.Sprintf("%s %s %d%s %s",
		t.Weekday(), t.Month(), t.Day(), OrdinalSuffix(t.Day()), FormatTime(t))
}

// FormatTime renders the clock portion: "9pm" or "7:30pm".
func FormatTime(t time.Time) string {
	hour := t.Hour()
	suffix := "am"
	switch {
	case hour == 0:
		hour = 12
	case hour == 12:
		suffix = "pm"
	case hour > 12:
		hour -= 12
		suffix = "pm"
	}
	if t.Minute() == 0 {
		return fmt.Sprintf("%d%s", hour, suffix)
	}
	return fmt.Sprintf("%d:%02d%s", hour, t.Minute(), suffix)
}

// OrdinalSuffix returns the English ordinal suffix for a day of month:
// 1st, 2nd, 3rd, 4th ... 11th, 12th, 13th ... 21st, 22nd, 23rd, 31st.
func OrdinalSuffix(day int) string {
	if day%100 >= 11 && day%100 <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

// ParseDate parses a date in any of the formats seen across providers
// (ISO "2006-01-02", "01-02-2006", or the canonical free-text form). The
// numeric layouts carry no clock, so their result is midnight.
func (n *Normalizer) ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "date") {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrUnparseable)
	}

	for _, layout := range []string{"2006-01-02", "01-02-2006", "01/02/06", "01/02/2006"} {
		if t, err := time.ParseInLocation(layout, raw, n.loc); err == nil {
			return t, nil
		}
	}
	return n.Parse(raw)
}

// NormalizeAny parses a date like ParseDate and returns the canonical
// weekday display form without a time component, e.g. "Saturday December 6th".
func (n *Normalizer) NormalizeAny(raw string) (string, error) {
	t, err := n.ParseDate(raw)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %d%s", t.Weekday(), t.Month(), t.Day(), OrdinalSuffix(t.Day())), nil
}
