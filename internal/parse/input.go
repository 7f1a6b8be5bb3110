package parse

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	listSepRe = regexp.MustCompile(`\s*[,;]\s*`)
	numberRe  = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)
)

// DateLayout is the calendar-date layout accepted from forms and conditions.
const DateLayout = "2006-01-02"

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// List splits a comma (or semicolon) separated value and drops empty items.
func List(raw string) []string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	var out []string
	for _, item := range listSepRe.Split(s, -1) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Weekdays parses a weekday selection such as "1,3" or "mon, wed".
// Numbers follow time.Weekday (0 = Sunday). The result is sorted and
// deduplicated; an empty input yields an empty set.
func Weekdays(raw string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]bool)
	for _, item := range List(raw) {
		wd, err := weekday(item)
		if err != nil {
			return nil, err
		}
		seen[wd] = true
	}

	out := make([]time.Weekday, 0, len(seen))
	for wd := range seen {
		out = append(out, wd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func weekday(item string) (time.Weekday, error) {
	if n, err := strconv.Atoi(item); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("weekday %d out of range 0..6", n)
		}
		return time.Weekday(n), nil
	}
	if wd, ok := weekdayNames[strings.ToLower(item)]; ok {
		return wd, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", item)
}

// FormatWeekdays renders a weekday set in the stored "1,3" form.
func FormatWeekdays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

// Date parses either a calendar date (midnight in loc) or an RFC3339 timestamp.
func Date(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if t, err := time.ParseInLocation(DateLayout, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unable to parse date %q", raw)
	}
	return t, nil
}

// Number parses a decimal number. Hex, exponents and special values are rejected.
func Number(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if !numberRe.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Spots parses a requested spot count. Empty means one spot.
func Spots(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("spot count must be a positive integer, got %q", raw)
	}
	return n, nil
}
