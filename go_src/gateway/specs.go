package gateway

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EndDateTimeLayout is the UTC end-date-time format sent with historical requests.
const EndDateTimeLayout = "20060102-15:04:05"

// FormatEndDateTime renders t as a UTC end-date-time string.
func FormatEndDateTime(t time.Time) string {
	return t.UTC().Format(EndDateTimeLayout)
}

// ParseEndDateTime accepts "yyyymmdd-hh:mm:ss" (UTC), "yyyymmdd hh:mm:ss" (UTC)
// and "yyyymmdd hh:mm:ss <IANA zone>".
func ParseEndDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty end date time")
	}
	if t, err := time.Parse(EndDateTimeLayout, s); err == nil {
		return t, nil
	}
	fields := strings.Fields(s)
	switch len(fields) {
	case 2:
		t, err := time.Parse("20060102 15:04:05", s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid end date time '%s': %w", s, err)
		}
		return t, nil
	case 3:
		loc, err := time.LoadLocation(fields[2])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time zone in end date time '%s': %w", s, err)
		}
		t, err := time.ParseInLocation("20060102 15:04:05", fields[0]+" "+fields[1], loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid end date time '%s': %w", s, err)
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("invalid end date time '%s'", s)
	}
}

// DurationSpec is a parsed duration string such as "10 D" or "1 M".
type DurationSpec struct {
	Count int
	Unit  byte // S, D, W, M or Y
}

func (d DurationSpec) String() string {
	return fmt.Sprintf("%d %c", d.Count, d.Unit)
}

// ParseDurationSpec parses "<count> <unit>".
func ParseDurationSpec(s string) (DurationSpec, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 || len(fields[1]) != 1 {
		return DurationSpec{}, fmt.Errorf("invalid duration '%s': expected '<count> <S|D|W|M|Y>'", s)
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil || count <= 0 {
		return DurationSpec{}, fmt.Errorf("invalid duration count in '%s'", s)
	}
	unit := strings.ToUpper(fields[1])[0]
	switch unit {
	case 'S', 'D', 'W', 'M', 'Y':
	default:
		return DurationSpec{}, fmt.Errorf("invalid duration unit in '%s'", s)
	}
	return DurationSpec{Count: count, Unit: unit}, nil
}

// Before returns the start of the window that ends at end and spans d.
// Months and years are calendar based and clamp to the end of shorter months.
func (d DurationSpec) Before(end time.Time) time.Time {
	switch d.Unit {
	case 'S':
		return end.Add(-time.Duration(d.Count) * time.Second)
	case 'D':
		return end.AddDate(0, 0, -d.Count)
	case 'W':
		return end.AddDate(0, 0, -7*d.Count)
	case 'M':
		return AddMonthsClamped(end, -d.Count)
	default:
		return AddMonthsClamped(end, -12*d.Count)
	}
}

// AddMonthsClamped adds months to t keeping the day inside the target month,
// so March 31 minus one month is February 28 (or 29).
func AddMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return first.AddDate(0, 0, day-1)
}

// BarSizeMinutes converts bar size settings such as "1 min", "5 mins",
// "1 hour" or "1 day" to minutes.
func BarSizeMinutes(barSize string) (int, error) {
	fields := strings.Fields(strings.ToLower(barSize))
	if len(fields) != 2 {
		return 0, fmt.Errorf("invalid bar size '%s'", barSize)
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil || count <= 0 {
		return 0, fmt.Errorf("invalid bar size count in '%s'", barSize)
	}
	var unit int
	switch strings.TrimSuffix(fields[1], "s") {
	case "min":
		unit = 1
	case "hour":
		unit = 60
	case "day":
		unit = 24 * 60
	case "week":
		unit = 7 * 24 * 60
	case "month":
		unit = 30 * 24 * 60
	default:
		return 0, fmt.Errorf("unsupported bar size unit in '%s'", barSize)
	}
	return count * unit, nil
}
