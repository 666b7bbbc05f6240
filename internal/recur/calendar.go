package recur

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the layout cycle dates are exchanged in.
const DateLayout = "2006-01-02"

// NewDate returns the plain date year-month-day as midnight UTC.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf returns the calendar date of t, as seen in t's own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses a YYYY-MM-DD plain date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// February allows 29 so that leap-day targets can be expressed.
var maxMonthDays = [13]int{0, 31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// DateOfYear is a month/day pair without a year.
type DateOfYear struct {
	month time.Month
	day   int
}

// NewDateOfYear validates month and day against the longest length the
// month can have.
func NewDateOfYear(month time.Month, day int) (DateOfYear, error) {
	if month < time.January || month > time.December {
		return DateOfYear{}, configErr("NewDateOfYear", ErrDateOfYear, "month %d", int(month))
	}
	if day < 1 || day > maxMonthDays[month] {
		return DateOfYear{}, configErr("NewDateOfYear", ErrDateOfYear, "%s has no day %d", month, day)
	}
	return DateOfYear{month: month, day: day}, nil
}

// MustDateOfYear is NewDateOfYear for literals known to be valid.
func MustDateOfYear(month time.Month, day int) DateOfYear {
	d, err := NewDateOfYear(month, day)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseDateOfYear parses "MM-DD".
func ParseDateOfYear(s string) (DateOfYear, error) {
	var m, d int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d-%d", &m, &d); err != nil {
		return DateOfYear{}, configErr("ParseDateOfYear", ErrDateOfYear, "%q", s)
	}
	return NewDateOfYear(time.Month(m), d)
}

func (d DateOfYear) Month() time.Month { return d.month }
func (d DateOfYear) Day() int          { return d.day }
func (d DateOfYear) IsZero() bool      { return d.month == 0 }

func (d DateOfYear) String() string { return fmt.Sprintf("%02d-%02d", int(d.month), d.day) }

// In returns the date in the given year. Feb 29 falls back to Feb 28 in
// common years.
func (d DateOfYear) In(year int) time.Time {
	day := d.day
	if n := daysIn(year, d.month); day > n {
		day = n
	}
	return NewDate(year, d.month, day)
}

// LunarPhase names a phase of the moon. Patterns may carry one, but
// evaluating it returns ErrUnimplemented.
type LunarPhase int

const (
	NewMoon LunarPhase = iota
	FirstQuarter
	FullMoon
	LastQuarter
)

var lunarPhaseNames = [...]string{"new_moon", "first_quarter", "full_moon", "last_quarter"}

func (p LunarPhase) valid() bool { return p >= NewMoon && p <= LastQuarter }

func (p LunarPhase) String() string {
	if !p.valid() {
		return fmt.Sprintf("LunarPhase(%d)", int(p))
	}
	return lunarPhaseNames[p]
}

// ParseLunarPhase accepts the snake_case phase names, case-insensitively.
func ParseLunarPhase(s string) (LunarPhase, error) {
	for i, name := range lunarPhaseNames {
		if normalizeName(s) == name {
			return LunarPhase(i), nil
		}
	}
	return 0, configErr("ParseLunarPhase", ErrIndexRange, "%q", s)
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(s string) (time.Weekday, error) {
	n := normalizeName(s)
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if n == full || n == full[:3] {
			return d, nil
		}
	}
	return 0, configErr("ParseWeekday", ErrIndexRange, "%q", s)
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour, Minute, Second int
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60 && t.Second >= 0 && t.Second < 60
}

// ParseTimeOfDay parses "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, configErr("ParseTimeOfDay", ErrTimeOfDay, "%q", s)
}

func (t TimeOfDay) String() string {
	if t.Second == 0 {
		return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
	}
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// RecurTime is the time of day, in a zone, at which occurrences fire.
type RecurTime struct {
	Clock    TimeOfDay
	Location *time.Location
}

// NewRecurTime builds a RecurTime at hour:minute in loc.
func NewRecurTime(hour, minute int, loc *time.Location) (RecurTime, error) {
	rt := RecurTime{Clock: TimeOfDay{Hour: hour, Minute: minute}, Location: loc}
	if err := rt.validate(); err != nil {
		return RecurTime{}, err
	}
	return rt, nil
}

func (rt RecurTime) validate() error {
	if !rt.Clock.valid() {
		return configErr("RecurTime", ErrTimeOfDay, "%+v", rt.Clock)
	}
	if rt.Location == nil {
		return configErr("RecurTime", ErrTimeZone, "nil location")
	}
	return nil
}

// At places date at the configured time of day and converts the result to a
// fixed-offset instant. Wall times skipped by a DST change resolve the way
// time.Date resolves them.
func (rt RecurTime) At(date time.Time) time.Time {
	y, m, d := date.Date()
	local := time.Date(y, m, d, rt.Clock.Hour, rt.Clock.Minute, rt.Clock.Second, 0, rt.Location)
	name, offset := local.Zone()
	return local.In(time.FixedZone(name, offset))
}

func (rt RecurTime) String() string {
	return rt.Clock.String() + " " + rt.Location.String()
}
