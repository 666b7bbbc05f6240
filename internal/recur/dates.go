package recur

import "time"

// All helpers take and return plain dates (see DateOf).

// NextDayOfWeek returns the first target weekday after d. With inclusive
// set, d itself qualifies when it already falls on target.
func NextDayOfWeek(d time.Time, target time.Weekday, inclusive bool) time.Time {
	d = DateOf(d)
	diff := (int(target) - int(d.Weekday()) + 7) % 7
	if diff == 0 && !inclusive {
		diff = 7
	}
	return d.AddDate(0, 0, diff)
}

// PreviousDayOfWeek returns the last target weekday before d.
func PreviousDayOfWeek(d time.Time, target time.Weekday, inclusive bool) time.Time {
	d = DateOf(d)
	diff := (int(d.Weekday()) - int(target) + 7) % 7
	if diff == 0 && !inclusive {
		diff = 7
	}
	return d.AddDate(0, 0, -diff)
}

// NextDateOfYear returns the first occurrence of target after d, moving to
// the following year when this year's has already passed.
func NextDateOfYear(d time.Time, target DateOfYear, inclusive bool) time.Time {
	d = DateOf(d)
	c := target.In(d.Year())
	if c.Before(d) || (!inclusive && c.Equal(d)) {
		c = target.In(d.Year() + 1)
	}
	return c
}

// PreviousDateOfYear returns the last occurrence of target before d.
func PreviousDateOfYear(d time.Time, target DateOfYear, inclusive bool) time.Time {
	d = DateOf(d)
	c := target.In(d.Year())
	if c.After(d) || (!inclusive && c.Equal(d)) {
		c = target.In(d.Year() - 1)
	}
	return c
}

// Closest returns whichever of a and b is fewer days from ref. Ties go to a.
func Closest(ref, a, b time.Time) time.Time {
	if dayDistance(ref, b) < dayDistance(ref, a) {
		return b
	}
	return a
}

// ClosestOf returns the candidate fewest days from ref, the earliest listed
// one on ties. It returns the zero time for no candidates.
func ClosestOf(ref time.Time, candidates ...time.Time) time.Time {
	if len(candidates) == 0 {
		return time.Time{}
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		best = Closest(ref, best, c)
	}
	return best
}

func dayDistance(a, b time.Time) int {
	n := int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
	if n < 0 {
		return -n
	}
	return n
}

// AddMonths moves d by n months, clamping the day to the length of the
// resulting month (Jan 31 + 1 month is Feb 28 or 29).
func AddMonths(d time.Time, n int) time.Time {
	y, m, day := DateOf(d).Date()
	total := int(m) - 1 + n
	year := y + floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)
	if last := daysIn(year, month); day > last {
		day = last
	}
	return NewDate(year, month, day)
}

// AddYears moves d by n years with the same clamping as AddMonths.
func AddYears(d time.Time, n int) time.Time {
	return AddMonths(d, 12*n)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
