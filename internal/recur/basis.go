package recur

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// CalendarUnit is what a basis steps by or searches for.
type CalendarUnit int

const (
	UnitDays CalendarUnit = iota
	UnitWeeks
	UnitMonths
	UnitYears
	UnitDaysOfWeek
	UnitDatesOfYear
	UnitLunarPhase
)

var unitNames = [...]string{"days", "weeks", "months", "years", "days_of_week", "dates_of_year", "lunar_phase"}

func (u CalendarUnit) String() string {
	if u < UnitDays || u > UnitLunarPhase {
		return fmt.Sprintf("CalendarUnit(%d)", int(u))
	}
	return unitNames[u]
}

// ParseUnit accepts the snake_case unit names.
func ParseUnit(s string) (CalendarUnit, error) {
	n := normalizeName(s)
	for i, name := range unitNames {
		if n == name {
			return CalendarUnit(i), nil
		}
	}
	return 0, configErr("ParseUnit", ErrUnknownUnit, "%q", s)
}

// AnchorRule says where a basis measures from and in which direction.
type AnchorRule int

const (
	Base AnchorRule = iota
	BeforeStart
	AfterStart
	ClosestStart
	BeforeEnd
	AfterEnd
	ClosestEnd
)

var ruleNames = [...]string{"base", "before_start", "after_start", "closest_start", "before_end", "after_end", "closest_end"}

func (r AnchorRule) valid() bool { return r >= Base && r <= ClosestEnd }

func (r AnchorRule) String() string {
	if !r.valid() {
		return fmt.Sprintf("AnchorRule(%d)", int(r))
	}
	return ruleNames[r]
}

// ParseRule accepts the snake_case rule names.
func ParseRule(s string) (AnchorRule, error) {
	n := normalizeName(s)
	for i, name := range ruleNames {
		if n == name {
			return AnchorRule(i), nil
		}
	}
	return 0, configErr("ParseRule", ErrUnknownRule, "%q", s)
}

// IsStart reports whether the rule measures from where the previous basis
// began rather than where it ended.
func (r AnchorRule) IsStart() bool {
	return r == BeforeStart || r == AfterStart || r == ClosestStart
}

// Direction is derived from an AnchorRule.
type Direction int

const (
	DirBefore Direction = iota
	DirAfter
	DirClosest
)

func (d Direction) String() string {
	switch d {
	case DirBefore:
		return "before"
	case DirAfter:
		return "after"
	case DirClosest:
		return "closest"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Direction of the rule. Base moves forward.
func (r AnchorRule) Direction() Direction {
	switch r {
	case BeforeStart, BeforeEnd:
		return DirBefore
	case Base, AfterStart, AfterEnd:
		return DirAfter
	case ClosestStart, ClosestEnd:
		return DirClosest
	}
	impossible("anchor rule", int(r))
	return 0
}

// Index is the payload of a basis. Each implementation belongs to exactly
// one CalendarUnit, so a basis cannot carry a payload of the wrong kind.
type Index interface {
	Unit() CalendarUnit
	isIndex()
}

// Counted indexes.
type (
	Days   int
	Weeks  int
	Months int
	Years  int
)

// Weekday searches for a day of the week.
type Weekday time.Weekday

func (Days) Unit() CalendarUnit       { return UnitDays }
func (Weeks) Unit() CalendarUnit      { return UnitWeeks }
func (Months) Unit() CalendarUnit     { return UnitMonths }
func (Years) Unit() CalendarUnit      { return UnitYears }
func (Weekday) Unit() CalendarUnit    { return UnitDaysOfWeek }
func (DateOfYear) Unit() CalendarUnit { return UnitDatesOfYear }
func (LunarPhase) Unit() CalendarUnit { return UnitLunarPhase }

func (Days) isIndex()       {}
func (Weeks) isIndex()      {}
func (Months) isIndex()     {}
func (Years) isIndex()      {}
func (Weekday) isIndex()    {}
func (DateOfYear) isIndex() {}
func (LunarPhase) isIndex() {}

func (w Weekday) String() string { return time.Weekday(w).String() }

// Upper bounds, in days, of one search step.
const (
	maxWeekdaySearch    = 7
	maxDateOfYearSearch = 366
	maxLunarSearch      = 30
)

// RecurBasis is one step of a pattern.
type RecurBasis struct {
	rule  AnchorRule
	index Index
}

// NewBasis validates the payload: counted indexes must be positive, search
// targets must be real weekdays, dates or phases. Whether rule makes sense
// for the unit is not checked.
func NewBasis(rule AnchorRule, index Index) (RecurBasis, error) {
	if !rule.valid() {
		return RecurBasis{}, configErr("NewBasis", ErrUnknownRule, "%d", int(rule))
	}
	switch idx := index.(type) {
	case nil:
		return RecurBasis{}, configErr("NewBasis", ErrIndexType, "nil index")
	case Days, Weeks, Months, Years:
		if countOf(idx) <= 0 {
			return RecurBasis{}, configErr("NewBasis", ErrIndexNotPositive, "%s %d", idx.Unit(), countOf(idx))
		}
	case Weekday:
		if idx < Weekday(time.Sunday) || idx > Weekday(time.Saturday) {
			return RecurBasis{}, configErr("NewBasis", ErrIndexRange, "weekday %d", int(idx))
		}
	case DateOfYear:
		if idx.IsZero() {
			return RecurBasis{}, configErr("NewBasis", ErrDateOfYear, "zero date of year")
		}
	case LunarPhase:
		if !idx.valid() {
			return RecurBasis{}, configErr("NewBasis", ErrIndexRange, "%s", idx)
		}
	}
	return RecurBasis{rule: rule, index: index}, nil
}

// MustBasis is NewBasis for literals known to be valid.
func MustBasis(rule AnchorRule, index Index) RecurBasis {
	b, err := NewBasis(rule, index)
	if err != nil {
		panic(err)
	}
	return b
}

func countOf(idx Index) int {
	switch n := idx.(type) {
	case Days:
		return int(n)
	case Weeks:
		return int(n)
	case Months:
		return int(n)
	case Years:
		return int(n)
	}
	return 0
}

func (b RecurBasis) Basis() CalendarUnit  { return b.index.Unit() }
func (b RecurBasis) Rule() AnchorRule     { return b.rule }
func (b RecurBasis) Index() Index         { return b.index }
func (b RecurBasis) Direction() Direction { return b.rule.Direction() }

func (b RecurBasis) String() string {
	return fmt.Sprintf("%s %s(%v)", b.rule, b.Basis(), b.index)
}

// PeriodMaxDays is the most days one application of the basis can move.
func (b RecurBasis) PeriodMaxDays() int {
	switch b.index.(type) {
	case Days:
		return countOf(b.index)
	case Weeks:
		return 7 * countOf(b.index)
	case Months:
		return 30 * countOf(b.index)
	case Years:
		return 365 * countOf(b.index)
	case Weekday:
		return maxWeekdaySearch
	case DateOfYear:
		return maxDateOfYearSearch
	case LunarPhase:
		return maxLunarSearch
	}
	impossible("index", b.index)
	return 0
}

// PeriodMinDays is the least days one application of the basis moves.
// Searches guarantee nothing.
func (b RecurBasis) PeriodMinDays() int {
	switch b.index.(type) {
	case Days, Weeks, Months, Years:
		return b.PeriodMaxDays()
	case Weekday, DateOfYear, LunarPhase:
		return 0
	}
	impossible("index", b.index)
	return 0
}

// step applies the basis to d and returns the new date.
func (b RecurBasis) step(d time.Time) (time.Time, error) {
	dir := b.Direction()
	switch idx := b.index.(type) {
	case Days:
		n := int(idx)
		return move(d, dir, func(t time.Time, sign int) time.Time { return t.AddDate(0, 0, sign*n) }), nil
	case Weeks:
		n := 7 * int(idx)
		return move(d, dir, func(t time.Time, sign int) time.Time { return t.AddDate(0, 0, sign*n) }), nil
	case Months:
		n := int(idx)
		return move(d, dir, func(t time.Time, sign int) time.Time { return AddMonths(t, sign*n) }), nil
	case Years:
		n := int(idx)
		return move(d, dir, func(t time.Time, sign int) time.Time { return AddYears(t, sign*n) }), nil
	case Weekday:
		w := time.Weekday(idx)
		return move(d, dir, func(t time.Time, sign int) time.Time {
			if sign < 0 {
				return PreviousDayOfWeek(t, w, false)
			}
			return NextDayOfWeek(t, w, false)
		}), nil
	case DateOfYear:
		return move(d, dir, func(t time.Time, sign int) time.Time {
			if sign < 0 {
				return PreviousDateOfYear(t, idx, false)
			}
			return NextDateOfYear(t, idx, false)
		}), nil
	case LunarPhase:
		return time.Time{}, fmt.Errorf("%w: lunar phase %s", ErrUnimplemented, idx)
	}
	impossible("index", b.index)
	return time.Time{}, nil
}

// move applies fn backwards (sign -1) or forwards (sign +1) according to
// dir. Closest takes the nearer result, the earlier one on ties.
func move(d time.Time, dir Direction, fn func(t time.Time, sign int) time.Time) time.Time {
	switch dir {
	case DirBefore:
		return fn(d, -1)
	case DirAfter:
		return fn(d, 1)
	case DirClosest:
		return Closest(d, fn(d, -1), fn(d, 1))
	}
	impossible("direction", dir)
	return time.Time{}
}

// ParseBasis builds a basis from a dynamically typed index, as decoded from
// JSON or YAML. The payload's type must fit the unit: integral numbers for
// counted units, weekday names for days_of_week, "MM-DD" or {month, day}
// for dates_of_year and phase names for lunar_phase.
func ParseBasis(unit CalendarUnit, rule AnchorRule, index any) (RecurBasis, error) {
	idx, err := indexFor(unit, index)
	if err != nil {
		return RecurBasis{}, err
	}
	return NewBasis(rule, idx)
}

func indexFor(unit CalendarUnit, v any) (Index, error) {
	mismatch := func() error {
		return configErr("ParseBasis", ErrIndexType, "%s index %v (%T)", unit, v, v)
	}
	if idx, ok := v.(Index); ok {
		if idx.Unit() != unit {
			return nil, mismatch()
		}
		return idx, nil
	}
	switch unit {
	case UnitDays, UnitWeeks, UnitMonths, UnitYears:
		n, ok := integral(v)
		if !ok {
			return nil, mismatch()
		}
		switch unit {
		case UnitDays:
			return Days(n), nil
		case UnitWeeks:
			return Weeks(n), nil
		case UnitMonths:
			return Months(n), nil
		default:
			return Years(n), nil
		}
	case UnitDaysOfWeek:
		switch w := v.(type) {
		case time.Weekday:
			return Weekday(w), nil
		case string:
			d, err := ParseWeekday(w)
			if err != nil {
				return nil, err
			}
			return Weekday(d), nil
		}
		return nil, mismatch()
	case UnitDatesOfYear:
		switch d := v.(type) {
		case string:
			return ParseDateOfYear(d)
		case map[string]any:
			m, mok := integral(d["month"])
			day, dok := integral(d["day"])
			if !mok || !dok {
				return nil, mismatch()
			}
			return NewDateOfYear(time.Month(m), day)
		}
		return nil, mismatch()
	case UnitLunarPhase:
		if p, ok := v.(string); ok {
			return ParseLunarPhase(p)
		}
		return nil, mismatch()
	}
	return nil, configErr("ParseBasis", ErrUnknownUnit, "%d", int(unit))
}

// integral converts the numeric types decoders produce to an int, rejecting
// fractions.
func integral(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return integral(float64(n))
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}
