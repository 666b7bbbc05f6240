package recur

import (
	"fmt"
	"time"
)

// RecurPattern is a validated chain of bases plus the time of day at which
// occurrences fire.
type RecurPattern struct {
	time       RecurTime
	recurIndex int
	bases      []RecurBasis
	// monthAligned patterns evaluate from the first of the cycle date's
	// month, so any date in a period stands for the whole period.
	monthAligned bool
}

// NewPattern validates the chain:
//
//   - there is at least one basis, the first uses Base and no other does;
//   - 0 <= recurIndex <= len(bases), where len(bases) means the cycle
//     anchor is the final date of the chain;
//   - the worst-case cycle length (see WorstCaseCycleDays) is positive.
//
// The last check is a heuristic. A pattern that passes it may still fail
// to advance from some anchor; RecurringEvent reports that at run time.
func NewPattern(t RecurTime, recurIndex int, bases ...RecurBasis) (RecurPattern, error) {
	if err := t.validate(); err != nil {
		return RecurPattern{}, err
	}
	if len(bases) == 0 {
		return RecurPattern{}, configErr("NewPattern", ErrNoBases, "")
	}
	if bases[0].index == nil {
		return RecurPattern{}, configErr("NewPattern", ErrIndexType, "basis 0 has no index")
	}
	if bases[0].rule != Base {
		return RecurPattern{}, configErr("NewPattern", ErrFirstNotBase, "basis 0 is %s", bases[0].rule)
	}
	for i, b := range bases[1:] {
		if b.index == nil {
			return RecurPattern{}, configErr("NewPattern", ErrIndexType, "basis %d has no index", i+1)
		}
		if b.rule == Base {
			return RecurPattern{}, configErr("NewPattern", ErrDuplicateBase, "basis %d", i+1)
		}
	}
	if recurIndex < 0 || recurIndex > len(bases) {
		return RecurPattern{}, configErr("NewPattern", ErrRecurIndex, "%d not in [0, %d]", recurIndex, len(bases))
	}
	if n := worstCaseCycle(bases); n <= 0 {
		return RecurPattern{}, configErr("NewPattern", ErrNonPositiveCycle, "%d days", n)
	}
	return RecurPattern{
		time:       t,
		recurIndex: recurIndex,
		bases:      append([]RecurBasis(nil), bases...),
	}, nil
}

// worstCaseCycle adds up how far each basis can move the running date:
// forwards (After, Base, Closest) counts +max, Before counts -max, and a
// Start-anchored basis also gives back what the basis before it moved.
func worstCaseCycle(bases []RecurBasis) int {
	total, prev := 0, 0
	for _, b := range bases {
		c := b.PeriodMaxDays()
		if b.Direction() == DirBefore {
			c = -c
		}
		if b.rule.IsStart() {
			c -= prev
		}
		total += c
		prev = c
	}
	return total
}

func (p RecurPattern) Time() RecurTime          { return p.time }
func (p RecurPattern) RecurIndex() int          { return p.recurIndex }
func (p RecurPattern) Location() *time.Location { return p.time.Location }

// Bases returns a copy of the chain.
func (p RecurPattern) Bases() []RecurBasis {
	return append([]RecurBasis(nil), p.bases...)
}

// WorstCaseCycleDays is the bound NewPattern requires to be positive.
func (p RecurPattern) WorstCaseCycleDays() int { return worstCaseCycle(p.bases) }

func (p RecurPattern) String() string {
	return fmt.Sprintf("%v at %s (cycle %d)", p.bases, p.time, p.recurIndex)
}

// Next evaluates the chain from the previous cycle date.
//
// Each basis starts from the running date, or, when its rule is
// Start-anchored, from where the previous basis started. The date after
// basis RecurIndex becomes the new cycle date.
func (p RecurPattern) Next(cyclePrev time.Time) (RecurResult, error) {
	dateNext := p.cycleStart(cyclePrev)
	datePrev := dateNext
	dateCycle := dateNext
	for i, b := range p.bases {
		if b.rule.IsStart() {
			dateNext = datePrev
		}
		datePrev = dateNext
		var err error
		if dateNext, err = b.step(dateNext); err != nil {
			return RecurResult{}, fmt.Errorf("basis %d (%s): %w", i, b, err)
		}
		if i == p.recurIndex {
			dateCycle = dateNext
		}
	}
	if p.recurIndex == len(p.bases) {
		dateCycle = dateNext
	}
	return RecurResult{OutputDateTime: p.time.At(dateNext), CycleDate: dateCycle}, nil
}

// Seed returns a result to start a RecurringEvent from: cycle is the cycle
// date and the output is the last second of the day before it, so any
// occurrence on or after cycle counts as progress.
func (p RecurPattern) Seed(cycle time.Time) RecurResult {
	cycle = p.cycleStart(cycle)
	y, m, d := cycle.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, p.time.Location).Add(-time.Second)
	name, offset := start.Zone()
	return RecurResult{
		OutputDateTime: start.In(time.FixedZone(name, offset)),
		CycleDate:      cycle,
	}
}

func (p RecurPattern) cycleStart(d time.Time) time.Time {
	d = DateOf(d)
	if p.monthAligned {
		y, m, _ := d.Date()
		return NewDate(y, m, 1)
	}
	return d
}

// FromDaily fires every day.
func FromDaily(t RecurTime) (RecurPattern, error) {
	return NewPattern(t, 0, MustBasis(Base, Days(1)))
}

// FromWeekly fires on every weekday w, the first one after the cycle date.
func FromWeekly(t RecurTime, w time.Weekday) (RecurPattern, error) {
	b, err := NewBasis(Base, Weekday(w))
	if err != nil {
		return RecurPattern{}, err
	}
	return NewPattern(t, 0, b)
}

// FromMonthly fires one month after the cycle date, on the cycle date's
// day of the month. day is only checked here: seed the event on day (see
// Definition.DefaultCycle). A day the next month lacks is clamped to that
// month's last day, and the clamped day carries on from then.
func FromMonthly(t RecurTime, day int) (RecurPattern, error) {
	if day < 1 || day > 31 {
		return RecurPattern{}, configErr("FromMonthly", ErrPreset, "day %d", day)
	}
	return NewPattern(t, 0, MustBasis(Base, Months(1)))
}

// FromAnnually fires on month/day every year. Feb 29 fires on Feb 28 in
// common years.
func FromAnnually(t RecurTime, month time.Month, day int) (RecurPattern, error) {
	doy, err := NewDateOfYear(month, day)
	if err != nil {
		return RecurPattern{}, err
	}
	return NewPattern(t, 0, MustBasis(Base, doy))
}

// FromNthDayOfWeek fires on the nth weekday w of the month months after
// the cycle date's month. Cycle dates are the first of their month; a seed
// on any other day counts for its whole month.
func FromNthDayOfWeek(t RecurTime, n int, w time.Weekday, months int) (RecurPattern, error) {
	if n < 1 || n > 4 {
		return RecurPattern{}, configErr("FromNthDayOfWeek", ErrPreset, "n %d not in [1, 4]", n)
	}
	period, err := NewBasis(Base, Months(months))
	if err != nil {
		return RecurPattern{}, err
	}
	search, err := NewBasis(AfterEnd, Weekday(w))
	if err != nil {
		return RecurPattern{}, err
	}
	// From the first of the new period, land on the day before the nth
	// week starts, then search forwards.
	offset := MustBasis(BeforeEnd, Days(1))
	if n > 1 {
		offset = MustBasis(AfterEnd, Days(7*n-8))
	}
	p, err := NewPattern(t, 0, period, offset, search)
	if err != nil {
		return RecurPattern{}, err
	}
	p.monthAligned = true
	return p, nil
}
