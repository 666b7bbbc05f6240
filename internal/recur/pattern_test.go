package recur

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pacific(t *testing.T, hour, minute int) RecurTime {
	t.Helper()
	rt, err := NewRecurTime(hour, minute, mustLocation(t, "America/Los_Angeles"))
	require.NoError(t, err)
	return rt
}

func utcTime(hour, minute int) RecurTime {
	return RecurTime{Clock: TimeOfDay{Hour: hour, Minute: minute}, Location: time.UTC}
}

func TestNewPatternInvariants(t *testing.T) {
	rt := utcTime(9, 0)

	tests := []struct {
		name       string
		recurIndex int
		bases      []RecurBasis
		want       error
	}{
		{"no bases", 0, nil, ErrNoBases},
		{"first is not base", 0, []RecurBasis{MustBasis(AfterEnd, Days(1))}, ErrFirstNotBase},
		{"two base rules", 0, []RecurBasis{MustBasis(Base, Days(1)), MustBasis(Base, Days(2))}, ErrDuplicateBase},
		{"recur index negative", -1, []RecurBasis{MustBasis(Base, Days(1))}, ErrRecurIndex},
		{"recur index past end", 2, []RecurBasis{MustBasis(Base, Days(1))}, ErrRecurIndex},
		{"cycle goes backwards", 0, []RecurBasis{MustBasis(Base, Days(1)), MustBasis(BeforeEnd, Days(2))}, ErrNonPositiveCycle},
		{"cycle stands still", 0, []RecurBasis{MustBasis(Base, Weekday(time.Monday)), MustBasis(BeforeEnd, Weeks(1))}, ErrNonPositiveCycle},
		{"zero basis", 0, []RecurBasis{{}}, ErrIndexType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPattern(rt, tt.recurIndex, tt.bases...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var cfg *ConfigError
			require.ErrorAs(t, err, &cfg)
			assert.Equal(t, "NewPattern", cfg.Op)
		})
	}

	_, err := NewPattern(RecurTime{Clock: TimeOfDay{Hour: 9}}, 0, MustBasis(Base, Days(1)))
	assert.ErrorIs(t, err, ErrTimeZone)

	_, err = NewPattern(utcTime(24, 0), 0, MustBasis(Base, Days(1)))
	assert.ErrorIs(t, err, ErrTimeOfDay)
}

func TestNewPatternAcceptsRecurIndexAtEnd(t *testing.T) {
	p, err := NewPattern(utcTime(9, 0), 2, MustBasis(Base, Days(3)), MustBasis(BeforeEnd, Days(1)))
	require.NoError(t, err)

	r, err := p.Next(NewDate(2022, 5, 1))
	require.NoError(t, err)
	assert.Equal(t, NewDate(2022, 5, 3), r.CycleDate)
	assert.Equal(t, time.Date(2022, 5, 3, 9, 0, 0, 0, time.UTC), r.OutputDateTime.UTC())

	p, err = NewPattern(utcTime(9, 0), 0, MustBasis(Base, Days(3)), MustBasis(BeforeEnd, Days(1)))
	require.NoError(t, err)
	r, err = p.Next(NewDate(2022, 5, 1))
	require.NoError(t, err)
	assert.Equal(t, NewDate(2022, 5, 4), r.CycleDate)
}

func TestWorstCaseCycleDays(t *testing.T) {
	p, err := FromNthDayOfWeek(utcTime(9, 0), 1, time.Tuesday, 2)
	require.NoError(t, err)
	// 60 for the months, -1 for the day back, 7 for the search.
	assert.Equal(t, 66, p.WorstCaseCycleDays())

	p, err = FromNthDayOfWeek(utcTime(9, 0), 3, time.Tuesday, 1)
	require.NoError(t, err)
	assert.Equal(t, 30+13+7, p.WorstCaseCycleDays())

	// A start-anchored step gives back what the step before it moved.
	p, err = NewPattern(utcTime(9, 0), 0,
		MustBasis(Base, Months(2)), MustBasis(BeforeStart, Days(1)), MustBasis(AfterEnd, Weekday(time.Tuesday)))
	require.NoError(t, err)
	assert.Equal(t, 60+(-1-60)+7, p.WorstCaseCycleDays())

	p, err = FromDaily(utcTime(9, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, p.WorstCaseCycleDays())
}

func TestFromWeeklySkipsMatchingCycleDate(t *testing.T) {
	rt := pacific(t, 7, 30)
	p, err := FromWeekly(rt, time.Tuesday)
	require.NoError(t, err)

	// 2022-03-01 is a Tuesday; the next cycle is a week later.
	r, err := p.Next(NewDate(2022, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, NewDate(2022, 3, 8), r.CycleDate)
	assert.Equal(t, "2022-03-08T07:30:00-08:00", r.OutputDateTime.Format(time.RFC3339))
}

func TestFromMonthlyClampsToMonthEnd(t *testing.T) {
	p, err := FromMonthly(utcTime(18, 0), 31)
	require.NoError(t, err)

	r, err := p.Next(NewDate(2022, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, NewDate(2022, 2, 28), r.CycleDate)
	assert.Equal(t, time.Date(2022, 2, 28, 18, 0, 0, 0, time.UTC), r.OutputDateTime.UTC())

	r, err = p.Next(NewDate(2024, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, NewDate(2024, 2, 29), r.CycleDate)

	// The clamped cycle date carries on from the 28th.
	r, err = p.Next(NewDate(2022, 2, 28))
	require.NoError(t, err)
	assert.Equal(t, NewDate(2022, 3, 28), r.CycleDate)

	// The day of the month comes from the cycle date, not from day.
	r, err = p.Next(NewDate(2022, 1, 15))
	require.NoError(t, err)
	assert.Equal(t, NewDate(2022, 2, 15), r.CycleDate)

	_, err = FromMonthly(utcTime(18, 0), 32)
	assert.ErrorIs(t, err, ErrPreset)
}

func TestFromAnnually(t *testing.T) {
	p, err := FromAnnually(utcTime(0, 0), time.December, 25)
	require.NoError(t, err)

	r, err := p.Next(NewDate(2022, 12, 25))
	require.NoError(t, err)
	assert.Equal(t, NewDate(2023, 12, 25), r.CycleDate)

	leap, err := FromAnnually(utcTime(12, 0), time.February, 29)
	require.NoError(t, err)
	r, err = leap.Next(NewDate(2024, 2, 29))
	require.NoError(t, err)
	assert.Equal(t, NewDate(2025, 2, 28), r.CycleDate)

	_, err = FromAnnually(utcTime(0, 0), time.February, 30)
	assert.ErrorIs(t, err, ErrDateOfYear)
}

func TestFromNthDayOfWeekFromFiredOccurrence(t *testing.T) {
	rt := pacific(t, 7, 30)
	p, err := FromNthDayOfWeek(rt, 1, time.Tuesday, 2)
	require.NoError(t, err)

	// 2022-04-05 is the 1st Tuesday of April.
	r, err := p.Next(NewDate(2022, 4, 5))
	require.NoError(t, err)
	assert.Equal(t, "2022-06-07T07:30:00-07:00", r.OutputDateTime.Format(time.RFC3339))
	assert.Equal(t, NewDate(2022, 6, 1), r.CycleDate)

	fired := RecurResult{
		OutputDateTime: time.Date(2022, 4, 5, 7, 30, 0, 0, rt.Location),
		CycleDate:      NewDate(2022, 4, 5),
	}
	ev := NewRecurringEvent(p, fired)
	next, err := ev.GetNext()
	require.NoError(t, err)
	got, ok := next.Get()
	require.True(t, ok)
	assert.Equal(t, "2022-06-07T07:30:00-07:00", got.OutputDateTime.Format(time.RFC3339))

	results, err := ev.Upcoming(12)
	require.NoError(t, err)
	require.Len(t, results, 12)
	prev := got.OutputDateTime
	for _, r := range results {
		out := r.OutputDateTime
		assert.Equal(t, time.Tuesday, out.Weekday(), out.Format(time.RFC3339))
		assert.LessOrEqual(t, out.Day(), 7, out.Format(time.RFC3339))
		assert.Equal(t, AddMonths(DateOf(prev), 2).Month(), out.Month(), out.Format(time.RFC3339))
		assert.Equal(t, 1, r.CycleDate.Day())
		prev = out
	}
}

func TestFromNthDayOfWeekSeedCountsForItsMonth(t *testing.T) {
	p, err := FromNthDayOfWeek(pacific(t, 7, 30), 1, time.Tuesday, 2)
	require.NoError(t, err)

	seed := p.Seed(NewDate(2022, 4, 5))
	assert.Equal(t, NewDate(2022, 4, 1), seed.CycleDate)

	results, err := NewRecurringEvent(p, seed).Upcoming(3)
	require.NoError(t, err)
	var days []string
	for _, r := range results {
		days = append(days, DateOf(r.OutputDateTime).Format(DateLayout))
	}
	assert.Equal(t, []string{"2022-06-07", "2022-08-02", "2022-10-04"}, days)
}

func TestStartAnchoredStepMeasuresFromPreviousStart(t *testing.T) {
	rt := utcTime(7, 30)
	start, err := NewPattern(rt, 0,
		MustBasis(Base, Months(2)), MustBasis(BeforeStart, Days(1)), MustBasis(AfterEnd, Weekday(time.Tuesday)))
	require.NoError(t, err)
	end, err := NewPattern(rt, 0,
		MustBasis(Base, Months(2)), MustBasis(BeforeEnd, Days(1)), MustBasis(AfterEnd, Weekday(time.Tuesday)))
	require.NoError(t, err)

	// Both jump to the cycle date 2022-06-01. The start-anchored chain
	// steps back from 2022-04-01 instead, and finds April's Tuesday.
	r, err := start.Next(NewDate(2022, 4, 1))
	require.NoError(t, err)
	assert.Equal(t, NewDate(2022, 4, 5), DateOf(r.OutputDateTime))
	assert.Equal(t, NewDate(2022, 6, 1), r.CycleDate)

	r, err = end.Next(NewDate(2022, 4, 1))
	require.NoError(t, err)
	assert.Equal(t, NewDate(2022, 6, 7), DateOf(r.OutputDateTime))
	assert.Equal(t, NewDate(2022, 6, 1), r.CycleDate)
}

func TestFromNthDayOfWeekOrdinals(t *testing.T) {
	may := NewDate(2022, 5, 20) // any day of May stands for May

	tests := []struct {
		n    int
		day  time.Weekday
		want time.Time
	}{
		{1, time.Wednesday, NewDate(2022, 6, 1)},
		{1, time.Tuesday, NewDate(2022, 6, 7)},
		{2, time.Wednesday, NewDate(2022, 6, 8)},
		{3, time.Thursday, NewDate(2022, 6, 16)},
		{4, time.Tuesday, NewDate(2022, 6, 28)},
	}
	for _, tt := range tests {
		p, err := FromNthDayOfWeek(utcTime(12, 0), tt.n, tt.day, 1)
		require.NoError(t, err)
		r, err := p.Next(may)
		require.NoError(t, err)
		assert.Equal(t, tt.want, DateOf(r.OutputDateTime), "n=%d %s", tt.n, tt.day)
		assert.Equal(t, NewDate(2022, 6, 1), r.CycleDate)
	}

	_, err := FromNthDayOfWeek(utcTime(12, 0), 5, time.Tuesday, 1)
	assert.ErrorIs(t, err, ErrPreset)
	_, err = FromNthDayOfWeek(utcTime(12, 0), 1, time.Tuesday, 0)
	assert.ErrorIs(t, err, ErrIndexNotPositive)
}

func TestClosestRule(t *testing.T) {
	thu := NewDate(2022, 3, 3)

	p, err := NewPattern(utcTime(9, 0), 0, MustBasis(Base, Weeks(1)), MustBasis(ClosestEnd, Weekday(time.Monday)))
	require.NoError(t, err)
	r, err := p.Next(thu)
	require.NoError(t, err)
	// From Thursday 03-10: Monday 03-07 is 3 days back, 03-14 is 4 ahead.
	assert.Equal(t, NewDate(2022, 3, 7), DateOf(r.OutputDateTime))
	assert.Equal(t, NewDate(2022, 3, 10), r.CycleDate)

	// Same weekday: both candidates are a week away, the earlier one wins.
	p, err = NewPattern(utcTime(9, 0), 0, MustBasis(Base, Weeks(2)), MustBasis(ClosestEnd, Weekday(time.Thursday)))
	require.NoError(t, err)
	r, err = p.Next(thu)
	require.NoError(t, err)
	assert.Equal(t, NewDate(2022, 3, 10), DateOf(r.OutputDateTime))
}

func TestDSTOffsets(t *testing.T) {
	p, err := FromDaily(pacific(t, 7, 30))
	require.NoError(t, err)

	before, err := p.Next(NewDate(2022, 3, 11))
	require.NoError(t, err)
	after, err := p.Next(NewDate(2022, 3, 12))
	require.NoError(t, err)

	_, offBefore := before.OutputDateTime.Zone()
	_, offAfter := after.OutputDateTime.Zone()
	assert.Equal(t, -8*3600, offBefore)
	assert.Equal(t, -7*3600, offAfter)
	assert.Equal(t, 23*time.Hour, after.OutputDateTime.Sub(before.OutputDateTime))
}

func TestLunarPhaseFailsAtEvaluation(t *testing.T) {
	p, err := NewPattern(utcTime(21, 0), 0, MustBasis(Base, FullMoon))
	require.NoError(t, err, "lunar phases are accepted at construction")

	_, err = p.Next(NewDate(2022, 3, 1))
	assert.ErrorIs(t, err, ErrUnimplemented)

	p, err = NewPattern(utcTime(21, 0), 0, MustBasis(Base, Weeks(1)), MustBasis(AfterEnd, NewMoon))
	require.NoError(t, err)
	_, err = p.Next(NewDate(2022, 3, 1))
	assert.ErrorIs(t, err, ErrUnimplemented)
}

func TestSeed(t *testing.T) {
	rt := pacific(t, 7, 30)
	p, err := FromWeekly(rt, time.Tuesday)
	require.NoError(t, err)

	s := p.Seed(NewDate(2022, 3, 1))
	assert.Equal(t, NewDate(2022, 3, 1), s.CycleDate)
	assert.Equal(t, "2022-02-28T23:59:59-08:00", s.OutputDateTime.Format(time.RFC3339))
}

func TestBasesIsACopy(t *testing.T) {
	p, err := FromDaily(utcTime(9, 0))
	require.NoError(t, err)

	bases := p.Bases()
	bases[0] = MustBasis(Base, Years(5))
	assert.Equal(t, Days(1), p.Bases()[0].Index())
}
