package recur

import (
	"time"
)

// Definition is the serializable form of a pattern, as stored in the
// database, sent to the API and written in event files. Either Preset or
// Bases is set.
type Definition struct {
	Time       string            `json:"time" yaml:"time"`
	TimeZone   string            `json:"time_zone,omitempty" yaml:"time_zone,omitempty"`
	Preset     *Preset           `json:"preset,omitempty" yaml:"preset,omitempty"`
	RecurIndex int               `json:"recur_index,omitempty" yaml:"recur_index,omitempty"`
	Bases      []BasisDefinition `json:"bases,omitempty" yaml:"bases,omitempty"`
}

// BasisDefinition is one basis with a dynamically typed index.
type BasisDefinition struct {
	Unit  string `json:"unit" yaml:"unit"`
	Rule  string `json:"rule" yaml:"rule"`
	Index any    `json:"index" yaml:"index"`
}

// Preset kinds, one per factory.
const (
	PresetDaily      = "daily"
	PresetWeekly     = "weekly"
	PresetMonthly    = "monthly"
	PresetAnnually   = "annually"
	PresetNthWeekday = "nth_weekday"
)

// Preset selects one of the factory shortcuts.
type Preset struct {
	Kind    string `json:"kind" yaml:"kind"`
	Weekday string `json:"weekday,omitempty" yaml:"weekday,omitempty"`
	Day     int    `json:"day,omitempty" yaml:"day,omitempty"`
	Month   int    `json:"month,omitempty" yaml:"month,omitempty"`
	N       int    `json:"n,omitempty" yaml:"n,omitempty"`
	Months  int    `json:"months,omitempty" yaml:"months,omitempty"`
}

// RecurTime resolves the time of day and zone. An empty zone means UTC.
func (d Definition) RecurTime() (RecurTime, error) {
	clock, err := ParseTimeOfDay(d.Time)
	if err != nil {
		return RecurTime{}, err
	}
	loc := time.UTC
	if d.TimeZone != "" {
		if loc, err = time.LoadLocation(d.TimeZone); err != nil {
			return RecurTime{}, configErr("Definition", ErrTimeZone, "%q", d.TimeZone)
		}
	}
	return RecurTime{Clock: clock, Location: loc}, nil
}

// Pattern builds and validates the pattern.
func (d Definition) Pattern() (RecurPattern, error) {
	rt, err := d.RecurTime()
	if err != nil {
		return RecurPattern{}, err
	}
	if d.Preset != nil {
		if len(d.Bases) > 0 {
			return RecurPattern{}, configErr("Definition", ErrPreset, "preset and bases are exclusive")
		}
		return d.Preset.pattern(rt)
	}
	bases := make([]RecurBasis, 0, len(d.Bases))
	for _, bd := range d.Bases {
		unit, err := ParseUnit(bd.Unit)
		if err != nil {
			return RecurPattern{}, err
		}
		rule, err := ParseRule(bd.Rule)
		if err != nil {
			return RecurPattern{}, err
		}
		b, err := ParseBasis(unit, rule, bd.Index)
		if err != nil {
			return RecurPattern{}, err
		}
		bases = append(bases, b)
	}
	return NewPattern(rt, d.RecurIndex, bases...)
}

func (p Preset) pattern(rt RecurTime) (RecurPattern, error) {
	switch normalizeName(p.Kind) {
	case PresetDaily:
		return FromDaily(rt)
	case PresetWeekly:
		w, err := ParseWeekday(p.Weekday)
		if err != nil {
			return RecurPattern{}, err
		}
		return FromWeekly(rt, w)
	case PresetMonthly:
		return FromMonthly(rt, p.Day)
	case PresetAnnually:
		return FromAnnually(rt, time.Month(p.Month), p.Day)
	case PresetNthWeekday:
		w, err := ParseWeekday(p.Weekday)
		if err != nil {
			return RecurPattern{}, err
		}
		months := p.Months
		if months == 0 {
			months = 1
		}
		return FromNthDayOfWeek(rt, p.N, w, months)
	}
	return RecurPattern{}, configErr("Definition", ErrPreset, "kind %q", p.Kind)
}

// DefaultCycle picks the cycle date a new event starts from when none is
// given: today in the pattern's zone, moved to the preset's day for monthly
// patterns. nth_weekday ones start one period back, so this month's
// occurrence is the first.
func (d Definition) DefaultCycle(now time.Time) (time.Time, error) {
	rt, err := d.RecurTime()
	if err != nil {
		return time.Time{}, err
	}
	today := DateOf(now.In(rt.Location))
	if d.Preset == nil {
		return today, nil
	}
	y, m, _ := today.Date()
	switch normalizeName(d.Preset.Kind) {
	case PresetMonthly:
		day := d.Preset.Day
		if last := daysIn(y, m); day > last {
			day = last
		}
		return NewDate(y, m, day), nil
	case PresetNthWeekday:
		months := d.Preset.Months
		if months == 0 {
			months = 1
		}
		return AddMonths(NewDate(y, m, 1), -months), nil
	}
	return today, nil
}
