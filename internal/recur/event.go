package recur

import (
	"time"

	"github.com/samber/mo"
)

// RecurResult is one evaluated occurrence. OutputDateTime is the instant to
// fire, with a fixed offset. CycleDate is the plain date the following
// occurrence is evaluated from. Persist both to resume a RecurringEvent.
type RecurResult struct {
	OutputDateTime time.Time
	CycleDate      time.Time
}

// Equal compares both fields as instants and dates.
func (r RecurResult) Equal(o RecurResult) bool {
	return r.OutputDateTime.Equal(o.OutputDateTime) && DateOf(r.CycleDate).Equal(DateOf(o.CycleDate))
}

// RecurringEvent iterates a pattern from its last fired result.
//
// GetNext mutates the event and must not be called concurrently with
// itself or PeekNext; callers that share an event serialize access.
type RecurringEvent struct {
	pattern  RecurPattern
	previous RecurResult
}

// NewRecurringEvent starts from seed, usually the persisted result of the
// last time the event fired, or RecurPattern.Seed for a new one.
func NewRecurringEvent(pattern RecurPattern, seed RecurResult) *RecurringEvent {
	return &RecurringEvent{pattern: pattern, previous: seed}
}

func (e *RecurringEvent) Pattern() RecurPattern { return e.pattern }
func (e *RecurringEvent) Previous() RecurResult { return e.previous }

// PeekNext computes the next result without committing it. It is None when
// the result would not come strictly after the previous output, and an
// error only when a basis cannot be evaluated (ErrUnimplemented).
func (e *RecurringEvent) PeekNext() (mo.Option[RecurResult], error) {
	next, err := e.pattern.Next(e.previous.CycleDate)
	if err != nil {
		return mo.None[RecurResult](), err
	}
	if !next.OutputDateTime.After(e.previous.OutputDateTime) {
		return mo.None[RecurResult](), nil
	}
	return mo.Some(next), nil
}

// GetNext is PeekNext that also commits a Some result as the new previous.
func (e *RecurringEvent) GetNext() (mo.Option[RecurResult], error) {
	next, err := e.PeekNext()
	if err != nil {
		return next, err
	}
	if r, ok := next.Get(); ok {
		e.previous = r
	}
	return next, nil
}

// Upcoming returns up to n successive results without mutating e. It stops
// early at the first result that fails to advance.
func (e *RecurringEvent) Upcoming(n int) ([]RecurResult, error) {
	if n <= 0 {
		return nil, nil
	}
	ahead := *e
	out := make([]RecurResult, 0, n)
	for len(out) < n {
		next, err := ahead.GetNext()
		if err != nil {
			return out, err
		}
		r, ok := next.Get()
		if !ok {
			break
		}
		out = append(out, r)
	}
	return out, nil
}
