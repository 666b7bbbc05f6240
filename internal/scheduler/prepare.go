package scheduler

import (
	"errors"
	"fmt"
	"time"

	"recurbot/internal/domain"
	"recurbot/internal/handlers/webhook"
	"recurbot/internal/recur"
)

// ErrInvalidMessage is returned by Validate for a message template that does
// not parse.
var ErrInvalidMessage = errors.New("invalid message template")

// Validate checks everything about e the scheduler will need later: the
// definition builds a pattern that can be evaluated, and the message
// parses.
func Validate(e domain.Event) (recur.RecurPattern, error) {
	pattern, err := e.Definition.Pattern()
	if err != nil {
		return recur.RecurPattern{}, err
	}
	if err := webhook.ValidateMessage(e.Message); err != nil {
		return recur.RecurPattern{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return pattern, nil
}

// Seed validates e and starts it at cycle, or at its definition's default
// cycle for now when cycle is nil. It sets the anchor and the next fire.
func Seed(e *domain.Event, cycle *time.Time, now time.Time) error {
	pattern, err := Validate(*e)
	if err != nil {
		return err
	}
	c := now
	if cycle != nil {
		c = *cycle
	} else if c, err = e.Definition.DefaultCycle(now); err != nil {
		return err
	}
	e.Anchor = pattern.Seed(c)
	e.Misses = 0
	e.LastError = ""
	return Reschedule(e)
}

// Reschedule recomputes e's next fire from its anchor, as after the
// definition changed. A pattern that cannot advance from the anchor keeps
// the event due so the scheduler counts the miss.
func Reschedule(e *domain.Event) error {
	pattern, err := Validate(*e)
	if err != nil {
		return err
	}
	ev := recur.NewRecurringEvent(pattern, e.Anchor)
	next, err := ev.PeekNext()
	if err != nil {
		return err
	}
	fire := e.Anchor.OutputDateTime
	if r, ok := next.Get(); ok {
		fire = r.OutputDateTime
	}
	e.NextFire = &fire
	return nil
}

// Upcoming lists the next n occurrences of e without changing it.
func Upcoming(e domain.Event, n int) ([]recur.RecurResult, error) {
	pattern, err := e.Definition.Pattern()
	if err != nil {
		return nil, err
	}
	return recur.NewRecurringEvent(pattern, e.Anchor).Upcoming(n)
}
