// Package recur implements the recurring-event rule engine.
//
// A RecurPattern is an ordered chain of RecurBasis steps. Each step moves a
// running date by one calendar unit (days, weeks, months, years) or searches
// for a calendar target (a weekday, a date of the year) before, after, or
// closest to where it starts. A step either starts where the previous step
// ended (the *End rules) or where the previous step began (the *Start rules),
// which is how a chain says "the 1st Tuesday of the 2-month period" rather
// than "a Tuesday after jumping 2 months":
//
//	Base    Months(2)        C        -> C+2mo   (cycle anchor)
//	BeforeStart Days(1)      C        -> C-1d
//	AfterEnd    Weekday(Tue) C-1d     -> first Tuesday on or after C
//
// Evaluating a pattern from the previous cycle date yields a RecurResult:
// the instant to fire and the cycle date to evaluate from next time.
// RecurringEvent wraps a pattern and its last result and refuses to hand out
// a result that does not move forward in time.
//
// Plain dates are time.Time values at midnight UTC; see NewDate and DateOf.
// The package performs no I/O and keeps no global state. Patterns are
// immutable and safe to share; a RecurringEvent must have a single owner.
package recur
