package recur

import (
	"errors"
	"fmt"
)

// Configuration errors. NewPattern, NewBasis and the definition parsers wrap
// these in a *ConfigError; test for them with errors.Is.
var (
	ErrNoBases          = errors.New("pattern has no bases")
	ErrFirstNotBase     = errors.New("first basis must use the base rule")
	ErrDuplicateBase    = errors.New("only the first basis may use the base rule")
	ErrRecurIndex       = errors.New("recur index out of range")
	ErrNonPositiveCycle = errors.New("worst-case cycle length is not positive")

	ErrIndexType        = errors.New("index type does not match basis")
	ErrIndexNotPositive = errors.New("index must be a positive integer")
	ErrIndexRange       = errors.New("index out of range")
	ErrDateOfYear       = errors.New("invalid date of year")
	ErrUnknownUnit      = errors.New("unknown calendar unit")
	ErrUnknownRule      = errors.New("unknown anchor rule")
	ErrTimeOfDay        = errors.New("invalid time of day")
	ErrTimeZone         = errors.New("invalid time zone")
	ErrPreset           = errors.New("invalid preset")
)

// ErrUnimplemented is returned when evaluating a step whose arithmetic does
// not exist yet (lunar phases).
var ErrUnimplemented = errors.New("recur: not implemented")

// ConfigError reports a rejected pattern, basis or definition.
type ConfigError struct {
	Op     string // constructor that rejected the input
	Detail string // optional offending value
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("recur: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("recur: %s: %v: %s", e.Op, e.Err, e.Detail)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(op string, err error, format string, args ...any) error {
	return &ConfigError{Op: op, Err: err, Detail: fmt.Sprintf(format, args...)}
}

// impossible reports an enum value no switch knows about. It means a variant
// was added without teaching the evaluator about it.
func impossible(kind string, v any) {
	panic(fmt.Sprintf("recur: impossible %s %v", kind, v))
}
