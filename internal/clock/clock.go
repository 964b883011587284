// Package clock abstracts wall-clock access so loops and scorers can be
// driven by controlled time in tests.
package clock

import "time"

// Clock provides the time operations the agent loop, health scorer, and
// alert evaluator need.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Since(t time.Time) time.Duration
}

// System is the Clock backed by the standard library.
type System struct{}

func (System) Now() time.Time                         { return time.Now() }
func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (System) Since(t time.Time) time.Duration        { return time.Since(t) }
