// Package milestone decides where a tracked view count's next round
// threshold lies and when a count is close enough to announce it.
package milestone

import (
	"fmt"
	"math"
)

// Stepper maps a value to the next milestone strictly above it.
type Stepper interface {
	Next(value int64) int64
}

// Policy is what the run orchestrator consults for every fetched count.
type Policy interface {
	Stepper
	// IsApproaching reports whether value sits inside the announcement
	// window below Next(value).
	IsApproaching(value int64) bool
}

// --------------------------------------------------------------------------
// Steppers
// --------------------------------------------------------------------------

// Fixed places milestones on every multiple of Step.
type Fixed struct {
	Step int64
}

// Next returns the smallest multiple of Step greater than value,
// saturating at math.MaxInt64.
func (f Fixed) Next(value int64) int64 {
	step := f.Step
	if step <= 0 {
		step = 1
	}
	if value < 0 {
		return step
	}
	return nextMultiple(value/step, step)
}

// Magnitude places milestones on leading-digit boundaries:
// 950 -> 1000, 1000 -> 2000, 12345 -> 20000. Values below Floor map to Floor.
type Magnitude struct {
	Floor int64
}

// Next returns the next leading-digit boundary above value, saturating at
// math.MaxInt64.
func (m Magnitude) Next(value int64) int64 {
	if m.Floor > 0 && value < m.Floor {
		return m.Floor
	}
	if value < 1 {
		return 1
	}
	unit := int64(1)
	for value/unit >= 10 {
		unit *= 10
	}
	return nextMultiple(value/unit, unit)
}

// nextMultiple returns (q+1)*unit, or math.MaxInt64 when that overflows.
func nextMultiple(q, unit int64) int64 {
	if q >= math.MaxInt64/unit {
		return math.MaxInt64
	}
	return (q + 1) * unit
}

// --------------------------------------------------------------------------
// Window
// --------------------------------------------------------------------------

// Window wraps a Stepper with an approach window. A value is approaching
// when the gap to its next milestone is at most Distance, or at most Ratio
// of that milestone. A zero bound is disabled; with both zero nothing is
// ever approaching.
type Window struct {
	Stepper  Stepper
	Distance int64
	Ratio    float64
}

// Next delegates to the wrapped stepper.
func (w Window) Next(value int64) int64 {
	return w.Stepper.Next(value)
}

// IsApproaching reports whether value is within the window below Next(value).
func (w Window) IsApproaching(value int64) bool {
	next := w.Next(value)
	gap := next - value
	if gap <= 0 {
		return false
	}
	if w.Distance > 0 && gap <= w.Distance {
		return true
	}
	return w.Ratio > 0 && float64(gap) <= w.Ratio*float64(next)
}

// New builds a policy by name: "magnitude" or "fixed".
func New(name string, step, distance int64, ratio float64) (Policy, error) {
	var s Stepper
	switch name {
	case "", "magnitude":
		s = Magnitude{Floor: step}
	case "fixed":
		if step <= 0 {
			return nil, fmt.Errorf("fixed milestone policy needs a positive step, got %d", step)
		}
		s = Fixed{Step: step}
	default:
		return nil, fmt.Errorf("unknown milestone policy %q", name)
	}
	return Window{Stepper: s, Distance: distance, Ratio: ratio}, nil
}
