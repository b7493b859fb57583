// Package clock provides the injectable time source consumed by pacing and
// window arithmetic elsewhere in the module (§4.7).
package clock

import "time"

// Real is the production domain.Clock: a thin wrapper over time.Now that lets
// tests substitute a Fixed or Sequence clock without touching call sites.
type Real struct{}

// Now returns the current wall-clock time in UTC.
func (Real) Now() time.Time { return time.Now().UTC() }

// Fixed is a domain.Clock that always returns the same instant, for tests
// that need deterministic window/pacing arithmetic.
type Fixed struct{ At time.Time }

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return f.At }

// Sequence returns successive instants from a fixed slice, repeating the
// last one once exhausted. Useful for tests asserting a sequence of
// operations each see an advancing clock.
type Sequence struct {
	instants []time.Time
	i        int
}

// NewSequence builds a Sequence clock over the given instants.
func NewSequence(instants ...time.Time) *Sequence {
	return &Sequence{instants: instants}
}

// Now returns the next instant in the sequence, or the last one if exhausted.
func (s *Sequence) Now() time.Time {
	if len(s.instants) == 0 {
		return time.Time{}
	}
	if s.i >= len(s.instants) {
		return s.instants[len(s.instants)-1]
	}
	t := s.instants[s.i]
	s.i++
	return t
}
