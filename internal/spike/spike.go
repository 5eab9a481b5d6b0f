// Package spike holds the spike event type and the time-ordered queue of
// spikes waiting to be transmitted.
package spike

// Spike delivers Value (a real charge in [-1, 1]) to node ID at cycle Time.
type Spike struct {
	ID    int
	Time  int
	Value float64
}

// Before orders spikes by delivery time only.
func (s Spike) Before(o Spike) bool { return s.Time < o.Time }

// At returns a copy of s scheduled at time t.
func (s Spike) At(t int) Spike {
	s.Time = t
	return s
}
