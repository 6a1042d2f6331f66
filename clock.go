package rigid

import (
	"time"
)

// Clock tracks wall time between two ticks of Run.
type Clock struct {
	Time time.Time
	Dt   time.Duration
}

func NewClock(now time.Time) Clock {
	return Clock{Time: now}
}

func (c *Clock) Advance(now time.Time) {
	c.Dt = now.Sub(c.Time)
	c.Time = now
}
