package kernel

import "time"

// Clock abstracts the host time source the scheduler and alarm subsystem
// read ticks from. Grounded on go-catrate/limiter.go's timeNow package-var
// pattern: tests substitute a fake Clock to make alarm firing and
// accounting deterministic instead of sleeping in wall-clock time.
type Clock interface {
	// NowNanos returns a host-time reading in nanoseconds.
	NowNanos() int64
}

// realClock is the production Clock, backed by time.Now's wall-clock
// reading in nanoseconds since the Unix epoch (UnixNano carries no
// monotonic component).
type realClock struct{}

func (realClock) NowNanos() int64 { return time.Now().UnixNano() }

// FakeClock is a manually-advanced Clock for deterministic tests of alarm
// timing and scheduler accounting.
type FakeClock struct {
	now int64
}

// NewFakeClock returns a FakeClock starting at startNanos.
func NewFakeClock(startNanos int64) *FakeClock {
	return &FakeClock{now: startNanos}
}

func (c *FakeClock) NowNanos() int64 { return c.now }

// Advance moves the fake clock forward by d, returning the new reading.
func (c *FakeClock) Advance(d time.Duration) int64 {
	c.now += int64(d)
	return c.now
}

// Set pins the fake clock to an absolute reading.
func (c *FakeClock) Set(nanos int64) { c.now = nanos }
