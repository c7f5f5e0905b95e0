package servo

import "time"

// Clock is a free-running millisecond counter. It is allowed to wrap around
// after 2^32 ms; servos only ever look at signed differences between readings.
type Clock interface {
	Millis() uint32
}

// SystemClock counts milliseconds since it was created.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Millis() uint32 {
	return uint32(time.Since(c.start) / time.Millisecond)
}

// since returns now-then as a signed value, which stays correct across a
// single wraparound of the counter.
func since(now, then uint32) int32 {
	return int32(now - then)
}
