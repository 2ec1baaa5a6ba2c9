package core

import "time"

// Clock is the time source for delayed tasks. It must be monotonic.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now, which carries a monotonic reading.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// LazyNow reads the clock at most once.
type LazyNow struct {
	clock Clock
	now   time.Time
	read  bool
}

func NewLazyNow(clock Clock) *LazyNow {
	return &LazyNow{clock: clock}
}

// Now returns the cached time, reading the clock on first use.
func (l *LazyNow) Now() time.Time {
	if !l.read {
		l.now = l.clock.Now()
		l.read = true
	}
	return l.now
}
