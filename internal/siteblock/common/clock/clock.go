package clock

import "time"

// Clock abstracts wall-clock reads so countdowns can be driven in tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (c RealClock) Now() time.Time {
	return time.Now()
}

// MockClock is a manually advanced Clock. The zero value reports the zero time.
type MockClock struct {
	CurrentTime time.Time
}

func (c *MockClock) Now() time.Time {
	return c.CurrentTime
}

func (c *MockClock) Advance(d time.Duration) {
	c.CurrentTime = c.CurrentTime.Add(d)
}

// Set moves the clock to t.
func (c *MockClock) Set(t time.Time) {
	c.CurrentTime = t
}
