package driver

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is the time source of the control cycle. clock.Clock satisfies it.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

func defaultClock() Clock {
	return clock.New()
}
