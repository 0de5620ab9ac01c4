package clock

import "time"

// Clock supplies the current time to services that stamp lifecycle timestamps.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
