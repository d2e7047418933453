// Package tai provides the service's time standard: International Atomic Time.
package tai

import (
	"sync"
	"time"
)

// LeapSeconds is TAI-UTC since 2017-01-01. No leap second has been announced since.
const LeapSeconds = 37 * time.Second

// Layout is the ISO-8601 form used for TAI timestamps on the wire. TAI has no
// timezone, so the designator is omitted.
const Layout = "2006-01-02T15:04:05.999999"

var parseLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock and converts it to TAI.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return FromUTC(time.Now())
}

// FromUTC converts a UTC instant to TAI, truncated to the microsecond precision
// of a postgres timestamp column.
func FromUTC(t time.Time) time.Time {
	return t.UTC().Add(LeapSeconds).Truncate(time.Microsecond)
}

// Format renders a TAI timestamp in Layout.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Parse accepts a TAI timestamp with no timezone information.
func Parse(s string) (time.Time, error) {
	var err error
	for _, layout := range parseLayouts {
		var t time.Time
		t, err = time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// StepClock returns Start on the first call and advances by Step on every call
// after that. It is safe for concurrent use.
type StepClock struct {
	Start time.Time
	Step  time.Duration

	mu    sync.Mutex
	calls int
}

func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.Start.Add(time.Duration(c.calls) * c.Step)
	c.calls++
	return t
}
