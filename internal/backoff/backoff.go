package backoff

import (
	"math"
	"time"
)

// Backoff computes how long to wait before the next attempt. retries is the
// number of attempts already made, starting at 0.
type Backoff interface {
	Duration(retries int) time.Duration
}

type ExponentialBackoff struct {
	Interval time.Duration
	Base     int
}

var _ Backoff = &ExponentialBackoff{}

func (b *ExponentialBackoff) Duration(retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	return time.Duration(float64(b.Interval) * math.Pow(float64(b.Base), float64(retries)))
}

type ConstantBackoff struct {
	Interval time.Duration
}

var _ Backoff = &ConstantBackoff{}

func (b *ConstantBackoff) Duration(retries int) time.Duration {
	return b.Interval
}

// ScheduledBackoff walks a fixed schedule and keeps returning the last entry
// once the schedule is exhausted.
type ScheduledBackoff struct {
	Schedule []time.Duration
}

var _ Backoff = &ScheduledBackoff{}

func (b *ScheduledBackoff) Duration(retries int) time.Duration {
	if len(b.Schedule) == 0 {
		return 0
	}
	if retries < 0 {
		retries = 0
	}
	if retries >= len(b.Schedule) {
		return b.Schedule[len(b.Schedule)-1]
	}
	return b.Schedule[retries]
}

// CappedBackoff bounds another Backoff by Max.
type CappedBackoff struct {
	Backoff Backoff
	Max     time.Duration
}

var _ Backoff = &CappedBackoff{}

func (b *CappedBackoff) Duration(retries int) time.Duration {
	d := b.Backoff.Duration(retries)
	if b.Max > 0 && (d > b.Max || d < 0) {
		return b.Max
	}
	return d
}
