package backoff_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/hookdeck/mqbridge/internal/backoff"
	"github.com/stretchr/testify/assert"
)

// schedule maps retries to the expected wait.
type schedule map[int]time.Duration

func assertSchedule(t *testing.T, bo backoff.Backoff, want schedule) {
	t.Helper()
	for retries, d := range want {
		assert.Equal(t, d, bo.Duration(retries), "Duration(%d)", retries)
	}
}

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base int
		want schedule
	}{
		{base: 2, want: schedule{0: 500 * time.Millisecond, 1: time.Second, 4: 8 * time.Second, 10: 512 * time.Second}},
		{base: 3, want: schedule{0: 500 * time.Millisecond, 1: 1500 * time.Millisecond, 3: 13500 * time.Millisecond}},
		{base: 1, want: schedule{0: 500 * time.Millisecond, 7: 500 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("base %d", tt.base), func(t *testing.T) {
			assertSchedule(t, &backoff.ExponentialBackoff{Interval: 500 * time.Millisecond, Base: tt.base}, tt.want)
		})
	}

	t.Run("negative retries start over", func(t *testing.T) {
		bo := &backoff.ExponentialBackoff{Interval: time.Second, Base: 2}
		assert.Equal(t, time.Second, bo.Duration(-3))
	})
}

func TestConstantBackoff(t *testing.T) {
	t.Parallel()

	assertSchedule(t, &backoff.ConstantBackoff{Interval: 250 * time.Millisecond}, schedule{
		0: 250 * time.Millisecond, 1: 250 * time.Millisecond, 50: 250 * time.Millisecond,
	})
}

func TestScheduledBackoff(t *testing.T) {
	t.Parallel()

	t.Run("holds the last step", func(t *testing.T) {
		bo := &backoff.ScheduledBackoff{Schedule: []time.Duration{
			100 * time.Millisecond, time.Second, 5 * time.Second,
		}}
		assertSchedule(t, bo, schedule{
			-1: 100 * time.Millisecond,
			0:  100 * time.Millisecond,
			1:  time.Second,
			2:  5 * time.Second,
			9:  5 * time.Second,
		})
	})

	t.Run("empty", func(t *testing.T) {
		assertSchedule(t, &backoff.ScheduledBackoff{}, schedule{0: 0, 3: 0})
	})
}

func TestCappedBackoff(t *testing.T) {
	t.Parallel()

	t.Run("restart schedule", func(t *testing.T) {
		bo := &backoff.CappedBackoff{
			Backoff: &backoff.ExponentialBackoff{Interval: time.Second, Base: 2},
			Max:     30 * time.Second,
		}
		assertSchedule(t, bo, schedule{
			0:  time.Second,
			4:  16 * time.Second,
			5:  30 * time.Second,
			60: 30 * time.Second,
		})
	})

	t.Run("redial schedule", func(t *testing.T) {
		interval := 200 * time.Millisecond
		bo := &backoff.CappedBackoff{
			Backoff: &backoff.ExponentialBackoff{Interval: interval, Base: 2},
			Max:     10 * interval,
		}
		assertSchedule(t, bo, schedule{0: interval, 3: 8 * interval, 4: 10 * interval})
	})

	t.Run("overflow is capped", func(t *testing.T) {
		bo := &backoff.CappedBackoff{
			Backoff: &backoff.ExponentialBackoff{Interval: time.Hour, Base: 10},
			Max:     time.Minute,
		}
		assert.Equal(t, time.Minute, bo.Duration(40))
	})

	t.Run("zero max leaves the schedule alone", func(t *testing.T) {
		bo := &backoff.CappedBackoff{Backoff: &backoff.ConstantBackoff{Interval: time.Hour}}
		assert.Equal(t, time.Hour, bo.Duration(3))
	})
}
