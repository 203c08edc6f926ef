package dispatch

import (
	"context"
	"time"

	"k8s.io/utils/clock"
)

// NegligibleDelay is the longest pacing delay that is skipped instead of slept.
const NegligibleDelay = 100 * time.Millisecond

// DefaultRatePeriod is the rolling window a target rate applies to.
const DefaultRatePeriod = time.Minute

// Period is the production tally of one completed rate period.
type Period struct {
	Start    time.Time
	Produced float64
}

// RateController paces production so that each rolling period produces
// about target units. It is owned by the producer goroutine and is not safe
// for concurrent use.
type RateController struct {
	target   float64
	period   time.Duration
	clock    clock.Clock
	start    time.Time
	produced float64

	onRollover func(Period)
}

// NewRateController creates a controller whose first period starts now. A
// target of zero or less disables pacing; periods still roll over and are
// reported to onRollover, which may be nil.
func NewRateController(target float64, period time.Duration, clk clock.Clock, onRollover func(Period)) *RateController {
	if period <= 0 {
		period = DefaultRatePeriod
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &RateController{
		target:     target,
		period:     period,
		clock:      clk,
		start:      clk.Now(),
		onRollover: onRollover,
	}
}

// Add records n units produced in the current period.
func (r *RateController) Add(n float64) {
	r.produced += n
}

// PeriodStart returns the start of the current period.
func (r *RateController) PeriodStart() time.Time {
	return r.start
}

// Lag returns expected minus produced units at now. Negative means ahead of
// the target.
func (r *RateController) Lag(now time.Time) float64 {
	if r.target <= 0 {
		return 0
	}
	return r.expected(now) - r.produced
}

func (r *RateController) expected(now time.Time) float64 {
	elapsed := now.Sub(r.start)
	return float64(elapsed) * r.target / float64(r.period)
}

// rollover closes every period that ended at or before now. Each period
// start advances by exactly one period.
func (r *RateController) rollover(now time.Time) {
	for !now.Before(r.start.Add(r.period)) {
		if r.onRollover != nil {
			r.onRollover(Period{Start: r.start, Produced: r.produced})
		}
		r.start = r.start.Add(r.period)
		r.produced = 0
	}
}

// Delay rolls over finished periods and returns how long to wait before
// producing more at now. Behind the target, or within NegligibleDelay of it,
// the delay is zero.
func (r *RateController) Delay(now time.Time) time.Duration {
	r.rollover(now)
	if r.target <= 0 {
		return 0
	}
	if r.produced < r.expected(now) {
		return 0
	}

	due := time.Duration(r.produced * float64(r.period) / r.target)
	delay := due - now.Sub(r.start)
	if delay <= NegligibleDelay {
		return 0
	}
	return delay
}

// Wait sleeps until Delay reports zero, returning early with the context
// error when ctx is done. Periods that end while sleeping are rolled over
// before Wait returns.
func (r *RateController) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delay := r.Delay(r.clock.Now())
		if delay == 0 {
			return nil
		}
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (r *RateController) sleep(ctx context.Context, d time.Duration) error {
	timer := r.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
