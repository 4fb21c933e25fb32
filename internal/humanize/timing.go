package humanize

import (
	"context"
	"time"
)

// HumanVariance returns a duration distributed around base with the given
// variance fraction. With probability outlierProb the result is instead an
// outlier of base × uniform(1.5, 3), modelling the occasional distraction.
func HumanVariance(base time.Duration, varianceFraction, outlierProb float64) time.Duration {
	if Bool(outlierProb) {
		return time.Duration(float64(base) * FloatIn(1.5, 3.0))
	}
	ms := GaussianPositive(float64(base), float64(base)*varianceFraction)
	return time.Duration(ms)
}

// TypingDelay returns the inter-keystroke delay for one character around
// baseMS milliseconds: Gaussian with 0.4 variance, a 5% chance of a
// 200–800ms thinking pause, and a 15% chance of a 1.2–1.8× slow key.
func TypingDelay(baseMS float64) time.Duration {
	d := GaussianPositive(baseMS, baseMS*0.4)
	if Bool(0.05) {
		d += FloatIn(200, 800)
	}
	if Bool(0.15) {
		d *= FloatIn(1.2, 1.8)
	}
	return time.Duration(d * float64(time.Millisecond))
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SleepBetween sleeps a uniform duration in [min, max].
func SleepBetween(ctx context.Context, min, max time.Duration) error {
	return Sleep(ctx, time.Duration(FloatIn(float64(min), float64(max))))
}
