package humanize

import (
	"math"
	"time"
)

// Point is a screen coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PathOptions tunes mouse path generation.
type PathOptions struct {
	Steps           int     // number of points; 0 picks from distance
	OvershootProb   float64 // chance of overshoot-and-correct on long moves
	TremorIntensity float64 // px jitter applied per point
	BaseDuration    time.Duration
}

// PathSegment is one step of a mouse movement with its dwell before the
// next step.
type PathSegment struct {
	Point    Point
	Duration time.Duration
}

// MousePath generates a cubic-Bézier path from start to end with randomized
// control points, ease-in-out pacing, per-point jitter, optional
// overshoot-and-correction on movements over 50px, and a 5% chance of a
// micro-pause mid-movement.
func MousePath(start, end Point, opts PathOptions) []PathSegment {
	if opts.OvershootProb == 0 {
		opts.OvershootProb = 0.3
	}
	if opts.TremorIntensity == 0 {
		opts.TremorIntensity = 1.0
	}
	if opts.BaseDuration == 0 {
		opts.BaseDuration = 300 * time.Millisecond
	}

	dist := math.Hypot(end.X-start.X, end.Y-start.Y)
	steps := opts.Steps
	if steps == 0 {
		steps = IntIn(12, 24)
		if dist > 500 {
			steps = IntIn(20, 35)
		}
	}

	target := end
	overshoot := dist > 50 && Bool(opts.OvershootProb)
	if overshoot {
		// Shoot a little past the target, corrected with a short tail.
		angle := math.Atan2(end.Y-start.Y, end.X-start.X)
		over := FloatIn(5, 25)
		target = Point{X: end.X + math.Cos(angle)*over, Y: end.Y + math.Sin(angle)*over}
	}

	segs := bezierSegments(start, target, steps, opts)

	if overshoot {
		correction := bezierSegments(target, end, IntIn(4, 8), PathOptions{
			TremorIntensity: opts.TremorIntensity * 0.5,
			BaseDuration:    opts.BaseDuration / 4,
			OvershootProb:   -1, // already resolved
		})
		segs = append(segs, correction...)
	}

	if Bool(0.05) && len(segs) > 4 {
		mid := len(segs) / 2
		segs[mid].Duration += time.Duration(FloatIn(80, 250)) * time.Millisecond
	}

	return segs
}

func bezierSegments(start, end Point, steps int, opts PathOptions) []PathSegment {
	// Control points perpendicular-ish to the straight line give the arc a
	// natural curvature that differs per movement.
	c1 := Point{
		X: start.X + (end.X-start.X)*FloatIn(0.2, 0.4) + FloatIn(-60, 60),
		Y: start.Y + (end.Y-start.Y)*FloatIn(0.2, 0.4) + FloatIn(-60, 60),
	}
	c2 := Point{
		X: start.X + (end.X-start.X)*FloatIn(0.6, 0.8) + FloatIn(-60, 60),
		Y: start.Y + (end.Y-start.Y)*FloatIn(0.6, 0.8) + FloatIn(-60, 60),
	}

	total := float64(opts.BaseDuration)
	segs := make([]PathSegment, 0, steps)
	for i := 1; i <= steps; i++ {
		t := easeInOut(float64(i) / float64(steps))
		p := cubicBezier(start, c1, c2, end, t)
		p.X += Gaussian(0, opts.TremorIntensity)
		p.Y += Gaussian(0, opts.TremorIntensity)
		if i == steps {
			p = end // land exactly on the target
		}
		d := total / float64(steps) * FloatIn(0.6, 1.4)
		segs = append(segs, PathSegment{Point: p, Duration: time.Duration(d)})
	}
	return segs
}

func cubicBezier(p0, p1, p2, p3 Point, t float64) Point {
	u := 1 - t
	return Point{
		X: u*u*u*p0.X + 3*u*u*t*p1.X + 3*u*t*t*p2.X + t*t*t*p3.X,
		Y: u*u*u*p0.Y + 3*u*u*t*p1.Y + 3*u*t*t*p2.Y + t*t*t*p3.Y,
	}
}

func easeInOut(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - math.Pow(-2*t+2, 2)/2
}

// ScrollStep is one wheel tick of a scroll gesture.
type ScrollStep struct {
	Delta float64
	Pause time.Duration
}

// ScrollPath splits a scroll delta into front-loaded inertia segments:
// large steps first, decaying toward the end, each with a short pause.
func ScrollPath(delta float64) []ScrollStep {
	n := IntIn(4, 9)
	steps := make([]ScrollStep, 0, n)
	remaining := delta
	for i := 0; i < n; i++ {
		// Decay factor front-loads the early steps.
		share := FloatIn(0.35, 0.55) * math.Pow(0.7, float64(i))
		step := delta * share
		if i == n-1 || math.Abs(step) > math.Abs(remaining) {
			step = remaining
		}
		remaining -= step
		steps = append(steps, ScrollStep{
			Delta: step,
			Pause: time.Duration(FloatIn(15, 60)) * time.Millisecond,
		})
		if remaining == 0 {
			break
		}
	}
	if remaining != 0 {
		steps = append(steps, ScrollStep{Delta: remaining, Pause: time.Duration(FloatIn(15, 60)) * time.Millisecond})
	}
	return steps
}
