// Package humanize provides cryptographically seeded randomness and
// human-shaped timing and motion generators. Ordinary PRNG output is a
// detection vector in itself, so every primitive here draws from the OS
// entropy source.
package humanize

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"math"
	"strings"
)

// Float64 returns a uniform float in [0, 1) from the crypto source.
func Float64() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// The OS entropy source failing is unrecoverable for this process.
		panic("humanize: entropy source unavailable: " + err.Error())
	}
	// 53 random bits, the same precision as math/rand.Float64.
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}

// IntIn returns a uniform int in [min, max] inclusive.
func IntIn(min, max int) int {
	if max <= min {
		return min
	}
	return min + int(Float64()*float64(max-min+1))
}

// FloatIn returns a uniform float in [min, max).
func FloatIn(min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + Float64()*(max-min)
}

// Bool returns true with probability p.
func Bool(p float64) bool {
	return Float64() < p
}

// Pick returns a uniformly chosen element of items.
func Pick[T any](items []T) T {
	return items[IntIn(0, len(items)-1)]
}

// Shuffle permutes items in place (Fisher–Yates).
func Shuffle[T any](items []T) {
	for i := len(items) - 1; i > 0; i-- {
		j := IntIn(0, i)
		items[i], items[j] = items[j], items[i]
	}
}

// Token returns a short opaque identifier with at least 64 bits of entropy,
// base32-encoded without padding.
func Token() string {
	var b [10]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("humanize: entropy source unavailable: " + err.Error())
	}
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b[:]))
}

// Gaussian returns a normally distributed value via Box–Muller.
func Gaussian(mean, stddev float64) float64 {
	u1 := Float64()
	for u1 == 0 {
		u1 = Float64()
	}
	u2 := Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mean + z*stddev
}

// GaussianPositive is Gaussian clamped to a small positive floor.
func GaussianPositive(mean, stddev float64) float64 {
	v := Gaussian(mean, stddev)
	if v < mean*0.1 {
		v = mean * 0.1
	}
	if v <= 0 {
		v = math.Abs(v) + 1
	}
	return v
}

// WeightedPick chooses an index according to the given weights.
func WeightedPick(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	r := Float64() * total
	for i, w := range weights {
		r -= w
		if r <= 0 {
			return i
		}
	}
	return len(weights) - 1
}
