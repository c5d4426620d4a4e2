// Package throttle decides, per invocation, whether a scheduled site run
// executes this cycle. The decision is an independent Bernoulli draw per
// site, not a rate limiter: there is no memory between invocations.
package throttle

import (
	"log/slog"
	"math/rand"
)

// Gate holds the per-site frequency table.
type Gate struct {
	freqs    map[string]int
	explicit bool
	intN     func(n int) int
}

// Option adjusts a Gate, test-only in practice.
type Option func(*Gate)

// WithIntN replaces the uniform draw source.
func WithIntN(fn func(n int) int) Option {
	return func(g *Gate) { g.intN = fn }
}

// New creates a gate. freqs maps site name to an integer percentage; sites
// absent from the map default to 100 (always run). explicit marks that the
// invocation named specific sites, which overrides throttling entirely.
func New(freqs map[string]int, explicit bool, opts ...Option) *Gate {
	g := &Gate{freqs: freqs, explicit: explicit, intN: rand.Intn}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ShouldRun reports whether the site executes this cycle.
// Frequency <= 0 never runs, >= 100 always runs; otherwise a uniform draw
// in [1,100] runs the site iff draw <= frequency.
func (g *Gate) ShouldRun(site string) bool {
	if g.explicit {
		return true
	}

	freq, ok := g.freqs[site]
	if !ok {
		freq = 100
	}

	if freq <= 0 {
		slog.Info("skipping site: disabled", "site", site, "frequency", freq)
		return false
	}
	if freq >= 100 {
		return true
	}

	draw := g.intN(100) + 1
	if draw <= freq {
		return true
	}
	slog.Info("skipping site: throttled", "site", site, "draw", draw, "frequency", freq)
	return false
}
