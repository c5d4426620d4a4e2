package browser

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrTimeout is returned by WaitFor when the predicate never became true
// within the budget. Callers branch on it: a measurement timeout is logged
// and snapshotted, not treated as a generic failure.
var ErrTimeout = errors.New("condition not met before timeout")

// DefaultPollInterval is the predicate re-check cadence.
const DefaultPollInterval = 500 * time.Millisecond

// Stabilization-wait defaults: 12 polling rounds, 5 seconds apart.
const (
	StabilityRounds   = 12
	StabilityInterval = 5 * time.Second
)

// WaitFor polls pred until it returns true, the timeout elapses
// (ErrTimeout) or ctx is cancelled. Every wait in the program goes through
// here or WaitStable, so no operation can block without a ceiling.
func WaitFor(ctx context.Context, timeout, interval time.Duration, pred func() bool) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := time.Now().Add(timeout)
	for {
		if pred() {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// WaitStable repeatedly reads the element's text until two consecutive
// reads are equal and non-empty, returning the stable value. Exhausting
// the rounds returns ("", false); callers log a warning and proceed, a
// non-stabilized readout is not a hard failure.
func WaitStable(ctx context.Context, p Page, loc Locator, rounds int, interval time.Duration) (string, bool) {
	last := ""
	for i := 0; i < rounds; i++ {
		cur, err := p.Text(loc)
		if err == nil {
			cur = strings.TrimSpace(cur)
			if cur != "" && cur == last {
				return cur, true
			}
			last = cur
		}
		if err := Sleep(ctx, interval); err != nil {
			return "", false
		}
	}
	return "", false
}

// Sleep pauses for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
