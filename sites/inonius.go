package sites

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/use-agent/speedgauge/browser"
	"github.com/use-agent/speedgauge/metrics"
	"github.com/use-agent/speedgauge/models"
)

// inonius.net: dual-stack IPv4/IPv6 test. Completion is an exact phrase in
// a status span. Either address family may be absent on the measured line,
// so missing per-family fields are skipped rather than failing the run and
// partial field sets are emitted as-is.
const (
	inoniusTimeout    = 90 * time.Second
	inoniusDonePhrase = "Test completed!"
)

var (
	inoniusStart  = browser.XPath("/html/body/div/astro-island/dialog/div/div/form/button[2]")
	inoniusStatus = browser.XPath("/html/body/div/astro-island/div/div[3]/div/span")
)

// inoniusFields maps metric fields to their absolute locators, in emission
// order. The MSS fields are sentence-form readouts whose value is the last
// word.
var inoniusFields = []struct {
	Field string
	Loc   browser.Locator
}{
	{"IPv6_RTT", browser.XPath("/html/body/div/astro-island/div/div[2]/div/div[1]/div[2]/div[1]/div/span[1]")},
	{"IPv6_JIT", browser.XPath("/html/body/div/astro-island/div/div[2]/div/div[1]/div[2]/div[2]/div/span[1]")},
	{"IPv6_DL", browser.XPath("/html/body/div/astro-island/div/div[2]/div/div[1]/div[1]/div[1]/div/div/span[1]")},
	{"IPv6_UL", browser.XPath("/html/body/div/astro-island/div/div[2]/div/div[1]/div[1]/div[2]/div/div/span[1]")},
	{"IPv6_MSS", browser.XPath("/html/body/div/astro-island/div/div[2]/div/div[2]/p")},
	{"IPv4_RTT", browser.XPath("/html/body/div/astro-island/div/div[1]/div/div[1]/div[2]/div[1]/div/span[1]")},
	{"IPv4_JIT", browser.XPath("/html/body/div/astro-island/div/div[1]/div/div[1]/div[2]/div[2]/div/span[1]")},
	{"IPv4_DL", browser.XPath("/html/body/div/astro-island/div/div[1]/div/div[1]/div[1]/div[1]/div/div/span[1]")},
	{"IPv4_UL", browser.XPath("/html/body/div/astro-island/div/div[1]/div/div[1]/div[1]/div[2]/div/div/span[1]")},
	{"IPv4_MSS", browser.XPath("/html/body/div/astro-island/div/div[1]/div/div[2]/p[1]")},
}

func runInonius(ctx context.Context, env *Env) ([]models.MetricRecord, error) {
	p := env.Page

	if err := clickWhenVisible(ctx, p, inoniusStart, env.WaitTimeout); err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			return nil, err
		}
		env.Snap.Capture(p, "inonius_error_start")
		return nil, interactionErr("inonius", "start button not found", err)
	}
	slog.Info("inonius: started")

	if err := browser.WaitFor(ctx, inoniusTimeout, 0, func() bool {
		return strings.Contains(textOr(p, inoniusStatus), inoniusDonePhrase)
	}); err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			return nil, err
		}
		env.Snap.Capture(p, "inonius_timeout")
		return nil, timeoutErr("inonius", "completion phrase never appeared")
	}
	slog.Info("inonius: completed")

	b := metrics.NewBuilder(env.Host, "inonius")
	for _, f := range inoniusFields {
		raw, err := p.Text(f.Loc)
		if err != nil {
			// No IPv6 (or IPv4) on this line; emit what the family has.
			slog.Debug("inonius: element not found", "field", f.Field)
			continue
		}
		val := raw
		if strings.HasSuffix(f.Field, "_MSS") {
			val = metrics.LastToken(raw)
		}
		b.Add(f.Field, val)
	}

	slog.Debug("inonius: result", "metrics", b.Len())
	return b.Records(), nil
}
