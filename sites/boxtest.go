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

// box-test.com: a file-download timing test. The payload toggle cycles
// through sizes on each click, so reaching the 100 MB setting is a bounded
// loop; the latency readout is then given time to stabilize before the
// test is launched.
const (
	boxtestTimeout    = 90 * time.Second
	boxtestTargetSize = "100 MB"
	boxtestToggleMax  = 5
)

const boxtestRow = "//div[@id='pop-test-manager']//table/tbody/tr"

var (
	boxtestToggle = browser.XPath("//button[contains(., 'MB')]")
	boxtestGo     = browser.XPath("//button[contains(text(), 'Go!')]")

	// Average latency readout inside an SVG chart card.
	boxtestLatency = browser.XPath(
		"//div[contains(text(), 'Average latency to Box')]" +
			"/ancestor::div[contains(@class, 'card')]" +
			"//*[local-name()='tspan' and contains(., 'Avg:')]")

	// Upload speed is the last column to populate; it doubles as the
	// completion marker.
	boxtestUploadCell = browser.XPath(boxtestRow + "/td[5]")
	boxtestPOP        = browser.XPath(boxtestRow + "/td[1]/b")
)

// boxtestNumericFields maps result-table columns to metric fields, in
// emission order.
var boxtestNumericFields = []struct {
	Field string
	Loc   browser.Locator
}{
	{"DownloadSpeed", browser.XPath(boxtestRow + "/td[2]")},
	{"DownloadDuration", browser.XPath(boxtestRow + "/td[3]")},
	{"DownloadRTT", browser.XPath(boxtestRow + "/td[4]")},
	{"UploadSpeed", browser.XPath(boxtestRow + "/td[5]")},
	{"UploadDuration", browser.XPath(boxtestRow + "/td[6]")},
	{"UploadRTT", browser.XPath(boxtestRow + "/td[7]")},
	{"latency", boxtestLatency},
}

func runBoxtest(ctx context.Context, env *Env) ([]models.MetricRecord, error) {
	p := env.Page

	if err := browser.Sleep(ctx, time.Second); err != nil {
		return nil, err
	}

	for i := 0; i < boxtestToggleMax; i++ {
		if err := waitVisible(ctx, p, boxtestToggle, env.WaitTimeout); err != nil {
			if !errors.Is(err, browser.ErrTimeout) {
				return nil, err
			}
			slog.Warn("boxtest: size toggle not found")
			break
		}
		label := textOr(p, boxtestToggle)
		if strings.Contains(label, boxtestTargetSize) {
			slog.Info("boxtest: target size reached", "label", label)
			break
		}
		if err := p.Click(boxtestToggle); err != nil {
			slog.Warn("boxtest: error switching size", "error", err)
			break
		}
		if err := browser.Sleep(ctx, time.Second); err != nil {
			return nil, err
		}
	}

	slog.Info("boxtest: checking latency stability")
	if v, ok := browser.WaitStable(ctx, p, boxtestLatency,
		browser.StabilityRounds, browser.StabilityInterval); ok {
		slog.Info("boxtest: latency stable", "value", v)
	} else {
		slog.Warn("boxtest: latency did not stabilize")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if err := p.Click(boxtestGo); err != nil {
		env.Snap.Capture(p, "boxtest_error_start")
		return nil, interactionErr("boxtest", "start button error", err)
	}
	slog.Info("boxtest: started")

	if err := browser.WaitFor(ctx, boxtestTimeout, 0, func() bool {
		t := textOr(p, boxtestUploadCell)
		return t != "" && hasDigit(t)
	}); err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			return nil, err
		}
		env.Snap.Capture(p, "boxtest_timeout")
		return nil, timeoutErr("boxtest", "result row never populated")
	}
	slog.Info("boxtest: completed")

	b := metrics.NewBuilder(env.Host, "boxtest")

	// POP is a location code, kept verbatim.
	if v := textOr(p, boxtestPOP); v != "" {
		b.Add("POP", v)
	} else {
		slog.Warn("boxtest: element not found", "field", "POP")
	}

	for _, f := range boxtestNumericFields {
		raw, err := p.Text(f.Loc)
		if err != nil {
			slog.Warn("boxtest: element not found", "field", f.Field)
			continue
		}
		b.Add(f.Field, metrics.FirstToken(metrics.StripUnits(raw, "Avg:", "ms")))
	}

	slog.Debug("boxtest: result", "metrics", b.Len())
	return b.Records(), nil
}
