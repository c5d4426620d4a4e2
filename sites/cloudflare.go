package sites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/speedgauge/browser"
	"github.com/use-agent/speedgauge/metrics"
	"github.com/use-agent/speedgauge/models"
)

// speed.cloudflare.com: an aggregate quality-score page. The start button
// must disappear before measurement is actually running, and results are
// announced by the "Video Streaming" quality section appearing.
const cloudflareTimeout = 90 * time.Second

var (
	cloudflareStartButton   = browser.XPath("//button[contains(., 'Start')]")
	cloudflareResultSection = browser.XPath("//div[contains(text(), 'Video Streaming')]")
)

func runCloudflare(ctx context.Context, env *Env) ([]models.MetricRecord, error) {
	p := env.Page

	if err := browser.Sleep(ctx, 5*time.Second); err != nil {
		return nil, err
	}

	// The test usually autostarts; a leftover start button is clicked if
	// it shows up, but its absence is not an error.
	if err := clickWhenVisible(ctx, p, cloudflareStartButton, 10*time.Second); err != nil {
		if !errors.Is(err, browser.ErrTimeout) && ctx.Err() != nil {
			return nil, err
		}
		slog.Warn("cloudflare: start button issue, continuing", "error", err)
	} else {
		slog.Info("cloudflare: start clicked")
		if err := browser.WaitFor(ctx, 10*time.Second, 0, func() bool {
			return !visible(p, cloudflareStartButton)
		}); err != nil && !errors.Is(err, browser.ErrTimeout) {
			return nil, err
		}
		slog.Info("cloudflare: test started")
	}

	slog.Debug("cloudflare: measuring, waiting for quality scores")
	if err := browser.WaitFor(ctx, cloudflareTimeout, 0, func() bool {
		return present(p, cloudflareResultSection)
	}); err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			return nil, err
		}
		env.Snap.Capture(p, "cloudflare_timeout")
		return nil, timeoutErr("cloudflare", "quality scores never appeared")
	}
	slog.Info("cloudflare: completed, quality scores appeared")
	if err := browser.Sleep(ctx, 3*time.Second); err != nil {
		return nil, err
	}

	download := cloudflareField(p, "Download", "Mbps")
	upload := cloudflareField(p, "Upload", "Mbps")
	latency := cloudflareField(p, "Latency", "ms")
	jitter := cloudflareField(p, "Jitter", `ms|μs|us`)

	slog.Debug("cloudflare: result",
		"download", download, "upload", upload, "latency", latency, "jitter", jitter)

	if download == "" {
		env.Snap.Capture(p, "cloudflare_error_parse")
		return nil, extractionErr("cloudflare", "failed to extract download speed", nil)
	}

	b := metrics.NewBuilder(env.Host, "cloudflare")
	b.Add("download", download)
	b.Add("upload", upload)
	b.Add("latency", latency)
	b.Add("jitter", jitter)
	return b.Records(), nil
}

// cloudflareField locates a result by its label, walks to the structural
// container holding the figure and regex-matches a <number><unit> pair.
// Microsecond jitter readouts come back converted to milliseconds.
func cloudflareField(p browser.Page, label, unitPattern string) string {
	text, err := p.Text(browser.XPath(fmt.Sprintf("//div[text()='%s']/..", label)))
	if err != nil {
		return ""
	}
	if !hasDigit(text) {
		// The figure sits one container further out on some layouts.
		if wider, err := p.Text(browser.XPath(fmt.Sprintf("//div[text()='%s']/../..", label))); err == nil {
			text = wider
		}
	}
	v, ok := metrics.Measure(metrics.AfterLabel(text, label), unitPattern)
	if !ok {
		return ""
	}
	return v
}
