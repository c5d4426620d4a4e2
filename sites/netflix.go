package sites

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/use-agent/speedgauge/browser"
	"github.com/use-agent/speedgauge/metrics"
	"github.com/use-agent/speedgauge/models"
)

// fast.com: download starts on load, but upload and latency stay hidden
// behind the "more details" disclosure. Completion is a CSS state class on
// the progress indicator.
const netflixTimeout = 90 * time.Second

var (
	netflixMoreDetails = browser.CSS("#show-more-details-link")
	netflixSucceeded   = browser.CSS("#speed-progress-indicator.succeeded")

	netflixDownload        = browser.CSS("#speed-value")
	netflixUpload          = browser.CSS("#upload-value")
	netflixLatency         = browser.CSS("#latency-value")
	netflixServerLocations = browser.CSS("#server-locations")
)

func runNetflix(ctx context.Context, env *Env) ([]models.MetricRecord, error) {
	p := env.Page

	// Mandatory: without the disclosure the metric elements never render.
	if err := waitVisible(ctx, p, netflixMoreDetails, env.WaitTimeout); err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			return nil, err
		}
		env.Snap.Capture(p, "netflix_error_click")
		return nil, interactionErr("netflix", "more-details link not found", err)
	}
	if err := p.ClickJS(netflixMoreDetails); err != nil {
		env.Snap.Capture(p, "netflix_error_click")
		return nil, interactionErr("netflix", "failed to click more details", err)
	}
	slog.Info("netflix: more details clicked")

	if err := browser.WaitFor(ctx, netflixTimeout, 0, func() bool {
		return present(p, netflixSucceeded)
	}); err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			return nil, err
		}
		env.Snap.Capture(p, "netflix_timeout")
		return nil, timeoutErr("netflix", "succeeded class never appeared")
	}
	if err := browser.Sleep(ctx, time.Second); err != nil {
		return nil, err
	}
	slog.Info("netflix: completed, succeeded class detected")

	download, err := mandatoryText(p, netflixDownload, "netflix", "download")
	if err != nil {
		return nil, err
	}
	upload, err := mandatoryText(p, netflixUpload, "netflix", "upload")
	if err != nil {
		return nil, err
	}
	latency, err := mandatoryText(p, netflixLatency, "netflix", "latency")
	if err != nil {
		return nil, err
	}
	locations, err := mandatoryText(p, netflixServerLocations, "netflix", "server locations")
	if err != nil {
		return nil, err
	}

	slog.Debug("netflix: result",
		"download", download, "upload", upload, "latency", latency, "servers", locations)

	b := metrics.NewBuilder(env.Host, "netflix")
	b.Add("download", download)
	b.Add("upload", upload)
	b.Add("latency", latency)
	b.Add("server-locations", locations)
	return b.Records(), nil
}
