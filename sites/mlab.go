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

// speed.measurementlab.net: academic NDT test. A human-consent checkbox
// may precede the start control; completion is the "Test Again" control
// appearing. Results sit at fixed table coordinates and the retransmission
// figure carries a % suffix.
const mlabTimeout = 90 * time.Second

const mlabTable = `//*[@id="measurementSpace"]//table/tbody`

var (
	mlabConsent = browser.CSS("#demo-human")
	mlabStart   = browser.CSS("a.startButton")
	mlabAgain   = browser.XPath("//span[contains(text(), 'Again')]")

	mlabDownload = browser.XPath(mlabTable + "/tr[3]/td[3]/strong")
	mlabUpload   = browser.XPath(mlabTable + "/tr[4]/td[3]/strong")
	mlabLatency  = browser.XPath(mlabTable + "/tr[5]/td[3]/strong")
	mlabRetrans  = browser.XPath(mlabTable + "/tr[6]/td[3]/strong")
)

func runMlab(ctx context.Context, env *Env) ([]models.MetricRecord, error) {
	p := env.Page

	// Consent checkbox, optional.
	if err := browser.WaitFor(ctx, env.WaitTimeout, 0, func() bool {
		return present(p, mlabConsent)
	}); err == nil {
		if err := p.ClickJS(mlabConsent); err != nil {
			slog.Warn("mlab: consent click failed", "error", err)
		} else {
			slog.Info("mlab: consent checked")
		}
	} else if !errors.Is(err, browser.ErrTimeout) {
		return nil, err
	}

	if err := clickWhenVisible(ctx, p, mlabStart, env.WaitTimeout); err != nil {
		if !errors.Is(err, browser.ErrTimeout) && ctx.Err() != nil {
			return nil, err
		}
		env.Snap.Capture(p, "mlab_error_start")
		return nil, interactionErr("mlab", "start button issue", err)
	}
	slog.Info("mlab: started, waiting for finish")

	if err := browser.WaitFor(ctx, mlabTimeout, 0, func() bool {
		return visible(p, mlabAgain)
	}); err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			return nil, err
		}
		env.Snap.Capture(p, "mlab_timeout")
		return nil, timeoutErr("mlab", "repeat-test control never appeared")
	}
	slog.Info("mlab: completed")

	rawDL, err := mandatoryText(p, mlabDownload, "mlab", "download")
	if err != nil {
		return nil, err
	}
	rawUL, err := mandatoryText(p, mlabUpload, "mlab", "upload")
	if err != nil {
		return nil, err
	}
	rawLat, err := mandatoryText(p, mlabLatency, "mlab", "latency")
	if err != nil {
		return nil, err
	}
	rawRetr, err := mandatoryText(p, mlabRetrans, "mlab", "retransmission")
	if err != nil {
		return nil, err
	}

	download := metrics.FirstToken(rawDL)
	upload := metrics.FirstToken(rawUL)
	latency := metrics.FirstToken(rawLat)
	retrans := metrics.StripPercent(rawRetr)
	if retrans == "" {
		return nil, extractionErr("mlab", "retransmission value unparsable", nil)
	}

	slog.Debug("mlab: result",
		"download", download, "upload", upload, "latency", latency, "retrans", retrans)

	b := metrics.NewBuilder(env.Host, "mlab")
	b.Add("download", download)
	b.Add("upload", upload)
	b.Add("latency", latency)
	b.Add("retrans", retrans)
	return b.Records(), nil
}
