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

// speed.googlefiber.net: legacy page served over plain HTTP only. A
// confirmation popup may interpose after start; completion has no marker
// element, so the predicate requires both speed readouts to be numeric.
const googleTimeout = 60 * time.Second

var (
	googleStart   = browser.CSS("#run-test")
	googlePopupOK = browser.CSS(".actionButton-confirmSpeedtest")

	googleDownload = browser.CSS("span[name='downloadSpeedMbps']")
	googleUpload   = browser.CSS("span[name='uploadSpeedMbps']")
	googlePing     = browser.CSS("span[name='ping']")
)

func runGoogle(ctx context.Context, env *Env) ([]models.MetricRecord, error) {
	p := env.Page

	if err := browser.Sleep(ctx, 3*time.Second); err != nil {
		return nil, err
	}

	if err := clickWhenVisible(ctx, p, googleStart, env.WaitTimeout); err != nil {
		if !errors.Is(err, browser.ErrTimeout) && ctx.Err() != nil {
			return nil, err
		}
		env.Snap.Capture(p, "google_error_start")
		return nil, interactionErr("google", "start button not found", err)
	}
	slog.Info("google: start clicked")

	// Pre-test confirmation popup; absent on repeat visits.
	if err := clickWhenVisible(ctx, p, googlePopupOK, 5*time.Second); err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			if ctx.Err() != nil {
				return nil, err
			}
			slog.Warn("google: popup handling warning", "error", err)
		}
	} else {
		slog.Info("google: popup continue clicked")
	}

	slog.Info("google: measuring")
	if err := browser.WaitFor(ctx, googleTimeout, 0, func() bool {
		dl := textOr(p, googleDownload)
		ul := textOr(p, googleUpload)
		return dl != "" && ul != "" && hasDigit(dl) && hasDigit(ul)
	}); err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			return nil, err
		}
		env.Snap.Capture(p, "google_timeout")
		return nil, timeoutErr("google", "speed readouts never became numeric")
	}
	if err := browser.Sleep(ctx, 3*time.Second); err != nil {
		return nil, err
	}
	slog.Info("google: completed")

	download, err := mandatoryText(p, googleDownload, "google", "download")
	if err != nil {
		return nil, err
	}
	upload, err := mandatoryText(p, googleUpload, "google", "upload")
	if err != nil {
		return nil, err
	}
	ping, err := mandatoryText(p, googlePing, "google", "ping")
	if err != nil {
		return nil, err
	}

	slog.Debug("google: result", "download", download, "upload", upload, "ping", ping)

	b := metrics.NewBuilder(env.Host, "google")
	b.Add("download", download)
	b.Add("upload", upload)
	b.Add("ping", ping)
	return b.Records(), nil
}
