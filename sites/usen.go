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

// speedtest.gate02.ne.jp: USEN's ISP-branded test. Progress is signalled
// by a "speedtest_wait" class on <body>, so completion is a two-phase
// wait: the class must appear (arming) and then disappear (done).
const (
	usenArmTimeout = 10 * time.Second
	usenTimeout    = 120 * time.Second
	usenWaitClass  = "speedtest_wait"
)

var (
	usenStart = browser.CSS(".speedtest_start .btn-start")
	usenBody  = browser.CSS("body")

	usenDownload = browser.CSS("#dlText")
	usenUpload   = browser.CSS("#ulText")
	usenPing     = browser.CSS("#pingText")
	usenJitter   = browser.CSS("#jitText")
)

func runUsen(ctx context.Context, env *Env) ([]models.MetricRecord, error) {
	p := env.Page

	if err := clickWhenVisible(ctx, p, usenStart, env.WaitTimeout); err != nil {
		if !errors.Is(err, browser.ErrTimeout) && ctx.Err() != nil {
			return nil, err
		}
		env.Snap.Capture(p, "usen_error_start")
		return nil, interactionErr("usen", "start button not found", err)
	}
	slog.Info("usen: started")

	inProgress := func() bool {
		cls, _ := p.Attribute(usenBody, "class")
		return strings.Contains(cls, usenWaitClass)
	}

	// Phase 1: the in-progress marker appears.
	if err := browser.WaitFor(ctx, usenArmTimeout, 0, inProgress); err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			return nil, err
		}
		slog.Warn("usen: wait class never appeared, proceeding anyway")
	} else {
		slog.Info("usen: measuring, wait class detected")
	}

	// Phase 2: the marker is removed when the test completes.
	slog.Info("usen: waiting for results")
	if err := browser.WaitFor(ctx, usenTimeout, 0, func() bool {
		return !inProgress()
	}); err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			return nil, err
		}
		env.Snap.Capture(p, "usen_timeout")
		return nil, timeoutErr("usen", "wait class never cleared")
	}
	if err := browser.Sleep(ctx, 2*time.Second); err != nil {
		return nil, err
	}
	slog.Info("usen: completed, wait class removed")

	download, err := mandatoryText(p, usenDownload, "usen", "download")
	if err != nil {
		return nil, err
	}
	upload, err := mandatoryText(p, usenUpload, "usen", "upload")
	if err != nil {
		return nil, err
	}
	ping, err := mandatoryText(p, usenPing, "usen", "ping")
	if err != nil {
		return nil, err
	}
	jitter, err := mandatoryText(p, usenJitter, "usen", "jitter")
	if err != nil {
		return nil, err
	}

	slog.Debug("usen: result",
		"download", download, "upload", upload, "ping", ping, "jitter", jitter)

	b := metrics.NewBuilder(env.Host, "usen")
	b.Add("download", download)
	b.Add("upload", upload)
	b.Add("ping", ping)
	b.Add("jitter", jitter)
	return b.Records(), nil
}
