package sites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/use-agent/speedgauge/browser"
	"github.com/use-agent/speedgauge/metrics"
	"github.com/use-agent/speedgauge/models"
)

// speedtest.net: the flakiest of the eight. The whole protocol is wrapped
// in an outer reload-and-retry loop because the site throws in-page error
// banners under load; a composite predicate separates SUCCESS, in-page
// ERROR and TIMEOUT. An optional sub-flow switches to a preferred server
// before starting.
const (
	ooklaAttempts = 3
	ooklaTimeout  = 90 * time.Second
)

var (
	ooklaConsent           = browser.CSS("#onetrust-accept-btn-handler")
	ooklaHostURL           = browser.CSS(".hostUrl")
	ooklaChangeServer      = browser.XPath("//a[text()='Change Server']")
	ooklaChangeServerFuzzy = browser.XPath("//a[contains(text(), 'Change Server')]")
	ooklaSearchBox         = browser.CSS("#host-search")
	ooklaServerEntries     = browser.XPath(`//*[@id="find-servers"]//ul/li/a`)
	ooklaStart             = browser.CSS(".start-text")

	ooklaErrorBanner = browser.CSS(".error-container, .notification-error")
	ooklaResultPanel = browser.CSS(".result-data-large")
	ooklaDownload    = browser.CSS(".download-speed")
	ooklaUpload      = browser.CSS(".upload-speed")
	ooklaPing        = browser.CSS(".ping-speed")
)

// ooklaPlaceholders are what the result cells show before real figures.
var ooklaPlaceholders = map[string]bool{"—": true, "-": true}

func runOokla(ctx context.Context, env *Env) ([]models.MetricRecord, error) {
	p := env.Page

	for attempt := 1; attempt <= ooklaAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Info("ookla: attempt", "attempt", attempt, "attempts", ooklaAttempts)

		if attempt > 1 {
			slog.Info("ookla: reloading page")
			if err := p.Reload(); err != nil {
				slog.Warn("ookla: reload failed", "error", err)
				continue
			}
			if err := browser.Sleep(ctx, 5*time.Second); err != nil {
				return nil, err
			}
		}

		// Cookie consent, first visit only.
		if err := waitVisible(ctx, p, ooklaConsent, env.WaitTimeout); err == nil {
			if err := p.ClickJS(ooklaConsent); err != nil {
				slog.Warn("ookla: consent click failed", "error", err)
			}
		} else if !errors.Is(err, browser.ErrTimeout) {
			return nil, err
		}

		if env.OoklaServer != "" {
			if err := ooklaSelectServer(ctx, env); err != nil {
				return nil, err
			}
		}

		if err := clickWhenVisible(ctx, p, ooklaStart, env.WaitTimeout); err != nil {
			if !errors.Is(err, browser.ErrTimeout) && ctx.Err() != nil {
				return nil, err
			}
			slog.Warn("ookla: start button error", "error", err)
			continue
		}
		slog.Info("ookla: started")

		status := ""
		err := browser.WaitFor(ctx, ooklaTimeout, 0, func() bool {
			if visible(p, ooklaErrorBanner) {
				status = "ERROR"
				return true
			}
			if visible(p, ooklaResultPanel) {
				dl := textOr(p, ooklaDownload)
				ul := textOr(p, ooklaUpload)
				if dl != "" && ul != "" && !ooklaPlaceholders[dl] && !ooklaPlaceholders[ul] {
					status = "SUCCESS"
					return true
				}
			}
			return false
		})
		if err != nil {
			if !errors.Is(err, browser.ErrTimeout) {
				return nil, err
			}
			slog.Error("ookla: timeout waiting for results")
			env.Snap.Capture(p, fmt.Sprintf("ookla_timeout_%d", attempt))
			continue
		}
		if status == "ERROR" {
			slog.Warn("ookla: error banner detected, retrying")
			env.Snap.Capture(p, fmt.Sprintf("ookla_error_%d", attempt))
			continue
		}

		slog.Info("ookla: completed")
		if err := browser.Sleep(ctx, 2*time.Second); err != nil {
			return nil, err
		}

		download := textOr(p, ooklaDownload)
		upload := textOr(p, ooklaUpload)
		ping := textOr(p, ooklaPing)
		if download == "" || upload == "" {
			slog.Error("ookla: result cells unreadable after completion", "attempt", attempt)
			env.Snap.Capture(p, fmt.Sprintf("ookla_exception_%d", attempt))
			if err := browser.Sleep(ctx, 3*time.Second); err != nil {
				return nil, err
			}
			continue
		}

		slog.Debug("ookla: result", "download", download, "upload", upload, "ping", ping)

		b := metrics.NewBuilder(env.Host, "ookla")
		b.Add("download", download)
		b.Add("upload", upload)
		b.Add("ping", ping)
		return b.Records(), nil
	}

	return nil, interactionErr("ookla", "failed after all retries", nil)
}

// ooklaSelectServer switches to the configured server. Every step here is
// best-effort: measurement on the wrong server beats no measurement. When
// the search yields no exact substring match the first listed server is
// taken instead.
func ooklaSelectServer(ctx context.Context, env *Env) error {
	p := env.Page
	want := env.OoklaServer

	// Already on the preferred server?
	if err := waitVisible(ctx, p, ooklaHostURL, 10*time.Second); err == nil {
		if cur := textOr(p, ooklaHostURL); strings.Contains(cur, want) {
			slog.Info("ookla: server match", "server", cur)
			return nil
		}
	} else if !errors.Is(err, browser.ErrTimeout) {
		return err
	}

	slog.Info("ookla: searching server list", "server", want)

	clicked := false
	for i := 0; i < 3; i++ {
		if err := clickWhenVisible(ctx, p, ooklaChangeServer, env.WaitTimeout); err == nil {
			clicked = true
			break
		} else if !errors.Is(err, browser.ErrTimeout) && ctx.Err() != nil {
			return err
		}
		if err := browser.Sleep(ctx, time.Second); err != nil {
			return err
		}
	}
	if !clicked {
		// The link sometimes sits under an overlay; a JS click bypasses it.
		if err := p.ClickJS(ooklaChangeServerFuzzy); err != nil {
			slog.Warn("ookla: change-server link not found", "error", err)
			return nil
		}
	}

	if err := waitVisible(ctx, p, ooklaSearchBox, env.WaitTimeout); err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			return err
		}
		slog.Warn("ookla: server search box never appeared")
		return nil
	}
	if err := p.Input(ooklaSearchBox, want); err != nil {
		slog.Warn("ookla: server search input failed", "error", err)
		return nil
	}

	if err := browser.WaitFor(ctx, env.WaitTimeout, 0, func() bool {
		return present(p, ooklaServerEntries)
	}); err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			return err
		}
		slog.Warn("ookla: server search returned nothing", "server", want)
		return nil
	}
	if err := browser.Sleep(ctx, time.Second); err != nil {
		return err
	}

	entries, err := p.Texts(ooklaServerEntries)
	if err != nil {
		slog.Warn("ookla: server selection failed", "error", err)
		return nil
	}
	for i, entry := range entries {
		if strings.Contains(entry, want) {
			if err := p.ClickNth(ooklaServerEntries, i); err != nil {
				slog.Warn("ookla: server selection failed", "error", err)
			}
			return nil
		}
	}
	if len(entries) > 0 {
		if err := p.ClickNth(ooklaServerEntries, 0); err != nil {
			slog.Warn("ookla: server selection failed", "error", err)
		}
	}
	return nil
}
