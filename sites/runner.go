package sites

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/use-agent/speedgauge/browser"
	"github.com/use-agent/speedgauge/config"
	"github.com/use-agent/speedgauge/metrics"
	"github.com/use-agent/speedgauge/models"
	"github.com/use-agent/speedgauge/throttle"
)

// PageFactory opens browser pages. *browser.Session implements it.
type PageFactory interface {
	NewPage() (browser.Page, error)
}

// Runner executes site drivers strictly sequentially against one browser
// session. A failure at any stage aborts that site's run without affecting
// the others.
type Runner struct {
	pages PageFactory
	gate  *throttle.Gate
	sink  *metrics.Sink
	snap  *browser.Snapshotter

	host        string
	waitTimeout time.Duration
	ooklaServer string
}

// NewRunner wires the collaborators for one process invocation.
func NewRunner(pages PageFactory, gate *throttle.Gate, sink *metrics.Sink, snap *browser.Snapshotter, cfg *config.Config) *Runner {
	return &Runner{
		pages:       pages,
		gate:        gate,
		sink:        sink,
		snap:        snap,
		host:        cfg.Zabbix.Host,
		waitTimeout: time.Duration(cfg.General.Timeout) * time.Second,
		ooklaServer: cfg.General.OoklaServer,
	}
}

// Run executes the named sites in order, stopping early only on context
// cancellation. Unknown names are logged and skipped.
func (r *Runner) Run(ctx context.Context, names []string) {
	for _, name := range names {
		if ctx.Err() != nil {
			slog.Info("run cancelled", "remaining_from", name)
			return
		}
		site := Lookup(name)
		if site == nil {
			slog.Warn("unknown site", "site", name)
			continue
		}
		r.RunSite(ctx, site)
	}
}

// RunSite drives one site through its full protocol and resolves it to
// exactly one outcome. Metrics reach the sink only from a successful
// completion; TIMEOUT and FAILED emit nothing.
func (r *Runner) RunSite(ctx context.Context, site *Site) models.Outcome {
	if !r.gate.ShouldRun(site.Name) {
		slog.Info("site finished", "site", site.Name, "outcome", models.OutcomeSkipped)
		return models.OutcomeSkipped
	}

	slog.Info("site open", "site", site.Name, "url", site.URL)

	page, err := r.pages.NewPage()
	if err != nil {
		slog.Error("failed to open page", "site", site.Name, "error", err)
		slog.Info("site finished", "site", site.Name, "outcome", models.OutcomeFailed)
		return models.OutcomeFailed
	}
	defer func() {
		// Final page state is snapshotted on every path, success included.
		r.snap.Capture(page, site.Name)
		if err := page.Close(); err != nil {
			slog.Warn("failed to close page", "site", site.Name, "error", err)
		}
	}()

	if err := browser.Load(ctx, page, site.URL, browser.LoadAttempts, browser.LoadRetryDelay); err != nil {
		// The loader already logged the terminal error.
		slog.Info("site finished", "site", site.Name, "outcome", models.OutcomeFailed)
		return models.OutcomeFailed
	}

	env := &Env{
		Page:        page,
		Snap:        r.snap,
		Host:        r.host,
		WaitTimeout: r.waitTimeout,
		OoklaServer: r.ooklaServer,
	}

	records, err := site.run(ctx, env)
	if err != nil {
		outcome := classify(err)
		slog.Error("site run failed", "site", site.Name, "error", err)
		slog.Info("site finished", "site", site.Name, "outcome", outcome)
		return outcome
	}

	r.sink.Push(records)
	slog.Info("site finished", "site", site.Name, "outcome", models.OutcomeSuccess, "metrics", len(records))
	return models.OutcomeSuccess
}

// classify maps a driver error to its terminal outcome. The RunError code
// takes precedence: an interaction failure stays FAILED even when the
// underlying cause was a wait timeout.
func classify(err error) models.Outcome {
	var re *models.RunError
	if errors.As(err, &re) {
		if re.Code == models.ErrCodeTimeout {
			return models.OutcomeTimeout
		}
		return models.OutcomeFailed
	}
	if errors.Is(err, browser.ErrTimeout) {
		return models.OutcomeTimeout
	}
	return models.OutcomeFailed
}
