// Package sites holds the per-site drivers: one state machine per
// measurement site, each walking the OPEN → interact → MEASURING →
// COMPLETED protocol against that site's UI and extracting its result DOM.
//
// Each site's UI is an undocumented, fragile external protocol. Drivers
// treat it as adversarial: popups, consent dialogs, slow asynchronous
// measurement and transient errors are tolerated per site, and no failure
// escapes a driver to disturb the other sites' runs.
package sites

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/use-agent/speedgauge/browser"
	"github.com/use-agent/speedgauge/models"
)

// Site is the immutable identity of one measurement site.
type Site struct {
	// Name is the unique key; it prefixes every metric key the driver
	// emits ("<name>.<field>").
	Name string
	// URL is the entry point. box-test and googlefiber have no HTTPS
	// variant, so the scheme here is authoritative.
	URL string

	run func(ctx context.Context, env *Env) ([]models.MetricRecord, error)
}

// Env is the per-invocation context a driver runs against. It is read-only
// during site execution.
type Env struct {
	Page browser.Page
	Snap *browser.Snapshotter

	// Host is the target host label the metrics are filed under.
	Host string
	// WaitTimeout bounds interactive waits (start buttons, dialogs).
	// Measurement completion budgets are fixed per driver.
	WaitTimeout time.Duration
	// OoklaServer is the preferred speedtest.net server substring, "" for
	// the site's automatic choice.
	OoklaServer string
}

// registry lists every driver in run order.
var registry = []*Site{
	{Name: "cloudflare", URL: "https://speed.cloudflare.com/", run: runCloudflare},
	{Name: "netflix", URL: "https://fast.com/", run: runNetflix},
	{Name: "google", URL: "http://speed.googlefiber.net/", run: runGoogle},
	{Name: "ookla", URL: "https://www.speedtest.net/", run: runOokla},
	{Name: "boxtest", URL: "https://www.box-test.com/", run: runBoxtest},
	{Name: "mlab", URL: "https://speed.measurementlab.net/", run: runMlab},
	{Name: "usen", URL: "https://speedtest.gate02.ne.jp/", run: runUsen},
	{Name: "inonius", URL: "https://inonius.net/speedtest/", run: runInonius},
}

// All returns every site in run order.
func All() []*Site { return registry }

// Names returns the site names in run order.
func Names() []string {
	names := make([]string, len(registry))
	for i, s := range registry {
		names[i] = s.Name
	}
	return names
}

// Lookup returns the site with the given name, or nil.
func Lookup(name string) *Site {
	for _, s := range registry {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// --- shared driver helpers ---

// present reports whether at least one element matches right now.
func present(p browser.Page, loc browser.Locator) bool {
	_, err := p.Text(loc)
	return err == nil
}

// visible reports whether a matching element is currently displayed.
func visible(p browser.Page, loc browser.Locator) bool {
	v, _ := p.Visible(loc)
	return v
}

// textOr returns the trimmed element text, "" when missing.
func textOr(p browser.Page, loc browser.Locator) string {
	t, err := p.Text(loc)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(t)
}

// mandatoryText reads a required result field. A missing element and an
// element with blank text are both extraction failures: a mandatory field
// never degrades to a partial batch.
func mandatoryText(p browser.Page, loc browser.Locator, site, field string) (string, error) {
	t, err := p.Text(loc)
	if err != nil {
		return "", extractionErr(site, field+" element missing", err)
	}
	t = strings.TrimSpace(t)
	if t == "" {
		return "", extractionErr(site, field+" is empty", nil)
	}
	return t, nil
}

// waitVisible polls until loc is displayed or the timeout elapses.
func waitVisible(ctx context.Context, p browser.Page, loc browser.Locator, timeout time.Duration) error {
	return browser.WaitFor(ctx, timeout, 0, func() bool { return visible(p, loc) })
}

// clickWhenVisible waits for loc and dispatches a trusted click.
func clickWhenVisible(ctx context.Context, p browser.Page, loc browser.Locator, timeout time.Duration) error {
	if err := waitVisible(ctx, p, loc, timeout); err != nil {
		return err
	}
	return p.Click(loc)
}

func hasDigit(s string) bool {
	return strings.ContainsFunc(s, unicode.IsDigit)
}

// timeoutErr marks a missed completion deadline; the runner maps it to the
// TIMEOUT outcome via the wrapped sentinel.
func timeoutErr(site, what string) error {
	return models.NewRunError(models.ErrCodeTimeout, site+": "+what, browser.ErrTimeout)
}

func interactionErr(site, what string, err error) error {
	return models.NewRunError(models.ErrCodeInteraction, site+": "+what, err)
}

func extractionErr(site, what string, err error) error {
	return models.NewRunError(models.ErrCodeExtraction, site+": "+what, err)
}
