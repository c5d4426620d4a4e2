package browser

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/speedgauge/models"
)

// Load retry defaults.
const (
	LoadAttempts   = 3
	LoadRetryDelay = 5 * time.Second
)

// loadSettle is how long the loader lets the page render before checking
// it for error markers. Variable so tests can shorten it.
var loadSettle = 2 * time.Second

// errorIndicators are browser-level failure markers matched against the
// rendered page text. The browser performs the network request itself, so
// there is no HTTP status to inspect; Chromium's interstitial error pages
// are the only failure signal available.
var errorIndicators = []string{
	"can't be reached",
	"err_",
	"dns_probe",
	"connection refused",
	"took too long",
}

// Load navigates to url, waits a settle interval and inspects the rendered
// page for error markers, retrying up to attempts times with delay between
// tries. On exhaustion it logs a single final error and returns a
// navigation RunError.
func Load(ctx context.Context, p Page, url string, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = LoadAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := p.Navigate(url); err != nil {
			slog.Warn("page load exception",
				"url", url, "attempt", attempt, "attempts", attempts, "error", err)
		} else {
			if err := Sleep(ctx, loadSettle); err != nil {
				return err
			}
			html, err := p.HTML()
			if err == nil && !looksFailed(html) {
				return nil
			}
			slog.Warn("page load failed",
				"url", url, "attempt", attempt, "attempts", attempts)
		}

		if attempt < attempts {
			if err := Sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	slog.Error("failed to load page after all attempts", "url", url, "attempts", attempts)
	return models.NewRunError(models.ErrCodeNavigation, "failed to load "+url, nil)
}

// looksFailed reports whether the rendered markup is a Chromium error
// interstitial rather than the requested site.
func looksFailed(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		// Unparsable markup is still markup; let the driver fight with it.
		return false
	}
	text := strings.ToLower(doc.Text())
	for _, marker := range errorIndicators {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
