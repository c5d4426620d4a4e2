package browser

import (
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/speedgauge/models"
	"github.com/ysmood/gson"
)

// Window geometry matches what the result layouts of the measured sites
// were calibrated against.
const (
	WindowWidth  = 1024
	WindowHeight = 1024
)

// acceptLanguage pins the UI language the drivers' text markers expect.
const acceptLanguage = "en-US,en;q=0.9,ja;q=0.8"

// Session owns the single browser instance for the whole run. It is
// acquired once at startup and released exactly once at shutdown; site
// drivers borrow pages from it strictly sequentially.
type Session struct {
	browser  *rod.Browser
	headless bool
}

// NewSession launches Chromium and connects to it. Failure here is the
// only error fatal to the whole run.
func NewSession(headless bool) (*Session, error) {
	l := launcher.New().Headless(headless)

	l.Set(flags.Flag("window-size"), "1024,1024")
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("no-first-run"))

	if headless {
		l.NoSandbox(true)
		l.Set(flags.Flag("disable-gpu"))
		l.Set(flags.Flag("disable-dev-shm-usage"))
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewRunError(
			models.ErrCodeBrowserCrash,
			"failed to launch browser",
			err,
		)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewRunError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}
	slog.Info("browser launched", "controlURL", controlURL, "headless", headless)

	return &Session{browser: browser, headless: headless}, nil
}

// NewPage opens a fresh tab with stealth JS installed and the
// Accept-Language header pinned. The caller closes it when the site run
// ends.
func (s *Session) NewPage() (Page, error) {
	page, err := s.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewRunError(
			models.ErrCodeBrowserCrash,
			"failed to open page",
			err,
		)
	}

	// Speedtest sites sniff automation; install the mask before the first
	// navigation or it has no effect.
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
	}

	if err := (proto.NetworkSetExtraHTTPHeaders{
		Headers: toHeadersMap(map[string]string{"Accept-Language": acceptLanguage}),
	}).Call(page); err != nil {
		slog.Warn("failed to set Accept-Language", "error", err)
	}

	if !s.headless {
		moveTopRight(page)
	}

	return &rodPage{p: page}, nil
}

// Close tears the browser down. Safe to call from a signal path.
func (s *Session) Close() {
	slog.Info("closing browser session")
	if err := s.browser.Close(); err != nil {
		slog.Warn("browser close failed", "error", err)
	}
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders
// type (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// moveTopRight docks a headed window at the top-right corner so it stays
// out of the way during long runs. Best-effort: any failure is logged and
// the run continues.
func moveTopRight(page *rod.Page) {
	res, err := page.Eval(`() => window.screen.availWidth`)
	if err != nil {
		slog.Warn("window position calc failed", "error", err)
		return
	}
	x := res.Value.Int() - WindowWidth
	if x < 0 {
		x = 0
	}
	y := 0

	win, err := proto.BrowserGetWindowForTarget{}.Call(page)
	if err != nil {
		slog.Warn("window lookup failed", "error", err)
		return
	}
	err = proto.BrowserSetWindowBounds{
		WindowID: win.WindowID,
		Bounds:   &proto.BrowserBounds{Left: &x, Top: &y},
	}.Call(page)
	if err != nil {
		slog.Warn("window move failed", "error", err)
		return
	}
	slog.Info("window moved to top-right", "x", x, "y", y)
}
