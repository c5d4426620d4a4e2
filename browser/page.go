// Package browser wraps the Rod-driven Chromium session behind a small
// page-operation surface. Site drivers program against the Page interface
// so that their state machines can be exercised without a live browser.
package browser

import (
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// pageLoadTimeout bounds a single navigation, matching the hard ceiling a
// hung site is allowed to consume before the loader retries.
const pageLoadTimeout = 60 * time.Second

// actionTimeout bounds every other CDP call. A hung browser connection
// must surface as an error to the caller's poll loop, not stall it past
// its deadline.
const actionTimeout = 15 * time.Second

// By selects the locator language.
type By int

const (
	ByCSS By = iota
	ByXPath
)

// Locator addresses one or more DOM elements. Locators are data: each site
// driver keeps its selectors in a constant table, isolating the volatile
// part of the driver (sites change their markup) from the state machine.
type Locator struct {
	By    By
	Value string
}

// CSS builds a CSS-selector locator.
func CSS(v string) Locator { return Locator{By: ByCSS, Value: v} }

// XPath builds an XPath locator.
func XPath(v string) Locator { return Locator{By: ByXPath, Value: v} }

func (l Locator) String() string {
	if l.By == ByXPath {
		return "xpath:" + l.Value
	}
	return "css:" + l.Value
}

// Page is the browser-automation capability consumed by the site drivers.
// Element lookups do not retry: absence is reported immediately, and all
// waiting happens in the explicit poll primitives of this package.
type Page interface {
	// Navigate loads url and blocks until the load event, bounded by the
	// navigation ceiling.
	Navigate(url string) error
	// Reload reloads the current page.
	Reload() error
	// HTML returns the rendered document markup.
	HTML() (string, error)
	// Text returns the visible text of the first matching element.
	Text(loc Locator) (string, error)
	// Texts returns the visible text of every matching element.
	Texts(loc Locator) ([]string, error)
	// Attribute returns the named attribute of the first matching element,
	// "" when the attribute is absent.
	Attribute(loc Locator, name string) (string, error)
	// Visible reports whether a matching element exists and is displayed.
	// A missing element is (false, nil), not an error.
	Visible(loc Locator) (bool, error)
	// Click dispatches a trusted left click on the first matching element.
	Click(loc Locator) error
	// ClickNth clicks the n-th (0-based) matching element.
	ClickNth(loc Locator, n int) error
	// ClickJS clicks via an injected this.click() call, for controls that
	// refuse synthesized input events.
	ClickJS(loc Locator) error
	// Input clears the first matching element and types text into it.
	Input(loc Locator, text string) error
	// Eval runs a JS function in the page and returns its value.
	Eval(js string) (gson.JSON, error)
	// Screenshot captures the current viewport as PNG bytes.
	Screenshot() ([]byte, error)
	// Close closes the tab.
	Close() error
}

// rodPage adapts a *rod.Page to the Page interface.
type rodPage struct {
	p *rod.Page
}

// find performs a non-waiting element lookup. The element inherits the
// action deadline, so follow-up calls on it are bounded too.
func (r *rodPage) find(loc Locator) (*rod.Element, error) {
	p := r.p.Timeout(actionTimeout).Sleeper(rod.NotFoundSleeper)
	if loc.By == ByXPath {
		return p.ElementX(loc.Value)
	}
	return p.Element(loc.Value)
}

// findAll returns all current matches without waiting.
func (r *rodPage) findAll(loc Locator) (rod.Elements, error) {
	p := r.p.Timeout(actionTimeout)
	if loc.By == ByXPath {
		return p.ElementsX(loc.Value)
	}
	return p.Elements(loc.Value)
}

func (r *rodPage) Navigate(url string) error {
	p := r.p.Timeout(pageLoadTimeout)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (r *rodPage) Reload() error {
	return r.p.Timeout(pageLoadTimeout).Reload()
}

func (r *rodPage) HTML() (string, error) {
	return r.p.Timeout(actionTimeout).HTML()
}

func (r *rodPage) Text(loc Locator) (string, error) {
	el, err := r.find(loc)
	if err != nil {
		return "", fmt.Errorf("element %s not found: %w", loc, err)
	}
	return el.Text()
}

func (r *rodPage) Texts(loc Locator) ([]string, error) {
	els, err := r.findAll(loc)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(els))
	for _, el := range els {
		t, err := el.Text()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *rodPage) Attribute(loc Locator, name string) (string, error) {
	el, err := r.find(loc)
	if err != nil {
		return "", fmt.Errorf("element %s not found: %w", loc, err)
	}
	v, err := el.Attribute(name)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

func (r *rodPage) Visible(loc Locator) (bool, error) {
	el, err := r.find(loc)
	if err != nil {
		return false, nil
	}
	return el.Visible()
}

func (r *rodPage) Click(loc Locator) error {
	el, err := r.find(loc)
	if err != nil {
		return fmt.Errorf("element %s not found: %w", loc, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (r *rodPage) ClickNth(loc Locator, n int) error {
	els, err := r.findAll(loc)
	if err != nil {
		return err
	}
	if n < 0 || n >= len(els) {
		return fmt.Errorf("element %s: index %d out of %d matches", loc, n, len(els))
	}
	return els[n].Click(proto.InputMouseButtonLeft, 1)
}

func (r *rodPage) ClickJS(loc Locator) error {
	el, err := r.find(loc)
	if err != nil {
		return fmt.Errorf("element %s not found: %w", loc, err)
	}
	_, err = el.Eval(`() => this.click()`)
	return err
}

func (r *rodPage) Input(loc Locator, text string) error {
	el, err := r.find(loc)
	if err != nil {
		return fmt.Errorf("element %s not found: %w", loc, err)
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(text)
}

func (r *rodPage) Eval(js string) (gson.JSON, error) {
	res, err := r.p.Timeout(actionTimeout).Eval(js)
	if err != nil {
		return gson.New(nil), err
	}
	return res.Value, nil
}

func (r *rodPage) Screenshot() ([]byte, error) {
	return r.p.Timeout(actionTimeout).Screenshot(false, nil)
}

func (r *rodPage) Close() error {
	return r.p.Close()
}
