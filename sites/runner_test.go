package sites

import (
	"context"
	"errors"
	"testing"

	"github.com/use-agent/speedgauge/browser"
	"github.com/use-agent/speedgauge/config"
	"github.com/use-agent/speedgauge/metrics"
	"github.com/use-agent/speedgauge/models"
	"github.com/use-agent/speedgauge/throttle"
	"github.com/use-agent/speedgauge/zabbix"
)

type fakeFactory struct {
	page  browser.Page
	err   error
	calls int
}

func (f *fakeFactory) NewPage() (browser.Page, error) {
	f.calls++
	return f.page, f.err
}

type captureSender struct {
	batches [][]zabbix.Metric
}

func (c *captureSender) Send(metrics []zabbix.Metric) (*zabbix.Response, error) {
	c.batches = append(c.batches, metrics)
	return &zabbix.Response{Status: "success"}, nil
}

func newTestRunner(t *testing.T, factory PageFactory, gate *throttle.Gate) (*Runner, *captureSender) {
	t.Helper()
	cfg := config.Default()
	cfg.General.DryRun = false
	cfg.General.Timeout = 1
	cfg.Zabbix.Host = "edge-01"

	sender := &captureSender{}
	sink := metrics.NewSink(cfg.Zabbix.Host, cfg.General.DryRun, func() metrics.Sender {
		return sender
	})
	snap, err := browser.NewSnapshotter(false, "")
	if err != nil {
		t.Fatal(err)
	}
	return NewRunner(factory, gate, sink, snap, cfg), sender
}

func TestRunSiteSkipped(t *testing.T) {
	factory := &fakeFactory{page: &fakePage{}}
	gate := throttle.New(map[string]int{"netflix": 0}, false)
	r, sender := newTestRunner(t, factory, gate)

	outcome := r.RunSite(context.Background(), Lookup("netflix"))
	if outcome != models.OutcomeSkipped {
		t.Errorf("got %s, want SKIPPED", outcome)
	}
	if factory.calls != 0 {
		t.Error("a skipped site must not open a page")
	}
	if len(sender.batches) != 0 {
		t.Error("a skipped site must not push metrics")
	}
}

func TestRunSitePageFailure(t *testing.T) {
	factory := &fakeFactory{err: errors.New("browser gone")}
	r, sender := newTestRunner(t, factory, throttle.New(nil, true))

	outcome := r.RunSite(context.Background(), Lookup("netflix"))
	if outcome != models.OutcomeFailed {
		t.Errorf("got %s, want FAILED", outcome)
	}
	if len(sender.batches) != 0 {
		t.Error("a failed site must not push metrics")
	}
}

func TestRunSiteSuccess(t *testing.T) {
	page := &fakePage{
		texts: map[string]string{
			"#speed-progress-indicator.succeeded": "",
			"#speed-value":                        "940",
			"#upload-value":                       "410",
			"#latency-value":                      "4",
			"#server-locations":                   "Tokyo, JP",
		},
		visibles: map[string]bool{"#show-more-details-link": true},
	}
	factory := &fakeFactory{page: page}
	r, sender := newTestRunner(t, factory, throttle.New(nil, true))

	outcome := r.RunSite(context.Background(), Lookup("netflix"))
	if outcome != models.OutcomeSuccess {
		t.Fatalf("got %s, want SUCCESS", outcome)
	}
	if len(sender.batches) != 1 || len(sender.batches[0]) != 4 {
		t.Fatalf("unexpected batches: %+v", sender.batches)
	}
	for _, item := range sender.batches[0] {
		if item.Host != "edge-01" {
			t.Errorf("metric %s filed under %q, want edge-01", item.Key, item.Host)
		}
	}
	if !page.closed {
		t.Error("the page must be closed after the run")
	}
}

func TestRunSiteDriverFailureClosesPage(t *testing.T) {
	page := &fakePage{} // netflix driver finds nothing and fails
	factory := &fakeFactory{page: page}
	r, sender := newTestRunner(t, factory, throttle.New(nil, true))

	outcome := r.RunSite(context.Background(), Lookup("netflix"))
	if outcome != models.OutcomeFailed {
		t.Errorf("got %s, want FAILED", outcome)
	}
	if len(sender.batches) != 0 {
		t.Error("a failed site must not push metrics")
	}
	if !page.closed {
		t.Error("the page must be closed after a failed run")
	}
}

func TestRunUnknownSite(t *testing.T) {
	factory := &fakeFactory{page: &fakePage{}}
	r, sender := newTestRunner(t, factory, throttle.New(map[string]int{
		"netflix": 0, "cloudflare": 0,
	}, false))

	// Unknown names are logged and skipped; known ones still go through the
	// gate.
	r.Run(context.Background(), []string{"bogus", "netflix"})
	if factory.calls != 0 || len(sender.batches) != 0 {
		t.Error("nothing should have run")
	}
}

func TestRunCancelled(t *testing.T) {
	factory := &fakeFactory{page: &fakePage{}}
	r, sender := newTestRunner(t, factory, throttle.New(nil, true))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx, Names())
	if factory.calls != 0 || len(sender.batches) != 0 {
		t.Error("a cancelled run must not open any page")
	}
}
