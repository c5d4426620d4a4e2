package sites

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/use-agent/speedgauge/browser"
	"github.com/use-agent/speedgauge/models"
	"github.com/ysmood/gson"
)

// fakePage is a scriptable browser.Page. Element text is keyed by the raw
// selector value; a selector absent from texts is a missing element.
type fakePage struct {
	texts    map[string]string
	visibles map[string]bool
	attrFn   func(loc browser.Locator, name string) string
	clicked  []string
	closed   bool
}

func (f *fakePage) Navigate(url string) error { return nil }
func (f *fakePage) Reload() error             { return nil }
func (f *fakePage) HTML() (string, error) {
	return "<html><body>speed test ready</body></html>", nil
}
func (f *fakePage) Text(loc browser.Locator) (string, error) {
	if v, ok := f.texts[loc.Value]; ok {
		return v, nil
	}
	return "", errors.New("element " + loc.String() + " not found")
}
func (f *fakePage) Texts(loc browser.Locator) ([]string, error) {
	if v, ok := f.texts[loc.Value]; ok {
		return []string{v}, nil
	}
	return nil, nil
}
func (f *fakePage) Attribute(loc browser.Locator, name string) (string, error) {
	if f.attrFn != nil {
		return f.attrFn(loc, name), nil
	}
	return "", nil
}
func (f *fakePage) Visible(loc browser.Locator) (bool, error) {
	return f.visibles[loc.Value], nil
}
func (f *fakePage) Click(loc browser.Locator) error {
	f.clicked = append(f.clicked, loc.Value)
	return nil
}
func (f *fakePage) ClickNth(loc browser.Locator, n int) error {
	f.clicked = append(f.clicked, loc.Value)
	return nil
}
func (f *fakePage) ClickJS(loc browser.Locator) error {
	f.clicked = append(f.clicked, loc.Value)
	return nil
}
func (f *fakePage) Input(loc browser.Locator, text string) error { return nil }
func (f *fakePage) Eval(js string) (gson.JSON, error)            { return gson.New(nil), nil }
func (f *fakePage) Screenshot() ([]byte, error)                  { return []byte("png"), nil }
func (f *fakePage) Close() error {
	f.closed = true
	return nil
}

func testEnv(t *testing.T, p browser.Page) *Env {
	t.Helper()
	snap, err := browser.NewSnapshotter(false, "")
	if err != nil {
		t.Fatal(err)
	}
	return &Env{
		Page:        p,
		Snap:        snap,
		Host:        "edge-01",
		WaitTimeout: 100 * time.Millisecond,
	}
}

func keyed(recs []models.MetricRecord) map[string]string {
	out := make(map[string]string, len(recs))
	for _, r := range recs {
		out[r.Key] = r.Value
	}
	return out
}

func TestRegistry(t *testing.T) {
	want := []string{"cloudflare", "netflix", "google", "ookla", "boxtest", "mlab", "usen", "inonius"}
	names := Names()
	if len(names) != len(want) {
		t.Fatalf("got %d sites, want %d", len(names), len(want))
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("site %d is %q, want %q", i, names[i], n)
		}
	}
	for _, n := range want {
		s := Lookup(n)
		if s == nil {
			t.Fatalf("Lookup(%q) = nil", n)
		}
		if s.URL == "" || s.run == nil {
			t.Errorf("site %q incomplete: %+v", n, s)
		}
	}
	if Lookup("nope") != nil {
		t.Error("Lookup of an unknown name must return nil")
	}
}

func TestRunNetflix(t *testing.T) {
	p := &fakePage{
		texts: map[string]string{
			"#speed-progress-indicator.succeeded": "",
			"#speed-value":                        "940",
			"#upload-value":                       "410",
			"#latency-value":                      "4",
			"#server-locations":                   "Tokyo, JP",
		},
		visibles: map[string]bool{"#show-more-details-link": true},
	}

	recs, err := runNetflix(context.Background(), testEnv(t, p))
	if err != nil {
		t.Fatal(err)
	}
	got := keyed(recs)
	want := map[string]string{
		"netflix.download":         "940",
		"netflix.upload":           "410",
		"netflix.latency":          "4",
		"netflix.server-locations": "Tokyo, JP",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
	if len(recs) != len(want) {
		t.Errorf("got %d records, want %d", len(recs), len(want))
	}
	if len(p.clicked) == 0 || p.clicked[0] != "#show-more-details-link" {
		t.Errorf("more-details link not clicked: %v", p.clicked)
	}
}

func TestRunNetflixStartMissing(t *testing.T) {
	p := &fakePage{}
	_, err := runNetflix(context.Background(), testEnv(t, p))
	if err == nil {
		t.Fatal("expected an error")
	}
	var re *models.RunError
	if !errors.As(err, &re) || re.Code != models.ErrCodeInteraction {
		t.Errorf("got %v, want %s", err, models.ErrCodeInteraction)
	}
	if classify(err) != models.OutcomeFailed {
		t.Errorf("interaction failure must classify FAILED, got %s", classify(err))
	}
}

func TestRunNetflixExtractionFailure(t *testing.T) {
	p := &fakePage{
		texts: map[string]string{
			"#speed-progress-indicator.succeeded": "",
			// #speed-value intentionally absent
		},
		visibles: map[string]bool{"#show-more-details-link": true},
	}
	_, err := runNetflix(context.Background(), testEnv(t, p))
	var re *models.RunError
	if !errors.As(err, &re) || re.Code != models.ErrCodeExtraction {
		t.Errorf("got %v, want %s", err, models.ErrCodeExtraction)
	}
}

func TestRunNetflixEmptyMandatoryField(t *testing.T) {
	// The element exists but renders no text; the run must fail without
	// emitting the other three fields as a partial batch.
	p := &fakePage{
		texts: map[string]string{
			"#speed-progress-indicator.succeeded": "",
			"#speed-value":                        "",
			"#upload-value":                       "410",
			"#latency-value":                      "4",
			"#server-locations":                   "Tokyo, JP",
		},
		visibles: map[string]bool{"#show-more-details-link": true},
	}
	recs, err := runNetflix(context.Background(), testEnv(t, p))
	if err == nil {
		t.Fatalf("expected an extraction failure, got records %v", recs)
	}
	var re *models.RunError
	if !errors.As(err, &re) || re.Code != models.ErrCodeExtraction {
		t.Errorf("got %v, want %s", err, models.ErrCodeExtraction)
	}
	if len(recs) != 0 {
		t.Errorf("a failed run must emit no records, got %v", recs)
	}
}

func TestRunUsen(t *testing.T) {
	attrCalls := 0
	p := &fakePage{
		texts: map[string]string{
			"#dlText":   "812.44",
			"#ulText":   "410.01",
			"#pingText": "7",
			"#jitText":  "1.2",
		},
		visibles: map[string]bool{".speedtest_start .btn-start": true},
	}
	// The wait class is present for the first body read, then cleared.
	p.attrFn = func(loc browser.Locator, name string) string {
		attrCalls++
		if attrCalls <= 1 {
			return "page-top speedtest_wait"
		}
		return "page-top"
	}

	recs, err := runUsen(context.Background(), testEnv(t, p))
	if err != nil {
		t.Fatal(err)
	}
	got := keyed(recs)
	if got["usen.download"] != "812.44" || got["usen.jitter"] != "1.2" {
		t.Errorf("unexpected records: %v", got)
	}
	if len(recs) != 4 {
		t.Errorf("got %d records, want 4", len(recs))
	}
}

func TestRunUsenBlankMandatoryField(t *testing.T) {
	p := &fakePage{
		texts: map[string]string{
			"#dlText":   "812.44",
			"#ulText":   "410.01",
			"#pingText": "7",
			"#jitText":  "   ",
		},
		visibles: map[string]bool{".speedtest_start .btn-start": true},
	}
	attrCalls := 0
	p.attrFn = func(loc browser.Locator, name string) string {
		attrCalls++
		if attrCalls <= 1 {
			return "page-top speedtest_wait"
		}
		return "page-top"
	}

	recs, err := runUsen(context.Background(), testEnv(t, p))
	if err == nil {
		t.Fatalf("expected an extraction failure, got records %v", recs)
	}
	var re *models.RunError
	if !errors.As(err, &re) || re.Code != models.ErrCodeExtraction {
		t.Errorf("got %v, want %s", err, models.ErrCodeExtraction)
	}
}

func TestRunMlabUnparsableRetrans(t *testing.T) {
	table := `//*[@id="measurementSpace"]//table/tbody`
	p := &fakePage{
		texts: map[string]string{
			table + "/tr[3]/td[3]/strong": "812.4 Mbps",
			table + "/tr[4]/td[3]/strong": "410.2 Mbps",
			table + "/tr[5]/td[3]/strong": "7.1 ms",
			table + "/tr[6]/td[3]/strong": "%",
		},
		visibles: map[string]bool{
			"a.startButton":                     true,
			"//span[contains(text(), 'Again')]": true,
		},
	}
	recs, err := runMlab(context.Background(), testEnv(t, p))
	if err == nil {
		t.Fatalf("expected an extraction failure, got records %v", recs)
	}
	var re *models.RunError
	if !errors.As(err, &re) || re.Code != models.ErrCodeExtraction {
		t.Errorf("got %v, want %s", err, models.ErrCodeExtraction)
	}
}

func TestRunInoniusPartialFamilies(t *testing.T) {
	// IPv4-only line: every IPv6 locator is missing and must be skipped.
	p := &fakePage{
		texts: map[string]string{
			"/html/body/div/astro-island/div/div[3]/div/span":                                   "Test completed!",
			"/html/body/div/astro-island/div/div[1]/div/div[1]/div[2]/div[1]/div/span[1]":       "7.1",
			"/html/body/div/astro-island/div/div[1]/div/div[1]/div[2]/div[2]/div/span[1]":       "0.4",
			"/html/body/div/astro-island/div/div[1]/div/div[1]/div[1]/div[1]/div/div/span[1]":   "812",
			"/html/body/div/astro-island/div/div[1]/div/div[1]/div[1]/div[2]/div/div/span[1]":   "410",
			"/html/body/div/astro-island/div/div[1]/div/div[2]/p[1]":                            "Estimated MSS: 1440",
		},
		visibles: map[string]bool{"/html/body/div/astro-island/dialog/div/div/form/button[2]": true},
	}

	recs, err := runInonius(context.Background(), testEnv(t, p))
	if err != nil {
		t.Fatal(err)
	}
	got := keyed(recs)
	want := map[string]string{
		"inonius.IPv4_RTT": "7.1",
		"inonius.IPv4_JIT": "0.4",
		"inonius.IPv4_DL":  "812",
		"inonius.IPv4_UL":  "410",
		"inonius.IPv4_MSS": "1440",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
	if len(recs) != len(want) {
		t.Errorf("got %d records, want %d (no IPv6 records)", len(recs), len(want))
	}
}

func TestCloudflareField(t *testing.T) {
	t.Run("parent container", func(t *testing.T) {
		p := &fakePage{texts: map[string]string{
			"//div[text()='Download']/..": "Download 123.4 Mbps",
		}}
		if got := cloudflareField(p, "Download", "Mbps"); got != "123.4" {
			t.Errorf("got %q, want \"123.4\"", got)
		}
	})

	t.Run("grandparent fallback", func(t *testing.T) {
		p := &fakePage{texts: map[string]string{
			"//div[text()='Jitter']/..":    "Jitter",
			"//div[text()='Jitter']/../..": "Jitter 241 μs",
		}}
		if got := cloudflareField(p, "Jitter", `ms|μs|us`); got != "0.241" {
			t.Errorf("got %q, want \"0.241\"", got)
		}
	})

	t.Run("missing element", func(t *testing.T) {
		p := &fakePage{}
		if got := cloudflareField(p, "Upload", "Mbps"); got != "" {
			t.Errorf("got %q, want \"\"", got)
		}
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.Outcome
	}{
		{"measurement timeout", timeoutErr("ookla", "no result"), models.OutcomeTimeout},
		{"bare wait sentinel", browser.ErrTimeout, models.OutcomeTimeout},
		{"interaction over timeout", interactionErr("netflix", "no link", browser.ErrTimeout), models.OutcomeFailed},
		{"extraction", extractionErr("mlab", "cell missing", nil), models.OutcomeFailed},
		{"plain error", errors.New("boom"), models.OutcomeFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.err); got != tc.want {
				t.Errorf("classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}
