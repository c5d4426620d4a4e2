package metrics

import (
	"errors"
	"testing"

	"github.com/use-agent/speedgauge/models"
	"github.com/use-agent/speedgauge/zabbix"
)

type fakeSender struct {
	batches [][]zabbix.Metric
	err     error
}

func (f *fakeSender) Send(metrics []zabbix.Metric) (*zabbix.Response, error) {
	f.batches = append(f.batches, metrics)
	if f.err != nil {
		return nil, f.err
	}
	return &zabbix.Response{Status: "success", Info: "processed: 1; failed: 0"}, nil
}

// countingFactory records how many clients the sink constructed. The sink
// must not touch the transport for empty batches or dry runs.
func countingFactory(s *fakeSender, calls *int) SenderFactory {
	return func() Sender {
		*calls++
		return s
	}
}

func TestPushEmptyBatch(t *testing.T) {
	calls := 0
	sink := NewSink("edge-01", false, countingFactory(&fakeSender{}, &calls))
	sink.Push(nil)
	sink.Push([]models.MetricRecord{})
	if calls != 0 {
		t.Errorf("empty batch constructed %d clients, want 0", calls)
	}
}

func TestPushDryRun(t *testing.T) {
	calls := 0
	sink := NewSink("edge-01", true, countingFactory(&fakeSender{}, &calls))
	sink.Push([]models.MetricRecord{{Key: "netflix.download", Value: "940"}})
	if calls != 0 {
		t.Errorf("dry run constructed %d clients, want 0", calls)
	}
}

func TestPushLive(t *testing.T) {
	calls := 0
	fake := &fakeSender{}
	sink := NewSink("edge-01", false, countingFactory(fake, &calls))

	sink.Push([]models.MetricRecord{
		{Key: "ookla.download", Value: "812.4"},
		{Host: "other-host", Key: "ookla.upload", Value: "410.2"},
	})

	if calls != 1 {
		t.Fatalf("constructed %d clients, want 1", calls)
	}
	if len(fake.batches) != 1 || len(fake.batches[0]) != 2 {
		t.Fatalf("unexpected batches: %+v", fake.batches)
	}
	got := fake.batches[0]
	if got[0].Host != "edge-01" {
		t.Errorf("record without host must fall back to the default, got %q", got[0].Host)
	}
	if got[1].Host != "other-host" {
		t.Errorf("explicit host overridden: got %q", got[1].Host)
	}
	if got[0].Key != "ookla.download" || got[0].Value != "812.4" {
		t.Errorf("unexpected wire item: %+v", got[0])
	}
}

func TestPushSendErrorSwallowed(t *testing.T) {
	calls := 0
	fake := &fakeSender{err: errors.New("connection refused")}
	sink := NewSink("edge-01", false, countingFactory(fake, &calls))

	// Must not panic or propagate; the next site's push still works.
	sink.Push([]models.MetricRecord{{Key: "mlab.download", Value: "1"}})
	sink.Push([]models.MetricRecord{{Key: "mlab.upload", Value: "2"}})
	if calls != 2 {
		t.Errorf("constructed %d clients, want 2", calls)
	}
}
