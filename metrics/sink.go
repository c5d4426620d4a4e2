package metrics

import (
	"log/slog"

	"github.com/use-agent/speedgauge/models"
	"github.com/use-agent/speedgauge/zabbix"
)

// Sender is the transport behind the sink. *zabbix.Sender implements it.
type Sender interface {
	Send(metrics []zabbix.Metric) (*zabbix.Response, error)
}

// SenderFactory constructs a transport client. The sink calls it lazily,
// once per live push, so that dry runs and empty batches never open a
// connection.
type SenderFactory func() Sender

// Sink buffers nothing and forwards each batch immediately. Transport
// errors are logged and swallowed: one site's push failure must not abort
// the remaining sites.
type Sink struct {
	defaultHost string
	dryRun      bool
	newSender   SenderFactory
}

// NewSink creates a sink pushing under defaultHost for records that carry
// no host of their own.
func NewSink(defaultHost string, dryRun bool, factory SenderFactory) *Sink {
	return &Sink{defaultHost: defaultHost, dryRun: dryRun, newSender: factory}
}

// Push forwards one batch. Empty input is a no-op.
func (s *Sink) Push(records []models.MetricRecord) {
	if len(records) == 0 {
		return
	}

	items := make([]zabbix.Metric, len(records))
	for i, rec := range records {
		host := rec.Host
		if host == "" {
			host = s.defaultHost
		}
		items[i] = zabbix.Metric{Host: host, Key: rec.Key, Value: rec.Value}
	}

	for _, item := range items {
		slog.Debug("buffered metric", "host", item.Host, "key", item.Key, "value", item.Value)
	}

	if s.dryRun {
		slog.Info("dry run: batch not sent", "host", items[0].Host, "count", len(items))
		return
	}

	resp, err := s.newSender().Send(items)
	if err != nil {
		slog.Error("failed to send to zabbix", "error", err)
		return
	}
	slog.Info("zabbix response", "response", resp.String(), "count", len(items))
}
