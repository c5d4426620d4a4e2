package models

// MetricRecord is one normalized measurement destined for the monitoring
// backend. Key is a dotted namespace of the form "<site>.<field>", e.g.
// "cloudflare.download" or "inonius.IPv4_RTT". Value is the cleaned string
// extracted from the page; it is never empty (empty extractions are dropped
// before a record is built).
type MetricRecord struct {
	Host  string
	Key   string
	Value string
}
