// Package metrics turns raw scraped strings into normalized metric records
// and forwards them to the monitoring backend.
package metrics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/use-agent/speedgauge/models"
)

// Measure extracts a "<number> <unit>" pair from raw text that may mix a
// label with the value. unitPattern is a regex alternation such as "Mbps"
// or "ms|μs|us". Microsecond-scale values are converted to milliseconds
// and formatted to 3 decimal places. The second return is false when no
// measurement could be parsed.
func Measure(raw, unitPattern string) (string, bool) {
	if raw == "" {
		return "", false
	}
	re, err := regexp.Compile(`(?i)([\d.]+)\s*(` + unitPattern + `)`)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return "", false
	}
	unit := strings.ToLower(m[2])
	if strings.Contains(unit, "μ") || strings.Contains(unit, "u") {
		return fmt.Sprintf("%.3f", v/1000.0), true
	}
	return strconv.FormatFloat(v, 'f', -1, 64), true
}

// AfterLabel returns the part of raw following the first occurrence of
// label, or raw unchanged when the label is absent.
func AfterLabel(raw, label string) string {
	if _, after, found := strings.Cut(raw, label); found {
		return after
	}
	return raw
}

// StripUnits removes every given unit substring and trims whitespace.
func StripUnits(raw string, units ...string) string {
	for _, u := range units {
		raw = strings.ReplaceAll(raw, u, "")
	}
	return strings.TrimSpace(raw)
}

// FirstToken returns the first whitespace-delimited token of raw, or ""
// when raw is blank.
func FirstToken(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// LastToken returns the last whitespace-delimited token of raw, or ""
// when raw is blank. Used for sentence-form readouts where the value is
// the trailing word.
func LastToken(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// StripPercent removes a "%" suffix and surrounding whitespace.
func StripPercent(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, "%", ""))
}

// Builder assembles the metric batch for one site. Empty values are
// dropped silently: a record is only built from a non-empty, successfully
// cleaned extraction.
type Builder struct {
	host    string
	site    string
	records []models.MetricRecord
}

// NewBuilder creates a Builder for the given target host label and site.
func NewBuilder(host, site string) *Builder {
	return &Builder{host: host, site: site}
}

// Add appends one record under the key "<site>.<field>". Blank values are
// ignored.
func (b *Builder) Add(field, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	b.records = append(b.records, models.MetricRecord{
		Host:  b.host,
		Key:   b.site + "." + field,
		Value: value,
	})
}

// Len reports how many records have been collected.
func (b *Builder) Len() int { return len(b.records) }

// Records returns the collected batch.
func (b *Builder) Records() []models.MetricRecord { return b.records }
