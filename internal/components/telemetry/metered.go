package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeteredAPI forwards every report to inner and also exports broken and
// warning reports as a counter and counts as a gauge.
type MeteredAPI struct {
	inner   API
	reports metric.Int64Counter
	counts  metric.Int64Gauge
}

func NewMeteredAPI(inner API, meter metric.Meter) (MeteredAPI, error) {
	reports, err := meter.Int64Counter(
		"ireps_reports_total",
		metric.WithDescription("Broken and warning reports by component id."),
	)
	if err != nil {
		return MeteredAPI{}, err
	}
	counts, err := meter.Int64Gauge(
		"ireps_count",
		metric.WithDescription("Counts reported by components."),
	)
	if err != nil {
		return MeteredAPI{}, err
	}
	return MeteredAPI{inner: inner, reports: reports, counts: counts}, nil
}

func (m MeteredAPI) ReportBroken(id string, params ...any) {
	m.reports.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", "broken"),
		attribute.String("id", id),
	))
	m.inner.ReportBroken(id, params...)
}

func (m MeteredAPI) ReportWarning(id string, params ...any) {
	m.reports.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", "warning"),
		attribute.String("id", id),
	))
	m.inner.ReportWarning(id, params...)
}

func (m MeteredAPI) ReportDebug(msg string, params ...any) {
	m.inner.ReportDebug(msg, params...)
}

func (m MeteredAPI) ReportCount(id string, count int64) {
	m.counts.Record(context.Background(), count, metric.WithAttributes(attribute.String("id", id)))
	m.inner.ReportCount(id, count)
}
