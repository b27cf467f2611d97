package storage

import (
	"context"
	"errors"

	"github.com/haasonsaas/telemetry-pipeline/pkg/models"
)

var ErrNotFound = errors.New("not found")

// AllServicesSentinel is the service value a dashboard sends to mean "no
// filter" once a human picks "All Services" from a dropdown rather than
// leaving the field blank. List implementations treat it identically to an
// absent/empty service.
const AllServicesSentinel = "All Services"

// AlertListLimit bounds the number of alerts a single List call returns,
// most recent first.
const AlertListLimit = 50

// MetricListLimit bounds the number of metric samples a single List call
// returns, oldest first among the most recent MetricListLimit.
const MetricListLimit = 60

func serviceFilterActive(service string) bool {
	return service != "" && service != AllServicesSentinel
}

// AlertStore persists service-level anomaly alerts.
type AlertStore interface {
	Create(ctx context.Context, alert *models.Alert) error
	List(ctx context.Context, service string) ([]*models.Alert, error)
}

// MetricStore persists per-service metric samples.
type MetricStore interface {
	Create(ctx context.Context, sample *models.MetricSample) error
	List(ctx context.Context, service string, metricType models.MetricType) ([]*models.MetricSample, error)
}

// TraceStore persists forensic trace-inventory records, upserted by
// trace_id since a trace straddling a window boundary may be written
// more than once.
type TraceStore interface {
	Upsert(ctx context.Context, rec *models.TraceRecord) error
	Get(ctx context.Context, traceID string) (*models.TraceRecord, error)
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Alerts  AlertStore
	Metrics MetricStore
	Traces  TraceStore
	closer  func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
