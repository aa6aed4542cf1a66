package metrics

import (
	"sync"

	"github.com/datapipelabs/changegate/pkg/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type CgMetrics struct {
	EventsForwarded   metric.Int64Counter
	FeedReconnects    metric.Int64Counter
	ActiveSubscribers metric.Int64UpDownCounter
	FormationWait     metric.Float64Histogram
}

var (
	cgMetrics     *CgMetrics
	cgMetricsLock sync.Mutex
)

func GetCgMetrics() *CgMetrics {
	cgMetricsLock.Lock()

	if cgMetrics != nil {
		cgMetricsLock.Unlock()
		return cgMetrics
	}

	cgMetrics = newCgMetrics()

	cgMetricsLock.Unlock()
	return cgMetrics
}

func newCgMetrics() *CgMetrics {
	meter := otel.Meter(
		"com.datapipelabs.changegate",
		metric.WithInstrumentationVersion(version.Get()))

	eventsForwarded, _ := meter.Int64Counter("feed_events_forwarded_total")
	feedReconnects, _ := meter.Int64Counter("feed_reconnects_total")
	activeSubscribers, _ := meter.Int64UpDownCounter("subscribers_active")
	formationWait, _ := meter.Float64Histogram("formation_wait_duration_seconds")

	return &CgMetrics{
		EventsForwarded:   eventsForwarded,
		FeedReconnects:    feedReconnects,
		ActiveSubscribers: activeSubscribers,
		FormationWait:     formationWait,
	}
}
