// Package metrics exposes the ambient Prometheus counters/gauges that give
// operators visibility into discovery, polling, and reconciliation cycles.
// The gateway's core logic never reads these back; they are pure
// observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DiscoveryCycles counts discovery+commit cycles per service section.
	DiscoveryCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bacnet_gateway_discovery_cycles_total",
		Help: "Number of discovery cycles completed, by service section.",
	}, []string{"section"})

	// DevicesKnown is the size of the in-memory device set at the end of
	// the most recent Device Inventory cycle.
	DevicesKnown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bacnet_gateway_devices_known",
		Help: "Number of devices in the in-memory inventory after the last discovery cycle.",
	})

	// PointsPolled counts successful point reads during Poller cycles.
	PointsPolled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bacnet_gateway_points_polled_total",
		Help: "Number of point reads that completed successfully during polling.",
	})

	// ReadFailures counts property/point reads that failed and were
	// skipped, by originating component.
	ReadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bacnet_gateway_read_failures_total",
		Help: "Number of property or point reads that failed and were skipped.",
	}, []string{"component"})

	// DBErrors counts database operation failures by operation kind.
	DBErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bacnet_gateway_db_errors_total",
		Help: "Number of database operation failures, by operation.",
	}, []string{"operation"})

	// ConfigSyncs counts Config Store sync invocations triggered by the
	// Change Watcher.
	ConfigSyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bacnet_gateway_config_syncs_total",
		Help: "Number of times the Config Store was synced from disk.",
	})
)
