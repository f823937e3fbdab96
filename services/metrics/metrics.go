// Package metrics holds the node's prometheus collectors. On the host they
// are served by `fieldnode run --metrics`; on a device they only count.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var StoreAppends = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "fieldnode_store_appends_total",
		Help: "Records appended to the measurement log",
	},
)

var StoreAppendFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "fieldnode_store_append_failures_total",
		Help: "Appends abandoned on a flash program or erase error",
	},
)

var StoreRecoveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fieldnode_store_recoveries_total",
		Help: "Boot-time cursor recoveries by path (cache, scan, empty)",
	},
	[]string{"path"},
)

var StoreAvailable = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "fieldnode_store_available_records",
		Help: "Records currently retained in the log",
	},
)

var Rounds = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "fieldnode_rounds_total",
		Help: "Completed measurement rounds",
	},
)

var SensorErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fieldnode_sensor_errors_total",
		Help: "Slot measurements degraded to empty records",
	},
	[]string{"slot"},
)

var RadioFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fieldnode_radio_failures_total",
		Help: "Join or uplink attempts that failed or timed out",
	},
	[]string{"stage"},
)

func init() {
	prometheus.MustRegister(
		StoreAppends,
		StoreAppendFailures,
		StoreRecoveries,
		StoreAvailable,
		Rounds,
		SensorErrors,
		RadioFailures)
}
