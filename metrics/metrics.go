// Package metrics counts the traffic crossing the bridge. All metrics live in the default registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/udferr"
)

var (
	// ForeignCalls counts calls into foreign runtimes by language, entry point and outcome.
	ForeignCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udfbridge_foreign_calls_total",
			Help: "Total number of calls into foreign runtimes",
		},
		[]string{"language", "entry_point", "status"},
	)
	ForeignCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "udfbridge_foreign_call_duration_seconds",
			Help:    "Latency of calls into foreign runtimes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"language", "entry_point"},
	)
	// LargeBinaries counts finished write streams by outcome.
	LargeBinaries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udfbridge_large_binaries_total",
			Help: "Total number of large binary write streams",
		},
		[]string{"outcome"},
	)
	LargeBinaryBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udfbridge_large_binary_bytes_total",
			Help: "Total number of large binary payload bytes moved",
		},
		[]string{"direction"},
	)
)

// Status is the label of a call's outcome.
func Status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case err == execution.ErrEndOfStream:
		return "exhausted"
	}
	return udferr.KindOf(err).String()
}

func ObserveCall(language, entryPoint string, took time.Duration, err error) {
	ForeignCalls.WithLabelValues(language, entryPoint, Status(err)).Inc()
	ForeignCallDuration.WithLabelValues(language, entryPoint).Observe(took.Seconds())
}

// WriteToFile writes all metrics in the text exposition format, e.g. for the node exporter's textfile collector.
func WriteToFile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
