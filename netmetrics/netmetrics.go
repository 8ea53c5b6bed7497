// Package netmetrics declares the Prometheus instrumentation for a
// running Socket. It follows metrics/metrics.go's construction style
// directly: a package-level var block of promauto collectors, with an
// init() log line confirming registration.
package netmetrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionCount counts successful client admissions.
	AdmissionCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netcore_admission_total",
		Help: "Number of clients admitted into ClientStorage.",
	})

	// RejectedAdmissionCount counts admissions refused, by reason.
	RejectedAdmissionCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netcore_admission_rejected_total",
		Help: "Number of Connect attempts rejected, by reason.",
	}, []string{"reason"})

	// BlacklistCount counts addresses added to the blacklist.
	BlacklistCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netcore_blacklist_total",
		Help: "Number of addresses blacklisted.",
	})

	// ErrorCount counts socket-level errors, by kind.
	ErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netcore_error_total",
		Help: "Number of socket errors observed, by kind.",
	}, []string{"kind"})

	// PacketIOHistogram measures packet size in bytes (envelope header
	// plus payload) for sent and received packets.
	PacketIOHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netcore_packet_bytes",
		Help:    "Size in bytes of packets sent/received.",
		Buckets: prometheus.ExponentialBuckets(8, 2, 10),
	}, []string{"direction"})

	// TaskLatencyHistogram measures how long each scheduled task callback
	// takes to run.
	TaskLatencyHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netcore_task_duration_seconds",
		Help:    "Duration of scheduled task callbacks.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	// ConnectedClientsGauge reports the current number of live records.
	ConnectedClientsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netcore_connected_clients",
		Help: "Current number of live client records.",
	})
)

func init() {
	log.Println("netmetrics: prometheus collectors registered")
}
