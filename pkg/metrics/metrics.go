package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Heartbeat metrics
	PulsesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodehealth_pulses_sent_total",
			Help: "Total number of pulse requests sent by network",
		},
		[]string{"network"},
	)

	PulsesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodehealth_pulses_received_total",
			Help: "Total number of pulse responses credited by network",
		},
		[]string{"network"},
	)

	PulsesOutOfSequence = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodehealth_pulses_out_of_sequence_total",
			Help: "Total number of pulse responses rejected for sequence mismatch",
		},
		[]string{"network"},
	)

	PulsesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodehealth_pulses_dropped_total",
			Help: "Total number of datagrams dropped by reason",
		},
		[]string{"reason"},
	)

	PeerMisses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nodehealth_peer_consecutive_misses",
			Help: "Current consecutive miss count by peer and network",
		},
		[]string{"hostname", "network"},
	)

	PeersMonitored = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nodehealth_peers_monitored",
			Help: "Number of peers monitored by network",
		},
		[]string{"network"},
	)

	MNFAActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodehealth_mnfa_active",
			Help: "Whether multi-node-failure-avoidance hold-off is active (1 = active)",
		},
	)

	InterfaceReinits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodehealth_interface_reinits_total",
			Help: "Total number of socket reinitializations by network",
		},
		[]string{"network"},
	)

	// Alarm metrics
	AlarmsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodehealth_alarms_raised_total",
			Help: "Total number of alarm sets forwarded to FM by alarm id",
		},
		[]string{"alarm_id"},
	)

	AlarmsCleared = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodehealth_alarms_cleared_total",
			Help: "Total number of alarm clears forwarded to FM by alarm id",
		},
		[]string{"alarm_id"},
	)

	// Process monitor metrics
	ProcessRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodehealth_process_restarts_total",
			Help: "Total number of process respawns by process",
		},
		[]string{"process"},
	)

	ProcessFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodehealth_process_failures_total",
			Help: "Total number of process failures by process and mode",
		},
		[]string{"process", "mode"},
	)

	ProcessesMonitored = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nodehealth_processes_monitored",
			Help: "Number of supervised processes by mode",
		},
		[]string{"mode"},
	)

	QuorumFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nodehealth_quorum_failures_total",
			Help: "Total number of quorum process failures",
		},
	)

	ConfigReloads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nodehealth_config_reloads_total",
			Help: "Total number of process profile reloads",
		},
	)

	// Timer service metrics
	TimersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodehealth_timers_active",
			Help: "Number of armed logical timers",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PulsesSent,
		PulsesReceived,
		PulsesOutOfSequence,
		PulsesDropped,
		PeerMisses,
		PeersMonitored,
		MNFAActive,
		InterfaceReinits,
		AlarmsRaised,
		AlarmsCleared,
		ProcessRestarts,
		ProcessFailures,
		ProcessesMonitored,
		QuorumFailures,
		ConfigReloads,
		TimersActive,
	)
}

// Serve exposes the prometheus endpoint on addr. Runs until the process
// exits; callers start it on its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}
