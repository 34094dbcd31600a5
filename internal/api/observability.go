package api

import (
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics with bounded cardinality: no per-player or per-frame labels.
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Time spent advancing the simulation one tick",
		Buckets: []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.016, 0.033},
	})

	rollbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_rollback_total",
		Help: "Rollback-and-replay cycles executed",
	})

	desyncTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_desync_total",
		Help: "Desyncs committed against any peer",
	})

	rejectedInputTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_rejected_input_total",
		Help: "Remote inputs rejected at the boundary",
	})

	currentFrame = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sim_current_frame",
		Help: "Frame the simulation has advanced to",
	})

	peerConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "peer_connections_active",
		Help: "Currently connected peer links",
	})

	peerMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peer_messages_sent_total",
		Help: "Input and hash messages sent to peers",
	})

	peerMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peer_messages_received_total",
		Help: "Input and hash messages received from peers",
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or peer cap",
	}, []string{"reason"}) // bounded: "rate_limit", "peer_limit", "bad_frame"
)

// RecordTick records one tick's wall-clock duration.
func RecordTick(duration time.Duration) {
	tickDuration.Observe(duration.Seconds())
}

// RecordStats publishes the session counters after a tick.
func RecordStats(frame int64, rollbacks, desyncs, rejected uint64) {
	currentFrame.Set(float64(frame))
	setCounter(rollbackTotal, &lastRollbacks, rollbacks)
	setCounter(desyncTotal, &lastDesyncs, desyncs)
	setCounter(rejectedInputTotal, &lastRejected, rejected)
}

// Counters only move forward; RecordStats receives absolutes, so the
// deltas are tracked here.
var lastRollbacks, lastDesyncs, lastRejected uint64

func setCounter(c prometheus.Counter, last *uint64, now uint64) {
	if now > *last {
		c.Add(float64(now - *last))
		*last = now
	}
}

// RecordConnectionRejected increments the rejection counter. reason must
// be one of the bounded label values listed on the metric.
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// ObservabilityConfig configures the localhost debug server.
type ObservabilityConfig struct {
	Enabled    bool
	ListenAddr string
}

// DefaultObservabilityConfig binds to localhost only; pprof must never be
// reachable from outside the machine.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{Enabled: true, ListenAddr: "127.0.0.1:6060"}
}

// StartDebugServer starts the pprof + metrics server on localhost.
func StartDebugServer(cfg ObservabilityConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.ListenAddr != "127.0.0.1:6060" && cfg.ListenAddr != "localhost:6060" {
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Println("debug server forced to localhost")
			cfg.ListenAddr = "127.0.0.1:6060"
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		log.Printf("debug server on %s", cfg.ListenAddr)
		if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
			log.Printf("debug server error: %v", err)
		}
	}()
}
