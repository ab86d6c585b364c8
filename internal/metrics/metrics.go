// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes a process' internal Prometheus registry on its
// own listener (at the configured address) kept deliberately separate from
// the mTLS ingest port: metrics carry no per-request authentication of their own,
// and mixing that surface into the public-facing listener would be a
// privilege leak.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kaloix/home-sensor/pkg/log"
)

// Registry bundles the counters and gauges every component increments.
type Registry struct {
	RecordsIngested   *prometheus.CounterVec
	RecordsRejected   *prometheus.CounterVec
	AlertsFired       *prometheus.CounterVec
	OutboxDepth       prometheus.Gauge
	IngestDuration    prometheus.Histogram
	SupervisorTickDur prometheus.Histogram

	reg *prometheus.Registry
}

// New builds a fresh Registry; its own dedicated prometheus.Registry
// rather than the global default, so tests never leak series across runs.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		RecordsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensor",
			Name:      "records_ingested_total",
			Help:      "Accepted records, by series name.",
		}, []string{"series"}),
		RecordsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensor",
			Name:      "records_rejected_total",
			Help:      "Rejected ingest requests, by reason.",
		}, []string{"reason"}),
		AlertsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensor",
			Name:      "alerts_fired_total",
			Help:      "Non-OK classifications reported to the alerter per tick, including cool-down-suppressed ones, by classification.",
		}, []string{"classification"}),
		OutboxDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensor",
			Name:      "outbox_depth",
			Help:      "Entries currently queued in the station outbox.",
		}),
		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sensor",
			Name:      "ingest_request_duration_seconds",
			Help:      "Ingest HTTP handler latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		SupervisorTickDur: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sensor",
			Name:      "supervisor_tick_duration_seconds",
			Help:      "Time spent classifying and flushing alerts per tick.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Serve starts the metrics HTTP listener and blocks until ctx is canceled.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	log.Infof("metrics: listening on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
