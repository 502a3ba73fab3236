// Package metrics exposes sync engine counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Media relay outcomes.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Collector holds the engine's metrics on a private registry. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry
	start    time.Time

	inboundRecords    prometheus.Counter
	mediaRelay        *prometheus.CounterVec
	outboundDelivered prometheus.Counter
	retentionDeleted  prometheus.Counter
	deletesSynced     prometheus.Counter
	phaseErrors       *prometheus.CounterVec
	cursor            *prometheus.GaugeVec
	cycleDuration     prometheus.Histogram
}

// New creates a collector with every metric registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		start:    time.Now(),
		inboundRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tgmirror_inbound_records_total",
			Help: "Source messages stored as new records.",
		}),
		mediaRelay: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgmirror_media_relay_total",
			Help: "Attachment relay attempts by result.",
		}, []string{"result"}),
		outboundDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tgmirror_outbound_delivered_total",
			Help: "Application records delivered to the source platform.",
		}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tgmirror_retention_deleted_total",
			Help: "Records logically deleted by retention.",
		}),
		deletesSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tgmirror_deletes_propagated_total",
			Help: "Application-deleted records whose source message and relay object were removed.",
		}),
		phaseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgmirror_phase_errors_total",
			Help: "Non-fatal errors by phase and kind.",
		}, []string{"phase", "kind"}),
		cursor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tgmirror_cursor",
			Help: "Last processed source message id per channel.",
		}, []string{"channel"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tgmirror_cycle_duration_seconds",
			Help:    "Wall time of one full orchestrator cycle.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
	c.registry.MustRegister(
		c.inboundRecords,
		c.mediaRelay,
		c.outboundDelivered,
		c.retentionDeleted,
		c.deletesSynced,
		c.phaseErrors,
		c.cursor,
		c.cycleDuration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tgmirror_uptime_seconds",
			Help: "Time since start in seconds.",
		}, func() float64 { return time.Since(c.start).Seconds() }),
		collectors.NewGoCollector(),
	)
	return c
}

func (c *Collector) InboundRecord() {
	if c != nil {
		c.inboundRecords.Inc()
	}
}

func (c *Collector) MediaRelay(result string) {
	if c != nil {
		c.mediaRelay.WithLabelValues(result).Inc()
	}
}

func (c *Collector) OutboundDelivered() {
	if c != nil {
		c.outboundDelivered.Inc()
	}
}

func (c *Collector) RetentionDeleted() {
	if c != nil {
		c.retentionDeleted.Inc()
	}
}

func (c *Collector) DeletePropagated() {
	if c != nil {
		c.deletesSynced.Inc()
	}
}

func (c *Collector) PhaseError(phase, kind string) {
	if c != nil {
		c.phaseErrors.WithLabelValues(phase, kind).Inc()
	}
}

func (c *Collector) SetCursor(channel string, id int64) {
	if c != nil {
		c.cursor.WithLabelValues(channel).Set(float64(id))
	}
}

func (c *Collector) ObserveCycle(d time.Duration) {
	if c != nil {
		c.cycleDuration.Observe(d.Seconds())
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler renders the registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics and /healthz on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{\"status\":\"ok\"}"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
