package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is a Prometheus-backed Recorder. Metrics are registered on
// first use.
type Collector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	transitions *prometheus.CounterVec
	dispatched  prometheus.Counter
	completed   prometheus.Counter
	records     *prometheus.CounterVec
	mergeTime   prometheus.Histogram
	closed      prometheus.Counter
	flushes     *prometheus.CounterVec
	flushRows   *prometheus.CounterVec
	flushTime   prometheus.Histogram
}

var _ Recorder = (*Collector)(nil)

// NewCollector returns a Collector registering on reg (the default
// registerer when nil) under namespace ("hol" when empty).
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "hol"
	}
	return &Collector{reg: reg, namespace: namespace}
}

func (c *Collector) ensureRegistered() {
	c.once.Do(func() {
		c.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: "coordinator",
			Name:      "state_transitions_total",
			Help:      "Coordinator state transitions by target state.",
		}, []string{"from", "to"})
		c.dispatched = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: "coordinator",
			Name:      "batches_dispatched_total",
			Help:      "Work items sent to workers.",
		})
		c.completed = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: "coordinator",
			Name:      "batches_completed_total",
			Help:      "Work items reported done by workers.",
		})
		c.records = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: "coordinator",
			Name:      "records_total",
			Help:      "Records by outcome (counted, skipped, filtered).",
		}, []string{"outcome"})
		c.mergeTime = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: c.namespace,
			Subsystem: "coordinator",
			Name:      "merge_seconds",
			Help:      "Time to fold one worker snapshot into the accumulator.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		})
		c.closed = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: "coordinator",
			Name:      "workers_closed_total",
			Help:      "Workers that sent their final exit.",
		})
		c.flushes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: "store",
			Name:      "flushes_total",
			Help:      "Flushes by table and result (success, failure).",
		}, []string{"table", "result"})
		c.flushRows = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: "store",
			Name:      "flushed_rows_total",
			Help:      "Rows upserted by table.",
		}, []string{"table"})
		c.flushTime = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: c.namespace,
			Subsystem: "store",
			Name:      "flush_seconds",
			Help:      "Duration of one flush transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		})

		c.reg.MustRegister(
			c.transitions, c.dispatched, c.completed, c.records, c.mergeTime,
			c.closed, c.flushes, c.flushRows, c.flushTime,
		)
	})
}

func (c *Collector) RecordStateTransition(from, to string) {
	c.ensureRegistered()
	c.transitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) RecordBatchDispatched() {
	c.ensureRegistered()
	c.dispatched.Inc()
}

func (c *Collector) RecordBatchCompleted(records, skipped, filtered int) {
	c.ensureRegistered()
	c.completed.Inc()
	c.records.WithLabelValues("counted").Add(float64(records))
	c.records.WithLabelValues("skipped").Add(float64(skipped))
	c.records.WithLabelValues("filtered").Add(float64(filtered))
}

func (c *Collector) RecordMerge(d time.Duration) {
	c.ensureRegistered()
	c.mergeTime.Observe(d.Seconds())
}

func (c *Collector) RecordWorkerClosed() {
	c.ensureRegistered()
	c.closed.Inc()
}

func (c *Collector) RecordFlush(table string, rows int, d time.Duration, err error) {
	c.ensureRegistered()
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.flushes.WithLabelValues(table, result).Inc()
	if err == nil {
		c.flushRows.WithLabelValues(table).Add(float64(rows))
	}
	c.flushTime.Observe(d.Seconds())
}

// Server exposes a gatherer on /metrics.
type Server struct {
	addr     string
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewServer returns a server for addr. A nil gatherer serves the default
// registry.
func NewServer(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, gatherer: gatherer, logger: logger}
}

// Handler returns the HTTP handler serving /metrics and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("metrics_server_started", slog.String("addr", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(listener) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}
