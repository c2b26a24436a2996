package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/topicmux/topicmux/internal/config"
	"github.com/topicmux/topicmux/internal/connection"
	"github.com/topicmux/topicmux/internal/recorder"
)

// ConnSource reports connection counters. *client.Client satisfies it.
type ConnSource interface {
	Stats() connection.Stats
	PendingCalls() int
}

// RecorderSource reports recorder counters. *recorder.Recorder satisfies it.
type RecorderSource interface {
	Stats() recorder.Metrics
	BufferLen() int
}

// Collector reads counters from the client and recorder at scrape time.
type Collector struct {
	conn ConnSource
	rec  RecorderSource

	connected    *prometheus.Desc
	generation   *prometheus.Desc
	queueLen     *prometheus.Desc
	messages     *prometheus.Desc
	reconnects   *prometheus.Desc
	dropped      *prometheus.Desc
	pendingCalls *prometheus.Desc

	recInserts   *prometheus.Desc
	recErrors    *prometheus.Desc
	recFlushes   *prometheus.Desc
	recSnapshots *prometheus.Desc
	recSkipped   *prometheus.Desc
	recBuffered  *prometheus.Desc
}

// NewCollector creates a collector. rec may be nil when no recorder runs.
func NewCollector(conn ConnSource, rec RecorderSource) *Collector {
	return &Collector{
		conn: conn,
		rec:  rec,

		connected: prometheus.NewDesc("topicmux_connected",
			"Whether the topic connection is open (1) or not (0).", nil, nil),
		generation: prometheus.NewDesc("topicmux_connection_generation",
			"Monotonic counter of connection attempts.", nil, nil),
		queueLen: prometheus.NewDesc("topicmux_send_queue_depth",
			"Requests queued while disconnected.", nil, nil),
		messages: prometheus.NewDesc("topicmux_messages_total",
			"Inbound messages dispatched.", nil, nil),
		reconnects: prometheus.NewDesc("topicmux_reconnects_total",
			"Reconnect attempts made.", nil, nil),
		dropped: prometheus.NewDesc("topicmux_dropped_total",
			"Inbound messages dropped as undecodable.", nil, nil),
		pendingCalls: prometheus.NewDesc("topicmux_pending_calls",
			"RPC calls awaiting a reply.", nil, nil),

		recInserts: prometheus.NewDesc("topicmux_recorder_inserts_total",
			"Update rows written to the database.", nil, nil),
		recErrors: prometheus.NewDesc("topicmux_recorder_errors_total",
			"Failed database flushes.", nil, nil),
		recFlushes: prometheus.NewDesc("topicmux_recorder_flushes_total",
			"Completed batch flushes.", nil, nil),
		recSnapshots: prometheus.NewDesc("topicmux_recorder_snapshots_total",
			"Full topic snapshots persisted.", nil, nil),
		recSkipped: prometheus.NewDesc("topicmux_recorder_skipped_total",
			"Updates for unrecorded topics skipped.", nil, nil),
		recBuffered: prometheus.NewDesc("topicmux_recorder_buffer_depth",
			"Updates waiting for the batcher.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.conn.Stats()

	connected := 0.0
	if stats.State == connection.StateOpen {
		connected = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected)
	ch <- prometheus.MustNewConstMetric(c.generation, prometheus.CounterValue, float64(stats.Generation))
	ch <- prometheus.MustNewConstMetric(c.queueLen, prometheus.GaugeValue, float64(stats.QueueLen))
	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(stats.Messages))
	ch <- prometheus.MustNewConstMetric(c.reconnects, prometheus.CounterValue, float64(stats.Reconnects))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(stats.Dropped))
	ch <- prometheus.MustNewConstMetric(c.pendingCalls, prometheus.GaugeValue, float64(c.conn.PendingCalls()))

	if c.rec == nil {
		return
	}
	rec := c.rec.Stats()
	ch <- prometheus.MustNewConstMetric(c.recInserts, prometheus.CounterValue, float64(rec.Inserts))
	ch <- prometheus.MustNewConstMetric(c.recErrors, prometheus.CounterValue, float64(rec.Errors))
	ch <- prometheus.MustNewConstMetric(c.recFlushes, prometheus.CounterValue, float64(rec.Flushes))
	ch <- prometheus.MustNewConstMetric(c.recSnapshots, prometheus.CounterValue, float64(rec.Snapshots))
	ch <- prometheus.MustNewConstMetric(c.recSkipped, prometheus.CounterValue, float64(rec.Skipped))
	ch <- prometheus.MustNewConstMetric(c.recBuffered, prometheus.GaugeValue, float64(c.rec.BufferLen()))
}

// Serve runs the metrics HTTP endpoint until ctx is cancelled.
func Serve(ctx context.Context, cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "addr", srv.Addr, "path", cfg.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
