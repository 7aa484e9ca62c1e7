// Prometheus metrics for the seeder: progress, batch latency, KB size.
package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// seederMetrics are registered on a private registry served by serveMetrics.
type seederMetrics struct {
	rowsTotal      *prometheus.CounterVec
	rowsFailed     *prometheus.CounterVec
	batchesTotal   prometheus.Counter
	batchDuration  prometheus.Histogram
	embedTokens    prometheus.Counter
	cursorPosition prometheus.Gauge
	kbRecords      *prometheus.GaugeVec
}

func newSeederMetrics(reg prometheus.Registerer) *seederMetrics {
	m := &seederMetrics{
		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mathroute_kbseed",
			Name:      "rows_total",
			Help:      "Rows written to the knowledge base by outcome (inserted, duplicate)",
		}, []string{"outcome"}),

		rowsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mathroute_kbseed",
			Name:      "rows_failed_total",
			Help:      "Rows that could not be seeded",
		}, []string{"reason"}),

		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mathroute_kbseed",
			Name:      "batches_total",
			Help:      "Batches processed",
		}),

		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mathroute_kbseed",
			Name:      "batch_duration_seconds",
			Help:      "Embed plus insert duration per batch",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		embedTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mathroute_kbseed",
			Name:      "embedding_tokens_total",
			Help:      "Tokens consumed embedding questions",
		}),

		cursorPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mathroute_kbseed",
			Name:      "cursor_position",
			Help:      "Rows committed in order from the start of the dataset",
		}),

		kbRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mathroute_kbseed",
			Name:      "kb_records",
			Help:      "Knowledge base size by provenance",
		}, []string{"provenance"}),
	}

	reg.MustRegister(
		m.rowsTotal, m.rowsFailed,
		m.batchesTotal, m.batchDuration,
		m.embedTokens, m.cursorPosition, m.kbRecords,
	)
	return m
}

// serveMetrics starts an HTTP server for Prometheus scrapes of reg.
func serveMetrics(port string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	return srv
}

// sizePoller periodically exports the KB size until ctx is done.
type sizePoller struct {
	kb       kbCounter
	metrics  *seederMetrics
	interval time.Duration
	logger   *zap.Logger
}

func (p *sizePoller) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.poll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.poll(ctx)
			}
		}
	}()
}

func (p *sizePoller) poll(ctx context.Context) {
	for _, prov := range provenances {
		n, err := p.kb.CountByProvenance(ctx, prov)
		if err != nil {
			p.logger.Debug("KB size poll failed", zap.String("provenance", string(prov)), zap.Error(err))
			continue
		}
		p.metrics.kbRecords.WithLabelValues(string(prov)).Set(float64(n))
	}
}
