// Package http exposes the resolution service over HTTP: the /audio and
// /search surfaces plus health and Prometheus endpoints.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"wevibe/internal/core"
)

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	metrics *Metrics
}

type Metrics struct {
	ResolutionsTotal   *prometheus.CounterVec
	CacheHitsTotal     *prometheus.CounterVec
	ExtractionsTotal   *prometheus.CounterVec
	SearchesTotal      *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
	VolatileEntries    prometheus.Gauge
}

func NewServer(config *core.ServerConfig, resolver AudioResolver, searcher Searcher, logger *zap.Logger) *Server {
	return newServer(config, resolver, searcher, logger, prometheus.DefaultRegisterer)
}

func newServer(config *core.ServerConfig, resolver AudioResolver, searcher Searcher, logger *zap.Logger, reg prometheus.Registerer) *Server {
	metrics := &Metrics{
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wevibe_resolutions_total",
				Help: "Total number of audio resolution attempts",
			},
			[]string{"outcome"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wevibe_cache_hits_total",
				Help: "Total number of resolutions served from a cache layer",
			},
			[]string{"layer"},
		),
		ExtractionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wevibe_extractions_total",
				Help: "Total number of stream extractions performed",
			},
			[]string{"status"},
		),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wevibe_searches_total",
				Help: "Total number of title search requests",
			},
			[]string{"status"},
		),
		ResolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wevibe_resolution_duration_seconds",
				Help:    "Time spent resolving a reference to a stream URL",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		VolatileEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wevibe_volatile_cache_entries",
				Help: "Current number of entries in the volatile audio cache",
			},
		),
	}

	reg.MustRegister(
		metrics.ResolutionsTotal,
		metrics.CacheHitsTotal,
		metrics.ExtractionsTotal,
		metrics.SearchesTotal,
		metrics.ResolutionDuration,
		metrics.VolatileEntries,
	)

	s := &Server{
		config:  config,
		logger:  logger,
		metrics: metrics,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/audio", s.handleAudio(resolver))
	mux.HandleFunc("/search", s.handleSearch(searcher))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "wevibe"})
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": "wevibe"})
	})

	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}

func (s *Server) SetVolatileEntries(count int) {
	s.metrics.VolatileEntries.Set(float64(count))
}
