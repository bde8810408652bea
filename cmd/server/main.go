// Package main is the entry point for the DeFi Risk Gauge service, which
// scores DeFi protocols on a 0-100 risk scale from live TVL and market data.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/yourorg/defi-risk-gauge/internal/circuitbreaker"
	"github.com/yourorg/defi-risk-gauge/internal/compare"
	"github.com/yourorg/defi-risk-gauge/internal/config"
	"github.com/yourorg/defi-risk-gauge/internal/fetch"
	"github.com/yourorg/defi-risk-gauge/internal/gauge"
	"github.com/yourorg/defi-risk-gauge/internal/otel"
	"github.com/yourorg/defi-risk-gauge/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server represents the risk gauge HTTP service
type Server struct {
	// Application configuration
	cfg config.Config

	// Per-protocol report assembly
	gauge *gauge.Gauge

	// Throttled comparison runs
	orchestrator *compare.Orchestrator

	// Upstream circuit breakers, exposed on /status
	breakers map[string]*circuitbreaker.Breaker

	// HTTP server instance
	server *http.Server

	// Prometheus metrics
	metrics *serverMetrics

	// Inbound request rate limiter
	rateLimit *rate.Limiter
}

// serverMetrics holds Prometheus metrics for the server
type serverMetrics struct {
	requestCounter    *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	riskScore         *prometheus.GaugeVec
	comparisonSkipped prometheus.Counter
}

// registerMetrics sets up Prometheus metrics collection
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskgauge_requests_total",
				Help: "Total number of requests processed",
			},
			[]string{"endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "riskgauge_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		riskScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskgauge_risk_score",
				Help: "Most recently computed risk score per protocol",
			},
			[]string{"protocol"},
		),
		comparisonSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "riskgauge_comparison_skipped_total",
				Help: "Protocols dropped from comparison runs for unusable data",
			},
		),
	}

	prometheus.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.riskScore,
		m.comparisonSkipped,
	)

	return m
}

// main is the entry point for the application
func main() {
	setupLogging()

	cfg := config.Load()

	shutdownTracer := otel.InitTracer(cfg)
	defer shutdownTracer()

	reg, err := registry.Load(cfg.ProtocolsJSON)
	if err != nil {
		logrus.Fatalf("Invalid protocol registry: %v", err)
	}

	server := NewServer(cfg, reg)
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	// Set log formatter based on environment
	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	// Set log level based on environment
	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

// NewServer wires the fetch clients, caches, gauge and orchestrator together
func NewServer(cfg config.Config, reg *registry.Registry) *Server {
	fetchOpts := fetch.OptionsFromConfig(cfg)

	llamaBreaker := circuitbreaker.New("defillama", cfg.BreakerFailureThreshold, cfg.BreakerCooldown)
	geckoBreaker := circuitbreaker.New("coingecko", cfg.BreakerFailureThreshold, cfg.BreakerCooldown)

	llama := fetch.NewDefiLlamaClient(cfg.DefiLlamaURL, fetchOpts, llamaBreaker)
	gecko := fetch.NewCoinGeckoClient(cfg.CoinGeckoURL, fetchOpts, geckoBreaker)

	g := gauge.New(reg, llama, gecko, gauge.OptionsFromConfig(cfg))

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)

	server := &Server{
		cfg:          cfg,
		gauge:        g,
		orchestrator: compare.New(g, compare.ScheduleFromConfig(cfg), limiter),
		breakers: map[string]*circuitbreaker.Breaker{
			"defillama": llamaBreaker,
			"coingecko": geckoBreaker,
		},
		metrics:   registerMetrics(),
		rateLimit: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
	}

	logrus.WithFields(logrus.Fields{
		"port":           cfg.Port,
		"protocol_count": reg.Len(),
		"cache_ttl":      cfg.CacheTTL,
		"max_attempts":   cfg.FetchMaxAttempts,
	}).Info("Server initialized")

	return server
}

// routes builds the request multiplexer; split out so tests can exercise
// handlers without a listening socket
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/protocols", s.handleProtocols)
	mux.HandleFunc("/risk", s.handleRisk)
	mux.HandleFunc("/scenario", s.handleScenario)
	mux.HandleFunc("/compare", s.handleCompare)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.cfg.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server shutdown failed: %v", err)
	}

	logrus.Info("Server stopped")
}

// allow applies the inbound rate limit, answering 429 when exhausted
func (s *Server) allow(w http.ResponseWriter, endpoint string) bool {
	if s.rateLimit.Allow() {
		return true
	}
	s.errorResponse(w, endpoint, http.StatusTooManyRequests, "Rate limit exceeded")
	return false
}

// handleProtocols lists the protocol catalog
func (s *Server) handleProtocols(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, "protocols") {
		return
	}

	type entry struct {
		ID          string  `json:"id"`
		Description string  `json:"description"`
		AuditScore  float64 `json:"audit_score"`
	}
	protocols := s.gauge.Registry().All()
	out := make([]entry, 0, len(protocols))
	for _, p := range protocols {
		out = append(out, entry{ID: p.ID, Description: p.Description, AuditScore: p.AuditScore})
	}

	s.writeJSON(w, "protocols", http.StatusOK, map[string]interface{}{
		"protocols": out,
		"count":     len(out),
	})
}

// handleRisk serves the full risk report for one protocol; history=true
// attaches the TVL time series
func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, "risk") {
		return
	}
	start := time.Now()

	id := r.URL.Query().Get("protocol")
	if id == "" {
		s.errorResponse(w, "risk", http.StatusBadRequest, "Missing protocol parameter")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	report, err := s.gauge.Snapshot(ctx, id)
	if err != nil {
		if errors.Is(err, gauge.ErrUnknownProtocol) {
			s.errorResponse(w, "risk", http.StatusNotFound, err.Error())
			return
		}
		s.errorResponse(w, "risk", http.StatusInternalServerError, err.Error())
		return
	}

	if r.URL.Query().Get("history") == "true" {
		history, err := s.gauge.History(ctx, id)
		if err == nil && history.Available {
			report.History = history.Value
		}
	}

	s.metrics.riskScore.WithLabelValues(report.ID).Set(report.RiskScore)
	s.metrics.requestDuration.WithLabelValues("risk").Observe(time.Since(start).Seconds())
	s.writeJSON(w, "risk", http.StatusOK, report)
}

// handleScenario evaluates the risk score under scaled volatility
func (s *Server) handleScenario(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, "scenario") {
		return
	}

	id := r.URL.Query().Get("protocol")
	if id == "" {
		s.errorResponse(w, "scenario", http.StatusBadRequest, "Missing protocol parameter")
		return
	}

	multipliers, err := parseMultipliers(r.URL.Query().Get("multipliers"))
	if err != nil {
		s.errorResponse(w, "scenario", http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	points, err := s.gauge.Scenario(ctx, id, multipliers)
	if err != nil {
		if errors.Is(err, gauge.ErrUnknownProtocol) {
			s.errorResponse(w, "scenario", http.StatusNotFound, err.Error())
			return
		}
		s.errorResponse(w, "scenario", http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, "scenario", http.StatusOK, map[string]interface{}{
		"protocol":  id,
		"scenarios": points,
	})
}

// handleCompare ranks the base protocol against the requested peers
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, "compare") {
		return
	}
	start := time.Now()

	base := r.URL.Query().Get("base")
	if base == "" {
		s.errorResponse(w, "compare", http.StatusBadRequest, "Missing base parameter")
		return
	}
	others := splitList(r.URL.Query().Get("with"))
	if len(others) == 0 {
		s.errorResponse(w, "compare", http.StatusBadRequest, "Missing with parameter")
		return
	}

	// Comparison runs pace themselves; budget for the whole schedule
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout*time.Duration(len(others)+1))
	defer cancel()

	result, err := s.orchestrator.Run(ctx, base, others)
	if err != nil {
		if errors.Is(err, gauge.ErrUnknownProtocol) {
			s.errorResponse(w, "compare", http.StatusNotFound, err.Error())
			return
		}
		s.errorResponse(w, "compare", http.StatusInternalServerError, err.Error())
		return
	}

	s.metrics.comparisonSkipped.Add(float64(result.Skipped))
	s.metrics.requestDuration.WithLabelValues("compare").Observe(time.Since(start).Seconds())
	s.writeJSON(w, "compare", http.StatusOK, result)
}

// handleHealth is a simple health check endpoint. Exempt from the inbound
// rate limiter and request counters so liveness probes always get an answer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "OK",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information. Like /health it
// bypasses the rate limiter: operators need it most when traffic is heavy.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	breakers := make(map[string]string, len(s.breakers))
	for name, b := range s.breakers {
		breakers[name] = b.GetState().String()
	}

	status := map[string]interface{}{
		"status":    "operational",
		"uptime":    time.Since(startTime).String(),
		"version":   "1.0.0",
		"protocols": s.gauge.Registry().Len(),
		"caches":    s.gauge.CacheStats(),
		"breakers":  breakers,
		"configuration": map[string]interface{}{
			"cache_ttl":        s.cfg.CacheTTL.String(),
			"max_attempts":     s.cfg.FetchMaxAttempts,
			"inter_call_delay": s.cfg.InterCallDelay.String(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleMetrics exposes Prometheus metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// writeJSON sends a JSON response and records the request in metrics
func (s *Server) writeJSON(w http.ResponseWriter, endpoint string, statusCode int, payload interface{}) {
	s.metrics.requestCounter.WithLabelValues(endpoint, "success").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

// errorResponse returns a formatted error response
func (s *Server) errorResponse(w http.ResponseWriter, endpoint string, statusCode int, errorMsg string) {
	logrus.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"status":   statusCode,
	}).Warn(errorMsg)

	s.metrics.requestCounter.WithLabelValues(endpoint, "error").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "error",
		"error":  errorMsg,
	})
}

// parseMultipliers parses a comma-separated multiplier list; empty input
// selects the default shock grid
func parseMultipliers(raw string) ([]float64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := splitList(raw)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v <= 0 {
			return nil, errors.New("multipliers must be positive numbers")
		}
		out = append(out, v)
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
