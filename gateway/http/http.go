// Package http serves the mathgate command surface over HTTP.
package http

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/mathgate/bridge"
	"github.com/c360/mathgate/errors"
	"github.com/c360/mathgate/gateway"
	"github.com/c360/mathgate/metric"
	"github.com/c360/mathgate/pkg/tlsutil"
)

// Gateway-level error descriptions
const (
	DescUnknownCommand  = "unknown command"
	DescTooLarge        = "Message is too large"
	DescTooManyRequests = "Too many requests"
	DescReadFailed      = "Failed to read request body"
)

// RequestIDHeader carries the per-request trace ID in both directions
const RequestIDHeader = "X-Request-ID"

// SystemName is the component name reported by /healthz
const SystemName = "mathgate"

// getOrGenerateRequestID extracts the request ID from headers or generates a new one
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get(RequestIDHeader); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics enables request metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithHealth enables the /healthz route
func WithHealth(reporter gateway.HealthReporter) Option {
	return func(h *Handler) {
		h.health = reporter
	}
}

// Handler routes client commands to the orchestrator.
type Handler struct {
	orch    gateway.Orchestrator
	health  gateway.HealthReporter
	config  gateway.Config
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metric.Metrics
	router  chi.Router
}

// NewHandler validates cfg and builds the router
func NewHandler(orch gateway.Orchestrator, cfg gateway.Config, opts ...Option) (*Handler, error) {
	if orch == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Handler", "NewHandler",
			"orchestrator is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Handler", "NewHandler", "config validation")
	}

	h := &Handler{
		orch:   orch,
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "http-gateway")

	if cfg.StartRateLimit > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.StartRateLimit), cfg.StartBurst)
	}

	h.router = h.routes()
	return h, nil
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(h.instrument)
	r.Use(middleware.Recoverer)

	r.Post("/start", h.handleStart)
	r.Get("/state", h.handleState)
	r.Get("/logslist", h.handleLogsList)
	r.Get("/loglist", h.handleLogsList)
	r.Get("/getlog", h.handleGetLog)
	if h.health != nil {
		r.Get("/healthz", h.handleHealth)
	}

	r.NotFound(h.handleUnknown)
	r.MethodNotAllowed(h.handleUnknown)
	return r
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// requestID propagates or assigns X-Request-ID and exposes it via middleware.GetReqID
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := getOrGenerateRequestID(r)
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routeLabel(r)
		elapsed := time.Since(start)
		h.metrics.RecordHTTPRequest(route, status, elapsed)
		h.logger.Debug("Request served",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// routeLabel keeps metric cardinality bounded by using the matched pattern
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" && pattern != "/*" {
			return pattern
		}
	}
	return "unknown"
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		h.writeJSON(w, http.StatusOK, bridge.ErrorReply{Error: DescTooManyRequests})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.config.MaxRequestSize+1))
	if err != nil {
		h.logger.Warn("Failed to read request body",
			"error", err,
			"request_id", middleware.GetReqID(r.Context()))
		h.writeJSON(w, http.StatusOK, bridge.ErrorReply{Error: DescReadFailed})
		return
	}
	if int64(len(body)) > h.config.MaxRequestSize {
		h.writeJSON(w, http.StatusOK, bridge.ErrorReply{Error: DescTooLarge})
		return
	}

	h.writeJSON(w, http.StatusOK, h.orch.Start(r.Context(), body))
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	query, ok := queryNumber(r)
	if !ok {
		h.writeJSON(w, http.StatusOK, bridge.ErrorReply{Error: bridge.DescInvalidQuery})
		return
	}
	h.writeJSON(w, http.StatusOK, h.orch.Poll(r.Context(), query))
}

// queryNumber reads num, falling back to numTicket
func queryNumber(r *http.Request) (int, bool) {
	params := r.URL.Query()
	raw := params.Get("num")
	if raw == "" {
		raw = params.Get("numTicket")
	}
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (h *Handler) handleLogsList(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.orch.LogsList(r.Context()))
}

func (h *Handler) handleGetLog(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.orch.GetLog(r.Context(), r.URL.Query().Get("id")))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := h.health.AggregateHealth(SystemName)
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, status)
}

func (h *Handler) handleUnknown(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, bridge.ErrorReply{Error: DescUnknownCommand})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// Server runs a Handler on a TCP listener
type Server struct {
	server *http.Server
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewServer wraps handler in an http.Server configured from cfg.
// The TLS key pair, if enabled, is loaded eagerly.
func NewServer(cfg gateway.Config, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tlsConfig, err := tlsutil.LoadServerTLSConfig(cfg.TLS)
	if err != nil {
		return nil, errors.Wrap(err, "Server", "NewServer", "load tls config")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			TLSConfig:         tlsConfig,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		},
		logger: logger.With("component", "http-server"),
		cancel: cancel,
	}, nil
}

// Start listens on the configured address and blocks until Stop
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", "listen on "+s.server.Addr)
	}
	return s.Serve(l)
}

// Serve accepts connections on l and blocks until Stop
func (s *Server) Serve(l net.Listener) error {
	if s.server.TLSConfig != nil {
		l = tls.NewListener(l, s.server.TLSConfig)
	}
	s.logger.Info("HTTP gateway listening", "addr", l.Addr().String(), "tls", s.server.TLSConfig != nil)
	if err := s.server.Serve(l); err != nil && err != http.ErrServerClosed {
		return errors.WrapTransient(err, "Server", "Serve", "http serve")
	}
	return nil
}

// Stop shuts the server down gracefully, waiting for in-flight requests until ctx expires.
// Requests still running after that, typically blocked polls, see their context cancelled.
func (s *Server) Stop(ctx context.Context) error {
	defer s.cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.cancel()
		_ = s.server.Close()
		return errors.Wrap(err, "Server", "Stop", "http shutdown")
	}
	return nil
}
