package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpgate/mcpgate/internal/port/inbound"
	"github.com/mcpgate/mcpgate/internal/port/outbound"
	"github.com/mcpgate/mcpgate/internal/service"
)

// shutdownTimeout bounds graceful server shutdown.
const shutdownTimeout = 10 * time.Second

// HTTPTransport is the inbound adapter connecting the gateway to HTTP
// clients: one MCP endpoint plus health and metrics routes.
type HTTPTransport struct {
	registry      outbound.SessionRegistry
	dispatcher    *service.Dispatcher
	server        *http.Server
	addr          string
	endpoint      string
	sessionHeader string
	corsOrigin    string
	healthPaths   []string
	staticHeaders map[string]string
	tracing       bool
	healthChecker *HealthChecker
	logger        *slog.Logger
	metrics       *Metrics
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address. Default is ":3000".
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithEndpoint sets the MCP endpoint path. Default is DefaultEndpoint.
func WithEndpoint(path string) Option {
	return func(t *HTTPTransport) {
		t.endpoint = path
	}
}

// WithSessionHeader sets the session id header name.
// Default is DefaultSessionHeader.
func WithSessionHeader(name string) Option {
	return func(t *HTTPTransport) {
		t.sessionHeader = name
	}
}

// WithCORSOrigin sets the Access-Control-Allow-Origin value. Default "*".
func WithCORSOrigin(origin string) Option {
	return func(t *HTTPTransport) {
		t.corsOrigin = origin
	}
}

// WithHealthPaths sets the paths serving the health handler.
func WithHealthPaths(paths []string) Option {
	return func(t *HTTPTransport) {
		t.healthPaths = paths
	}
}

// WithStaticHeaders sets fixed headers applied to every response.
func WithStaticHeaders(headers map[string]string) Option {
	return func(t *HTTPTransport) {
		t.staticHeaders = headers
	}
}

// WithTracing enables the per-request tracing middleware.
func WithTracing(enabled bool) Option {
	return func(t *HTTPTransport) {
		t.tracing = enabled
	}
}

// WithHealthChecker sets the health checker for the health paths.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithTransportLogger sets the transport logger.
func WithTransportLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// NewHTTPTransport creates the HTTP transport over the given session
// registry and dispatcher.
func NewHTTPTransport(registry outbound.SessionRegistry, dispatcher *service.Dispatcher, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		registry:      registry,
		dispatcher:    dispatcher,
		addr:          ":3000",
		endpoint:      DefaultEndpoint,
		sessionHeader: DefaultSessionHeader,
		corsOrigin:    "*",
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handler builds the full handler tree: the MCP endpoint behind the
// middleware chain, plus health and metrics routes.
func (t *HTTPTransport) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t.metrics = NewMetrics(reg, t.registry)
	if t.healthChecker != nil && t.healthChecker.audit != nil {
		audit := t.healthChecker.audit
		promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
			Namespace: "mcpgate",
			Name:      "audit_drops_total",
			Help:      "Audit records dropped under channel backpressure.",
		}, func() float64 {
			return float64(audit.Dropped())
		})
	}

	endpoint := &endpointHandler{
		registry:      t.registry,
		dispatcher:    t.dispatcher,
		sessionHeader: t.sessionHeader,
		logger:        t.logger,
		metrics:       t.metrics,
	}

	// Middleware order, outermost first: request-id enrichment, then
	// tracing, then the CORS and static headers the response always
	// carries.
	var h http.Handler = endpoint
	h = StaticHeadersMiddleware(t.staticHeaders)(h)
	h = CORSMiddleware(t.corsOrigin, t.sessionHeader)(h)
	if t.tracing {
		h = TracingMiddleware(h)
	}
	h = RequestIDMiddleware(t.logger)(h)

	mux := http.NewServeMux()
	mux.Handle(t.endpoint, h)
	mux.Handle(strings.TrimRight(t.endpoint, "/")+"/", h)

	// Health paths answer a plain 200 "ok" for load-balancer probes; the
	// component health document lives under <path>/detail. Both carry the
	// configured static headers.
	static := StaticHeadersMiddleware(t.staticHeaders)
	skip := append([]string{"/metrics"}, t.healthPaths...)
	for _, path := range t.healthPaths {
		mux.Handle(path, static(okHandler()))
		if t.healthChecker != nil {
			detail := strings.TrimRight(path, "/") + "/detail"
			mux.Handle(detail, static(t.healthChecker.Handler()))
			skip = append(skip, detail)
		}
	}
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	}))

	// Metrics wrap the whole tree so requests are measured regardless of
	// route; scrape and health probes are skipped.
	return MetricsMiddleware(t.metrics, skip)(mux)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
}

// Start begins accepting HTTP connections. It blocks until the context is
// cancelled or the server fails.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:    t.addr,
		Handler: t.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("starting HTTP server", "addr", t.addr, "endpoint", t.endpoint)
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.Close()
	case err := <-errCh:
		return err
	}
}

// Close performs graceful shutdown: live SSE streams and parked responses
// are ended first so in-flight handlers unblock, then the server drains.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, s := range t.registry.Snapshot() {
		s.CloseAll()
	}
	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}
	t.logger.Info("HTTP server stopped")
	return nil
}

// Compile-time check that HTTPTransport implements the inbound port.
var _ inbound.Transport = (*HTTPTransport)(nil)
