package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by dependencies reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	RateLimit config.RateLimitConfig
	Logger    *logging.Logger
	Auth      *auth.Service

	// Optional.
	Audit   audit.Repository
	Metrics *metrics.Recorder
	// Checks are reported by /health; a failing "database" check makes it 503.
	Checks  map[string]HealthChecker
	Version string
}

// Server is the HTTP API server. Create it with New, start it with Start.
type Server struct {
	cfg     config.APIConfig
	rateCfg config.RateLimitConfig
	logger  *logging.Logger
	auth    *auth.Service
	audit   audit.Repository
	metrics *metrics.Recorder
	checks  map[string]HealthChecker
	version string

	limiter *ipLimiter
	server  *http.Server
	cancel  context.CancelFunc // stops background goroutines on Close
}

// New creates a new API server with the given dependencies.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if rl := deps.RateLimit; rl.Enabled && (rl.RequestsPerMinute <= 0 || rl.Burst < 1) {
		return nil, fmt.Errorf("rate limit needs a positive rate and a burst of at least 1")
	}

	s := &Server{
		cfg:     deps.Config,
		rateCfg: deps.RateLimit,
		logger:  deps.Logger.With("component", "api"),
		auth:    deps.Auth,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		checks:  deps.Checks,
		version: deps.Version,
	}
	if deps.RateLimit.Enabled {
		s.limiter = newIPLimiter(deps.RateLimit.RequestsPerMinute, deps.RateLimit.Burst)
	}
	return s, nil
}

// Handler returns the fully wired router. Start uses it; tests can serve
// it with httptest.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start launches the HTTP listener in a background goroutine and the rate
// limiter's sweeper. Stop both with Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.limiter != nil {
		go s.limiter.sweep(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close waits up to gracefulShutdownTimeout for in-flight requests, then
// closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
