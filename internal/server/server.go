package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"price-testing/internal/audience"
	"price-testing/internal/automation"
	"price-testing/internal/experiment"
	"price-testing/internal/metrics"
	"price-testing/internal/service"
)

// Backend is the service surface the HTTP layer needs.
type Backend interface {
	AssignVisitor(ctx context.Context, productID, visitorID string, rc audience.RequestContext, country func() string) (service.Assignment, error)
	RecordEvent(ctx context.Context, event experiment.Event) (experiment.Event, error)
	Analytics(ctx context.Context, testID, rangeKey string) (service.Analytics, error)
	RunAutomation(ctx context.Context, testID string) (automation.Outcome, error)
	AutomationLogs(ctx context.Context, testID string) ([]automation.LogEntry, error)
	Transition(ctx context.Context, testID string, to experiment.Status) (experiment.Test, error)
	CreateTest(ctx context.Context, test experiment.Test) (experiment.Test, error)
}

var _ Backend = (*service.Service)(nil)

// Options configure the HTTP server.
type Options struct {
	Addr            string
	Mode            string
	JWTSecret       string
	EventRateLimit  float64
	EventBurst      int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CookieSecure    bool
	DefaultRange    string
}

// Server exposes the storefront proxy and admin API.
type Server struct {
	opts     Options
	backend  Backend
	geo      *audience.GeoResolver
	validate *validator.Validate
	limiter  *ipLimiter
	logger   zerolog.Logger
	engine   *gin.Engine
}

// New wires routes onto a fresh gin engine.
func New(opts Options, backend Backend, geo *audience.GeoResolver, logger zerolog.Logger) *Server {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		opts:     opts,
		backend:  backend,
		geo:      geo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		limiter:  newIPLimiter(opts.EventRateLimit, opts.EventBurst),
		logger:   logger.With().Str("component", "http").Logger(),
		engine:   gin.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.engine
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	proxy := r.Group("/proxy")
	proxy.GET("/assignment", s.assignment)
	proxy.POST("/events", rateLimit(s.limiter), s.recordEvent)

	api := r.Group("/api")
	if s.opts.JWTSecret != "" {
		api.Use(requireJWT([]byte(s.opts.JWTSecret)))
	}
	api.POST("/tests", s.createTest)
	api.GET("/tests/:id/analytics", s.analytics)
	api.POST("/tests/:id/automation/run", s.runAutomation)
	api.GET("/tests/:id/automation/logs", s.automationLogs)
	api.POST("/tests/:id/launch", s.transition(experiment.StatusRunning))
	api.POST("/tests/:id/pause", s.transition(experiment.StatusPaused))
	api.POST("/tests/:id/stop", s.transition(experiment.StatusStopped))
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.logger.Info().Msg("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
