// Package adminapi serves a read-only JSON view of requests, payments and
// counters for operators' tooling.
package adminapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/m3rciful/studybot/core/logger"
	"github.com/m3rciful/studybot/internal/domain"
)

// Config controls the HTTP listener. An empty Listen disables the API.
type Config struct {
	Listen            string        `yaml:"listen" envconfig:"API_LISTEN"`
	Token             string        `yaml:"token" envconfig:"API_TOKEN"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" envconfig:"API_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" envconfig:"API_SHUTDOWN_TIMEOUT"`
}

// Enabled reports whether the API should be served.
func (c Config) Enabled() bool { return strings.TrimSpace(c.Listen) != "" }

// Reader is the query side of the workflow.
type Reader interface {
	Request(ctx context.Context, id int64) (domain.Request, error)
	Queue(ctx context.Context, statuses ...domain.Status) ([]domain.Request, error)
	Payments(ctx context.Context, limit int) ([]domain.Payment, error)
	PaymentsFor(ctx context.Context, requestID int64) ([]domain.Payment, error)
	Stats(ctx context.Context) (domain.Stats, error)
	Ping(ctx context.Context) error
}

// Server is the admin HTTP API.
type Server struct {
	cfg    Config
	reader Reader
	engine *gin.Engine
}

const requestIDHeader = "X-Request-ID"

// New builds the router. Nothing listens until Run.
func New(cfg Config, reader Reader) *Server {
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{cfg: cfg, reader: reader, engine: gin.New()}
	s.engine.Use(requestContext(), accessLog(), gin.Recovery())
	s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/ready", s.ready)

	api := s.engine.Group("/api", bearer(s.cfg.Token))
	api.GET("/requests", s.listRequests)
	api.GET("/requests/:id", s.getRequest)
	api.GET("/payments", s.listPayments)
	api.GET("/stats", s.stats)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info(ctx, "api", "listen", slog.String("addr", s.cfg.Listen))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info(ctx, "api", "stopped")
	return nil
}

// requestContext tags every request with an id and stores the logging
// context on the request.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(requestIDHeader, rid)
		ctx := logger.WithRID(c.Request.Context(), rid)
		ctx = logger.WithLogger(ctx, logger.Component("api"))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("code", status),
			slog.Duration("duration", logger.Took(start)),
		}
		ctx := c.Request.Context()
		if status >= http.StatusInternalServerError {
			logger.Warn(ctx, "api", "http.request", attrs...)
			return
		}
		logger.Debug(ctx, "api", "http.request", attrs...)
	}
}

// bearer requires "Authorization: Bearer <token>" when token is set.
func bearer(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}
