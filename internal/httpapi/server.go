// Package httpapi exposes the indexing and search engine over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quillnote/semanticd/internal/embeddings"
	"github.com/quillnote/semanticd/internal/index"
	"github.com/quillnote/semanticd/internal/search"
)

// PrincipalHeader carries the authenticated principal set by the fronting
// auth layer. Requests without it are rejected.
const PrincipalHeader = "X-Principal"

// DocumentSource fetches document content for reindex requests that carry no
// body. Implementations return index.ErrDocumentNotFound for unknown ids.
type DocumentSource interface {
	Content(ctx context.Context, principal, documentID string) (string, error)
}

// Config holds HTTP server configuration.
type Config struct {
	// Addr is the listen address.
	Addr string

	// RateLimitRPS throttles requests per second. Zero disables throttling.
	RateLimitRPS float64

	// DefaultK is used when a search request omits the k parameter.
	DefaultK int

	// DefaultThreshold is used when a search request omits the threshold
	// parameter.
	DefaultThreshold float32
}

// Server routes HTTP requests to the index writer and search engine.
type Server struct {
	echo    *echo.Echo
	writer  *index.Writer
	engine  *search.Engine
	configs search.ConfigSource
	perms   search.PermissionSource
	regs    *embeddings.Registry
	docs    DocumentSource
	logger  *zap.Logger
	cfg     Config
}

// NewServer creates the HTTP server. docs may be nil, in which case reindex
// requests must carry the content inline.
func NewServer(cfg Config, writer *index.Writer, engine *search.Engine, configs search.ConfigSource, perms search.PermissionSource, regs *embeddings.Registry, docs DocumentSource, logger *zap.Logger) (*Server, error) {
	if writer == nil {
		return nil, errors.New("index writer is required")
	}
	if engine == nil {
		return nil, errors.New("search engine is required")
	}
	if configs == nil {
		return nil, errors.New("config source is required")
	}
	if perms == nil {
		return nil, errors.New("permission source is required")
	}
	if regs == nil {
		regs = embeddings.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.RateLimitRPS > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimitRPS))))
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:    e,
		writer:  writer,
		engine:  engine,
		configs: configs,
		perms:   perms,
		regs:    regs,
		docs:    docs,
		logger:  logger,
		cfg:     cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.POST("/documents/:id/reindex", s.handleReindex)
	v1.DELETE("/documents/:id/index", s.handleRemoveIndex)
	v1.GET("/search", s.handleSearch)
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.cfg.Addr))
	return s.echo.Start(s.cfg.Addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// principal extracts the authenticated principal from the request.
func principal(c echo.Context) (string, error) {
	p := c.Request().Header.Get(PrincipalHeader)
	if p == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing "+PrincipalHeader+" header")
	}
	return p, nil
}

// httpError maps engine and writer failures to HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, index.ErrReindexInFlight):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, index.ErrDocumentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, search.ErrConfigurationMissing):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, embeddings.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, "embedding provider rate limited")
	case errors.Is(err, embeddings.ErrAuth),
		errors.Is(err, embeddings.ErrUnavailable),
		errors.Is(err, embeddings.ErrMalformedResponse):
		return echo.NewHTTPError(http.StatusBadGateway, "embedding provider failure")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusRequestTimeout, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
