// Package server is storyline's HTTP front end.
//
// It serves ranked threads from the current index and accepts annotated
// documents into the store. Routes:
//
//	GET    /threads?period=&lang_code=&category=
//	PUT    /documents/:name    (Cache-Control: max-age=N sets the TTL)
//	GET    /documents/:name
//	DELETE /documents/:name
//	GET    /healthz
//	GET    /metrics
//	GET    /debug/events
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/abelbrown/storyline/internal/coord"
	"github.com/abelbrown/storyline/internal/logging"
	"github.com/abelbrown/storyline/internal/metrics"
	"github.com/abelbrown/storyline/internal/otel"
	"github.com/abelbrown/storyline/internal/ranking"
	"github.com/abelbrown/storyline/internal/store"
)

// Options wires a Server.
type Options struct {
	Holder *coord.Holder
	Store  store.DocStore
	Ranker *ranking.Ranker
	// Events receives http.request and store.put events. Nil discards them.
	Events *otel.Logger
	// Ring backs /debug/events. Nil disables the route.
	Ring *otel.RingBuffer

	ThreadLimit int
	// RateLimit is requests per second per client IP. Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Server serves the HTTP API.
type Server struct {
	opts    Options
	echo    *echo.Echo
	limiter *RateLimiter
	logger  *log.Logger
}

func New(opts Options) *Server {
	if opts.Events == nil {
		opts.Events = otel.NewNullLogger()
	}
	if opts.Ranker == nil {
		opts.Ranker = ranking.NewRanker(0)
	}
	if opts.ThreadLimit <= 0 {
		opts.ThreadLimit = coord.DefaultThreadLimit
	}

	s := &Server{opts: opts, logger: logging.WithPrefix("server")}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:     true,
		LogURI:        true,
		LogMethod:     true,
		LogLatency:    true,
		LogError:      true,
		HandleError:   true,
		LogValuesFunc: s.logRequest,
	}))
	if opts.RateLimit > 0 {
		burst := max(opts.RateBurst, 1)
		s.limiter = NewRateLimiter(rate.Limit(opts.RateLimit), burst)
		e.Use(s.limiter.Middleware())
	}

	e.GET("/threads", s.handleThreads)
	e.PUT("/documents/:name", s.handlePutDocument)
	e.GET("/documents/:name", s.handleGetDocument)
	e.DELETE("/documents/:name", s.handleDeleteDocument)
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if opts.Ring != nil {
		e.GET("/debug/events", s.handleEvents)
	}

	s.echo = e
	return s
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully,
// waiting up to shutdownTimeout for in-flight requests.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("listening", "addr", addr)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	})
	if s.limiter != nil {
		g.Go(func() error {
			s.limiter.Sweep(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (s *Server) logRequest(c echo.Context, v middleware.RequestLoggerValues) error {
	route := c.Path()
	if route == "" {
		route = "unmatched"
	}
	metrics.RecordRequest(route, v.Status)

	s.opts.Events.Request(v.Method+" "+route, v.Status, v.Latency, v.Error)
	if v.Error != nil {
		s.logger.Warn("request failed", "method", v.Method, "uri", v.URI, "status", v.Status, "error", v.Error)
	} else {
		s.logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
	}
	return nil
}
