// Package web hosts the node's HTTP listener: the read API, the live event
// stream and the per-client throttling in front of both.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"trustchain.mini/tcm/internal/api"
	"trustchain.mini/tcm/internal/events"
)

const (
	keepAliveInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
	streamBuffer      = 16
	maxBacklog        = 200
)

// Config holds the listener settings.
type Config struct {
	Port      int
	RateLimit float64
	Burst     int
}

// Server is the HTTP server for the API and event stream.
type Server struct {
	cfg        Config
	apiService *api.Service
	broker     *events.Broker
	recent     *events.Log
	limiter    *api.RateLimiter
	logger     *slog.Logger
	httpServer *http.Server
	keepAlive  time.Duration
}

// NewServer creates a new web server.
func NewServer(cfg Config, apiService *api.Service, broker *events.Broker, recent *events.Log, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		apiService: apiService,
		broker:     broker,
		recent:     recent,
		logger:     logger.With("component", "web"),
		keepAlive:  keepAliveInterval,
	}
	if cfg.RateLimit > 0 {
		s.limiter = api.NewRateLimiter(cfg.RateLimit, max(cfg.Burst, 1))
	}
	return s
}

// Handler returns the full handler chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.apiService.Register(mux)
	mux.HandleFunc("GET /api/events/stream", s.handleEventStream)

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	return api.RequestLogger(s.logger, h)
}

// Start runs the server until ctx is done or the listener fails. The
// returned channel yields the terminal error, nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) <-chan error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	if s.limiter != nil {
		go s.limiter.Run(ctx)
	}
	s.logger.Info("starting API server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
		close(errCh)
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown", "err", err)
		}
	}()

	return errCh
}
