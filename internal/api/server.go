package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bunger-shield/internal/chat"
	"bunger-shield/internal/config"
	"bunger-shield/internal/game"
	"bunger-shield/internal/shield"
)

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with WebSocket hub for real-time updates.
type Server struct {
	cfg         config.APIConfig
	game        *game.Server
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	logger      *zap.Logger
}

// NewServer creates a new API server.
//
// Background workers do NOT start until Run is called, so the server can be
// constructed in tests and exercised through Router().
func NewServer(cfg config.APIConfig, gs *game.Server, plugin *shield.Plugin, handler *chat.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:         cfg,
		game:        gs,
		wsHub:       NewWebSocketHub(cfg.CORSOrigins, logger.Named("ws")),
		rateLimiter: NewIPRateLimiter(DefaultRateLimitConfig),
		logger:      logger,
	}

	s.router = NewRouter(RouterConfig{
		Game:        gs,
		Shield:      plugin,
		Chat:        handler,
		Logger:      logger,
		RateLimiter: s.rateLimiter,
		CORSOrigins: append(append([]string{}, DefaultCORSOrigins...), cfg.CORSOrigins...),
		AdminToken:  cfg.AdminToken,
	})

	// WebSocket route needs the hub instance, so it lives outside NewRouter
	s.router.Get("/ws", s.wsHub.HandleWebSocket)

	return s
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves HTTP and the snapshot feed until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.runFeed(ctx)
		return nil
	})
	g.Go(func() error {
		s.logger.Info("api server starting", zap.String("addr", addr))
		if err := serveUntilDone(ctx, srv); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// runFeed runs the WebSocket hub and its snapshot broadcast until ctx is done.
func (s *Server) runFeed(ctx context.Context) {
	interval := s.cfg.BroadcastInterval
	if interval <= 0 {
		interval = config.DefaultAPI().BroadcastInterval
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wsHub.RunBroadcastLoop(ctx, interval, s.game.Snapshot)
	}()
	s.wsHub.Run(ctx)
	<-done
}

// Stop releases background workers not tied to Run's context.
func (s *Server) Stop() {
	s.rateLimiter.Stop()
}
