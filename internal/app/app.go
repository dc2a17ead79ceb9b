// Package app assembles the credits service and runs its long-lived parts.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Server is anything the App starts and stops with the process: the HTTP
// listener, the in-process maintenance loops and the river client.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// App runs its servers until the context is cancelled or one of them fails.
type App struct {
	servers     []Server
	stopTimeout time.Duration
	log         *slog.Logger
}

func New(logger *slog.Logger, servers ...Server) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{servers: servers, stopTimeout: 15 * time.Second, log: logger}
}

// Run blocks until shutdown. The first server error is returned.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range a.servers {
		s := srv
		g.Go(func() error {
			return s.Start(ctx)
		})
	}

	<-ctx.Done()
	a.log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), a.stopTimeout)
	defer cancel()
	for _, srv := range a.servers {
		if err := srv.Stop(stopCtx); err != nil {
			a.log.Warn("stop", "error", err)
		}
	}

	return g.Wait()
}

// HTTPServer adapts *http.Server to Server.
type HTTPServer struct {
	srv *http.Server
	log *slog.Logger
}

func NewHTTPServer(addr string, h http.Handler, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logger,
	}
}

func (s *HTTPServer) Start(context.Context) error {
	s.log.Info("starting HTTP server", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
