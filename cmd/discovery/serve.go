package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"squeeze-discovery/internal/api"
)

const shutdownGrace = 30 * time.Second

// Server runs the discovery scheduler, the outcome labeler and the HTTP
// surface together.
type Server struct {
	app    *app
	addr   string
	logger *zap.Logger

	mu            sync.Mutex
	labelRunning  bool
	lastLabelRun  time.Time
	labelRuns     int
	tickInterval  time.Duration
	labelInterval time.Duration
}

func newServeCmd(rt *runtime) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the discovery scheduler, outcome labeler and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, rt)
			if err != nil {
				return rt.fail("build components", err)
			}
			defer a.Close()

			if addr == "" {
				addr = rt.cfg.Server.Addr
			}
			s := &Server{
				app:           a,
				addr:          addr,
				logger:        rt.logger,
				tickInterval:  rt.cfg.Scheduler.TickInterval,
				labelInterval: rt.cfg.Scheduler.LabelInterval,
			}

			done := make(chan struct{})
			defer close(done)
			s.handleSignals(cancel, done)

			err = s.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return rt.fail("server", err)
			}
			rt.logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (defaults to server.addr)")
	return cmd
}

// handleSignals cancels on the first SIGINT/SIGTERM and exits hard on a
// second one or when graceful shutdown overruns.
func (s *Server) handleSignals(cancel context.CancelFunc, done <-chan struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-done:
			signal.Stop(sigCh)
			return
		}

		select {
		case sig := <-sigCh:
			s.logger.Warn("second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(shutdownGrace):
			s.logger.Error("graceful shutdown timed out, forcing exit", zap.Duration("grace", shutdownGrace))
			os.Exit(1)
		case <-done:
			signal.Stop(sigCh)
		}
	}()
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting discovery server",
		zap.String("addr", s.addr),
		zap.Duration("tick_interval", s.tickInterval),
		zap.Duration("label_interval", s.labelInterval))

	errCh := make(chan error, 3)

	srv := &http.Server{
		Addr: s.addr,
		Handler: api.NewRouter(api.Options{
			Discovery: s.app.orch,
			Scan:      s.app.gateway,
			ColdTape:  s.app.coldTape,
			Ingester:  s.app.ingestion,
			Feed:      s.app.hub,
			Logger:    s.logger.Named("api"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		if err := s.app.orch.Run(ctx, s.tickInterval); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("discovery scheduler: %w", err)
		}
	}()

	go func() {
		if err := s.runLabelScheduler(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("label scheduler: %w", err)
		}
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		s.logger.Warn("http shutdown", zap.Error(serr))
	}
	return err
}

// runLabelScheduler labels due discoveries on schedule.
func (s *Server) runLabelScheduler(ctx context.Context) error {
	s.runLabel(ctx)

	ticker := time.NewTicker(s.labelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runLabel(ctx)
		}
	}
}

func (s *Server) runLabel(ctx context.Context) {
	s.mu.Lock()
	if s.labelRunning {
		s.mu.Unlock()
		s.logger.Info("labeler already running, skipping")
		return
	}
	s.labelRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.labelRunning = false
		s.lastLabelRun = time.Now()
		s.labelRuns++
		s.mu.Unlock()
	}()

	sum, err := s.app.labeler.Run(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("label run failed", zap.Error(err))
		}
		return
	}
	s.logger.Info("label run complete",
		zap.Int("due", sum.Due),
		zap.Int("labeled", sum.Labeled),
		zap.Int("insufficient", sum.Insufficient),
		zap.Int("errors", sum.Errors),
		zap.Duration("duration", sum.Duration))
}
