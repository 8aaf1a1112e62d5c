package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/aftercare/internal/api"
	"github.com/lalithlochan/aftercare/internal/app"
	"github.com/lalithlochan/aftercare/internal/config"
	"github.com/lalithlochan/aftercare/internal/metrics"
	"github.com/lalithlochan/aftercare/internal/observ"
	"github.com/lalithlochan/aftercare/internal/scheduler"
	"github.com/lalithlochan/aftercare/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "aftercare-scheduler")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting aftercare scheduler",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("timezone", cfg.Timezone),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{AppName: "aftercare-scheduler", RateLimit: true})
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New(cfg.Location(), cfg.SchedulerTick, logger,
		scheduler.Job{
			Name:  workflow.ScriptThankYou,
			Slots: cfg.SendTimes(),
			Run:   a.ThankYou().Run,
		},
		scheduler.Job{
			Name:  workflow.ScriptFollowUp,
			Slots: []config.TimeOfDay{cfg.FollowUpTime()},
			Run:   a.FollowUp().Run,
		},
	)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	var limiter api.Limiter
	if a.RateLimiter != nil {
		limiter = a.RateLimiter
	}
	api.NewHandler(logger, a.Repo, cfg.BackupDir, a.Breaker).Mount(r, limiter)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := a.DB.Health(r.Context()); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Give outstanding requests 10 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		logger.Info("server stopped gracefully")
		return nil
	})

	g.Go(func() error {
		return sched.Start(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			metrics.SetDBConnections(int(a.DB.Pool().Stat().TotalConns()))
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	return g.Wait()
}
