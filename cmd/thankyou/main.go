// Command thankyou performs one thank-you run for cron. It exits 0 only when
// the run finished without failed emails or recorded errors.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lalithlochan/aftercare/internal/app"
	"github.com/lalithlochan/aftercare/internal/config"
	"github.com/lalithlochan/aftercare/internal/observ"
)

func main() {
	ok, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}

func run() (bool, error) {
	cfg, err := config.Load()
	if err != nil {
		return false, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "aftercare-thankyou")
	if err != nil {
		return false, fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{AppName: "aftercare-thankyou"})
	if err != nil {
		return false, err
	}
	defer a.Close()

	return a.ThankYou().Run(ctx), nil
}
