// Command monitor is the operator CLI. Run it without arguments for help.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lalithlochan/aftercare/internal/app"
	"github.com/lalithlochan/aftercare/internal/config"
	"github.com/lalithlochan/aftercare/internal/monitor"
	"github.com/lalithlochan/aftercare/internal/observ"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, monitor.ErrUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// help needs no database
	if len(args) == 0 || args[0] == "help" {
		return monitor.New(os.Stdout, nil, nil, nil, monitor.Options{}).Run(ctx, args)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// keep the tables readable: only warnings and worse reach the console
	logger, err := observ.NewLogger(cfg.Env, "warn", "aftercare-monitor")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(ctx, cfg, logger, app.Options{AppName: "aftercare-monitor"})
	if err != nil {
		return err
	}
	defer a.Close()

	m := monitor.New(os.Stdout, a.Repo, a.Source, a.Gateway, monitor.Options{
		BackupDir:     cfg.BackupDir,
		MailTransport: cfg.MailTransport,
		SenderEmail:   cfg.SenderEmail,
		SenderName:    cfg.SenderName,
		Location:      cfg.Location(),
	})
	return m.Run(ctx, args)
}
