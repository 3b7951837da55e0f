package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/gatehouse/pkg/async"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/storage/postgres"
)

var (
	runOnce  = flag.Bool("run-once", false, "Sweep expired tokens once and exit")
	schedule = flag.String("schedule", "", "Cron schedule for the sweep (default: GATEHOUSE_TOKEN_SWEEP_SCHEDULE)")
	timeout  = flag.Duration("timeout", 5*time.Minute, "Upper bound for a single sweep")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "gatehouse-sweeper")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cm, err := postgres.NewConnectionManager(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer cm.Close()

	store := auth.NewStore(cm.DB())
	tokens, err := auth.NewTokenManager(cfg.Token.Manager(), store, store, auth.WithTokenLogger(logger))
	if err != nil {
		return err
	}

	job := &async.Job{
		Name:    "token sweep",
		Timeout: *timeout,
		Logger:  logger,
		Fn: func(ctx context.Context) error {
			n, err := tokens.SweepExpired(ctx)
			if err != nil {
				return err
			}
			logger.WithField("deleted", n).Info("expired tokens swept")
			return nil
		},
	}

	if *runOnce {
		return job.RunContext(ctx)
	}

	sched := *schedule
	if sched == "" {
		sched = cfg.Token.SweepSchedule
	}
	if sched == "" {
		return fmt.Errorf("no sweep schedule configured")
	}

	c := cron.New()
	if _, err := c.AddJob(sched, job.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to schedule token sweep: %w", err)
	}

	c.Start()
	logger.WithField("schedule", sched).Info("token sweeper started")

	<-ctx.Done()
	logger.Info("shutting down gracefully")
	<-c.Stop().Done()
	logger.Info("token sweeper stopped")
	return nil
}
