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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/watchdog/internal/alarm"
	"github.com/pingsantohq/watchdog/internal/config"
	"github.com/pingsantohq/watchdog/internal/logging"
	"github.com/pingsantohq/watchdog/internal/metrics"
	"github.com/pingsantohq/watchdog/internal/persist"
	"github.com/pingsantohq/watchdog/internal/runtime"
	"github.com/pingsantohq/watchdog/internal/server"
	"github.com/pingsantohq/watchdog/internal/stream"
)

const shutdownTimeout = 3 * time.Second

func runCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the watchdog service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("config") {
				configPath = config.PathFromEnv()
			}
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.DefaultConfigPath, "Path to watchdog configuration file")
	return cmd
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("watchdog starting",
		zap.String("config", configPath),
		zap.String("addr", cfg.Server.Addr),
		zap.String("state_driver", cfg.State.Driver))

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := persist.Open(runCtx, cfg.State)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}

	collector := metrics.NewCollector()
	hub := stream.NewHub(cfg.Stream.AllowedOrigins, logger)

	opts := []runtime.Option{
		runtime.WithLogger(logger),
		runtime.WithPeriod(cfg.Evaluation.Period),
		runtime.WithMetrics(collector),
		runtime.WithSinks(hub),
		runtime.WithStore(store, persist.DefaultSaveDelay),
	}
	if cfg.Alarm.Enabled {
		opts = append(opts, runtime.WithAlarm(alarmPlayer(cfg.Alarm), cfg.Alarm.MinInterval))
	}
	rt := runtime.New(opts...)

	if err := rt.Restore(runCtx); err != nil {
		logger.Warn("restore watchdog state", zap.Error(err))
	}
	if err := rt.Seed(cfg.Sources, cfg.Watchdogs); err != nil {
		return fmt.Errorf("seed watchdogs: %w", err)
	}

	srv := server.New(server.Config{
		Addr:             cfg.Server.Addr,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		AdminBearerToken: cfg.Server.AdminToken,
	}, server.Dependencies{
		Logger:          logger,
		Registry:        rt.Registry(),
		Catalog:         rt.Catalog(),
		Sources:         rt,
		Events:          rt.Events(),
		Stream:          hub,
		Metrics:         collector.Handler(),
		Ready:           rt.Health(),
		WatchdogOptions: rt.WatchdogOptions(),
	})

	wait := rt.Start(runCtx)

	grp, groupCtx := errgroup.WithContext(runCtx)

	grp.Go(func() error {
		<-groupCtx.Done()
		wait()
		return nil
	})

	grp.Go(func() error {
		return serve(groupCtx, srv.Server, logger)
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		return err
	}

	logger.Info("watchdog stopped")
	return nil
}

func alarmPlayer(cfg config.AlarmConfig) alarm.Player {
	if len(cfg.Command) == 0 {
		return alarm.BellPlayer{W: os.Stdout}
	}
	return alarm.CommandPlayer{Command: cfg.Command}
}

func serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", "http://"+srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve api: %w", err)
	}
}
