package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vyvo/buildmaster/pkg/auth"
	"github.com/vyvo/buildmaster/pkg/builds"
	"github.com/vyvo/buildmaster/pkg/changes"
	"github.com/vyvo/buildmaster/pkg/config"
	"github.com/vyvo/buildmaster/pkg/project"
	"github.com/vyvo/buildmaster/pkg/queue"
	"github.com/vyvo/buildmaster/pkg/reporter"
	"github.com/vyvo/buildmaster/pkg/telemetry"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduling and reporting service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, opts.logger())
		},
	}
}

func serve(parent context.Context, cfg config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing {
		shutdown, err := telemetry.InitTracer(ctx, telemetry.Options{ServiceName: cfg.ServiceName})
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(flushCtx)
		}()
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	rec := &recorder{store: store, logger: logger}
	var q *queue.Queue
	if cfg.RedisURL != "" {
		q, err = queue.NewQueue(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer q.Close()
		if cfg.PollTimeout > 0 {
			q.PollTimeout = cfg.PollTimeout
		}
		rec.engine = q
	} else {
		logger.Warn("redis_url not set, build requests will not reach any worker")
	}

	deps := project.Deps{
		Submitter: rec,
		GitHub:    reporter.GitHubOptions{BaseURL: cfg.GitHubURL},
		Logger:    logger,
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub, client, err := reporter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer client.Close()
		deps.Kafka = pub
	} else {
		deps.Kafka = reporter.LogPublisher{Logger: logger}
	}

	manager, err := project.NewManager(ctx, project.FileLoader(cfg.ProjectFile, bindings(cfg), deps))
	if err != nil {
		return err
	}
	defer manager.Stop()

	var snapshots snapshotSource = manager
	if cfg.WithPollers {
		pollers := newPollerSupervisor(ctx, cfg, logger, func(e changes.Event) { manager.Current().Dispatch(e) })
		pollers.sync(manager.Current())
		defer pollers.Stop()
		snapshots = pollingSource{Manager: manager, pollers: pollers}
	}
	m := &master{snapshots: snapshots, store: store, logger: logger}

	if q != nil {
		go func() {
			err := q.Consume(ctx, m.handleResult, func(err error) {
				logger.Error("consume build result", "error", err)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("result consumer stopped", "error", err)
			}
		}()
	}
	go watchReload(ctx, snapshots, logger)

	keys := auth.NewKeySet(cfg.APIKeys...)
	if keys.Empty() {
		logger.Warn("api_keys not set, force and reload endpoints are open")
	}

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: newRouter(&server{master: m, keys: keys}),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	snap := manager.Current()
	logger.Info("buildmaster listening", "addr", cfg.ListenAddr, "project", snap.Project, "builders", len(snap.Resolution.Builders))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}

	<-ctx.Done()
	logger.Info("buildmaster stopped")
	return nil
}

func openStore(cfg config.Config, logger *slog.Logger) (builds.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("database_url not set, keeping builds in memory")
		return builds.NewMemStore(), func() {}, nil
	}
	pg, err := builds.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

// watchReload reloads the project file on SIGHUP.
func watchReload(ctx context.Context, snapshots snapshotSource, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := snapshots.Reload(); err != nil {
				logger.Error("reload failed, keeping previous configuration", "error", err)
			}
		}
	}
}
