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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	"github.com/warraft/raftbot/internal/adminserver"
	"github.com/warraft/raftbot/internal/assets"
	"github.com/warraft/raftbot/internal/circuitbreaker"
	"github.com/warraft/raftbot/internal/config"
	"github.com/warraft/raftbot/internal/core"
	"github.com/warraft/raftbot/internal/discordapi"
	"github.com/warraft/raftbot/internal/discordgw"
	"github.com/warraft/raftbot/internal/dispatch"
	"github.com/warraft/raftbot/internal/inference"
	"github.com/warraft/raftbot/internal/processor"
	"github.com/warraft/raftbot/internal/queue"
	"github.com/warraft/raftbot/internal/ratelimit"
	"github.com/warraft/raftbot/internal/store"
	"github.com/warraft/raftbot/internal/store/sqlite"
	"github.com/warraft/raftbot/internal/telemetry"
	"github.com/warraft/raftbot/internal/worker"
)

// commandCatalog is the application command set registered both at
// startup and whenever SIGUSR1 asks for a resync.
var commandCatalog = []discordapi.CommandSpec{
	{
		Name:        "blp",
		Description: "Convert an image to BLP (or decode to PNG)",
		Options: []discordapi.CommandOption{
			{Name: "image", Description: "image to convert", Type: 11, Required: true},
			{Name: "target", Description: "BLP or PNG", Type: 3},
			{Name: "quality", Description: "1-100", Type: 4},
			{Name: "zip", Description: "package result as a zip", Type: 5},
		},
	},
	{
		Name:        "rembg",
		Description: "Remove the background from an image",
		Options: []discordapi.CommandOption{
			{Name: "image", Description: "image to process", Type: 11, Required: true},
			{Name: "threshold", Description: "0-255", Type: 4},
			{Name: "binary", Description: "hard-edged alpha instead of soft matting", Type: 5},
			{Name: "mask", Description: "also return the standalone mask", Type: 5},
			{Name: "zip", Description: "package result as a zip", Type: 5},
		},
	},
	{
		Name:        "icon",
		Description: "Generate Warcraft III button-frame icon variants",
		Options: []discordapi.CommandOption{
			{Name: "image", Description: "image to convert", Type: 11, Required: true},
			{Name: "zip", Description: "package result as a zip", Type: 5},
		},
	},
}

// poolNotifier defers to a *worker.Pool assigned after construction,
// resolving the circular dependency between a Pipeline (which needs a
// Notifier) and the Pool that owns it (which needs the Pipeline as its
// Processor).
type poolNotifier struct {
	pool *worker.Pool
}

func (n *poolNotifier) Notify() {
	if n.pool != nil {
		n.pool.Notify()
	}
}

// poolWiring is everything built for one pool: its queue (submit side),
// its worker pool (claim side), and the sweep target tying them together.
type poolWiring struct {
	jobs  store.JobStore
	queue *queue.Queue
	pool  *worker.Pool
}

func buildPool(p core.Pool, jobs store.JobStore, client *discordapi.Client, transform processor.Transform, maxWorkers int, workerID string) poolWiring {
	notifier := &poolNotifier{}
	pipeline := processor.New(p, jobs, client, notifier, transform, workerID)
	wp := worker.NewPool(pipeline, maxWorkers)
	notifier.pool = wp

	q := queue.New(p, jobs, client, wp)
	return poolWiring{jobs: jobs, queue: q, pool: wp}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting raftbot", "version", version)

	db, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database opened", "dsn", cfg.Database.DSN)

	ctx := context.Background()

	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()

	limiter := ratelimit.New(cfg.RateLimits.Capacity, cfg.RateLimits.RefillRate)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	client := discordapi.New(cfg.Discord.Token, cfg.Discord.APIBaseURL, dnsResolver, limiter, breakers, db)

	if _, err := client.GetGatewayBotInfo(ctx, db); err != nil {
		return fmt.Errorf("fetch gateway bot info: %w", err)
	}
	appID, err := client.GetApplicationID(ctx)
	if err != nil {
		return fmt.Errorf("fetch application id: %w", err)
	}
	if err := client.RegisterSlashCommands(ctx, appID, commandCatalog); err != nil {
		return fmt.Errorf("register slash commands: %w", err)
	}
	slog.Info("slash commands registered", "count", len(commandCatalog))

	segmenter := inference.New(cfg.Assets.DestPath)
	if !segmenter.Available() {
		slog.Warn("rembg model unavailable at startup, pool will refuse submissions", "path", cfg.Assets.DestPath)
	}

	workerID := uuid.NewString()

	blp := buildPool(core.PoolBLP, db.JobStoreFor(core.PoolBLP), client, processor.BLPTransform{}, cfg.Pools.BLP.MaxWorkers, workerID)
	rembg := buildPool(core.PoolRembg, db.JobStoreFor(core.PoolRembg), client, processor.RembgTransform{Segmenter: segmenter}, cfg.Pools.Rembg.MaxWorkers, workerID)
	icon := buildPool(core.PoolIcon, db.JobStoreFor(core.PoolIcon), client, processor.IconTransform{}, cfg.Pools.Icon.MaxWorkers, workerID)
	rembg.queue.WithAvailability(segmenter)

	queues := map[core.Pool]*queue.Queue{
		core.PoolBLP:   blp.queue,
		core.PoolRembg: rembg.queue,
		core.PoolIcon:  icon.queue,
	}
	dispatcher := dispatch.New(db, client, queues)

	session := discordgw.New(cfg.Discord.Token, client, db, db, db, dispatcher)

	sweepTimeout := time.Duration(cfg.Pools.SweepTimeoutMin) * time.Minute
	sweeper := worker.NewSweeper(sweepTimeout,
		worker.SweepTarget{Pool: core.PoolBLP, Jobs: blp.jobs, Notifier: blp.pool},
		worker.SweepTarget{Pool: core.PoolRembg, Jobs: rembg.jobs, Notifier: rembg.pool},
		worker.SweepTarget{Pool: core.PoolIcon, Jobs: icon.jobs, Notifier: icon.pool},
	)

	runner := worker.NewRunner(session, blp.pool, rembg.pool, icon.pool, sweeper)

	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		shutdown, err := telemetry.SetupTracing(ctx, endpoint, sampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("raftbot/admin")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint, "sample_rate", sampleRate)
		}
	}

	resync := func(ctx context.Context) error {
		return client.RegisterSlashCommands(ctx, appID, commandCatalog)
	}
	installer := assets.New(cfg.Assets, nil)

	adminHandler := adminserver.New(adminserver.Deps{
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
		ReadyCheck:     db.Ping,
		AdminKey:       cfg.Admin.AdminKey,
		Resync:         resync,
		Sweep:          sweeper.SweepNow,
	})
	adminSrv := &http.Server{
		Addr:         cfg.Admin.Addr,
		Handler:      adminHandler,
		ReadTimeout:  cfg.Admin.ReadTimeout,
		WriteTimeout: cfg.Admin.WriteTimeout,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	adminErrCh := make(chan error, 1)
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			adminErrCh <- err
		}
		close(adminErrCh)
	}()

	slog.Info("raftbot ready", "admin_addr", cfg.Admin.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1, syscall.SIGUSR2)

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				slog.Info("received SIGUSR1, resyncing slash commands")
				if err := resync(ctx); err != nil {
					slog.Error("resync failed", "error", err)
				}
				continue
			case syscall.SIGUSR2:
				slog.Info("received SIGUSR2, installing model asset")
				if err := installer.Install(ctx); err != nil {
					slog.Error("asset install failed", "error", err)
				}
				continue
			default:
				slog.Info("shutting down", "signal", sig)
			}
		case err := <-adminErrCh:
			workerCancel()
			return err
		}
		break
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout)
	defer cancel()

	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("raftbot stopped")
	return nil
}
