// Command dtwind runs the Digital Twin orchestration server: the embedded
// store, scheduler, worker manager, HOMЯ observer, supervisor, improvement
// job queue, dispatcher, event stream, and HTTP API of spec.md §4-§6,
// wired the way the teacher's cmd/tarsy/main.go wires its own components.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/digitaltwin/dtwind/pkg/agentclient"
	"github.com/digitaltwin/dtwind/pkg/api"
	"github.com/digitaltwin/dtwind/pkg/config"
	"github.com/digitaltwin/dtwind/pkg/dispatcher"
	"github.com/digitaltwin/dtwind/pkg/events"
	"github.com/digitaltwin/dtwind/pkg/homr"
	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/iteration"
	"github.com/digitaltwin/dtwind/pkg/jobqueue"
	"github.com/digitaltwin/dtwind/pkg/metrics"
	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/notify"
	"github.com/digitaltwin/dtwind/pkg/retention"
	"github.com/digitaltwin/dtwind/pkg/scheduler"
	"github.com/digitaltwin/dtwind/pkg/store"
	"github.com/digitaltwin/dtwind/pkg/supervisor"
	"github.com/digitaltwin/dtwind/pkg/version"
	"github.com/digitaltwin/dtwind/pkg/workermanager"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "twin.yaml", "path to the YAML configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, logger); err != nil {
		logger.Error("dtwind exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return err
	}
	cfg.Store = store.Config{
		Path:         filepath.Join(cfg.StateDir, "dtwind.db"),
		MaxOpenConns: 1,
	}
	cfg.AgentClient = agentclient.DefaultConfig(cfg.AgentCommand[0], cfg.AgentCommand[1:]...)

	stats := cfg.Stats()
	logger.Info("starting dtwind",
		"version", version.Full(),
		"state_dir", stats.StateDir,
		"bind_addr", stats.BindAddr,
		"config_path", cfg.ConfigPath(),
	)

	s, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	ids := idgen.NewGenerator()
	clock := idgen.SystemClock{}

	connMgr := events.NewManager(cfg.Server.WebSocketTimeout, logger)
	publisher := events.NewPublisher(connMgr)

	sched := scheduler.New(s, ids, clock, cfg.Scheduler, logger)
	workers := workermanager.New(s, ids, clock, nil, logger)

	observer := homr.New(s, ids, clock, publisher, logger)

	var notifier *notify.Service
	if cfg.Notify.Enabled {
		notifier = notify.New(notify.Config{
			Token:   os.Getenv(cfg.Notify.TokenEnv),
			Channel: cfg.Notify.Channel,
		}, logger)
	}
	observer.SetNotifier(notifier)

	agent := agentclient.New(cfg.AgentClient)

	driver := iteration.New(s, sched, observer, agent, ids, clock, workers, publisher, cfg.Iteration, logger)
	workers.SetRunner(driver)

	sv := supervisor.New(s, sched, workers, ids, clock, publisher, cfg.Supervisor, logger)
	sv.SetNotifier(notifier)

	jobs := jobqueue.New(s, ids, clock, cfg.JobQueue, logger)
	jobs.RegisterHandler(models.JobTypeRetroAnalyze, jobqueue.RetroAnalyze)

	dispatch := dispatcher.New(s, ids, clock, agent, cfg.Dispatcher)

	metricsReg := metrics.New(metrics.Config{})

	srv := api.New(s, ids, clock, sched, workers, sv, jobs, dispatch, connMgr, cfg.Server.BodyLimitBytes)
	srv.SetMetrics(metricsReg)
	srv.SetDefaultCostCap(cfg.DefaultOutcomeCostCapUSD)

	sweeper := retention.New(s, clock, cfg.Retention, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	go sv.Run(ctx)
	go jobs.Run(ctx)

	ln, err := net.Listen("tcp", cfg.Server.BindAddr)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.StartWithListener(ln)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down dtwind")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		workers.TerminateAll(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	case err := <-serveErr:
		return err
	}
}
