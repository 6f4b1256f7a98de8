// Package daemon holds the startup sequence shared by osvdhcpd and
// osvdhcpc.
package daemon

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/veesix-networks/osvdhcp/pkg/component"
	"github.com/veesix-networks/osvdhcp/pkg/config"
	"github.com/veesix-networks/osvdhcp/pkg/events/local"
	"github.com/veesix-networks/osvdhcp/pkg/ifmgr"
	"github.com/veesix-networks/osvdhcp/pkg/logger"
	"github.com/veesix-networks/osvdhcp/pkg/opdb"
	"github.com/veesix-networks/osvdhcp/pkg/opdb/sqlite"
	"github.com/veesix-networks/osvdhcp/pkg/version"
)

// Setup builds the daemon's engine from the shared dependencies and
// records it in deps so plugins can reach it.
type Setup func(ctx context.Context, deps *component.Dependencies, log *slog.Logger) (component.Component, error)

// Main parses flags, runs the daemon until SIGINT or SIGTERM and exits.
func Main(name, defaultConfig string, setup Setup) {
	configPath := flag.String("config", defaultConfig, "Path to configuration file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(name, version.Full())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, name, cfg, setup); err != nil {
		log.Fatalf("%s: %v", name, err)
	}
}

// Run starts the engine and the enabled plugins and blocks until ctx ends.
func Run(ctx context.Context, name string, cfg *config.Config, setup Setup) error {
	logger.Configure(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Components)
	mainLog := logger.Get(logger.Main)
	mainLog.Info("Starting "+name, "version", version.Version)

	eventBus := local.NewBus()
	defer eventBus.Close()

	ifMgr := ifmgr.New()
	defer ifMgr.Close()

	deps := component.Dependencies{
		EventBus: eventBus,
		Config:   cfg,
		IfMgr:    ifMgr,
	}

	if !cfg.OpDB.Disabled {
		db, err := sqlite.Open(cfg.OpDB.Path)
		if err != nil {
			return fmt.Errorf("open operational database %s: %w", cfg.OpDB.Path, err)
		}
		defer db.Close()
		deps.OpDB = db
		attrs := []any{"path", db.Path()}
		for _, ns := range opdb.Namespaces() {
			if n, err := db.Count(ctx, ns); err == nil {
				attrs = append(attrs, ns, n)
			}
		}
		logger.Get(logger.OpDB).Info("Operational database opened", attrs...)
	}

	engine, err := setup(ctx, &deps, mainLog)
	if err != nil {
		return err
	}

	orch := component.NewOrchestrator()
	orch.Register(engine)

	plugins, err := component.LoadAll(deps)
	if err != nil {
		return fmt.Errorf("load plugin components: %w", err)
	}
	for _, comp := range plugins {
		mainLog.Info("Loaded plugin component", "name", comp.Name())
		orch.Register(comp)
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	mainLog.Info(name + " started successfully")

	<-ctx.Done()
	mainLog.Info("Shutting down " + name)

	if err := orch.Stop(context.Background()); err != nil {
		mainLog.Error("Error stopping components", "error", err)
	}
	mainLog.Info(name + " stopped")
	return nil
}

// RestoreState replays the operational database into every provider.
func RestoreState(ctx context.Context, db opdb.Store, providers ...opdb.Provider) error {
	if db == nil {
		return nil
	}
	return opdb.NewProviderRegistry(providers...).RestoreAll(ctx, db)
}
