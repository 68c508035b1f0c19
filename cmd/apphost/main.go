// Command apphost runs the app lifecycle orchestrator as a standalone host:
// it loads app definitions and plugin modules from a watched directory,
// reconciles on a schedule and on filesystem events, and serves the admin
// introspection API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gopherhost/apphost"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var debug bool

	root := &cobra.Command{
		Use:     "apphost",
		Short:   "Lifecycle orchestrator for plugin-style app directories",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "apphost.toml", "host configuration file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the host until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(configPath, debug)
		},
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Run a single reconciliation cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(configPath, debug)
		},
	}

	root.AddCommand(run, check)
	return root
}

func newLogger(debug bool) apphost.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return apphost.NewSlogLogger(slog.New(handler))
}

func buildManager(configPath string, logger apphost.Logger) (*apphost.AppManager, *workerPool, apphost.HostConfig, error) {
	cfg, err := apphost.LoadHostConfig(configPath)
	if err != nil {
		return nil, nil, cfg, err
	}

	loader := newPluginLoader(logger)
	broker := apphost.NewEventBroker(logger)
	pool := newWorkerPool(defaultPoolSize, cfg.AutoPin, logger)

	mgr, err := apphost.NewAppManager(cfg, apphost.Collaborators{
		Loader:   loader,
		Factory:  loader,
		Pool:     pool,
		Notifier: apphost.NewEventNotifier(broker),
	}, logger)
	if err != nil {
		pool.Stop()
		return nil, nil, cfg, err
	}
	return mgr, pool, cfg, nil
}

func runOnce(configPath string, debug bool) error {
	logger := newLogger(debug)
	mgr, pool, _, err := buildManager(configPath, logger)
	if err != nil {
		return err
	}
	defer pool.Stop()
	plan, err := mgr.CheckForUpdates(apphost.NoPluginSignal, false)
	if err != nil {
		return err
	}
	logger.Info("Cycle complete",
		"initialized", plan.InitializeNames(),
		"terminated", plan.TerminateNames(),
		"total", plan.TotalApps)
	return mgr.Shutdown()
}

func runHost(configPath string, debug bool) error {
	logger := newLogger(debug)
	mgr, pool, cfg, err := buildManager(configPath, logger)
	if err != nil {
		return err
	}
	defer pool.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger, err := apphost.NewCycleTrigger(mgr, cfg.CheckSchedule, logger)
	if err != nil {
		return err
	}
	if err := trigger.Start(); err != nil {
		return err
	}
	defer trigger.Stop()

	if cfg.Watch {
		watcher, err := apphost.NewDirWatcher(cfg.AppDir, 0, trigger.Fire, logger)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	var admin *apphost.AdminServer
	if cfg.AdminAddr != "" {
		admin = apphost.NewAdminServer(mgr, cfg.AdminAddr, logger)
		admin.Start()
	}

	// Initial cycle so apps come up before the first scheduled tick.
	trigger.Fire()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal, shutting down", "signal", sig)

	if admin != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := admin.Stop(shutdownCtx); err != nil {
			logger.Error("Admin API stop failed", "error", err)
		}
	}

	return mgr.Shutdown()
}
