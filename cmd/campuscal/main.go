package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"campuscal/internal/config"
	appLog "campuscal/internal/log"
	"campuscal/internal/selection"
	"campuscal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
}

func main() {
	// .env is optional; it only provides CAMPUSCAL_CONFIG for deployments
	// that prefer env files over flags.
	_ = godotenv.Load()

	flags := parseFlags()
	if flags.configPath == "" {
		flags.configPath = os.Getenv("CAMPUSCAL_CONFIG")
	}
	if flags.configPath == "" {
		flags.configPath = "/etc/campuscal/config.yaml"
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI overrides.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("campuscal starting",
		"listen", conf.Listen,
		"detail_api", conf.DetailAPI.BaseURL,
		"link_base", conf.Link.BaseURL,
		"delivery_mode", conf.Delivery.Mode,
		"stagger_ms", conf.Delivery.StaggerMs,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	holder := config.NewHolder(conf)
	go func() {
		if err := config.Watch(ctx, flags.configPath, holder); err != nil && ctx.Err() == nil {
			appLog.Error("config watch stopped", err, "path", flags.configPath)
		}
	}()

	store := selection.NewStore()
	janitor, err := selection.StartJanitor(store,
		conf.Sessions.SweepSchedule,
		time.Duration(conf.Sessions.TTLMinutes)*time.Minute,
	)
	if err != nil {
		appLog.Error("failed to start selection janitor", err, "schedule", conf.Sessions.SweepSchedule)
		os.Exit(1)
	}
	defer janitor.Stop()

	if err := web.StartServer(ctx, holder, store); err != nil {
		appLog.Error("HTTP server failed", err)
		os.Exit(1)
	}

	appLog.Info("campuscal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "", "Path to config file (default $CAMPUSCAL_CONFIG or /etc/campuscal/config.yaml)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: DEBUG, INFO or ERROR (overrides config if set)")

	flag.Parse()

	return cfg
}
