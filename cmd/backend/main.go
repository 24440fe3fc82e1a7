package main

import (
	"log/slog"
	"os"
	"strings"

	audioimpl "github.com/foxseedlab/disciplinecall/external/audio"
	channelimpl "github.com/foxseedlab/disciplinecall/external/channel"
	configloader "github.com/foxseedlab/disciplinecall/external/config"
	generatorimpl "github.com/foxseedlab/disciplinecall/external/generator"
	"github.com/foxseedlab/disciplinecall/external/httpserver"
	repositoryimpl "github.com/foxseedlab/disciplinecall/external/repository"
	voiceimpl "github.com/foxseedlab/disciplinecall/external/voice"
	webhookimpl "github.com/foxseedlab/disciplinecall/external/webhook"
	"github.com/foxseedlab/disciplinecall/internal/coach"
	"github.com/foxseedlab/disciplinecall/internal/config"
	"github.com/foxseedlab/disciplinecall/internal/metrics"
	"github.com/foxseedlab/disciplinecall/internal/scheduler"
	"github.com/foxseedlab/disciplinecall/internal/session"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "disciplinecall",
		Short:         "Scheduled coaching calls over telephone and messaging channels",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCommand(), newMigrateCommand(), newHistoryCommand())
	return root
}

func mustLoadConfig() *config.Config {
	slog.Info("startup: loading configuration")
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env)
	return cfg
}

// initLogger defaults to debug in development; LOG_LEVEL overrides either way.
func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	if raw := strings.TrimSpace(cfg.LogLevel); raw != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(raw)); err == nil {
			logLevel = lvl
		}
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	metrics.RegisterDI(injector)
	repositoryimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	voiceimpl.RegisterDI(injector)
	generatorimpl.RegisterDI(injector)
	channelimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)
	scheduler.RegisterDI(injector)
	coach.RegisterDI(injector)
	httpserver.RegisterDI(injector)

	return injector
}
