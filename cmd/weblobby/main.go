package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weblobby/weblobby-client/internal/app"
	"github.com/weblobby/weblobby-client/internal/config"
	"github.com/weblobby/weblobby-client/internal/log"
)

func main() {
	var (
		configPath string
		serverAddr string
		backend    string
		httpAddr   string
		logLevel   string
	)

	root := &cobra.Command{
		Use:          "weblobby",
		Short:        "Lobby client engine with a local UI bridge",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			bootLogger := log.New(logLevel)

			cfg, path, err := config.Load(bootLogger, configPath)
			if err != nil {
				return fmt.Errorf("load config %s: %w", path, err)
			}
			if serverAddr != "" {
				cfg.ServerAddr = serverAddr
			}
			if backend != "" {
				cfg.Backend = backend
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			logger := log.New(cfg.LogLevel)

			application, err := app.New(&cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info().
				Str("server", cfg.ServerAddr).
				Str("backend", cfg.Backend).
				Str("http", cfg.HTTPAddr).
				Msg("starting weblobby")
			return application.Run(ctx)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to config file")
	root.Flags().StringVar(&serverAddr, "server", "", "lobby server address (host:port or ws:// URL)")
	root.Flags().StringVar(&backend, "backend", "", "wire protocol: tas or zk")
	root.Flags().StringVar(&httpAddr, "http-addr", "", "UI bridge listen address")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
