// Package main is the entry point for the sandboxd MCP server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/sandboxd/config"
	"github.com/isdmx/sandboxd/logger"
	"github.com/isdmx/sandboxd/mcpserver"
	"github.com/isdmx/sandboxd/sandbox"
)

var (
	flagConfig        string
	flagImage         string
	flagContainerName string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "sandboxd",
		Short:        "MCP server for persistent Docker sandbox execution",
		RunE:         run,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to the MCP tool-server configuration file (required)")
	rootCmd.Flags().StringVar(&flagImage, "image", "", "override the sandbox image tag")
	rootCmd.Flags().StringVar(&flagContainerName, "container-name", "", "override the persistent container name")
	_ = rootCmd.MarkFlagRequired("config")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	// Optional .env for local development; viper and the process env still win.
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return err
	}

	cfg.Servers.ConfigPath = flagConfig
	if flagImage != "" {
		cfg.Sandbox.Image = flagImage
	}
	if flagContainerName != "" {
		cfg.Sandbox.ContainerName = flagContainerName
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if _, statErr := os.Stat(cfg.Servers.ConfigPath); statErr != nil {
		log.Error("tool server configuration file not found",
			zap.String("path", cfg.Servers.ConfigPath),
			zap.Error(statErr))
		return fmt.Errorf("config file not found: %s", cfg.Servers.ConfigPath)
	}

	log.Info("starting sandboxd",
		zap.String("config", cfg.Servers.ConfigPath),
		zap.String("image", cfg.Sandbox.Image),
		zap.String("container", cfg.Sandbox.ContainerName))

	app := fx.New(
		fx.Supply(cfg, log),
		fx.Provide(
			newEnvironment,
			newSandbox,
			mcpserver.New,
		),
		fx.Invoke(serve),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
	return nil
}

// newEnvironment builds the execution environment from the application
// configuration. The environment is not provisioned yet: Create runs inside
// the fx OnStart hook so teardown is guaranteed via OnStop.
func newEnvironment(cfg *config.Config, log *zap.Logger) (sandbox.Environment, error) {
	envCfg := sandbox.EnvConfig{
		Image:         cfg.Sandbox.Image,
		ContainerName: cfg.Sandbox.ContainerName,
		Workdir:       cfg.Sandbox.Workdir,
		CPUQuota:      cfg.Sandbox.CPUQuota,
		Memory:        cfg.Sandbox.Memory,
		NetworkMode:   cfg.Sandbox.NetworkMode,
		AutoRemove:    cfg.Sandbox.AutoRemove,
		RemoveVolumes: cfg.Sandbox.RemoveVolumes,
		Volumes:       cfg.Sandbox.Volumes,
		Env:           cfg.Sandbox.Env,
		Dockerfile:    cfg.Sandbox.Dockerfile,
		BuildContext:  cfg.Sandbox.BuildContext,
		Keepalive:     cfg.Sandbox.Keepalive,
	}
	return sandbox.NewEnvironment(log, envCfg, cfg.Sandbox.Backend)
}

func newSandbox(cfg *config.Config, env sandbox.Environment, log *zap.Logger) (mcpserver.Orchestrator, error) {
	return sandbox.New(env, cfg.Servers.ConfigPath, log)
}

// serve ties the environment lifecycle and the MCP transport to the fx app
// lifecycle: provisioning failures abort startup, and Cleanup runs on every
// exit path.
func serve(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	log *zap.Logger,
	env sandbox.Environment,
	srv *mcpserver.MCPServer,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := env.Create(ctx); err != nil {
				return err
			}
			log.Info("sandbox environment ready",
				zap.String("container", env.ContainerName()),
				zap.String("image", env.Image()))

			go func() {
				var err error
				switch cfg.Server.Transport {
				case "stdio":
					err = srv.ServeStdio()
				case "http":
					err = srv.ServeHTTP()
				}
				if err != nil {
					log.Error("MCP server stopped", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down sandbox")
			env.Cleanup(ctx)
			return nil
		},
	})
}
