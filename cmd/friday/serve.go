package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"friday/internal/agent"
	"friday/internal/config"
	"friday/internal/db"
	"friday/internal/gateway"
	"friday/internal/history"
	"friday/internal/llm"
	"friday/internal/metrics"
	"friday/internal/tools"
	"friday/internal/trace"

	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if serveAddr != "" {
			cfg.Gateway.Addr = serveAddr
		}

		shutdownTrace, err := trace.Init(ctx, trace.Config{
			Enabled:  cfg.Trace.Enabled,
			Endpoint: cfg.Trace.Endpoint,
			URLPath:  cfg.Trace.URLPath,
			APIKey:   cfg.Trace.APIKey,
		})
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			if err := shutdownTrace(context.Background()); err != nil {
				slog.Warn("trace shutdown failed", "error", err)
			}
		}()

		var recorder agent.Recorder
		if cfg.DB.Enabled {
			database, err := db.Open(cfg.DB.Path)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer database.Close()

			if err := database.Migrate(); err != nil {
				return fmt.Errorf("migrating database: %w", err)
			}
			recorder = history.NewStore(database)
			slog.Info("tool-call audit log enabled", "path", cfg.DB.Path)
		}

		llmCfg := cfg.DefaultLLMConfig()
		provider, err := llm.New(cfg.DefaultLLM, llmCfg)
		if err != nil {
			return err
		}
		if llmCfg.UsesPlaceholderKey() {
			slog.Info("no API key in environment, using placeholder", "llm", cfg.DefaultLLM, "env", llmCfg.APIKeyEnv)
		}

		registry := agent.NewRegistry()
		registry.Register(tools.NewWeather())

		profiles := map[string]*agent.AgentProfile{
			config.RoutePlain: {
				Name:         config.RoutePlain,
				SystemPrompt: cfg.Routes[config.RoutePlain].SystemPrompt,
				MaxSteps:     cfg.Routes[config.RoutePlain].MaxSteps,
			},
			config.RouteWeather: {
				Name:         config.RouteWeather,
				SystemPrompt: cfg.Routes[config.RouteWeather].SystemPrompt,
				Tools:        []string{"weather"},
				MaxSteps:     cfg.Routes[config.RouteWeather].MaxSteps,
			},
		}

		m := metrics.New(nil)
		factory := agent.NewRunnerFactory(provider, registry, profiles, recorder, m)

		paths := map[string]string{
			config.RoutePlain:   "/api/chat",
			config.RouteWeather: "/chat",
		}
		var routes []gateway.Route
		for _, name := range factory.Profiles() {
			runner, err := factory.Build(name)
			if err != nil {
				return fmt.Errorf("building %s runner: %w", name, err)
			}
			routes = append(routes, gateway.Route{Name: name, Path: paths[name], Runner: runner})
		}

		opts := []gateway.Option{
			gateway.WithMetrics(m),
			gateway.WithMaxBodyBytes(cfg.Gateway.MaxBodyBytes),
		}
		if cfg.Gateway.ObserveChunks {
			opts = append(opts, gateway.WithObserver(gateway.LogChunk, 0))
		}

		slog.Info("starting gateway",
			"addr", cfg.Gateway.Addr,
			"llm", cfg.DefaultLLM,
			"provider", llmCfg.Provider,
			"model", provider.Model(),
			"base_url", llmCfg.BaseURL,
		)
		return gateway.NewServer(routes, opts...).ListenAndServe(ctx, cfg.Gateway.Addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
}
