package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tensionos/tensiond/internal/agent"
	"github.com/tensionos/tensiond/internal/config"
	"github.com/tensionos/tensiond/internal/ecosystem"
	"github.com/tensionos/tensiond/internal/events"
	"github.com/tensionos/tensiond/internal/logging"
	"github.com/tensionos/tensiond/internal/nats"
	"github.com/tensionos/tensiond/internal/persistence"
	"github.com/tensionos/tensiond/internal/reasoning"
	"github.com/tensionos/tensiond/internal/server"
)

const version = "1.0.0"

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "tensiond",
		Short:   "Tension-driven reasoning and agent orchestration daemon",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/tensiond.yaml", "configuration file")

	root.AddCommand(serveCmd(), reasonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket hub and NATS bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.HTTPPort = port
			}
			return serve(cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides config)")
	return cmd
}

func serve(cfg *config.Config) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := persistence.Open(cfg.StatePath)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("state opened", zap.String("path", cfg.StatePath))

	eventStore, err := events.NewSQLiteStore(store.DB())
	if err != nil {
		return err
	}
	bus := events.NewBus(eventStore, logger)

	coordinator := reasoning.NewCoordinator(reasoning.CoordinatorConfig{
		RuleDefaults:          cfg.RuleEngineDefaultsEnabled,
		DefaultPriorityMethod: cfg.DefaultPriorityMethod,
		MaxBatchConcurrency:   cfg.MaxBatchConcurrency,
		Bus:                   bus,
		Sink:                  store,
		Logger:                logger,
	})
	registry := agent.NewRegistry(agent.RegistryConfig{
		Bus:    bus,
		Stats:  store,
		Logger: logger,
		WINWeights: map[string]float64{
			"wisdom":       cfg.WinScoringWeights.Wisdom,
			"intelligence": cfg.WinScoringWeights.Intelligence,
			"networking":   cfg.WinScoringWeights.Networking,
		},
		HistoryLimit: cfg.PerformanceHistoryLimit,
	})
	creator := agent.NewCreator(registry, bus, logger)
	evolver := agent.NewEvolver(bus, store, logger)
	optimizer := ecosystem.NewOptimizer(bus, logger)

	srv, err := server.NewServer(server.Deps{
		Coordinator: coordinator,
		Registry:    registry,
		Creator:     creator,
		Evolver:     evolver,
		Optimizer:   optimizer,
		Store:       store,
		Bus:         bus,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	bridge, stopNATS, err := setupNATS(cfg, bus, store, logger)
	if err != nil {
		return err
	}
	defer stopNATS()
	if bridge != nil {
		if err := bridge.Start(context.Background()); err != nil {
			return err
		}
		defer bridge.Stop()
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(fmt.Sprintf(":%d", cfg.HTTPPort))
	}()

	select {
	case err := <-serverErr:
		return err
	case <-shutdown:
		logger.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// setupNATS starts the embedded server and bridge when configured. The
// returned stop function is always safe to call.
func setupNATS(cfg *config.Config, bus *events.Bus, store *persistence.Store, logger *zap.Logger) (*nats.Bridge, func(), error) {
	noop := func() {}
	url := cfg.NATSURL
	var embedded *nats.EmbeddedServer

	if cfg.EmbeddedNATS {
		srv, err := nats.NewEmbeddedServer(nats.EmbeddedServerConfig{
			JetStream: true,
			DataDir:   filepath.Join(filepath.Dir(cfg.StatePath), "nats"),
		})
		if err != nil {
			return nil, noop, err
		}
		if err := srv.Start(); err != nil {
			return nil, noop, err
		}
		embedded = srv
		url = srv.URL()
		logger.Info("embedded NATS server started", zap.String("url", url))
	}

	if url == "" {
		return nil, noop, nil
	}

	stop := func() {
		if embedded != nil {
			embedded.Shutdown()
		}
	}

	client, err := nats.NewClient(url, logger)
	if err != nil {
		stop()
		return nil, noop, err
	}
	stopAll := func() {
		client.Close()
		stop()
	}

	if embedded != nil {
		manager, err := nats.NewStreamManager(client.RawConn(), logger)
		if err != nil {
			stopAll()
			return nil, noop, err
		}
		if err := manager.SetupStreams(); err != nil {
			stopAll()
			return nil, noop, err
		}
	}

	return nats.NewBridge(client, bus, store, logger), stopAll, nil
}

func reasonCmd() *cobra.Command {
	var (
		description string
		services    []string
		method      string
	)

	cmd := &cobra.Command{
		Use:   "reason <title>",
		Short: "Run the reasoning pipeline once and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			coordinator := reasoning.NewCoordinator(reasoning.CoordinatorConfig{
				RuleDefaults:          cfg.RuleEngineDefaultsEnabled,
				DefaultPriorityMethod: cfg.DefaultPriorityMethod,
			})

			requested := make([]reasoning.Service, 0, len(services))
			for _, s := range services {
				requested = append(requested, reasoning.Service(strings.TrimSpace(s)))
			}

			result, err := coordinator.Process(cmd.Context(), &reasoning.Request{
				Title:             args[0],
				Description:       description,
				RequestedServices: requested,
				PriorityMethod:    method,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "tension description")
	cmd.Flags().StringSliceVarP(&services, "services", "s", []string{"analysis", "solutions", "priority"}, "pipeline stages to run")
	cmd.Flags().StringVarP(&method, "method", "m", "", "priority calculation method")
	return cmd
}
