package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/daimoniac/docshield/internal/api"
	"github.com/daimoniac/docshield/internal/catalog"
	"github.com/daimoniac/docshield/internal/config"
	"github.com/daimoniac/docshield/internal/docstore"
	"github.com/daimoniac/docshield/internal/forwarder"
	"github.com/daimoniac/docshield/internal/observability"
	"github.com/daimoniac/docshield/internal/posture"
	"github.com/daimoniac/docshield/internal/queue"
	"github.com/daimoniac/docshield/internal/watcher"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the catalog API with the security layer, event forwarding and observability",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel)
	logger.Info("starting docshield",
		"policy_path", cfg.PolicyPath,
		"policy", cfg.Policy.String(),
		"log_level", cfg.Observability.LogLevel)

	_ = observability.GetMetrics()

	healthChecker := observability.NewHealthChecker(logger)

	healthChecker.RegisterComponent("config")
	healthChecker.RegisterComponent("store")
	healthChecker.RegisterComponent("queue")
	healthChecker.RegisterComponent("forwarder")
	healthChecker.RegisterComponent("security_posture")
	healthChecker.RegisterComponent("watcher")

	healthChecker.UpdateComponentHealth("config", observability.StatusHealthy, "")

	stack, err := newSecurityStack(cfg.Policy, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize security layer: %w", err)
	}
	logger.Info("security layer initialized",
		"pattern_library", stack.library.Version().String(),
		"patterns", len(stack.library.Patterns()))

	logger.Debug("initializing document store",
		"type", cfg.Store.Type)
	store, err := docstore.Open(cfg.Store.Type, cfg.Store.DSN())
	if err != nil {
		healthChecker.UpdateComponentHealth("store", observability.StatusUnhealthy, err.Error())
		return fmt.Errorf("failed to initialize %s store: %w", cfg.Store.Type, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("error closing document store",
				"error", err.Error())
		}
	}()
	healthChecker.UpdateComponentHealth("store", observability.StatusHealthy, "")

	products, err := catalog.NewProductManager(store, stack.sanitizer, stack.auditor, catalog.DefaultConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize product catalog: %w", err)
	}
	if err := products.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to prepare product catalog: %w", err)
	}

	logger.Debug("initializing event queue",
		"buffer_size", cfg.Queue.BufferSize)
	eventQueue := queue.NewInMemoryQueue(cfg.Queue.BufferSize)
	stack.auditor.SetPublisher(eventQueue)
	healthChecker.UpdateComponentHealth("queue", observability.StatusHealthy, "")

	sinks := []forwarder.Sink{
		forwarder.NewLogSink(logger),
		forwarder.NewStoreSink(store),
	}
	if cfg.NATS.URL != "" {
		natsSink, err := forwarder.NewNATSSink(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			// events still reach the log and store sinks
			logger.Warn("NATS sink unavailable",
				"url", cfg.NATS.URL,
				"error", err.Error())
		} else {
			sinks = append(sinks, natsSink)
		}
	}
	eventForwarder := forwarder.NewForwarder(eventQueue, sinks, forwarder.Config{
		RetryAttempts: cfg.Forwarder.RetryAttempts,
		RetryBackoff:  cfg.Forwarder.RetryBackoff,
		Concurrency:   cfg.Forwarder.Concurrency,
		BlockedOnly:   cfg.Forwarder.BlockedOnly,
	}, logger)
	healthChecker.UpdateComponentHealth("forwarder", observability.StatusHealthy, "")

	postureEngine, err := posture.NewEngine(logger, cfg.Policy.PostureConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize posture engine: %w", err)
	}
	postureInterval, err := cfg.Policy.PostureInterval()
	if err != nil {
		return err
	}

	observability.RegisterSecurityCollector(
		func() observability.SecuritySnapshot {
			m := stack.auditor.GetMetrics()
			return observability.SecuritySnapshot{
				Score:              m.SecurityScore,
				RateLimitedSources: m.RateLimitedIPs,
				RecentEvents:       m.RecentEventsCount,
				BlockedInWindow:    m.BlockedInWindow,
			}
		},
		func(ctx context.Context) (int, error) {
			return store.Count(ctx, forwarder.EventsCollection, docstore.Filter{})
		},
		logger,
	)

	obsServer := observability.NewServer(observability.ServerConfig{
		MetricsPort: cfg.Observability.MetricsPort,
		HealthPort:  cfg.Observability.HealthCheckPort,
		SecurityMetrics: func() map[string]any {
			return stack.auditor.GetMetrics().AsMap()
		},
	}, logger, healthChecker)

	go func() {
		if err := obsServer.Start(ctx); err != nil {
			logger.Error("observability server error",
				"error", err.Error())
		}
	}()

	go healthChecker.StartPeriodicChecks(ctx, postureInterval, map[string]observability.HealthCheckFunc{
		"store":            store.Ping,
		"security_posture": postureEngine.HealthCheck(stack.auditor.GetMetrics),
	})

	var policyWatcher *watcher.PolicyWatcher
	if cfg.Policy != nil {
		policyWatcher, err = watcher.NewPolicyWatcher(watcher.Config{Path: cfg.PolicyPath},
			watcher.Applier(stack.auditor, postureEngine), logger)
		if err != nil {
			healthChecker.UpdateComponentHealth("watcher", observability.StatusUnhealthy, err.Error())
			logger.Warn("policy hot reload disabled",
				"error", err.Error())
		} else {
			healthChecker.UpdateComponentHealth("watcher", observability.StatusHealthy, "")
		}
	} else {
		healthChecker.UpdateComponentHealth("watcher", observability.StatusHealthy, "no policy file")
	}

	var apiServer *api.APIServer
	if cfg.API.Enabled {
		logger.Debug("initializing API server",
			"port", cfg.API.Port,
			"read_only", cfg.API.ReadOnly)
		apiServer = api.NewAPIServer(&cfg.API, products, stack.auditor, postureEngine, logger)
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	// The forwarder outlives ctx so queued events drain after the API stops
	fwdCtx, fwdCancel := context.WithCancel(context.Background())
	defer fwdCancel()
	fwdDone := make(chan struct{})
	go func() {
		defer close(fwdDone)
		if err := eventForwarder.Start(fwdCtx); err != nil {
			logger.Error("forwarder error",
				"error", err.Error())
		}
	}()

	if policyWatcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := policyWatcher.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("policy watcher error",
					"error", err.Error())
				errChan <- fmt.Errorf("policy watcher error: %w", err)
			}
		}()
	}

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("API server listening",
				"port", cfg.API.Port)
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("API server error",
					"error", err.Error())
				errChan <- fmt.Errorf("API server error: %w", err)
			}
		}()
	}

	logger.Info("all components started successfully")

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errChan:
		logger.Error("component error, initiating shutdown",
			"error", err.Error())
		cancel()
	}

	logger.Info("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("API server and watcher stopped")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}

	// No more events can be recorded; let the forwarder drain the rest
	stack.auditor.SetPublisher(nil)
	if err := eventQueue.Close(); err != nil {
		logger.Warn("error closing event queue",
			"error", err.Error())
	}

	select {
	case <-fwdDone:
		logger.Debug("event queue drained")
	case <-shutdownCtx.Done():
		fwdCancel()
		<-fwdDone
		depth, _ := eventQueue.GetQueueDepth(context.Background())
		logger.Warn("event queue not drained at shutdown",
			"remaining_events", depth)
	}
	if err := eventForwarder.Close(); err != nil {
		logger.Error("error closing event sinks",
			"error", err.Error())
	}

	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down observability server",
			"error", err.Error())
	}

	logger.Info("shutdown complete",
		"queue", fmt.Sprintf("%+v", eventQueue.GetMetrics()))
	return nil
}
