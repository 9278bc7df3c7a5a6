// Package main provides the hivemind binary entry point.
// Hivemind is an autonomous multi-agent system: a queen supervisor
// coordinating specialist workers over a durable bus, with a four-gate
// security pipeline on every boundary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/c360studio/hivemind/llm/providers"

	"github.com/c360studio/hivemind/config"
	"github.com/c360studio/hivemind/instance"
	"github.com/c360studio/hivemind/llm"
	"github.com/c360studio/hivemind/queen"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "hivemind"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		httpAddr   string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "hivemind",
		Short: "Autonomous multi-agent supervisor",
		Long: `Hivemind runs a queen supervisor over a colony of specialist workers.

It provides:
- A durable message bus and TTL-bounded knowledge board
- A four-gate LLM security pipeline on every boundary
- Worker dispatch with weighted consensus decisions
- A websocket push channel for admin clients

State lives in a Redis-compatible backend; an in-memory fallback keeps
the hive running degraded when the backend is down.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, httpAddr, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&httpAddr, "http", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, httpAddr, logLevel string) error {
	printBanner()

	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := llm.NewClient(cfg.LLM, llm.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}

	ctx := context.Background()
	q, err := queen.New(ctx, cfg, logger, queen.WithGenerator(client))
	if err != nil {
		return fmt.Errorf("initialize supervisor: %w", err)
	}

	var backend *redis.Client
	if cfg.Bus.Backend == config.BackendDurable {
		backend = redis.NewClient(&redis.Options{
			Addr: cfg.Bus.RedisURL,
			DB:   cfg.Bus.RedisDB,
		})
	}
	inst := instance.NewManager(cfg.Instance, backend, logger)
	if err := inst.Register(ctx); err != nil {
		logger.Warn("Instance registration failed, running unregistered", "error", err)
	}
	sessions, pending, err := inst.Recover(ctx, q.Bus())
	if err != nil {
		logger.Warn("Recovery incomplete", "error", err)
	} else if sessions+pending > 0 {
		logger.Info("Recovered prior state", "sessions", sessions, "pending", pending)
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	q.Start(signalCtx)

	// Hot-reload runtime tunables when running from an explicit config file.
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, logger, func(next *config.Config) {
			if err := q.Reload(next); err != nil {
				logger.Warn("Config reload rejected", "error", err)
			}
		})
		if err != nil {
			logger.Warn("Config watch unavailable", "error", err)
		} else {
			watcher.Start(signalCtx)
			defer watcher.Close()
		}
	}

	server := &http.Server{
		Addr:              httpAddr,
		Handler:           buildMux(q, inst),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("Hivemind ready",
		"version", Version,
		"instance", inst.ID(),
		"bus_backend", cfg.Bus.Backend)

	select {
	case <-signalCtx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErr:
		signalCancel()
		logger.Error("HTTP server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Instance.ShutdownTimeout)
	defer cancel()
	if err := inst.Shutdown(shutdownCtx, nil,
		httpCloser{server: server, timeout: cfg.Instance.ShutdownTimeout},
		q,
	); err != nil {
		logger.Error("Shutdown incomplete", "error", err)
	}

	logger.Info("Hivemind shutdown complete")
	return nil
}

func buildMux(q *queen.Queen, inst *instance.Manager) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", q.Handler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// A draining instance must fail the probe so the balancer stops
		// routing to it before the workers wind down.
		if !inst.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"healthy": false})
			return
		}
		_ = json.NewEncoder(w).Encode(q.Health(r.Context()))
	})
	return mux
}

// httpCloser adapts graceful server shutdown to the io.Closer slot in the
// instance shutdown sequence.
type httpCloser struct {
	server  *http.Server
	timeout time.Duration
}

func (c httpCloser) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.server.Shutdown(ctx)
}

func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.NewLoader(logger).Load()
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║            Hivemind v" + Version + "                    ║")
	fmt.Println("║      Autonomous Multi-Agent Supervisor        ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}
