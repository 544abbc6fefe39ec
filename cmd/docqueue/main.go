package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/docqueue"
	"github.com/arloliu/docqueue/broker"
	"github.com/arloliu/docqueue/internal/logging"
	"github.com/arloliu/docqueue/internal/metrics"
	"github.com/arloliu/docqueue/processing"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "docqueue",
		Short:         "Document extraction work-queue worker",
		Long:          "docqueue consumes document jobs from NATS JetStream and publishes one result or error envelope per job.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a worker until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			envFile, _ := cmd.Flags().GetString("env-file")

			return run(configPath, envFile)
		},
	}
	runCmd.Flags().String("config", os.Getenv("DOCQUEUE_CONFIG"), "YAML configuration file (optional)")
	runCmd.Flags().String("env-file", ".env", "dotenv file loaded before reading DOCQUEUE_* variables")
	rootCmd.AddCommand(runCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docqueue %s (%s)\n", version, runtime.Version())
		},
	}
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newDevBrokerCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "docqueue:", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	// A missing .env is normal outside development.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := docqueue.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Log, os.Stderr)
	logger.Info("starting docqueue", "version", version, "config", configPath)

	conn, err := broker.Connect(cfg.Broker, logger)
	if err != nil {
		return fmt.Errorf("%w: %w", docqueue.ErrStartupFailed, err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewPrometheus(registry, cfg.Metrics.Namespace)

	worker, err := docqueue.NewWorker(cfg, conn, processing.Passthrough{},
		docqueue.WithLogger(logger),
		docqueue.WithMetrics(collector),
		docqueue.WithVersion(version),
		docqueue.WithHealthCheck("broker", func(context.Context) error {
			if !conn.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}),
	)
	if err != nil {
		conn.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		})
	}

	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Drain(drainCtx); err != nil {
		logger.Warn("failed to drain broker connection", "error", err)
	}

	if runErr != nil {
		logger.Error("docqueue stopped with error", "error", runErr)
		return runErr
	}
	logger.Info("docqueue stopped")

	return nil
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}
