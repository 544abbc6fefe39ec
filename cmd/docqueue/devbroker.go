package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/spf13/cobra"
)

// newDevBrokerCommand runs an in-process NATS server with JetStream so a worker
// can be tried locally without a broker deployment.
func newDevBrokerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev-broker",
		Short: "Run a local NATS server with JetStream for development",
		RunE: func(cmd *cobra.Command, _ []string) error {
			host, _ := cmd.Flags().GetString("host")
			port, _ := cmd.Flags().GetInt("port")
			storeDir, _ := cmd.Flags().GetString("store-dir")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runDevBroker(ctx, cmd, host, port, storeDir)
		},
	}
	cmd.Flags().String("host", "127.0.0.1", "listen host")
	cmd.Flags().Int("port", 4222, "listen port (-1 picks a free port)")
	cmd.Flags().String("store-dir", "", "JetStream storage directory (default: a temporary directory removed on exit)")

	return cmd
}

func runDevBroker(ctx context.Context, cmd *cobra.Command, host string, port int, storeDir string) error {
	if storeDir == "" {
		dir, err := os.MkdirTemp("", "docqueue-dev-broker-")
		if err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
		defer func() { _ = os.RemoveAll(dir) }()
		storeDir = dir
	}

	srv, err := server.NewServer(&server.Options{
		Host:      host,
		Port:      port,
		JetStream: true,
		StoreDir:  storeDir,
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		return fmt.Errorf("create NATS server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return errors.New("NATS server not ready within 10s")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "DOCQUEUE_NATS_URL=%s\n", srv.ClientURL())
	fmt.Fprintf(out, "JetStream store: %s\n", storeDir)

	<-ctx.Done()

	fmt.Fprintln(cmd.ErrOrStderr(), "Shutting down NATS server...")
	srv.Shutdown()
	srv.WaitForShutdown()

	return nil
}
