package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/cmd/status-signer-server/server"
	"github.com/status-im/status-signer-go/internal/logging"
	"github.com/status-im/status-signer-go/internal/metrics"
	"github.com/status-im/status-signer-go/pkg/config"
	"github.com/status-im/status-signer-go/pkg/session"
)

var (
	configPath string
	address    string
)

var rootCmd = &cobra.Command{
	Use:   "status-signer-server",
	Short: "Serve the signer over JSON-RPC with device signals on a websocket",
	Example: `
status-signer-server --config signer.yaml
SIGNER_DEVICE_TRANSPORT=hid status-signer-server --address 127.0.0.1:8545`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the YAML config, ./signer.yaml when present")
	rootCmd.Flags().StringVar(&address, "address", "", "host:port to listen, overrides server.address")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if address != "" {
		cfg.Server.Address = address
	}

	rootLogger, err := logging.Build(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize log: %w", err)
	}
	defer func() { _ = rootLogger.Sync() }()
	zap.ReplaceGlobals(rootLogger)
	logger := rootLogger.Named("main")

	registry := prometheus.NewRegistry()
	service, err := session.NewFromConfig(cfg, rootLogger, metrics.NewMetrics(registry))
	if err != nil {
		logger.Error("failed to set up signer", zap.Error(err))
		return err
	}

	srv := server.NewServer(rootLogger, service, registry)
	srv.Setup()

	if err := srv.Listen(cfg.Server.Address); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		return err
	}
	logger.Info("signer-server started",
		zap.String("address", srv.Address()),
		zap.String("transport", cfg.Device.Transport),
		zap.String("backend", cfg.Signing.Backend))

	go handleInterrupts(srv)
	srv.Serve()
	return nil
}

// handleInterrupts stops the server on SIGINT/SIGTERM.
func handleInterrupts(srv *server.Server) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	<-ch
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Stop(ctx)
}
