package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/logging"
	"github.com/status-im/status-signer-go/pkg/config"
	"github.com/status-im/status-signer-go/pkg/hardware"
	"github.com/status-im/status-signer-go/pkg/session"
)

var (
	configFlag    string
	transportFlag string
	testnetFlag   bool
	walletFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "status-signer",
	Short: "Derive addresses and sign transactions with a seed or a hardware wallet",
	Long: `Derive addresses and sign transactions for bitcoin-family, EVM and Solana chains.

Keys come from the mnemonic file in the config (wallet.mnemonic_file) or, when a
device transport is configured, from a connected hardware wallet.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to the YAML config, ./signer.yaml when present")
	rootCmd.PersistentFlags().StringVar(&transportFlag, "transport", "", "device transport: hid, ble, pcsc or mock")
	rootCmd.PersistentFlags().BoolVar(&testnetFlag, "testnet", false, "register testnet chains instead of mainnets")
	rootCmd.PersistentFlags().StringVar(&walletFlag, "wallet", "", "wallet id, overrides wallet.id")

	rootCmd.AddCommand(addressCmd, signCmd, signMessageCmd, statusCmd, chainsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig applies the persistent flags on top of the loaded config.
func loadConfig(useDevice bool) (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if transportFlag != "" {
		cfg.Device.Transport = transportFlag
	}
	if useDevice {
		cfg.Signing.Backend = config.BackendHardware
	}
	if testnetFlag {
		cfg.Chains.Testnet = true
	}
	if walletFlag != "" {
		cfg.Wallet.ID = walletFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newService(useDevice bool) (*session.SignerService, error) {
	cfg, err := loadConfig(useDevice)
	if err != nil {
		return nil, err
	}
	logger, err := logging.Build(cfg.Log)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return session.NewFromConfig(cfg, logger, nil)
}

// connect opens the device when one is configured. The returned func disconnects it.
func connect(service *session.SignerService) (func(), error) {
	if service.Wallet() == nil {
		return func() {}, nil
	}
	var status hardware.Status
	if err := service.Connect(&struct{}{}, &status); err != nil {
		return nil, err
	}
	return func() { _ = service.Disconnect(&struct{}{}, &struct{}{}) }, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
