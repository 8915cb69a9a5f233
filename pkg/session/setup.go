package session

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/metrics"
	"github.com/status-im/status-signer-go/internal/transport"
	"github.com/status-im/status-signer-go/internal/transport/ble"
	"github.com/status-im/status-signer-go/internal/transport/pcsc"
	"github.com/status-im/status-signer-go/internal/transport/usbhid"
	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/config"
	"github.com/status-im/status-signer-go/pkg/hardware"
	"github.com/status-im/status-signer-go/pkg/keys"
	"github.com/status-im/status-signer-go/pkg/mocked"
	"github.com/status-im/status-signer-go/pkg/signer"
)

// NewFromConfig wires the transport, hardware wallet, key store and signers described by cfg.
func NewFromConfig(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*SignerService, error) {
	if logger == nil {
		logger = zap.L()
	}

	retriever := keys.NewMnemonicRetriever(keys.WithLogger(logger.Named("keys")))
	if cfg.Wallet.MnemonicFile != "" {
		if err := retriever.LoadMnemonicFile(cfg.Wallet.ID, cfg.Wallet.MnemonicFile); err != nil {
			return nil, err
		}
	}

	var wallet *hardware.Wallet
	if cfg.Device.Transport != "" {
		t, err := newTransport(cfg, logger.Named("transport"), m)
		if err != nil {
			return nil, err
		}
		wallet = hardware.New(t,
			hardware.WithLogger(logger.Named("hardware")),
			hardware.WithMetrics(m),
			hardware.WithConnectTimeout(cfg.Device.ConnectTimeout),
		)
	}

	manager := signer.NewManager(signer.WithLogger(logger.Named("signer")), signer.WithMetrics(m))
	for _, info := range chain.All() {
		if info.Testnet != cfg.Chains.Testnet {
			continue
		}

		var (
			s   signer.Signer
			err error
		)
		opts := []signer.Option{signer.WithLogger(logger.Named("signer"))}
		if cfg.Signing.Backend == config.BackendHardware {
			s, err = signer.NewHardware(info.ID, wallet, opts...)
		} else {
			s, err = signer.NewSoftware(info.ID, retriever, opts...)
		}
		if err != nil {
			// chains without a signer implementation stay unregistered
			logger.Debug("chain not registered", zap.Stringer("chain", info.ID), zap.Error(err))
			continue
		}
		if err := manager.Register(info.ID, s); err != nil {
			return nil, err
		}
	}

	return NewSignerService(manager,
		WithWallet(wallet),
		WithKeys(retriever),
		WithWalletID(cfg.Wallet.ID),
		WithLogger(logger.Named("session")),
	), nil
}

func newTransport(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (transport.Transport, error) {
	switch cfg.Device.Transport {
	case config.TransportHID:
		return usbhid.New(cfg.HID(), usbhid.WithLogger(logger), usbhid.WithMetrics(m)), nil
	case config.TransportBLE:
		return ble.New(cfg.BLE(), ble.WithLogger(logger), ble.WithMetrics(m)), nil
	case config.TransportPCSC:
		return pcsc.New(pcsc.WithLogger(logger), pcsc.WithMetrics(m), pcsc.WithTimeout(cfg.Device.Timeout)), nil
	case config.TransportMock:
		device := mocked.NewDevice(mocked.WithLogger(logger.Named("mocked")))
		return mocked.NewTransport(device, mocked.WithTimeout(cfg.Device.Timeout)), nil
	default:
		return nil, errors.Errorf("unknown transport %q", cfg.Device.Transport)
	}
}
