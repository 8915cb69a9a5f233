package hardware

import (
	"time"

	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/metrics"
)

type Option func(*Wallet)

func WithLogger(logger *zap.Logger) Option {
	return func(w *Wallet) {
		w.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Wallet) {
		w.metrics = m
	}
}

// WithConnectTimeout bounds Connect as a whole, transport discovery included.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(w *Wallet) {
		w.connectTimeout = timeout
	}
}
