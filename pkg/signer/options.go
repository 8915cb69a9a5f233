package signer

import (
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/metrics"
)

type options struct {
	logger   *zap.Logger
	metrics  *metrics.Metrics
	txSigner TxSigner
	path     string
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics is used by the Manager.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTxSigner replaces the raw EVM signing primitive.
func WithTxSigner(s TxSigner) Option {
	return func(o *options) {
		o.txSigner = s
	}
}

// WithPath selects the derivation path instead of the chain default.
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

func newOptions(name string, opts []Option) *options {
	o := &options{
		logger:   zap.L().Named(name),
		txSigner: GethTxSigner{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
