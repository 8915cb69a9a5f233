package signer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/metrics"
	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
	"github.com/status-im/status-signer-go/pkg/txn"
)

// Manager maps each chain to the signer registered for it and is the single
// signing entry point for callers.
type Manager struct {
	mu      sync.RWMutex
	signers map[chain.ID]Signer

	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewManager(opts ...Option) *Manager {
	o := newOptions("signer", opts)
	return &Manager{
		signers: make(map[chain.ID]Signer),
		logger:  o.logger,
		metrics: o.metrics,
	}
}

// Register sets the signer of a chain, replacing any previous one.
func (m *Manager) Register(id chain.ID, s Signer) error {
	if !id.Valid() {
		return &signerr.UnsupportedChainError{Chain: string(id)}
	}
	if s == nil {
		return errors.New("nil signer")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.signers[id] = s
	m.logger.Info("signer registered", zap.Stringer("chain", id), zap.String("backend", BackendOf(s)))
	return nil
}

func (m *Manager) Unregister(id chain.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.signers, id)
}

func (m *Manager) Signer(id chain.ID) (Signer, error) {
	m.mu.RLock()
	s, ok := m.signers[id]
	m.mu.RUnlock()
	if !ok {
		return nil, &signerr.UnsupportedChainError{Chain: string(id)}
	}
	return s, nil
}

// Chains lists the chains with a registered signer.
func (m *Manager) Chains() []chain.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]chain.ID, 0, len(m.signers))
	for id := range m.signers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Sign validates tx and hands it to the signer of its chain.
func (m *Manager) Sign(ctx context.Context, tx *txn.UnsignedTransaction, sctx txn.SigningContext) (*txn.SignedTransaction, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	s, err := m.Signer(tx.ChainID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	signed, err := s.Sign(ctx, tx, sctx)
	m.metrics.RecordSign(tx.ChainID.String(), BackendOf(s), err, time.Since(start).Seconds())
	if err != nil {
		m.logger.Warn("signing failed",
			zap.Stringer("chain", tx.ChainID),
			zap.String("category", string(signerr.CategoryOf(err))),
			zap.Error(err))
		return nil, err
	}

	m.logger.Info("transaction signed",
		zap.Stringer("chain", tx.ChainID),
		zap.String("txid", signed.TxID),
		zap.Uint64("fee", signed.Fee))
	return signed, nil
}

// SignMessage signs an off-chain message with the key the chain signer uses.
func (m *Manager) SignMessage(ctx context.Context, id chain.ID, walletID string, message []byte) ([]byte, error) {
	s, err := m.Signer(id)
	if err != nil {
		return nil, err
	}
	ms, ok := s.(MessageSigner)
	if !ok {
		return nil, errors.Wrapf(signerr.ErrUnsupportedChain, "%s signer does not sign messages", id)
	}

	start := time.Now()
	sig, err := ms.SignMessage(ctx, walletID, message)
	m.metrics.RecordSign(id.String(), BackendOf(s), err, time.Since(start).Seconds())
	return sig, err
}

// CanSign reports whether the signer of chain id accepts address.
func (m *Manager) CanSign(id chain.ID, address string) bool {
	s, err := m.Signer(id)
	if err != nil {
		return false
	}
	return s.CanSign(address)
}
