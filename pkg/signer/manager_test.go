package signer

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/metrics"
	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
	"github.com/status-im/status-signer-go/pkg/txn"
)

func newManager(t *testing.T, opts ...Option) *Manager {
	m := NewManager(append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	r := newRetriever(t)
	for _, id := range []chain.ID{chain.Bitcoin, chain.Ethereum, chain.Solana} {
		s, err := NewSoftware(id, r, WithLogger(zap.NewNop()))
		require.NoError(t, err)
		require.NoError(t, m.Register(id, s))
	}
	return m
}

func TestManagerRoutesByChain(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newManager(t, WithMetrics(metrics.NewMetrics(registry)))
	assert.Equal(t, []chain.ID{chain.Bitcoin, chain.Ethereum, chain.Solana}, m.Chains())

	signed, err := m.Sign(context.Background(), ethTx(eip1559Inputs()), mainnet)
	require.NoError(t, err)
	assert.Equal(t, chain.Ethereum, signed.ChainID)

	in := txn.UTXOInputs{UTXOs: []txn.UTXOInput{utxo(t, 0, 1_000)}, FeeRatePerVByte: 10}
	_, err = m.Sign(context.Background(), btcTx(600, in), mainnet)
	assert.True(t, errors.Is(err, signerr.ErrInsufficientFunds))

	count, err := testutil.GatherAndCount(registry, "sign_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestManagerUnsupportedChain(t *testing.T) {
	m := newManager(t)

	tx := &txn.UnsignedTransaction{
		ChainID:   chain.XRP,
		Recipient: "rPT1Sjq2YGrBMTttX4GZHjKu9dyfzbpAYe",
		Amount:    1,
		Inputs:    txn.XRPInputs{Sequence: 1, Fee: 12},
	}
	_, err := m.Sign(context.Background(), tx, mainnet)
	var unsupported *signerr.UnsupportedChainError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "xrp", unsupported.Chain)

	_, err = NewSoftware(chain.XRP, newRetriever(t))
	assert.True(t, errors.Is(err, signerr.ErrUnsupportedChain))

	assert.Error(t, m.Register("dogecoin", nil))
	assert.False(t, m.CanSign(chain.XRP, "rPT1Sjq2YGrBMTttX4GZHjKu9dyfzbpAYe"))
}

func TestManagerValidatesFirst(t *testing.T) {
	m := newManager(t)

	tx := ethTx(eip1559Inputs())
	tx.Inputs = txn.SolanaInputs{RecentBlockhash: blockhash}
	_, err := m.Sign(context.Background(), tx, mainnet)
	assert.True(t, errors.Is(err, signerr.ErrInvalidInputs))

	_, err = m.Sign(context.Background(), nil, mainnet)
	assert.True(t, errors.Is(err, signerr.ErrInvalidInputs))
}

func TestManagerMessagesAndAddresses(t *testing.T) {
	m := newManager(t)

	sig, err := m.SignMessage(context.Background(), chain.Ethereum, walletID, []byte("hi"))
	require.NoError(t, err)
	assert.Len(t, sig, 65)

	assert.True(t, m.CanSign(chain.Bitcoin, btcAddress))
	assert.False(t, m.CanSign(chain.Bitcoin, ethAddress))
	assert.True(t, m.CanSign(chain.Ethereum, ethAddress))

	m.Unregister(chain.Ethereum)
	_, err = m.SignMessage(context.Background(), chain.Ethereum, walletID, []byte("hi"))
	assert.True(t, errors.Is(err, signerr.ErrUnsupportedChain))
}

func TestManagerCancelledRetrieval(t *testing.T) {
	m := newManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Sign(ctx, ethTx(eip1559Inputs()), mainnet)
	assert.True(t, errors.Is(err, signerr.ErrCancelled))
	assert.Equal(t, signerr.CategoryCancelled, signerr.CategoryOf(err))
}
