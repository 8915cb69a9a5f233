package signer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
	"github.com/status-im/status-signer-go/pkg/txn"
)

var (
	solRecipient = solana.PublicKeyFromBytes(bytes.Repeat([]byte{0x11}, 32)).String()
	blockhash    = solana.HashFromBytes(bytes.Repeat([]byte{0x07}, 32)).String()
)

func uint32Ptr(v uint32) *uint32 {
	return &v
}

func solTx(in txn.SolanaInputs) *txn.UnsignedTransaction {
	return &txn.UnsignedTransaction{
		ChainID:   chain.Solana,
		Recipient: solRecipient,
		Amount:    1_500_000,
		Inputs:    in,
	}
}

func decodeSolana(t *testing.T, signed *txn.SignedTransaction) *solana.Transaction {
	raw, err := hex.DecodeString(signed.RawHex)
	require.NoError(t, err)
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	require.NoError(t, err)
	return tx
}

func TestSolanaFee(t *testing.T) {
	tests := []struct {
		name     string
		in       txn.SolanaInputs
		expected uint64
	}{
		{"base only", txn.SolanaInputs{}, 5000},
		{"zero priority", txn.SolanaInputs{PriorityFee: uint64Ptr(0)}, 5000},
		{"default limit rounds up", txn.SolanaInputs{PriorityFee: uint64Ptr(1)}, 5001},
		{"explicit limit", txn.SolanaInputs{ComputeUnitLimit: uint32Ptr(300_000), PriorityFee: uint64Ptr(10)}, 5003},
		{"exact", txn.SolanaInputs{ComputeUnitLimit: uint32Ptr(1_000_000), PriorityFee: uint64Ptr(2_000)}, 7000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SolanaFee(1, tt.in))
		})
	}
}

func TestSolanaSignTransfer(t *testing.T) {
	s, err := NewSolanaSigner(chain.Solana, newRetriever(t), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	in := txn.SolanaInputs{RecentBlockhash: blockhash, ComputeUnitLimit: uint32Ptr(300_000), PriorityFee: uint64Ptr(10)}
	signed, err := s.Sign(context.Background(), solTx(in), mainnet)
	require.NoError(t, err)
	assert.Equal(t, uint64(5003), signed.Fee)

	tx := decodeSolana(t, signed)
	require.Len(t, tx.Signatures, 1)
	assert.Equal(t, tx.Signatures[0].String(), signed.TxID)
	assert.Len(t, tx.Message.Instructions, 3)
	assert.Equal(t, blockhash, tx.Message.RecentBlockhash.String())
	require.NoError(t, tx.VerifySignatures())
}

func TestSolanaPlainTransfer(t *testing.T) {
	s, err := NewSolanaSigner(chain.Solana, newRetriever(t), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	signed, err := s.Sign(context.Background(), solTx(txn.SolanaInputs{RecentBlockhash: blockhash}), mainnet)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), signed.Fee)
	assert.Len(t, decodeSolana(t, signed).Message.Instructions, 1)
}

func TestSolanaRejectsBadInputs(t *testing.T) {
	s, err := NewSolanaSigner(chain.Solana, newRetriever(t), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	tx := solTx(txn.SolanaInputs{RecentBlockhash: blockhash})
	tx.Data = []byte{1}
	_, err = s.Sign(context.Background(), tx, mainnet)
	assert.True(t, errors.Is(err, signerr.ErrInvalidInputs))

	tx = solTx(txn.SolanaInputs{RecentBlockhash: "not-a-hash"})
	_, err = s.Sign(context.Background(), tx, mainnet)
	assert.True(t, errors.Is(err, signerr.ErrInvalidInputs))

	tx = solTx(txn.SolanaInputs{RecentBlockhash: blockhash})
	tx.Recipient = ethAddress
	_, err = s.Sign(context.Background(), tx, mainnet)
	assert.True(t, errors.Is(err, signerr.ErrInvalidInputs))
}

func TestSolanaSignMessage(t *testing.T) {
	r := newRetriever(t)
	s, err := NewSolanaSigner(chain.Solana, r, WithLogger(zap.NewNop()))
	require.NoError(t, err)

	msg := []byte("off-chain")
	sig, err := s.SignMessage(context.Background(), walletID, msg)
	require.NoError(t, err)

	k, err := r.RetrieveKeys(context.Background(), walletID, chain.Solana)
	require.NoError(t, err)
	defer k.Release()
	assert.True(t, ed25519.Verify(ed25519.PublicKey(k.PublicKey), msg, sig))
	assert.True(t, s.CanSign(solana.PublicKeyFromBytes(k.PublicKey).String()))
	assert.False(t, s.CanSign(ethAddress))
}
