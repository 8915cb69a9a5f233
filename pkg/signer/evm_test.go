package signer

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/secret"
	"github.com/status-im/status-signer-go/pkg/signerr"
	"github.com/status-im/status-signer-go/pkg/txn"
)

const evmRecipient = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func uint64Ptr(v uint64) *uint64 {
	return &v
}

func ethTx(in txn.EVMInputs) *txn.UnsignedTransaction {
	return &txn.UnsignedTransaction{
		ChainID:   chain.Ethereum,
		Recipient: evmRecipient,
		Amount:    1_000_000_000_000_000_000,
		Inputs:    in,
	}
}

func eip1559Inputs() txn.EVMInputs {
	return txn.EVMInputs{
		Nonce:          5,
		GasLimit:       21_000,
		GasPrice:       30_000_000_000,
		MaxPriorityFee: uint64Ptr(2_000_000_000),
		ChainIDNumber:  1,
		UseEIP1559:     true,
	}
}

func decodeEVM(t *testing.T, signed *txn.SignedTransaction) *types.Transaction {
	raw, err := hex.DecodeString(signed.RawHex)
	require.NoError(t, err)
	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	return tx
}

func TestEVMSignEIP1559(t *testing.T) {
	s, err := NewEVMSigner(chain.Ethereum, newRetriever(t), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	signed, err := s.Sign(context.Background(), ethTx(eip1559Inputs()), mainnet)
	require.NoError(t, err)
	assert.Equal(t, uint64(21_000*30_000_000_000), signed.Fee)

	tx := decodeEVM(t, signed)
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(5), tx.Nonce())
	assert.Equal(t, big.NewInt(2_000_000_000), tx.GasTipCap())
	assert.Equal(t, big.NewInt(30_000_000_000), tx.GasFeeCap())
	assert.Equal(t, tx.Hash().Hex(), signed.TxID)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
	require.NoError(t, err)
	assert.Equal(t, ethAddress, sender.Hex())
}

func TestEVMSignLegacy(t *testing.T) {
	s, err := NewEVMSigner(chain.Polygon, newRetriever(t), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	tx := ethTx(txn.EVMInputs{Nonce: 1, GasLimit: 50_000, GasPrice: 40_000_000_000, ChainIDNumber: 137})
	tx.ChainID = chain.Polygon
	tx.Data = []byte{0xa9, 0x05, 0x9c, 0xbb}

	signed, err := s.Sign(context.Background(), tx, mainnet)
	require.NoError(t, err)

	decoded := decodeEVM(t, signed)
	assert.Equal(t, uint8(types.LegacyTxType), decoded.Type())
	assert.Equal(t, big.NewInt(137), decoded.ChainId())
	assert.Equal(t, tx.Data, decoded.Data())
	assert.Equal(t, uint64(50_000*40_000_000_000), signed.Fee)
}

func TestEVMRejectsBadInputs(t *testing.T) {
	s, err := NewEVMSigner(chain.Ethereum, newRetriever(t), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	in := eip1559Inputs()
	in.MaxPriorityFee = uint64Ptr(in.GasPrice + 1)
	_, err = s.Sign(context.Background(), ethTx(in), mainnet)
	assert.True(t, errors.Is(err, signerr.ErrInvalidInputs))

	in = eip1559Inputs()
	in.ChainIDNumber = 137
	_, err = s.Sign(context.Background(), ethTx(in), mainnet)
	assert.True(t, errors.Is(err, signerr.ErrInvalidInputs))

	tx := ethTx(eip1559Inputs())
	tx.Recipient = "0x1234"
	_, err = s.Sign(context.Background(), tx, mainnet)
	assert.True(t, errors.Is(err, signerr.ErrInvalidInputs))

	tx = ethTx(eip1559Inputs())
	tx.ChainID = chain.Polygon
	_, err = s.Sign(context.Background(), tx, mainnet)
	assert.True(t, errors.Is(err, signerr.ErrInvalidInputs))
}

func TestEVMTipDefaultsToMaxFee(t *testing.T) {
	s, err := NewEVMSigner(chain.Ethereum, newRetriever(t), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	in := eip1559Inputs()
	in.MaxPriorityFee = nil
	signed, err := s.Sign(context.Background(), ethTx(in), mainnet)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(30_000_000_000), decodeEVM(t, signed).GasTipCap())
}

// foreignTxSigner signs with a key unrelated to the wallet.
type foreignTxSigner struct{}

func (foreignTxSigner) SignTx(unsigned []byte, chainID *big.Int, _ *secret.Buffer) ([]byte, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return GethTxSigner{}.SignTx(unsigned, chainID, secret.New(crypto.FromECDSA(key)))
}

type failingTxSigner struct{}

func (failingTxSigner) SignTx([]byte, *big.Int, *secret.Buffer) ([]byte, error) {
	return nil, errors.New("hsm unavailable")
}

func TestEVMTxSignerFailures(t *testing.T) {
	s, err := NewEVMSigner(chain.Ethereum, newRetriever(t), WithLogger(zap.NewNop()), WithTxSigner(foreignTxSigner{}))
	require.NoError(t, err)
	_, err = s.Sign(context.Background(), ethTx(eip1559Inputs()), mainnet)
	assert.True(t, errors.Is(err, signerr.ErrSigningFailed))

	s, err = NewEVMSigner(chain.Ethereum, newRetriever(t), WithLogger(zap.NewNop()), WithTxSigner(failingTxSigner{}))
	require.NoError(t, err)
	_, err = s.Sign(context.Background(), ethTx(eip1559Inputs()), mainnet)
	assert.True(t, errors.Is(err, signerr.ErrSigningFailed))
	assert.Contains(t, err.Error(), "hsm unavailable")
	assert.Equal(t, signerr.CategorySigning, signerr.CategoryOf(err))
}

func TestEVMSignMessage(t *testing.T) {
	s, err := NewEVMSigner(chain.Ethereum, newRetriever(t), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	msg := []byte("sign in to status")
	sig, err := s.SignMessage(context.Background(), walletID, msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	require.NoError(t, err)
	assert.Equal(t, ethAddress, crypto.PubkeyToAddress(*pub).Hex())
}

func TestEVMWithPath(t *testing.T) {
	s, err := NewEVMSigner(chain.Ethereum, newRetriever(t), WithLogger(zap.NewNop()), WithPath("m/44'/60'/0'/0/1"))
	require.NoError(t, err)

	signed, err := s.Sign(context.Background(), ethTx(eip1559Inputs()), mainnet)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), decodeEVM(t, signed))
	require.NoError(t, err)
	assert.NotEqual(t, ethAddress, sender.Hex())
}

func TestEVMCanSign(t *testing.T) {
	s, err := NewEVMSigner(chain.Ethereum, newRetriever(t), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	assert.True(t, s.CanSign(ethAddress))
	assert.False(t, s.CanSign(btcAddress))
}
