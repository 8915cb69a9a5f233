package signer

import (
	"context"
	"math/big"
	"math/bits"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/keys"
	"github.com/status-im/status-signer-go/pkg/secret"
	"github.com/status-im/status-signer-go/pkg/signerr"
	"github.com/status-im/status-signer-go/pkg/txn"
)

// TxSigner signs the unsigned encoding of an EVM transaction and returns the signed encoding.
type TxSigner interface {
	SignTx(unsigned []byte, chainID *big.Int, key *secret.Buffer) ([]byte, error)
}

// GethTxSigner signs with go-ethereum's latest signer for the chain.
type GethTxSigner struct{}

func (GethTxSigner) SignTx(unsigned []byte, chainID *big.Int, key *secret.Buffer) ([]byte, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(unsigned); err != nil {
		return nil, errors.Wrap(signerr.ErrInvalidData, err.Error())
	}

	var signed *types.Transaction
	err := key.Use(func(b []byte) error {
		priv, err := crypto.ToECDSA(b)
		if err != nil {
			return errors.Wrap(signerr.ErrKeyDerivationFailed, err.Error())
		}
		defer priv.D.SetInt64(0)
		signed, err = types.SignTx(tx, types.LatestSignerForChainID(chainID), priv)
		return err
	})
	if err != nil {
		return nil, err
	}
	return signed.MarshalBinary()
}

// EVMSigner signs account-model transactions for one EVM chain.
type EVMSigner struct {
	id       chain.ID
	info     chain.Info
	keys     keys.Retriever
	txSigner TxSigner
	path     string
	logger   *zap.Logger
}

func NewEVMSigner(id chain.ID, retriever keys.Retriever, opts ...Option) (*EVMSigner, error) {
	info, err := evmChain(id)
	if err != nil {
		return nil, err
	}
	o := newOptions("evm", opts)
	return &EVMSigner{
		id:       id,
		info:     info,
		keys:     retriever,
		txSigner: o.txSigner,
		path:     o.path,
		logger:   o.logger.With(zap.Stringer("chain", id)),
	}, nil
}

func evmChain(id chain.ID) (chain.Info, error) {
	info, err := chain.Lookup(id)
	if err != nil {
		return chain.Info{}, err
	}
	if info.Family != chain.FamilyEVM {
		return chain.Info{}, errors.Wrapf(signerr.ErrUnsupportedChain, "%s is not an EVM chain", id)
	}
	return info, nil
}

func (s *EVMSigner) Backend() string {
	return BackendSoftware
}

func (s *EVMSigner) CanSign(address string) bool {
	return common.IsHexAddress(address)
}

func (s *EVMSigner) Sign(ctx context.Context, tx *txn.UnsignedTransaction, sctx txn.SigningContext) (*txn.SignedTransaction, error) {
	in, err := evmInputs(tx, s.info, sctx)
	if err != nil {
		return nil, err
	}
	unsigned, fee, err := buildEVMTx(tx, in)
	if err != nil {
		return nil, err
	}

	k, err := retrieveKeys(ctx, s.keys, sctx.WalletID, s.id, s.path, sctx.RequireBiometric)
	if err != nil {
		return nil, err
	}
	defer k.Release()

	from, err := chain.EVMAddress(k.PublicKey)
	if err != nil {
		return nil, failed(s.id, err)
	}

	payload, err := unsigned.MarshalBinary()
	if err != nil {
		return nil, failed(s.id, err)
	}
	chainID := new(big.Int).SetUint64(in.ChainIDNumber)
	raw, err := s.txSigner.SignTx(payload, chainID, k.Private)
	if err != nil {
		return nil, failed(s.id, err)
	}

	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(raw); err != nil {
		return nil, failed(s.id, err)
	}
	if err := checkSender(signed, chainID, common.HexToAddress(from)); err != nil {
		return nil, failed(s.id, err)
	}

	s.logger.Debug("transaction signed", zap.Uint64("nonce", in.Nonce), zap.Uint8("type", signed.Type()))
	return txn.NewSignedTransaction(s.id, signed.Hash().Hex(), raw, fee), nil
}

// SignMessage returns an EIP-191 personal message signature, r || s || v with v in {27, 28}.
func (s *EVMSigner) SignMessage(ctx context.Context, walletID string, message []byte) ([]byte, error) {
	k, err := retrieveKeys(ctx, s.keys, walletID, s.id, s.path, true)
	if err != nil {
		return nil, err
	}
	defer k.Release()

	hash := accounts.TextHash(message)
	var sig []byte
	err = k.Private.Use(func(b []byte) error {
		priv, err := crypto.ToECDSA(b)
		if err != nil {
			return errors.Wrap(signerr.ErrKeyDerivationFailed, err.Error())
		}
		defer priv.D.SetInt64(0)
		sig, err = crypto.Sign(hash, priv)
		return err
	})
	if err != nil {
		return nil, failed(s.id, err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func evmInputs(tx *txn.UnsignedTransaction, info chain.Info, sctx txn.SigningContext) (txn.EVMInputs, error) {
	if err := checkTransaction(tx, info, sctx); err != nil {
		return txn.EVMInputs{}, err
	}
	in, ok := tx.Inputs.(txn.EVMInputs)
	if !ok {
		return txn.EVMInputs{}, errors.Wrapf(signerr.ErrInvalidInputs, "%s inputs for %s", tx.Inputs.Kind(), info.ID)
	}
	return in, nil
}

// buildEVMTx lays out the unsigned transaction and its worst case fee, gas limit times max fee.
func buildEVMTx(tx *txn.UnsignedTransaction, in txn.EVMInputs) (*types.Transaction, uint64, error) {
	if !common.IsHexAddress(tx.Recipient) {
		return nil, 0, errors.Wrapf(signerr.ErrInvalidInputs, "recipient %q", tx.Recipient)
	}
	to := common.HexToAddress(tx.Recipient)
	value := new(big.Int).SetUint64(tx.Amount)

	hi, fee := bits.Mul64(in.GasLimit, in.GasPrice)
	if hi != 0 {
		return nil, 0, errors.Wrap(signerr.ErrInvalidInputs, "gas limit times gas price overflows")
	}

	if !in.UseEIP1559 {
		return types.NewTx(&types.LegacyTx{
			Nonce:    in.Nonce,
			GasPrice: new(big.Int).SetUint64(in.GasPrice),
			Gas:      in.GasLimit,
			To:       &to,
			Value:    value,
			Data:     tx.Data,
		}), fee, nil
	}

	tip := in.GasPrice
	if in.MaxPriorityFee != nil {
		tip = *in.MaxPriorityFee
	}
	if tip > in.GasPrice {
		return nil, 0, errors.Wrapf(signerr.ErrInvalidInputs, "priority fee %d above max fee %d", tip, in.GasPrice)
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(in.ChainIDNumber),
		Nonce:     in.Nonce,
		GasTipCap: new(big.Int).SetUint64(tip),
		GasFeeCap: new(big.Int).SetUint64(in.GasPrice),
		Gas:       in.GasLimit,
		To:        &to,
		Value:     value,
		Data:      tx.Data,
	}), fee, nil
}

func checkSender(signed *types.Transaction, chainID *big.Int, expected common.Address) error {
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		return errors.WithStack(err)
	}
	if sender != expected {
		return errors.Errorf("signature recovers to %s, expected %s", sender.Hex(), expected.Hex())
	}
	return nil
}
