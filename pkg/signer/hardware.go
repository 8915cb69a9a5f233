package signer

import (
	"context"
	"crypto/ed25519"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/apps"
	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
	"github.com/status-im/status-signer-go/pkg/txn"
)

// Device is the part of a hardware wallet the hardware-backed signers use.
// *hardware.Wallet implements it.
type Device interface {
	GetPublicKey(ctx context.Context, chainID chain.ID, path string, display bool) (*apps.PublicKeyResult, error)
	SignTransaction(ctx context.Context, chainID chain.ID, path string, payload []byte) (*apps.SignatureResult, error)
	SignMessage(ctx context.Context, chainID chain.ID, path string, message []byte) (*apps.SignatureResult, error)
}

// NewHardware returns a signer whose key never leaves device.
func NewHardware(id chain.ID, device Device, opts ...Option) (Signer, error) {
	info, err := chain.Lookup(id)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, errors.Wrap(signerr.ErrDeviceNotFound, "no device")
	}

	o := newOptions("hardware", opts)
	base := hardwareSigner{
		id:     id,
		info:   info,
		device: device,
		path:   o.path,
		logger: o.logger.With(zap.Stringer("chain", id)),
	}
	if base.path == "" {
		base.path = info.DefaultPath
	}

	switch info.Family {
	case chain.FamilyUTXO:
		_, params, err := utxoChain(id)
		if err != nil {
			return nil, err
		}
		return &HardwareUTXOSigner{hardwareSigner: base, params: params}, nil
	case chain.FamilyEVM:
		return &HardwareEVMSigner{hardwareSigner: base}, nil
	case chain.FamilySolana:
		return &HardwareSolanaSigner{hardwareSigner: base}, nil
	default:
		return nil, unsupported(info)
	}
}

type hardwareSigner struct {
	id     chain.ID
	info   chain.Info
	device Device
	path   string
	logger *zap.Logger
}

func (s *hardwareSigner) Backend() string {
	return BackendHardware
}

func (s *hardwareSigner) publicKey(ctx context.Context) (*apps.PublicKeyResult, error) {
	return s.device.GetPublicKey(ctx, s.id, s.path, false)
}

// HardwareUTXOSigner builds the transaction in process and has the device sign each input sighash.
type HardwareUTXOSigner struct {
	hardwareSigner
	params *chaincfg.Params
}

func (s *HardwareUTXOSigner) CanSign(address string) bool {
	return validUTXOAddress(address, s.params)
}

func (s *HardwareUTXOSigner) Sign(ctx context.Context, tx *txn.UnsignedTransaction, sctx txn.SigningContext) (*txn.SignedTransaction, error) {
	in, err := utxoInputs(tx, s.info, sctx)
	if err != nil {
		return nil, err
	}

	res, err := s.publicKey(ctx)
	if err != nil {
		return nil, err
	}
	pub, err := btcec.ParsePubKey(res.PublicKey)
	if err != nil {
		return nil, errors.Wrapf(signerr.ErrMalformedResponse, "device public key: %v", err)
	}

	plan, err := newUTXOPlan(s.id, s.params, tx, in, pub)
	if err != nil {
		return nil, err
	}
	if plan.hasTaproot() {
		return nil, errors.Wrap(signerr.ErrInvalidInputs, "taproot inputs are not signed on the device")
	}

	err = plan.sign(ctx, func(ctx context.Context, hash []byte) (*ecdsa.Signature, error) {
		res, err := s.device.SignTransaction(ctx, s.id, s.path, hash)
		if err != nil {
			return nil, err
		}
		return compactToSignature(res.Signature)
	}, nil)
	if err != nil {
		return nil, failed(s.id, err)
	}

	signed, err := plan.finish()
	if err != nil {
		return nil, failed(s.id, err)
	}
	s.logger.Debug("transaction signed on device", zap.Int("inputs", len(in.UTXOs)))
	return signed, nil
}

// SignMessage returns the 65 byte compact signature the device produced.
func (s *HardwareUTXOSigner) SignMessage(ctx context.Context, _ string, message []byte) ([]byte, error) {
	res, err := s.device.SignMessage(ctx, s.id, s.path, message)
	if err != nil {
		return nil, err
	}
	if len(res.Signature) != 64 || !res.HasRecovery {
		return nil, errors.Wrap(signerr.ErrMalformedResponse, "device message signature")
	}
	// compact header for a compressed key
	return append([]byte{27 + 4 + res.Recovery}, res.Signature...), nil
}

func compactToSignature(sig []byte) (*ecdsa.Signature, error) {
	if len(sig) != 64 {
		return nil, errors.Wrapf(signerr.ErrMalformedResponse, "signature of %d bytes", len(sig))
	}
	var r, s btcec.ModNScalar
	if r.SetByteSlice(sig[:32]) || s.SetByteSlice(sig[32:]) || r.IsZero() || s.IsZero() {
		return nil, errors.Wrap(signerr.ErrMalformedResponse, "signature out of range")
	}
	return ecdsa.NewSignature(&r, &s), nil
}

// HardwareEVMSigner streams the signing payload to the device and attaches the signature it returns.
type HardwareEVMSigner struct {
	hardwareSigner
}

func (s *HardwareEVMSigner) CanSign(address string) bool {
	return common.IsHexAddress(address)
}

func (s *HardwareEVMSigner) Sign(ctx context.Context, tx *txn.UnsignedTransaction, sctx txn.SigningContext) (*txn.SignedTransaction, error) {
	in, err := evmInputs(tx, s.info, sctx)
	if err != nil {
		return nil, err
	}
	unsigned, fee, err := buildEVMTx(tx, in)
	if err != nil {
		return nil, err
	}

	res, err := s.publicKey(ctx)
	if err != nil {
		return nil, err
	}
	from, err := chain.EVMAddress(res.PublicKey)
	if err != nil {
		return nil, errors.Wrapf(signerr.ErrMalformedResponse, "device public key: %v", err)
	}

	chainID := new(big.Int).SetUint64(in.ChainIDNumber)
	payload, err := apps.SigningPayload(unsigned, chainID)
	if err != nil {
		return nil, failed(s.id, err)
	}
	sig, err := s.device.SignTransaction(ctx, s.id, s.path, payload)
	if err != nil {
		return nil, err
	}

	signed, err := unsigned.WithSignature(types.LatestSignerForChainID(chainID), sig.RSV())
	if err != nil {
		return nil, failed(s.id, err)
	}
	if err := checkSender(signed, chainID, common.HexToAddress(from)); err != nil {
		return nil, failed(s.id, err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, failed(s.id, err)
	}
	return txn.NewSignedTransaction(s.id, signed.Hash().Hex(), raw, fee), nil
}

func (s *HardwareEVMSigner) SignMessage(ctx context.Context, _ string, message []byte) ([]byte, error) {
	res, err := s.device.SignMessage(ctx, s.id, s.path, message)
	if err != nil {
		return nil, err
	}
	sig := res.RSV()
	sig[len(sig)-1] += 27
	return sig, nil
}

// HardwareSolanaSigner has the device sign the serialized transaction message.
type HardwareSolanaSigner struct {
	hardwareSigner
}

func (s *HardwareSolanaSigner) CanSign(address string) bool {
	return validSolanaAddress(address)
}

func (s *HardwareSolanaSigner) Sign(ctx context.Context, tx *txn.UnsignedTransaction, sctx txn.SigningContext) (*txn.SignedTransaction, error) {
	in, err := solanaInputs(tx, s.info, sctx)
	if err != nil {
		return nil, err
	}

	res, err := s.publicKey(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.PublicKey) != ed25519.PublicKeySize {
		return nil, errors.Wrapf(signerr.ErrMalformedResponse, "device public key of %d bytes", len(res.PublicKey))
	}
	from := solana.PublicKeyFromBytes(res.PublicKey)

	stx, err := buildSolanaTx(tx, in, from)
	if err != nil {
		return nil, err
	}
	message, err := stx.Message.MarshalBinary()
	if err != nil {
		return nil, failed(s.id, err)
	}

	sig, err := s.device.SignTransaction(ctx, s.id, s.path, message)
	if err != nil {
		return nil, err
	}
	if !ed25519.Verify(ed25519.PublicKey(res.PublicKey), message, sig.Signature) {
		return nil, signerr.NewSigningFailed(string(s.id), errors.New("device signature does not verify"))
	}
	stx.Signatures = []solana.Signature{solana.SignatureFromBytes(sig.Signature)}
	return finishSolanaTx(s.id, stx, in)
}

func (s *HardwareSolanaSigner) SignMessage(ctx context.Context, _ string, message []byte) ([]byte, error) {
	res, err := s.device.SignMessage(ctx, s.id, s.path, message)
	if err != nil {
		return nil, err
	}
	return res.Signature, nil
}
