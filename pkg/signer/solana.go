package signer

import (
	"context"
	"crypto/ed25519"
	"math/big"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/keys"
	"github.com/status-im/status-signer-go/pkg/signerr"
	"github.com/status-im/status-signer-go/pkg/txn"
)

const (
	// LamportsPerSignature is the base fee of every signature.
	LamportsPerSignature uint64 = 5000
	// DefaultComputeUnitLimit is what the runtime grants a transaction that sets no limit.
	DefaultComputeUnitLimit uint32 = 200_000

	microLamportsPerLamport = 1_000_000
)

// SolanaFee is the base fee plus the priority fee, rounded up to whole lamports.
func SolanaFee(signatures int, in txn.SolanaInputs) uint64 {
	fee := LamportsPerSignature * uint64(signatures)
	if in.PriorityFee == nil || *in.PriorityFee == 0 {
		return fee
	}

	limit := DefaultComputeUnitLimit
	if in.ComputeUnitLimit != nil {
		limit = *in.ComputeUnitLimit
	}
	priority := new(big.Int).Mul(new(big.Int).SetUint64(uint64(limit)), new(big.Int).SetUint64(*in.PriorityFee))
	priority.Add(priority, big.NewInt(microLamportsPerLamport-1))
	priority.Quo(priority, big.NewInt(microLamportsPerLamport))
	return fee + priority.Uint64()
}

// SolanaSigner signs SOL transfers with an ed25519 key from a keys.Retriever.
type SolanaSigner struct {
	id     chain.ID
	info   chain.Info
	keys   keys.Retriever
	path   string
	logger *zap.Logger
}

func NewSolanaSigner(id chain.ID, retriever keys.Retriever, opts ...Option) (*SolanaSigner, error) {
	info, err := solanaChain(id)
	if err != nil {
		return nil, err
	}
	o := newOptions("solana", opts)
	return &SolanaSigner{
		id:     id,
		info:   info,
		keys:   retriever,
		path:   o.path,
		logger: o.logger,
	}, nil
}

func solanaChain(id chain.ID) (chain.Info, error) {
	info, err := chain.Lookup(id)
	if err != nil {
		return chain.Info{}, err
	}
	if info.Family != chain.FamilySolana {
		return chain.Info{}, errors.Wrapf(signerr.ErrUnsupportedChain, "%s is not Solana", id)
	}
	return info, nil
}

func (s *SolanaSigner) Backend() string {
	return BackendSoftware
}

func (s *SolanaSigner) CanSign(address string) bool {
	return validSolanaAddress(address)
}

func (s *SolanaSigner) Sign(ctx context.Context, tx *txn.UnsignedTransaction, sctx txn.SigningContext) (*txn.SignedTransaction, error) {
	in, err := solanaInputs(tx, s.info, sctx)
	if err != nil {
		return nil, err
	}

	k, err := retrieveKeys(ctx, s.keys, sctx.WalletID, s.id, s.path, sctx.RequireBiometric)
	if err != nil {
		return nil, err
	}
	defer k.Release()

	if len(k.PublicKey) != ed25519.PublicKeySize {
		return nil, failed(s.id, errors.Wrapf(signerr.ErrKeyDerivationFailed, "ed25519 public key of %d bytes", len(k.PublicKey)))
	}
	from := solana.PublicKeyFromBytes(k.PublicKey)

	stx, err := buildSolanaTx(tx, in, from)
	if err != nil {
		return nil, err
	}

	err = k.Private.Use(func(b []byte) error {
		priv := solana.PrivateKey(b)
		_, err := stx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
			if key.Equals(from) {
				return &priv
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, failed(s.id, err)
	}
	return finishSolanaTx(s.id, stx, in)
}

// SignMessage returns the detached ed25519 signature of message.
func (s *SolanaSigner) SignMessage(ctx context.Context, walletID string, message []byte) ([]byte, error) {
	k, err := retrieveKeys(ctx, s.keys, walletID, s.id, s.path, true)
	if err != nil {
		return nil, err
	}
	defer k.Release()

	var sig []byte
	err = k.Private.Use(func(b []byte) error {
		if len(b) != ed25519.PrivateKeySize {
			return errors.Wrapf(signerr.ErrKeyDerivationFailed, "ed25519 private key of %d bytes", len(b))
		}
		sig = ed25519.Sign(ed25519.PrivateKey(b), message)
		return nil
	})
	if err != nil {
		return nil, failed(s.id, err)
	}
	return sig, nil
}

func solanaInputs(tx *txn.UnsignedTransaction, info chain.Info, sctx txn.SigningContext) (txn.SolanaInputs, error) {
	if err := checkTransaction(tx, info, sctx); err != nil {
		return txn.SolanaInputs{}, err
	}
	in, ok := tx.Inputs.(txn.SolanaInputs)
	if !ok {
		return txn.SolanaInputs{}, errors.Wrapf(signerr.ErrInvalidInputs, "%s inputs for %s", tx.Inputs.Kind(), info.ID)
	}
	return in, nil
}

func validSolanaAddress(address string) bool {
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}

// buildSolanaTx lays out a native transfer, preceded by the compute budget instructions that are set.
func buildSolanaTx(tx *txn.UnsignedTransaction, in txn.SolanaInputs, from solana.PublicKey) (*solana.Transaction, error) {
	if len(tx.Data) > 0 {
		return nil, errors.Wrap(signerr.ErrInvalidInputs, "only native transfers are signed, data must be empty")
	}
	to, err := solana.PublicKeyFromBase58(tx.Recipient)
	if err != nil {
		return nil, errors.Wrapf(signerr.ErrInvalidInputs, "recipient %q: %v", tx.Recipient, err)
	}
	blockhash, err := solana.HashFromBase58(in.RecentBlockhash)
	if err != nil {
		return nil, errors.Wrapf(signerr.ErrInvalidInputs, "blockhash %q: %v", in.RecentBlockhash, err)
	}

	var instructions []solana.Instruction
	if in.ComputeUnitLimit != nil {
		instructions = append(instructions, computebudget.NewSetComputeUnitLimitInstruction(*in.ComputeUnitLimit).Build())
	}
	if in.PriorityFee != nil {
		instructions = append(instructions, computebudget.NewSetComputeUnitPriceInstruction(*in.PriorityFee).Build())
	}
	instructions = append(instructions, system.NewTransferInstruction(tx.Amount, from, to).Build())

	stx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(from))
	if err != nil {
		return nil, errors.Wrap(signerr.ErrInvalidInputs, err.Error())
	}
	return stx, nil
}

func finishSolanaTx(id chain.ID, stx *solana.Transaction, in txn.SolanaInputs) (*txn.SignedTransaction, error) {
	if len(stx.Signatures) == 0 {
		return nil, signerr.NewSigningFailed(string(id), errors.New("transaction carries no signature"))
	}
	raw, err := stx.MarshalBinary()
	if err != nil {
		return nil, failed(id, err)
	}
	return txn.NewSignedTransaction(id, stx.Signatures[0].String(), raw, SolanaFee(len(stx.Signatures), in)), nil
}
