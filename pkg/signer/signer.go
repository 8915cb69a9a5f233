package signer

import (
	"context"

	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/keys"
	"github.com/status-im/status-signer-go/pkg/txn"
)

const (
	BackendSoftware = "software"
	BackendHardware = "hardware"
)

// Signer turns an unsigned transaction of one chain into a broadcastable one.
type Signer interface {
	Sign(ctx context.Context, tx *txn.UnsignedTransaction, sctx txn.SigningContext) (*txn.SignedTransaction, error)
	CanSign(address string) bool
}

// MessageSigner is implemented by signers that also sign off-chain messages.
type MessageSigner interface {
	SignMessage(ctx context.Context, walletID string, message []byte) ([]byte, error)
}

// Backend reports where the private key of a signer lives.
type Backend interface {
	Backend() string
}

// BackendOf returns BackendSoftware for signers that do not say otherwise.
func BackendOf(s Signer) string {
	if b, ok := s.(Backend); ok {
		return b.Backend()
	}
	return BackendSoftware
}

// NewSoftware returns the in-process signer for a chain, keys coming from retriever.
func NewSoftware(id chain.ID, retriever keys.Retriever, opts ...Option) (Signer, error) {
	info, err := chain.Lookup(id)
	if err != nil {
		return nil, err
	}

	switch info.Family {
	case chain.FamilyUTXO:
		return NewUTXOSigner(id, retriever, opts...)
	case chain.FamilyEVM:
		return NewEVMSigner(id, retriever, opts...)
	case chain.FamilySolana:
		return NewSolanaSigner(id, retriever, opts...)
	default:
		return nil, unsupported(info)
	}
}
