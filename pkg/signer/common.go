package signer

import (
	"context"

	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/keys"
	"github.com/status-im/status-signer-go/pkg/signerr"
	"github.com/status-im/status-signer-go/pkg/txn"
)

type pathRetriever interface {
	RetrieveKeysAt(ctx context.Context, walletID string, chainID chain.ID, path string, opts ...keys.RetrieveOption) (*keys.DerivedKeys, error)
}

// retrieveKeys asks for the key at path when one is set and the retriever supports it.
// With requirePresence the retriever confirms the user is present first.
func retrieveKeys(ctx context.Context, r keys.Retriever, walletID string, id chain.ID, path string, requirePresence bool) (*keys.DerivedKeys, error) {
	if r == nil {
		return nil, errors.Wrap(signerr.ErrSeedNotFound, "no key retriever")
	}
	opt := keys.RequirePresence(requirePresence)
	if pr, ok := r.(pathRetriever); ok && path != "" {
		return pr.RetrieveKeysAt(ctx, walletID, id, path, opt)
	}
	return r.RetrieveKeys(ctx, walletID, id, opt)
}

// checkTransaction rejects transactions meant for another chain or network.
func checkTransaction(tx *txn.UnsignedTransaction, info chain.Info, sctx txn.SigningContext) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	if tx.ChainID != info.ID {
		return errors.Wrapf(signerr.ErrInvalidInputs, "%s transaction given to the %s signer", tx.ChainID, info.ID)
	}
	if sctx.IsTestnet != info.Testnet {
		return errors.Wrapf(signerr.ErrInvalidInputs, "testnet context %t for %s", sctx.IsTestnet, info.ID)
	}
	return nil
}

// failed keeps categorized errors as they are and reports anything else as a signing failure.
func failed(id chain.ID, err error) error {
	if err == nil {
		return nil
	}
	if signerr.KindOf(err) != nil {
		return err
	}
	return signerr.NewSigningFailed(string(id), err)
}

func unsupported(info chain.Info) error {
	return &signerr.UnsupportedChainError{Chain: string(info.ID), CoinType: info.CoinType}
}
