package session

import (
	"context"

	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/internal/apps"
	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

var addressKinds = map[apps.AddressVariant]chain.AddressKind{
	apps.AddressLegacy:       chain.AddressP2PKH,
	apps.AddressNestedSegwit: chain.AddressP2SHP2WPKH,
	apps.AddressNativeSegwit: chain.AddressP2WPKH,
	apps.AddressTaproot:      chain.AddressP2TR,
}

func (s *SignerService) softwareAddress(ctx context.Context, walletID string, id chain.ID, path string, variant apps.AddressVariant) (*apps.AddressResult, error) {
	if s.keys == nil {
		return nil, errNoKeyStore
	}
	info, err := chain.Lookup(id)
	if err != nil {
		return nil, err
	}

	k, err := s.keys.RetrieveKeysAt(ctx, walletID, id, path)
	if err != nil {
		return nil, err
	}
	defer k.Release()

	var address string
	switch info.Family {
	case chain.FamilyUTXO:
		if variant == apps.AddressAuto {
			variant = apps.VariantFromPath(apps.MustParsePath(path), apps.AddressNativeSegwit)
		}
		params, err := chain.Params(id)
		if err != nil {
			return nil, err
		}
		addr, err := chain.UTXOAddress(k.PublicKey, addressKinds[variant], params)
		if err != nil {
			return nil, err
		}
		address = addr.EncodeAddress()
	case chain.FamilyEVM:
		address, err = chain.EVMAddress(k.PublicKey)
	case chain.FamilySolana:
		address, err = chain.SolanaAddress(k.PublicKey)
	default:
		return nil, errors.WithStack(&signerr.UnsupportedChainError{Chain: string(id), CoinType: info.CoinType})
	}
	if err != nil {
		return nil, err
	}

	return &apps.AddressResult{
		Address:   address,
		PublicKey: k.PublicKey,
		Path:      path,
	}, nil
}

func (s *SignerService) softwarePublicKey(ctx context.Context, walletID string, id chain.ID, path string) (*apps.PublicKeyResult, error) {
	result, err := s.softwareAddress(ctx, walletID, id, path, apps.AddressAuto)
	if err != nil {
		return nil, err
	}
	return &apps.PublicKeyResult{
		PublicKey: result.PublicKey,
		Address:   result.Address,
	}, nil
}
