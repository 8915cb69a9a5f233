package chain

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/pkg/signerr"
)

type AddressKind int

const (
	AddressP2PKH AddressKind = iota
	AddressP2SHP2WPKH
	AddressP2WPKH
	AddressP2TR
)

// UTXOAddress encodes a compressed secp256k1 public key as an address of the given kind.
func UTXOAddress(pubKey []byte, kind AddressKind, params *chaincfg.Params) (btcutil.Address, error) {
	pub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return nil, errors.Wrapf(signerr.ErrInvalidData, "public key: %v", err)
	}
	compressed := pub.SerializeCompressed()
	hash := btcutil.Hash160(compressed)

	var addr btcutil.Address
	switch kind {
	case AddressP2PKH:
		addr, err = btcutil.NewAddressPubKeyHash(hash, params)
	case AddressP2WPKH:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(hash, params)
	case AddressP2SHP2WPKH:
		var witness *btcutil.AddressWitnessPubKeyHash
		if witness, err = btcutil.NewAddressWitnessPubKeyHash(hash, params); err != nil {
			break
		}
		var script []byte
		if script, err = txscript.PayToAddrScript(witness); err != nil {
			break
		}
		addr, err = btcutil.NewAddressScriptHash(script, params)
	case AddressP2TR:
		tweaked := txscript.ComputeTaprootKeyNoScript(pub)
		addr, err = btcutil.NewAddressTaproot(schnorr.SerializePubKey(tweaked), params)
	default:
		return nil, errors.Wrapf(signerr.ErrInvalidParameters, "address kind %d", kind)
	}
	if err != nil {
		return nil, errors.Wrap(signerr.ErrInvalidData, err.Error())
	}
	return addr, nil
}

// EVMAddress returns the checksummed address of a compressed or uncompressed public key.
func EVMAddress(pubKey []byte) (string, error) {
	pub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return "", errors.Wrapf(signerr.ErrInvalidData, "public key: %v", err)
	}
	return crypto.PubkeyToAddress(*pub.ToECDSA()).Hex(), nil
}

func SolanaAddress(pubKey []byte) (string, error) {
	if len(pubKey) != solana.PublicKeyLength {
		return "", errors.Wrapf(signerr.ErrInvalidData, "ed25519 public key of %d bytes", len(pubKey))
	}
	return solana.PublicKeyFromBytes(pubKey).String(), nil
}
