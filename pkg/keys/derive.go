package keys

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/pkg/signerr"
)

const hardened = hdkeychain.HardenedKeyStart

// DeriveSecp256k1 walks a BIP32 path from the seed.
func DeriveSecp256k1(seed []byte, path []uint32) (*btcec.PrivateKey, []byte, error) {
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, nil, errors.Wrap(signerr.ErrKeyDerivationFailed, err.Error())
	}

	for _, index := range path {
		if key, err = key.Derive(index); err != nil {
			return nil, nil, errors.Wrapf(signerr.ErrKeyDerivationFailed, "index %d: %v", index, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, nil, errors.Wrap(signerr.ErrKeyDerivationFailed, err.Error())
	}
	return priv, key.ChainCode(), nil
}

// DeriveEd25519 implements SLIP-10 for ed25519, where only hardened indexes exist.
func DeriveEd25519(seed []byte, path []uint32) (ed25519.PrivateKey, []byte, error) {
	sum := hmacSHA512([]byte("ed25519 seed"), seed)
	key, chainCode := sum[:32], sum[32:]

	for _, index := range path {
		if index < hardened {
			return nil, nil, errors.Wrapf(signerr.ErrInvalidPath, "ed25519 index %d is not hardened", index)
		}
		data := make([]byte, 0, 1+32+4)
		data = append(data, 0x00)
		data = append(data, key...)
		data = binary.BigEndian.AppendUint32(data, index)

		sum = hmacSHA512(chainCode, data)
		key, chainCode = sum[:32], sum[32:]
	}

	return ed25519.NewKeyFromSeed(key), chainCode, nil
}

func hmacSHA512(key, data []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
