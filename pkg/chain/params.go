package chain

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/pkg/signerr"
)

// LitecoinParams are the Litecoin mainnet address parameters.
var LitecoinParams = litecoinParams()

func litecoinParams() chaincfg.Params {
	params := chaincfg.MainNetParams
	params.Name = "litecoin"
	params.Net = 0xdbb6c0fb
	params.Bech32HRPSegwit = "ltc"
	params.PubKeyHashAddrID = 0x30
	params.ScriptHashAddrID = 0x32
	params.PrivateKeyID = 0xb0
	params.HDPrivateKeyID = [4]byte{0x01, 0x9d, 0x9c, 0xfe}
	params.HDPublicKeyID = [4]byte{0x01, 0x9d, 0xa4, 0x62}
	params.HDCoinType = CoinTypeLitecoin
	return params
}

func init() {
	if err := chaincfg.Register(&LitecoinParams); err != nil && !errors.Is(err, chaincfg.ErrDuplicateNet) {
		panic(err)
	}
}

// Params returns the network parameters of a UTXO chain.
func Params(id ID) (*chaincfg.Params, error) {
	switch id {
	case Bitcoin:
		return &chaincfg.MainNetParams, nil
	case BitcoinTestnet:
		return &chaincfg.TestNet3Params, nil
	case Litecoin:
		return &LitecoinParams, nil
	default:
		return nil, errors.Wrapf(signerr.ErrUnsupportedChain, "%s has no UTXO parameters", id)
	}
}
