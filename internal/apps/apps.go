package apps

import (
	"context"

	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/internal/apdu"
	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
	"github.com/status-im/status-signer-go/pkg/utils"
)

// Exchanger sends one raw command APDU and returns the raw response.
// Every transport.Transport is an Exchanger.
type Exchanger interface {
	Exchange(ctx context.Context, command []byte) ([]byte, error)
}

// messageChunkSize is the largest payload sent in a short APDU.
const messageChunkSize = apdu.MaxShortLength

type PublicKeyResult struct {
	PublicKey utils.HexString `json:"publicKey"`
	ChainCode utils.HexString `json:"chainCode,omitempty"`
	Address   string          `json:"address,omitempty"`
}

type AddressResult struct {
	Address   string          `json:"address"`
	PublicKey utils.HexString `json:"publicKey"`
	Path      string          `json:"path"`
}

// SignatureResult holds a 64 byte signature. Recovery is only meaningful when HasRecovery is set.
type SignatureResult struct {
	Signature   utils.HexString `json:"signature"`
	Recovery    byte            `json:"recovery"`
	HasRecovery bool            `json:"hasRecovery"`
}

// RSV returns r || s || v, the layout go-ethereum expects.
func (s *SignatureResult) RSV() []byte {
	out := make([]byte, 0, len(s.Signature)+1)
	out = append(out, s.Signature...)
	return append(out, s.Recovery)
}

// App is the chain specific device application.
type App interface {
	// Name is the name the device reports while the app is open.
	Name() string
	GetPublicKey(ctx context.Context, path Path, display bool) (*PublicKeyResult, error)
	GetAddress(ctx context.Context, path Path, display bool, variant AddressVariant) (*AddressResult, error)
	// SignTransaction signs the chain specific payload: a sighash for UTXO chains,
	// the unsigned encoded transaction for EVM chains, the serialized message for Solana.
	SignTransaction(ctx context.Context, path Path, payload []byte) (*SignatureResult, error)
	SignMessage(ctx context.Context, path Path, message []byte) (*SignatureResult, error)
}

// ForChain returns the device app serving the chain.
func ForChain(id chain.ID, ex Exchanger) (App, error) {
	info, err := chain.Lookup(id)
	if err != nil {
		return nil, err
	}

	switch info.Family {
	case chain.FamilyUTXO:
		return NewBitcoin(ex, info), nil
	case chain.FamilyEVM:
		return NewEthereum(ex), nil
	case chain.FamilySolana:
		return NewSolana(ex), nil
	default:
		return nil, &signerr.UnsupportedChainError{Chain: string(id), CoinType: info.CoinType}
	}
}

func exchange(ctx context.Context, ex Exchanger, cla, ins, p1, p2 uint8, data []byte) ([]byte, error) {
	cmd, err := apdu.Build(cla, ins, p1, p2, data)
	if err != nil {
		return nil, err
	}

	raw, err := ex.Exchange(ctx, cmd)
	if err != nil {
		return nil, err
	}

	reply, err := apdu.Check(raw)
	if err != nil {
		return nil, errors.WithMessagef(err, "ins 0x%02x", ins)
	}
	return reply, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 0x01
	}
	return 0x00
}

// chunks splits payload into pieces of at most size bytes, always returning at least one chunk.
func chunks(payload []byte, size int) [][]byte {
	if len(payload) == 0 {
		return [][]byte{{}}
	}
	var out [][]byte
	for len(payload) > 0 {
		n := size
		if len(payload) < n {
			n = len(payload)
		}
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	return out
}
