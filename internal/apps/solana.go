package apps

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

const (
	claSolana = 0xe0

	insSOLGetPubkey      = 0x05
	insSOLSignMessage    = 0x06
	insSOLSignOffchain   = 0x07
	solanaPubkeyLength   = 32
	solanaSigLength      = 64
	solanaSignerCount    = 0x01
	solanaMaxMessageSize = 1232
)

// Solana drives the Solana app. Signing payloads go out in a single, possibly extended, APDU.
type Solana struct {
	ex Exchanger
}

func NewSolana(ex Exchanger) *Solana {
	return &Solana{ex: ex}
}

func (s *Solana) Name() string {
	return chain.MustLookup(chain.Solana).AppName
}

func (s *Solana) GetPublicKey(ctx context.Context, path Path, display bool) (*PublicKeyResult, error) {
	resp, err := exchange(ctx, s.ex, claSolana, insSOLGetPubkey, boolByte(display), 0, path.Encode())
	if err != nil {
		return nil, err
	}
	if len(resp) != solanaPubkeyLength {
		return nil, errors.Wrapf(signerr.ErrMalformedResponse, "public key of %d bytes", len(resp))
	}

	return &PublicKeyResult{
		PublicKey: resp,
		Address:   solana.PublicKeyFromBytes(resp).String(),
	}, nil
}

func (s *Solana) GetAddress(ctx context.Context, path Path, display bool, _ AddressVariant) (*AddressResult, error) {
	res, err := s.GetPublicKey(ctx, path, display)
	if err != nil {
		return nil, err
	}
	return &AddressResult{Address: res.Address, PublicKey: res.PublicKey, Path: path.String()}, nil
}

// SignTransaction signs a serialized transaction message.
func (s *Solana) SignTransaction(ctx context.Context, path Path, payload []byte) (*SignatureResult, error) {
	return s.sign(ctx, insSOLSignMessage, path, payload)
}

func (s *Solana) SignMessage(ctx context.Context, path Path, message []byte) (*SignatureResult, error) {
	return s.sign(ctx, insSOLSignOffchain, path, message)
}

func (s *Solana) sign(ctx context.Context, ins uint8, path Path, payload []byte) (*SignatureResult, error) {
	if len(payload) == 0 {
		return nil, errors.Wrap(signerr.ErrInvalidData, "empty message")
	}
	if len(payload) > solanaMaxMessageSize {
		return nil, errors.Wrapf(signerr.ErrPayloadTooLarge, "message of %d bytes", len(payload))
	}

	data := append([]byte{solanaSignerCount}, path.Encode()...)
	data = append(data, payload...)

	resp, err := exchange(ctx, s.ex, claSolana, ins, 0x01, 0, data)
	if err != nil {
		return nil, err
	}
	if len(resp) != solanaSigLength {
		return nil, errors.Wrapf(signerr.ErrMalformedResponse, "signature of %d bytes", len(resp))
	}
	return &SignatureResult{Signature: resp}, nil
}
