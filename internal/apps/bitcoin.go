package apps

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

const (
	claBitcoin = 0xe0

	insBTCGetPublicKey = 0x40
	insBTCSignHash     = 0x48
	insBTCSignMessage  = 0x4e

	p1MessageFirst = 0x00
	p1MessageMore  = 0x80

	chainCodeLength = 32
	sighashLength   = 32
)

// Bitcoin drives the Bitcoin app and its forks, which share one command set.
type Bitcoin struct {
	ex   Exchanger
	info chain.Info
}

func NewBitcoin(ex Exchanger, info chain.Info) *Bitcoin {
	return &Bitcoin{ex: ex, info: info}
}

func (b *Bitcoin) Name() string {
	return b.info.AppName
}

func (b *Bitcoin) GetPublicKey(ctx context.Context, path Path, display bool) (*PublicKeyResult, error) {
	return b.getWalletPublicKey(ctx, path, display, VariantFromPath(path, AddressNativeSegwit))
}

func (b *Bitcoin) GetAddress(ctx context.Context, path Path, display bool, variant AddressVariant) (*AddressResult, error) {
	if variant == AddressAuto {
		variant = VariantFromPath(path, AddressNativeSegwit)
	}
	res, err := b.getWalletPublicKey(ctx, path, display, variant)
	if err != nil {
		return nil, err
	}
	return &AddressResult{Address: res.Address, PublicKey: res.PublicKey, Path: path.String()}, nil
}

func (b *Bitcoin) getWalletPublicKey(ctx context.Context, path Path, display bool, variant AddressVariant) (*PublicKeyResult, error) {
	if variant < AddressLegacy || variant > AddressTaproot {
		return nil, errors.Wrapf(signerr.ErrInvalidParameters, "address variant %s", variant)
	}

	resp, err := exchange(ctx, b.ex, claBitcoin, insBTCGetPublicKey, boolByte(display), uint8(variant), path.Encode())
	if err != nil {
		return nil, err
	}
	return parseWalletPublicKey(resp, true)
}

// SignTransaction signs one input sighash with SIGHASH_ALL and no lock time.
func (b *Bitcoin) SignTransaction(ctx context.Context, path Path, payload []byte) (*SignatureResult, error) {
	return b.SignHash(ctx, path, payload, 0, txscript.SigHashAll)
}

// SignHash signs a 32 byte input sighash. The device answers with a DER signature
// whose tag low bit carries the y parity of R.
func (b *Bitcoin) SignHash(ctx context.Context, path Path, hash []byte, lockTime uint32, hashType txscript.SigHashType) (*SignatureResult, error) {
	if len(hash) != sighashLength {
		return nil, errors.Wrapf(signerr.ErrInvalidData, "sighash must be %d bytes, got %d", sighashLength, len(hash))
	}

	data := path.Encode()
	data = append(data, hash...)
	data = binary.BigEndian.AppendUint32(data, lockTime)
	data = append(data, byte(hashType))

	resp, err := exchange(ctx, b.ex, claBitcoin, insBTCSignHash, 0, 0, data)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, errors.Wrap(signerr.ErrMalformedResponse, "empty signature")
	}

	sig, err := DERToCompact(resp)
	if err != nil {
		return nil, err
	}
	return &SignatureResult{Signature: sig, Recovery: resp[0] & 0x01, HasRecovery: true}, nil
}

// SignMessage produces a Bitcoin signed message signature. The message is streamed
// in chunks; the last answer holds a compact header byte followed by r || s.
func (b *Bitcoin) SignMessage(ctx context.Context, path Path, message []byte) (*SignatureResult, error) {
	var head bytes.Buffer
	head.Write(path.Encode())
	if err := wire.WriteVarInt(&head, 0, uint64(len(message))); err != nil {
		return nil, errors.WithStack(err)
	}

	first := messageChunkSize - head.Len()
	if first > len(message) {
		first = len(message)
	}

	resp, err := exchange(ctx, b.ex, claBitcoin, insBTCSignMessage, p1MessageFirst, 0, append(head.Bytes(), message[:first]...))
	if err != nil {
		return nil, err
	}
	rest := message[first:]
	if len(rest) > 0 {
		for _, chunk := range chunks(rest, messageChunkSize) {
			if resp, err = exchange(ctx, b.ex, claBitcoin, insBTCSignMessage, p1MessageMore, 0, chunk); err != nil {
				return nil, err
			}
		}
	}

	return parseCompactSignature(resp)
}

func parseWalletPublicKey(resp []byte, withChainCode bool) (*PublicKeyResult, error) {
	r := newReader(resp)

	pub, err := r.lengthPrefixed()
	if err != nil {
		return nil, err
	}
	if len(pub) == 0 {
		return nil, errors.Wrap(signerr.ErrMalformedResponse, "empty public key")
	}
	addr, err := r.lengthPrefixed()
	if err != nil {
		return nil, err
	}

	res := &PublicKeyResult{PublicKey: pub, Address: string(addr)}
	if withChainCode && r.remaining() > 0 {
		if res.ChainCode, err = r.fixed(chainCodeLength); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// parseCompactSignature reads header || r || s where header is 27 + recovery id,
// plus 4 for compressed keys.
func parseCompactSignature(resp []byte) (*SignatureResult, error) {
	if len(resp) != 1+2*componentLength {
		return nil, errors.Wrapf(signerr.ErrMalformedResponse, "compact signature of %d bytes", len(resp))
	}
	header := resp[0]
	if header < 27 || header > 34 {
		return nil, errors.Wrapf(signerr.ErrMalformedResponse, "compact signature header %d", header)
	}
	recovery := (header - 27) & 0x03
	return &SignatureResult{
		Signature:   append([]byte(nil), resp[1:]...),
		Recovery:    recovery,
		HasRecovery: true,
	}, nil
}
