package apps

import (
	"context"
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

const (
	claEthereum = 0xe0

	insETHGetAddress  = 0x02
	insETHSignTx      = 0x04
	insETHSignMessage = 0x08

	p1SignFirst = 0x00
	p1SignMore  = 0x80

	ethAddressHexLength = 40
	eip155Fields        = 9
)

// Ethereum drives the Ethereum app, which serves every EVM chain.
type Ethereum struct {
	ex Exchanger
}

func NewEthereum(ex Exchanger) *Ethereum {
	return &Ethereum{ex: ex}
}

func (e *Ethereum) Name() string {
	return chain.MustLookup(chain.Ethereum).AppName
}

func (e *Ethereum) GetPublicKey(ctx context.Context, path Path, display bool) (*PublicKeyResult, error) {
	return e.getAddress(ctx, path, display, true)
}

func (e *Ethereum) GetAddress(ctx context.Context, path Path, display bool, _ AddressVariant) (*AddressResult, error) {
	res, err := e.getAddress(ctx, path, display, false)
	if err != nil {
		return nil, err
	}
	return &AddressResult{Address: res.Address, PublicKey: res.PublicKey, Path: path.String()}, nil
}

func (e *Ethereum) getAddress(ctx context.Context, path Path, display bool, withChainCode bool) (*PublicKeyResult, error) {
	resp, err := exchange(ctx, e.ex, claEthereum, insETHGetAddress, boolByte(display), boolByte(withChainCode), path.Encode())
	if err != nil {
		return nil, err
	}

	res, err := parseWalletPublicKey(resp, withChainCode)
	if err != nil {
		return nil, err
	}
	if len(res.Address) != ethAddressHexLength {
		return nil, errors.Wrapf(signerr.ErrMalformedResponse, "address of %d characters", len(res.Address))
	}
	res.Address = common.HexToAddress(res.Address).Hex()
	return res, nil
}

// SignTransaction signs an unsigned encoded transaction: an RLP list for legacy
// transactions, type byte || RLP list for typed ones. The recovery id is normalized to 0 or 1.
func (e *Ethereum) SignTransaction(ctx context.Context, path Path, payload []byte) (*SignatureResult, error) {
	if len(payload) == 0 {
		return nil, errors.Wrap(signerr.ErrInvalidData, "empty transaction")
	}

	resp, err := e.stream(ctx, insETHSignTx, path.Encode(), payload)
	if err != nil {
		return nil, err
	}
	sig, err := parseVRS(resp)
	if err != nil {
		return nil, err
	}

	if payload[0] < 0xc0 {
		sig.Recovery = normalizeV(sig.Recovery)
		return sig, nil
	}

	chainID, err := legacyChainID(payload)
	if err != nil {
		return nil, err
	}
	if chainID == nil {
		sig.Recovery -= 27
	} else {
		// the device only returns the low byte of v, so the subtraction wraps the same way
		sig.Recovery -= byte(chainID.Uint64()*2 + 35)
	}
	if sig.Recovery > 1 {
		return nil, errors.Wrapf(signerr.ErrMalformedResponse, "recovery id %d", sig.Recovery)
	}
	return sig, nil
}

// SignMessage signs with the personal message prefix applied by the device.
func (e *Ethereum) SignMessage(ctx context.Context, path Path, message []byte) (*SignatureResult, error) {
	head := binary.BigEndian.AppendUint32(path.Encode(), uint32(len(message)))
	resp, err := e.stream(ctx, insETHSignMessage, head, message)
	if err != nil {
		return nil, err
	}
	sig, err := parseVRS(resp)
	if err != nil {
		return nil, err
	}
	sig.Recovery = normalizeV(sig.Recovery)
	return sig, nil
}

// stream sends head || payload split over as many commands as needed and returns the last answer.
func (e *Ethereum) stream(ctx context.Context, ins uint8, head []byte, payload []byte) ([]byte, error) {
	first := messageChunkSize - len(head)
	if first > len(payload) {
		first = len(payload)
	}

	data := append(append([]byte(nil), head...), payload[:first]...)
	resp, err := exchange(ctx, e.ex, claEthereum, ins, p1SignFirst, 0, data)
	if err != nil {
		return nil, err
	}

	if rest := payload[first:]; len(rest) > 0 {
		for _, chunk := range chunks(rest, messageChunkSize) {
			if resp, err = exchange(ctx, e.ex, claEthereum, ins, p1SignMore, 0, chunk); err != nil {
				return nil, err
			}
		}
	}
	return resp, nil
}

func parseVRS(resp []byte) (*SignatureResult, error) {
	if len(resp) != 1+2*componentLength {
		return nil, errors.Wrapf(signerr.ErrMalformedResponse, "signature of %d bytes", len(resp))
	}
	return &SignatureResult{
		Signature:   append([]byte(nil), resp[1:]...),
		Recovery:    resp[0],
		HasRecovery: true,
	}, nil
}

func normalizeV(v byte) byte {
	if v >= 27 {
		return v - 27
	}
	return v
}

// legacyChainID returns the EIP-155 chain id of an unsigned legacy transaction,
// or nil when the transaction predates EIP-155.
func legacyChainID(payload []byte) (*big.Int, error) {
	var fields []rlp.RawValue
	if err := rlp.DecodeBytes(payload, &fields); err != nil {
		return nil, errors.Wrapf(signerr.ErrInvalidData, "decode transaction: %v", err)
	}
	if len(fields) != eip155Fields {
		return nil, nil
	}

	chainID := new(big.Int)
	if err := rlp.DecodeBytes(fields[6], chainID); err != nil {
		return nil, errors.Wrapf(signerr.ErrInvalidData, "decode chain id: %v", err)
	}
	return chainID, nil
}

// SigningPayload encodes the pre-image the app hashes and signs: the unsigned
// EIP-155 list for legacy transactions, type byte || unsigned list for typed ones.
func SigningPayload(tx *types.Transaction, chainID *big.Int) ([]byte, error) {
	var (
		fields []interface{}
		typed  bool
	)
	switch tx.Type() {
	case types.LegacyTxType:
		fields = []interface{}{tx.Nonce(), tx.GasPrice(), tx.Gas(), tx.To(), tx.Value(), tx.Data()}
		if chainID != nil && chainID.Sign() != 0 {
			fields = append(fields, chainID, uint(0), uint(0))
		}
	case types.AccessListTxType:
		fields = []interface{}{chainID, tx.Nonce(), tx.GasPrice(), tx.Gas(), tx.To(), tx.Value(), tx.Data(), tx.AccessList()}
		typed = true
	case types.DynamicFeeTxType:
		fields = []interface{}{chainID, tx.Nonce(), tx.GasTipCap(), tx.GasFeeCap(), tx.Gas(), tx.To(), tx.Value(), tx.Data(), tx.AccessList()}
		typed = true
	default:
		return nil, errors.Wrapf(signerr.ErrInvalidData, "transaction type %d is not supported by the device", tx.Type())
	}

	encoded, err := rlp.EncodeToBytes(fields)
	if err != nil {
		return nil, errors.Wrap(signerr.ErrInvalidData, err.Error())
	}
	if typed {
		return append([]byte{tx.Type()}, encoded...), nil
	}
	return encoded, nil
}
