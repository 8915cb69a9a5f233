package mocked

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/status-im/status-signer-go/internal/apdu"
	"github.com/status-im/status-signer-go/internal/apps"
	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/keys"
)

type secp256k1Key struct {
	priv      *btcec.PrivateKey
	chainCode []byte
}

// pendingSign accumulates a payload streamed over several commands.
type pendingSign struct {
	ins      byte
	path     apps.Path
	expected int // -1 when the payload delimits itself
	buf      []byte
}

func readPath(data []byte) (apps.Path, []byte, bool) {
	if len(data) < 1 {
		return nil, nil, false
	}
	depth := int(data[0])
	if depth == 0 || depth > apps.MaxPathDepth || len(data) < 1+4*depth {
		return nil, nil, false
	}
	path := make(apps.Path, depth)
	for i := range path {
		path[i] = binary.BigEndian.Uint32(data[1+4*i:])
	}
	return path, data[1+4*depth:], true
}

func lengthPrefixed(fields ...[]byte) []byte {
	var out []byte
	for _, f := range fields {
		out = append(out, byte(len(f)))
		out = append(out, f...)
	}
	return out
}

// stream collects chunked payloads: P1 0x00 starts a new one, 0x80 continues it.
// It returns the pending state and whether it is complete.
func (d *Device) stream(cmd *apdu.Command, start func(rest []byte) (*pendingSign, bool)) (*pendingSign, uint16, bool) {
	switch cmd.P1 {
	case 0x00:
		p, ok := start(cmd.Data)
		if !ok {
			d.pending = nil
			return nil, apdu.SwInvalidData, false
		}
		d.pending = p
	case 0x80:
		if d.pending == nil || d.pending.ins != cmd.Ins {
			return nil, apdu.SwConditionsNotMet, false
		}
		d.pending.buf = append(d.pending.buf, cmd.Data...)
	default:
		return nil, apdu.SwInvalidP1P2, false
	}

	p := d.pending
	if p.expected >= 0 {
		if len(p.buf) > p.expected {
			d.pending = nil
			return nil, apdu.SwInvalidData, false
		}
		if len(p.buf) < p.expected {
			return nil, apdu.SwOK, false
		}
	} else if !rlpComplete(p.buf) {
		return nil, apdu.SwOK, false
	}

	d.pending = nil
	return p, apdu.SwOK, true
}

func rlpComplete(payload []byte) bool {
	if len(payload) > 0 && payload[0] < 0xc0 {
		payload = payload[1:]
	}
	_, _, rest, err := rlp.Split(payload)
	return err == nil && len(rest) == 0
}

func (d *Device) bitcoin(id chain.ID, cmd *apdu.Command) ([]byte, uint16) {
	switch cmd.Ins {
	case 0x40:
		path, _, ok := readPath(cmd.Data)
		if !ok {
			return nil, apdu.SwInvalidData
		}
		params, err := chain.Params(id)
		if err != nil {
			return nil, apdu.SwInsNotSupported
		}
		if cmd.P2 > byte(chain.AddressP2TR) {
			return nil, apdu.SwIncorrectP1P2
		}
		key, sw := d.secp256k1(path)
		if key == nil {
			return nil, sw
		}
		pub := key.priv.PubKey().SerializeCompressed()
		addr, err := chain.UTXOAddress(pub, chain.AddressKind(cmd.P2), params)
		if err != nil {
			return nil, apdu.SwInvalidData
		}
		if cmd.P1 == 0x01 {
			if sw, ok := d.approve(); !ok {
				return nil, sw
			}
		}
		resp := lengthPrefixed(pub, []byte(addr.EncodeAddress()))
		return append(resp, key.chainCode...), apdu.SwOK

	case 0x48:
		path, rest, ok := readPath(cmd.Data)
		if !ok || len(rest) != 32+4+1 {
			return nil, apdu.SwInvalidData
		}
		if sw, ok := d.approve(); !ok {
			return nil, sw
		}
		key, sw := d.secp256k1(path)
		if key == nil {
			return nil, sw
		}
		compact := ecdsa.SignCompact(key.priv, rest[:32], true)
		der, err := apps.CompactToDER(compact[1:])
		if err != nil {
			return nil, apdu.SwTechnicalProblem
		}
		der[0] |= (compact[0] - 27) & 0x01
		return der, apdu.SwOK

	case 0x4e:
		p, sw, done := d.stream(cmd, func(data []byte) (*pendingSign, bool) {
			path, rest, ok := readPath(data)
			if !ok {
				return nil, false
			}
			r := bytes.NewReader(rest)
			length, err := wire.ReadVarInt(r, 0)
			if err != nil {
				return nil, false
			}
			return &pendingSign{ins: cmd.Ins, path: path, expected: int(length), buf: append([]byte(nil), rest[len(rest)-r.Len():]...)}, true
		})
		if !done {
			return nil, sw
		}
		if sw, ok := d.approve(); !ok {
			return nil, sw
		}
		key, sw := d.secp256k1(p.path)
		if key == nil {
			return nil, sw
		}
		return ecdsa.SignCompact(key.priv, chain.MessageHash(id, p.buf), true), apdu.SwOK
	}
	return nil, apdu.SwInsNotSupported
}

func (d *Device) ethereum(cmd *apdu.Command) ([]byte, uint16) {
	switch cmd.Ins {
	case 0x02:
		path, _, ok := readPath(cmd.Data)
		if !ok {
			return nil, apdu.SwInvalidData
		}
		key, sw := d.secp256k1(path)
		if key == nil {
			return nil, sw
		}
		pub := key.priv.ToECDSA().PublicKey
		addr := crypto.PubkeyToAddress(pub)
		if cmd.P1 == 0x01 {
			if sw, ok := d.approve(); !ok {
				return nil, sw
			}
		}
		resp := lengthPrefixed(crypto.FromECDSAPub(&pub), []byte(hex.EncodeToString(addr.Bytes())))
		if cmd.P2 == 0x01 {
			resp = append(resp, key.chainCode...)
		}
		return resp, apdu.SwOK

	case 0x04:
		p, sw, done := d.stream(cmd, func(data []byte) (*pendingSign, bool) {
			path, rest, ok := readPath(data)
			if !ok {
				return nil, false
			}
			return &pendingSign{ins: cmd.Ins, path: path, expected: -1, buf: append([]byte(nil), rest...)}, true
		})
		if !done {
			return nil, sw
		}
		if sw, ok := d.approve(); !ok {
			return nil, sw
		}
		sig, sw := d.ethSign(p.path, crypto.Keccak256(p.buf))
		if sig == nil {
			return nil, sw
		}
		return vrs(sig, ethTxV(p.buf, sig[64])), apdu.SwOK

	case 0x08:
		p, sw, done := d.stream(cmd, func(data []byte) (*pendingSign, bool) {
			path, rest, ok := readPath(data)
			if !ok || len(rest) < 4 {
				return nil, false
			}
			length := binary.BigEndian.Uint32(rest)
			return &pendingSign{ins: cmd.Ins, path: path, expected: int(length), buf: append([]byte(nil), rest[4:]...)}, true
		})
		if !done {
			return nil, sw
		}
		if sw, ok := d.approve(); !ok {
			return nil, sw
		}
		sig, sw := d.ethSign(p.path, accounts.TextHash(p.buf))
		if sig == nil {
			return nil, sw
		}
		return vrs(sig, 27+sig[64]), apdu.SwOK
	}
	return nil, apdu.SwInsNotSupported
}

func (d *Device) ethSign(path apps.Path, hash []byte) ([]byte, uint16) {
	key, sw := d.secp256k1(path)
	if key == nil {
		return nil, sw
	}
	sig, err := crypto.Sign(hash, key.priv.ToECDSA())
	if err != nil {
		return nil, apdu.SwTechnicalProblem
	}
	return sig, apdu.SwOK
}

func vrs(sig []byte, v byte) []byte {
	return append([]byte{v}, sig[:64]...)
}

// ethTxV encodes the recovery id the way the app reports it for the transaction type.
func ethTxV(payload []byte, recovery byte) byte {
	if payload[0] < 0xc0 {
		return recovery
	}
	var fields []rlp.RawValue
	if err := rlp.DecodeBytes(payload, &fields); err != nil || len(fields) != 9 {
		return 27 + recovery
	}
	chainID := new(big.Int)
	if err := rlp.DecodeBytes(fields[6], chainID); err != nil {
		return 27 + recovery
	}
	return byte(chainID.Uint64()*2 + 35 + uint64(recovery))
}

func (d *Device) solana(cmd *apdu.Command) ([]byte, uint16) {
	switch cmd.Ins {
	case 0x05:
		path, _, ok := readPath(cmd.Data)
		if !ok {
			return nil, apdu.SwInvalidData
		}
		priv, sw := d.ed25519(path)
		if priv == nil {
			return nil, sw
		}
		return append([]byte(nil), priv[32:]...), apdu.SwOK

	case 0x06, 0x07:
		if len(cmd.Data) < 1 || cmd.Data[0] != 0x01 {
			return nil, apdu.SwInvalidData
		}
		path, message, ok := readPath(cmd.Data[1:])
		if !ok || len(message) == 0 {
			return nil, apdu.SwInvalidData
		}
		if sw, ok := d.approve(); !ok {
			return nil, sw
		}
		priv, sw := d.ed25519(path)
		if priv == nil {
			return nil, sw
		}
		return ed25519.Sign(priv, message), apdu.SwOK
	}
	return nil, apdu.SwInsNotSupported
}

func (d *Device) ed25519(path apps.Path) (ed25519.PrivateKey, uint16) {
	var priv ed25519.PrivateKey
	err := d.seed.Use(func(seed []byte) error {
		var err error
		priv, _, err = keys.DeriveEd25519(seed, path)
		return err
	})
	if err != nil {
		return nil, apdu.SwInvalidData
	}
	return priv, apdu.SwOK
}
