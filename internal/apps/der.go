package apps

import (
	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/pkg/signerr"
)

const componentLength = 32

// DERToCompact converts a DER ECDSA signature into 64 bytes of r || s.
// Leading zero padding is stripped and each half is left padded to 32 bytes on its own.
// Some devices set the low bit of the sequence tag to carry the y parity, so 0x31 is accepted too.
func DERToCompact(der []byte) ([]byte, error) {
	r := newReader(der)

	tag, err := r.byte()
	if err != nil {
		return nil, err
	}
	if tag&0xfe != 0x30 {
		return nil, errors.Wrapf(signerr.ErrMalformedResponse, "not a DER sequence: 0x%02x", tag)
	}

	seqLen, err := r.byte()
	if err != nil {
		return nil, err
	}
	if int(seqLen) > r.remaining() {
		return nil, errors.Wrap(signerr.ErrMalformedResponse, "DER sequence length exceeds signature")
	}

	out := make([]byte, 2*componentLength)
	for i := 0; i < 2; i++ {
		intTag, err := r.byte()
		if err != nil {
			return nil, err
		}
		if intTag != 0x02 {
			return nil, errors.Wrapf(signerr.ErrMalformedResponse, "expected DER integer, got 0x%02x", intTag)
		}
		value, err := r.lengthPrefixed()
		if err != nil {
			return nil, err
		}
		for len(value) > 0 && value[0] == 0x00 {
			value = value[1:]
		}
		if len(value) > componentLength {
			return nil, errors.Wrapf(signerr.ErrMalformedResponse, "DER integer of %d bytes", len(value))
		}
		offset := i*componentLength + componentLength - len(value)
		copy(out[offset:], value)
	}

	return out, nil
}

// CompactToDER is the inverse of DERToCompact, used by tests and simulated devices.
func CompactToDER(sig []byte) ([]byte, error) {
	if len(sig) != 2*componentLength {
		return nil, errors.Errorf("compact signature must be %d bytes", 2*componentLength)
	}

	encode := func(v []byte) []byte {
		for len(v) > 1 && v[0] == 0x00 {
			v = v[1:]
		}
		if v[0]&0x80 != 0 {
			v = append([]byte{0x00}, v...)
		}
		return append([]byte{0x02, byte(len(v))}, v...)
	}

	r := encode(sig[:componentLength])
	s := encode(sig[componentLength:])
	out := []byte{0x30, byte(len(r) + len(s))}
	out = append(out, r...)
	return append(out, s...), nil
}
