package apps

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/status-im/keycard-go/derivationpath"

	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

const (
	MaxPathDepth = 10
	Hardened     = 0x80000000
)

// Path is a BIP32 derivation path.
type Path []uint32

func ParsePath(s string) (Path, error) {
	start, components, err := derivationpath.Decode(s)
	if err != nil {
		return nil, errors.Wrapf(signerr.ErrInvalidPath, "%q: %v", s, err)
	}
	if start != derivationpath.StartingPointMaster {
		return nil, errors.Wrapf(signerr.ErrInvalidPath, "%q must start at m", s)
	}
	if len(components) == 0 || len(components) > MaxPathDepth {
		return nil, errors.Wrapf(signerr.ErrInvalidPath, "%q has %d components, want 1 to %d", s, len(components), MaxPathDepth)
	}
	return components, nil
}

func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string {
	return derivationpath.Encode(p)
}

// Encode serializes the path as the device expects it: depth byte, then big-endian components.
func (p Path) Encode() []byte {
	buf := make([]byte, 0, 1+4*len(p))
	buf = append(buf, byte(len(p)))
	for _, c := range p {
		buf = binary.BigEndian.AppendUint32(buf, c)
	}
	return buf
}

func (p Path) component(i int) (uint32, bool) {
	if len(p) <= i {
		return 0, false
	}
	return p[i] &^ Hardened, true
}

func (p Path) Purpose() (uint32, bool) {
	return p.component(0)
}

func (p Path) CoinType() (uint32, bool) {
	return p.component(1)
}

// Chain routes the path to a chain by its coin type field.
func (p Path) Chain() (chain.ID, error) {
	coinType, ok := p.CoinType()
	if !ok {
		return "", errors.Wrapf(signerr.ErrInvalidPath, "%s has no coin type", p)
	}
	return chain.FromCoinType(coinType)
}

type AddressVariant int

const (
	AddressLegacy AddressVariant = iota
	AddressNestedSegwit
	AddressNativeSegwit
	AddressTaproot
	AddressAuto AddressVariant = -1
)

func (v AddressVariant) String() string {
	switch v {
	case AddressLegacy:
		return "legacy"
	case AddressNestedSegwit:
		return "nested-segwit"
	case AddressNativeSegwit:
		return "native-segwit"
	case AddressTaproot:
		return "taproot"
	case AddressAuto:
		return "auto"
	default:
		return "unknown"
	}
}

func ParseAddressVariant(s string) (AddressVariant, error) {
	switch s {
	case "", "auto":
		return AddressAuto, nil
	case "legacy":
		return AddressLegacy, nil
	case "nested-segwit":
		return AddressNestedSegwit, nil
	case "native-segwit":
		return AddressNativeSegwit, nil
	case "taproot":
		return AddressTaproot, nil
	default:
		return AddressAuto, errors.Errorf("unknown address variant %q", s)
	}
}

// VariantFromPath infers the address variant from the purpose field,
// falling back to modern for unknown purposes.
func VariantFromPath(p Path, modern AddressVariant) AddressVariant {
	purpose, _ := p.Purpose()
	switch purpose {
	case 44:
		return AddressLegacy
	case 49:
		return AddressNestedSegwit
	case 84:
		return AddressNativeSegwit
	case 86:
		return AddressTaproot
	default:
		return modern
	}
}
