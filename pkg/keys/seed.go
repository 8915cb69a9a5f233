package keys

import (
	"crypto/sha512"
	"strings"

	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"

	"github.com/status-im/status-signer-go/pkg/secret"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

const bip39Salt = "mnemonic"

func ValidMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(normalizeMnemonic(mnemonic))
}

// SeedFromMnemonic stretches the mnemonic into a 64 byte BIP39 seed.
func SeedFromMnemonic(mnemonic, password string) (*secret.Buffer, error) {
	mnemonic = normalizeMnemonic(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.Wrap(signerr.ErrSeedNotFound, "invalid mnemonic")
	}
	seed := pbkdf2.Key(norm.NFKD.Bytes([]byte(mnemonic)), norm.NFKD.Bytes([]byte(bip39Salt+password)), 2048, 64, sha512.New)
	return secret.New(seed), nil
}

func normalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(mnemonic), " ")
}
