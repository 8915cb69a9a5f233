package keys

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newRetriever(t *testing.T, opts ...Option) *MnemonicRetriever {
	r := NewMnemonicRetriever(append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	require.NoError(t, r.AddWallet("main", testMnemonic, ""))
	return r
}

func TestSeedFromMnemonicRejectsInvalid(t *testing.T) {
	_, err := SeedFromMnemonic("abandon abandon", "")
	assert.True(t, errors.Is(err, signerr.ErrSeedNotFound))
	assert.True(t, ValidMnemonic("  "+testMnemonic+"\n"))
}

func TestRetrieveBitcoinKeys(t *testing.T) {
	r := newRetriever(t)

	keys, err := r.RetrieveKeys(context.Background(), "main", chain.Bitcoin)
	require.NoError(t, err)
	defer keys.Release()

	assert.Equal(t, Secp256k1, keys.Curve)
	assert.Equal(t, "m/84'/0'/0'/0/0", keys.Path)
	assert.Equal(t, "0330d54fd0dd420a6e5f8d3624f5f3482cae350f79d5f0753bf5beef9c2d91af3c", hex.EncodeToString(keys.PublicKey))
	assert.Equal(t, 32, keys.Private.Len())
}

func TestRetrieveEthereumKeys(t *testing.T) {
	r := newRetriever(t)

	keys, err := r.RetrieveKeys(context.Background(), "main", chain.Ethereum)
	require.NoError(t, err)

	priv, _ := btcec.PrivKeyFromBytes(keys.Private.Bytes())
	addr := crypto.PubkeyToAddress(priv.ToECDSA().PublicKey)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", addr.Hex())

	keys.Release()
	assert.True(t, keys.Private.Released())
}

func TestSLIP10Ed25519(t *testing.T) {
	seed, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f")

	priv, chainCode, err := DeriveEd25519(seed, nil)
	require.NoError(t, err)
	assert.Equal(t, "2b4be7f19ee27bbf30c667b642d5f4aa69fd169872f8fc3059c08ebae2eb19e7", hex.EncodeToString(priv.Seed()))
	assert.Equal(t, "90046a93de5380a72b5e45010748567d5ea02bbf6522f979e05c0d8d8ca9fffb", hex.EncodeToString(chainCode))
	assert.Equal(t, "a4b2856bfec510abab89753fac1ac0e1112364e7d250545963f135f2a33188ed", hex.EncodeToString(priv[32:]))

	priv, chainCode, err = DeriveEd25519(seed, []uint32{hardened})
	require.NoError(t, err)
	assert.Equal(t, "68e0fe46dfb67e368c75379acec591dad19df3cde26e63b93a8e704f1dade7a3", hex.EncodeToString(priv.Seed()))
	assert.Equal(t, "8b59aa11380b624e81507a27fedda59fea6d0b779a778918a2fd3590e16e9c69", hex.EncodeToString(chainCode))
	assert.Equal(t, "8c8a13df77a28f3445213a0f432fde644acaa215fc72dcdf300d5efaa85d350c", hex.EncodeToString(priv[32:]))

	_, _, err = DeriveEd25519(seed, []uint32{hardened, 1})
	assert.True(t, errors.Is(err, signerr.ErrInvalidPath))
}

func TestRetrieveSolanaKeys(t *testing.T) {
	r := newRetriever(t)

	keys, err := r.RetrieveKeys(context.Background(), "main", chain.Solana)
	require.NoError(t, err)
	defer keys.Release()

	assert.Equal(t, Ed25519, keys.Curve)
	assert.Len(t, keys.PublicKey, 32)
	assert.Equal(t, 64, keys.Private.Len())

	again, err := r.RetrieveKeys(context.Background(), "main", chain.Solana)
	require.NoError(t, err)
	assert.Equal(t, keys.PublicKey, again.PublicKey)
}

func TestRetrieveErrors(t *testing.T) {
	r := newRetriever(t)

	_, err := r.RetrieveKeys(context.Background(), "other", chain.Bitcoin)
	assert.True(t, errors.Is(err, signerr.ErrSeedNotFound))

	_, err = r.RetrieveKeysAt(context.Background(), "main", chain.Bitcoin, "84'/0'")
	assert.True(t, errors.Is(err, signerr.ErrInvalidPath))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.RetrieveKeys(ctx, "main", chain.Bitcoin)
	assert.True(t, errors.Is(err, signerr.ErrCancelled))

	r.RemoveWallet("main")
	_, err = r.RetrieveKeys(context.Background(), "main", chain.Bitcoin)
	assert.True(t, errors.Is(err, signerr.ErrSeedNotFound))
}

func TestPresenceCheck(t *testing.T) {
	denied := errors.New("biometric prompt dismissed")
	var asked []chain.ID
	r := newRetriever(t, WithPresence(func(_ context.Context, _ string, id chain.ID) error {
		asked = append(asked, id)
		if id == chain.Ethereum {
			return denied
		}
		return nil
	}))

	_, err := r.RetrieveKeys(context.Background(), "main", chain.Ethereum, RequirePresence(true))
	assert.Equal(t, denied, err)

	_, err = r.RetrieveKeys(context.Background(), "main", chain.Litecoin, RequirePresence(true))
	require.NoError(t, err)
	assert.Equal(t, []chain.ID{chain.Ethereum, chain.Litecoin}, asked)

	// without the option, or with it off, nobody is asked
	_, err = r.RetrieveKeys(context.Background(), "main", chain.Ethereum)
	require.NoError(t, err)
	_, err = r.RetrieveKeysAt(context.Background(), "main", chain.Ethereum, "m/44'/60'/0'/0/1", RequirePresence(false))
	require.NoError(t, err)
	assert.Len(t, asked, 2)
}

func TestLoadMnemonicFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemonic")
	require.NoError(t, os.WriteFile(path, []byte(testMnemonic+"\n"), 0o600))

	r := NewMnemonicRetriever(WithLogger(zap.NewNop()))
	require.NoError(t, r.LoadMnemonicFile("file", path))

	keys, err := r.RetrieveKeys(context.Background(), "file", chain.Bitcoin)
	require.NoError(t, err)
	assert.Equal(t, "0330d54fd0dd420a6e5f8d3624f5f3482cae350f79d5f0753bf5beef9c2d91af3c", hex.EncodeToString(keys.PublicKey))

	err = r.LoadMnemonicFile("missing", filepath.Join(t.TempDir(), "nope"))
	assert.True(t, errors.Is(err, signerr.ErrSeedNotFound))
}
