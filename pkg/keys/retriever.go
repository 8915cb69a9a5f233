package keys

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/apps"
	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/secret"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

type Curve string

const (
	Secp256k1 Curve = "secp256k1"
	Ed25519   Curve = "ed25519"
)

// DerivedKeys is the private material for one chain account. Release it once signing is done.
type DerivedKeys struct {
	Chain     chain.ID
	Path      string
	Curve     Curve
	Private   *secret.Buffer
	PublicKey []byte
}

func (k *DerivedKeys) Release() {
	if k != nil && k.Private != nil {
		k.Private.Release()
	}
}

// Retriever hands out chain specific keys derived from a stored seed.
type Retriever interface {
	RetrieveKeys(ctx context.Context, walletID string, chainID chain.ID, opts ...RetrieveOption) (*DerivedKeys, error)
}

// PresenceFunc confirms the user is there, with a biometric prompt for instance.
// A non-nil error aborts retrieval.
type PresenceFunc func(ctx context.Context, walletID string, chainID chain.ID) error

type retrieveOptions struct {
	requirePresence bool
}

type RetrieveOption func(*retrieveOptions)

// RequirePresence makes the retrieval wait for the PresenceFunc, if one is set.
func RequirePresence(required bool) RetrieveOption {
	return func(o *retrieveOptions) {
		o.requirePresence = required
	}
}

type Option func(*MnemonicRetriever)

func WithLogger(logger *zap.Logger) Option {
	return func(r *MnemonicRetriever) {
		r.logger = logger
	}
}

func WithPresence(fn PresenceFunc) Option {
	return func(r *MnemonicRetriever) {
		r.presence = fn
	}
}

// MnemonicRetriever keeps BIP39 seeds in memory, keyed by wallet id.
type MnemonicRetriever struct {
	mu       sync.RWMutex
	seeds    map[string]*secret.Buffer
	presence PresenceFunc
	logger   *zap.Logger
}

func NewMnemonicRetriever(opts ...Option) *MnemonicRetriever {
	r := &MnemonicRetriever{
		seeds:  make(map[string]*secret.Buffer),
		logger: zap.L().Named("keys"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *MnemonicRetriever) AddWallet(walletID, mnemonic, password string) error {
	seed, err := SeedFromMnemonic(mnemonic, password)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.seeds[walletID]; ok {
		old.Release()
	}
	r.seeds[walletID] = seed
	r.logger.Info("wallet added", zap.String("wallet", walletID))
	return nil
}

// LoadMnemonicFile reads a mnemonic from a file and adds it without a password.
func (r *MnemonicRetriever) LoadMnemonicFile(walletID, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(signerr.ErrSeedNotFound, "read mnemonic file: %v", err)
	}
	defer secret.Zero(raw)
	return r.AddWallet(walletID, string(raw), "")
}

func (r *MnemonicRetriever) RemoveWallet(walletID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seed, ok := r.seeds[walletID]; ok {
		seed.Release()
		delete(r.seeds, walletID)
	}
}

func (r *MnemonicRetriever) RetrieveKeys(ctx context.Context, walletID string, chainID chain.ID, opts ...RetrieveOption) (*DerivedKeys, error) {
	info, err := chain.Lookup(chainID)
	if err != nil {
		return nil, err
	}
	return r.RetrieveKeysAt(ctx, walletID, chainID, info.DefaultPath, opts...)
}

// RetrieveKeysAt derives the key at an explicit path.
func (r *MnemonicRetriever) RetrieveKeysAt(ctx context.Context, walletID string, chainID chain.ID, path string, opts ...RetrieveOption) (*DerivedKeys, error) {
	var o retrieveOptions
	for _, opt := range opts {
		opt(&o)
	}

	info, err := chain.Lookup(chainID)
	if err != nil {
		return nil, err
	}
	components, err := apps.ParsePath(path)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	seed, ok := r.seeds[walletID]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(signerr.ErrSeedNotFound, "wallet %q", walletID)
	}

	if o.requirePresence && r.presence != nil {
		if err := r.presence(ctx, walletID, chainID); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(signerr.ErrCancelled, err.Error())
	}

	keys := &DerivedKeys{Chain: chainID, Path: path}
	err = seed.Use(func(s []byte) error {
		if info.Family == chain.FamilySolana {
			return deriveEd25519Keys(keys, s, components)
		}
		return deriveSecp256k1Keys(keys, s, components)
	})
	if err != nil {
		if errors.Is(err, secret.ErrReleased) {
			return nil, errors.Wrapf(signerr.ErrSeedNotFound, "wallet %q was removed", walletID)
		}
		return nil, err
	}

	r.logger.Debug("keys retrieved", zap.String("wallet", walletID), zap.Stringer("chain", chainID), zap.String("path", path))
	return keys, nil
}

func deriveSecp256k1Keys(keys *DerivedKeys, seed []byte, path []uint32) error {
	priv, _, err := DeriveSecp256k1(seed, path)
	if err != nil {
		return err
	}
	keys.Curve = Secp256k1
	keys.Private = secret.New(priv.Serialize())
	keys.PublicKey = priv.PubKey().SerializeCompressed()
	priv.Zero()
	return nil
}

func deriveEd25519Keys(keys *DerivedKeys, seed []byte, path []uint32) error {
	priv, _, err := DeriveEd25519(seed, path)
	if err != nil {
		return err
	}
	keys.Curve = Ed25519
	keys.PublicKey = append([]byte(nil), priv[32:]...)
	keys.Private = secret.New(priv)
	return nil
}
