package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/apps"
	"github.com/status-im/status-signer-go/internal/transport"
	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/hardware"
	"github.com/status-im/status-signer-go/pkg/keys"
	"github.com/status-im/status-signer-go/pkg/signer"
	"github.com/status-im/status-signer-go/pkg/signerr"
	"github.com/status-im/status-signer-go/pkg/txn"
	"github.com/status-im/status-signer-go/pkg/utils"
)

var (
	errNoHardwareWallet = errors.Wrap(signerr.ErrDeviceNotFound, "no hardware wallet configured")
	errNoKeyStore       = errors.Wrap(signerr.ErrSeedNotFound, "no key store configured")
)

// SignerService is the JSON-RPC face of the hardware wallet and the signer manager.
type SignerService struct {
	wallet   *hardware.Wallet
	manager  *signer.Manager
	keys     *keys.MnemonicRetriever
	walletID string
	timeout  time.Duration
	logger   *zap.Logger
}

type Option func(*SignerService)

func WithWallet(w *hardware.Wallet) Option {
	return func(s *SignerService) {
		s.wallet = w
	}
}

func WithKeys(r *keys.MnemonicRetriever) Option {
	return func(s *SignerService) {
		s.keys = r
	}
}

// WithWalletID sets the wallet used when a request names none.
func WithWalletID(id string) Option {
	return func(s *SignerService) {
		s.walletID = id
	}
}

func WithCallTimeout(timeout time.Duration) Option {
	return func(s *SignerService) {
		s.timeout = timeout
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *SignerService) {
		s.logger = logger
	}
}

func NewSignerService(manager *signer.Manager, opts ...Option) *SignerService {
	s := &SignerService{
		manager:  manager,
		walletID: "default",
		timeout:  2 * transport.DefaultTimeout,
		logger:   zap.L().Named("session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wallet returns the hardware wallet, nil when the service runs software only.
func (s *SignerService) Wallet() *hardware.Wallet {
	return s.wallet
}

func (s *SignerService) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *SignerService) requireWallet() error {
	if s.wallet == nil {
		return errNoHardwareWallet
	}
	return nil
}

func (s *SignerService) Connect(args *struct{}, reply *hardware.Status) error {
	if err := s.requireWallet(); err != nil {
		return err
	}
	ctx, cancel := s.context()
	defer cancel()

	err := s.wallet.Connect(ctx)
	*reply = s.wallet.Status()
	return err
}

func (s *SignerService) Disconnect(args *struct{}, reply *struct{}) error {
	if err := s.requireWallet(); err != nil {
		return err
	}
	return s.wallet.Disconnect()
}

// GetStatus is mostly for debugging, status changes are pushed with the `hardware.status-changed` signal.
func (s *SignerService) GetStatus(args *struct{}, reply *hardware.Status) error {
	if err := s.requireWallet(); err != nil {
		return err
	}
	*reply = s.wallet.Status()
	return nil
}

type OpenAppRequest struct {
	// Either the app name as shown on the device or a chain whose app should be opened.
	Name  string   `json:"name" validate:"required_without=Chain"`
	Chain chain.ID `json:"chain" validate:"omitempty,chain"`
}

func (s *SignerService) OpenApp(args *OpenAppRequest, reply *hardware.Status) error {
	if err := validateRequest(args); err != nil {
		return err
	}
	if err := s.requireWallet(); err != nil {
		return err
	}
	ctx, cancel := s.context()
	defer cancel()

	var err error
	if args.Chain != "" {
		err = s.wallet.OpenAppFor(ctx, args.Chain)
	} else {
		err = s.wallet.OpenApp(ctx, args.Name)
	}
	*reply = s.wallet.Status()
	return err
}

type GetAddressRequest struct {
	Chain   chain.ID `json:"chain" validate:"required,chain"`
	Path    string   `json:"path" validate:"omitempty,bip32path"`
	Display bool     `json:"display"`
	// Variant is one of auto, legacy, nested-segwit, native-segwit, taproot. Only bitcoin-family chains use it.
	Variant string `json:"variant" validate:"omitempty,oneof=auto legacy nested-segwit native-segwit taproot"`
	// Software derives from the stored seed instead of asking the device.
	Software bool   `json:"software"`
	WalletID string `json:"walletId"`
}

func (s *SignerService) GetAddress(args *GetAddressRequest, reply *apps.AddressResult) error {
	if err := validateRequest(args); err != nil {
		return err
	}
	variant, err := apps.ParseAddressVariant(args.Variant)
	if err != nil {
		return errors.Wrap(signerr.ErrInvalidParameters, err.Error())
	}
	path, err := s.path(args.Chain, args.Path)
	if err != nil {
		return err
	}
	ctx, cancel := s.context()
	defer cancel()

	var result *apps.AddressResult
	if s.software(args.Software) {
		result, err = s.softwareAddress(ctx, s.walletOr(args.WalletID), args.Chain, path, variant)
	} else {
		result, err = s.wallet.GetAddress(ctx, args.Chain, path, args.Display, variant)
	}
	if err != nil {
		return err
	}
	*reply = *result
	return nil
}

type GetPublicKeyRequest struct {
	Chain    chain.ID `json:"chain" validate:"required,chain"`
	Path     string   `json:"path" validate:"omitempty,bip32path"`
	Display  bool     `json:"display"`
	Software bool     `json:"software"`
	WalletID string   `json:"walletId"`
}

func (s *SignerService) GetPublicKey(args *GetPublicKeyRequest, reply *apps.PublicKeyResult) error {
	if err := validateRequest(args); err != nil {
		return err
	}
	path, err := s.path(args.Chain, args.Path)
	if err != nil {
		return err
	}
	ctx, cancel := s.context()
	defer cancel()

	var result *apps.PublicKeyResult
	if s.software(args.Software) {
		result, err = s.softwarePublicKey(ctx, s.walletOr(args.WalletID), args.Chain, path)
	} else {
		result, err = s.wallet.GetPublicKey(ctx, args.Chain, path, args.Display)
	}
	if err != nil {
		return err
	}
	*reply = *result
	return nil
}

type SignMessageRequest struct {
	Chain    chain.ID        `json:"chain" validate:"required,chain"`
	WalletID string          `json:"walletId"`
	Message  utils.HexString `json:"message" validate:"required"`
}

type SignMessageResponse struct {
	Signature utils.HexString `json:"signature"`
}

func (s *SignerService) SignMessage(args *SignMessageRequest, reply *SignMessageResponse) error {
	if err := validateRequest(args); err != nil {
		return err
	}
	ctx, cancel := s.context()
	defer cancel()

	sig, err := s.manager.SignMessage(ctx, args.Chain, s.walletOr(args.WalletID), args.Message)
	if err != nil {
		return err
	}
	reply.Signature = sig
	return nil
}

type SignTransactionRequest struct {
	// Checked by the manager, which reports bad transactions as invalid inputs.
	Transaction *txn.UnsignedTransaction `json:"transaction" validate:"-"`
	Context     txn.SigningContext       `json:"context"`
}

func (s *SignerService) SignTransaction(args *SignTransactionRequest, reply *txn.SignedTransaction) error {
	if args.Transaction == nil {
		return errors.Wrap(signerr.ErrInvalidInputs, "missing transaction")
	}
	sctx := args.Context
	sctx.WalletID = s.walletOr(sctx.WalletID)

	ctx, cancel := s.context()
	defer cancel()

	signed, err := s.manager.Sign(ctx, args.Transaction, sctx)
	if err != nil {
		s.logger.Warn("signing failed",
			zap.Stringer("chain", args.Transaction.ChainID),
			zap.String("category", string(signerr.CategoryOf(err))),
			zap.Error(err))
		return err
	}
	*reply = *signed
	return nil
}

type CanSignRequest struct {
	Chain   chain.ID `json:"chain" validate:"required,chain"`
	Address string   `json:"address" validate:"required"`
}

type CanSignResponse struct {
	CanSign bool `json:"canSign"`
}

func (s *SignerService) CanSign(args *CanSignRequest, reply *CanSignResponse) error {
	if err := validateRequest(args); err != nil {
		return err
	}
	reply.CanSign = s.manager.CanSign(args.Chain, args.Address)
	return nil
}

type AddWalletRequest struct {
	WalletID string `json:"walletId"`
	Mnemonic string `json:"mnemonic" validate:"required,mnemonic"`
	Password string `json:"password"`
}

func (s *SignerService) AddWallet(args *AddWalletRequest, reply *struct{}) error {
	if err := validateRequest(args); err != nil {
		return err
	}
	if s.keys == nil {
		return errNoKeyStore
	}
	return s.keys.AddWallet(s.walletOr(args.WalletID), args.Mnemonic, args.Password)
}

type RemoveWalletRequest struct {
	WalletID string `json:"walletId" validate:"required"`
}

func (s *SignerService) RemoveWallet(args *RemoveWalletRequest, reply *struct{}) error {
	if err := validateRequest(args); err != nil {
		return err
	}
	if s.keys == nil {
		return errNoKeyStore
	}
	s.keys.RemoveWallet(args.WalletID)
	return nil
}

type ChainsResponse struct {
	Chains []ChainInfo `json:"chains"`
}

type ChainInfo struct {
	chain.Info
	Backend string `json:"backend"`
}

// ListChains returns the chains a signer is registered for.
func (s *SignerService) ListChains(args *struct{}, reply *ChainsResponse) error {
	reply.Chains = reply.Chains[:0]
	for _, id := range s.manager.Chains() {
		sgn, err := s.manager.Signer(id)
		if err != nil {
			continue
		}
		reply.Chains = append(reply.Chains, ChainInfo{
			Info:    chain.MustLookup(id),
			Backend: signer.BackendOf(sgn),
		})
	}
	return nil
}

func (s *SignerService) software(requested bool) bool {
	return requested || s.wallet == nil
}

func (s *SignerService) walletOr(id string) string {
	if id == "" {
		return s.walletID
	}
	return id
}

func (s *SignerService) path(id chain.ID, path string) (string, error) {
	if path != "" {
		return path, nil
	}
	info, err := chain.Lookup(id)
	if err != nil {
		return "", err
	}
	return info.DefaultPath, nil
}
