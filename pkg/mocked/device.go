package mocked

import (
	"sync"

	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/apdu"
	"github.com/status-im/status-signer-go/internal/apps"
	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/keys"
	"github.com/status-im/status-signer-go/pkg/secret"
)

// DefaultMnemonic seeds the simulated device unless another one is given.
const DefaultMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// Mode selects how the simulated user and firmware react.
type Mode int

const (
	// ModeApprove confirms every prompt.
	ModeApprove Mode = iota
	// ModeDeny rejects every prompt.
	ModeDeny
	// ModeLocked answers everything but the dashboard with the locked status word.
	ModeLocked
	// ModeSilent never answers.
	ModeSilent
)

func (m Mode) String() string {
	switch m {
	case ModeApprove:
		return "approve"
	case ModeDeny:
		return "deny"
	case ModeLocked:
		return "locked"
	case ModeSilent:
		return "silent"
	default:
		return "unknown"
	}
}

// Device simulates a hardware wallet speaking the dashboard, Bitcoin, Ethereum and Solana
// command sets, with keys derived from a mnemonic.
type Device struct {
	mu sync.Mutex

	seed        *secret.Buffer
	version     string
	installed   map[string]bool
	current     string
	mode        Mode
	confirmOpen bool

	pending  *pendingSign
	commands []*apdu.Command
	logger   *zap.Logger
}

type Option func(*Device)

// WithMnemonic seeds the device keys. It panics on an invalid mnemonic.
func WithMnemonic(mnemonic string) Option {
	return func(d *Device) {
		seed, err := keys.SeedFromMnemonic(mnemonic, "")
		if err != nil {
			panic(err)
		}
		d.seed = seed
	}
}

// WithApps sets the installed apps. By default every app of the chain registry is installed.
func WithApps(names ...string) Option {
	return func(d *Device) {
		d.installed = make(map[string]bool, len(names))
		for _, name := range names {
			d.installed[name] = true
		}
	}
}

// WithOpenApp starts the device with an app already running.
func WithOpenApp(name string) Option {
	return func(d *Device) {
		d.current = name
	}
}

func WithMode(mode Mode) Option {
	return func(d *Device) {
		d.mode = mode
	}
}

func WithVersion(version string) Option {
	return func(d *Device) {
		d.version = version
	}
}

// WithUnconfirmedOpen makes OpenApp succeed without the app actually starting,
// like a user who has not confirmed yet.
func WithUnconfirmedOpen() Option {
	return func(d *Device) {
		d.confirmOpen = false
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *Device) {
		d.logger = logger
	}
}

func NewDevice(opts ...Option) *Device {
	d := &Device{
		version:     "2.2.3",
		installed:   make(map[string]bool),
		confirmOpen: true,
		logger:      zap.L().Named("mocked"),
	}
	for _, info := range chain.All() {
		d.installed[info.AppName] = true
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.seed == nil {
		WithMnemonic(DefaultMnemonic)(d)
	}
	return d
}

func (d *Device) SetMode(mode Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = mode
}

func (d *Device) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// LaunchApp opens an app as if the user picked it on the device.
func (d *Device) LaunchApp(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = name
	d.pending = nil
}

// CurrentApp returns the running app, empty on the dashboard.
func (d *Device) CurrentApp() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Commands returns every command received so far.
func (d *Device) Commands() []*apdu.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*apdu.Command(nil), d.commands...)
}

// Handle processes one raw command. It returns false when the device stays silent.
func (d *Device) Handle(raw []byte) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode == ModeSilent {
		return nil, false
	}

	cmd, err := apdu.ParseCommand(raw)
	if err != nil {
		return apdu.Encode(nil, apdu.SwWrongLength), true
	}
	d.commands = append(d.commands, cmd)

	data, sw := d.dispatch(cmd)
	d.logger.Debug("handled",
		zap.Uint8("cla", cmd.Cla),
		zap.Uint8("ins", cmd.Ins),
		zap.Uint16("sw", sw))
	return apdu.Encode(data, sw), true
}

func (d *Device) dispatch(cmd *apdu.Command) ([]byte, uint16) {
	switch {
	case cmd.Cla == 0xb0 && cmd.Ins == 0x01:
		return d.appAndVersion(), apdu.SwOK
	case cmd.Cla == 0xb0 && cmd.Ins == 0xa7:
		d.current = ""
		d.pending = nil
		return nil, apdu.SwOK
	case cmd.Cla == 0xe0 && cmd.Ins == 0xd8:
		return d.openApp(string(cmd.Data))
	}

	if d.mode == ModeLocked {
		return nil, apdu.SwPINNotValidated
	}
	if d.current == "" {
		return nil, apdu.SwClaNotSupported
	}
	if cmd.Cla != 0xe0 {
		return nil, apdu.SwClaNotSupported
	}

	id, ok := chain.ByAppName(d.current)
	if !ok {
		return nil, apdu.SwInsNotSupported
	}
	switch id.Family() {
	case chain.FamilyUTXO:
		return d.bitcoin(id, cmd)
	case chain.FamilyEVM:
		return d.ethereum(cmd)
	case chain.FamilySolana:
		return d.solana(cmd)
	default:
		return nil, apdu.SwInsNotSupported
	}
}

func (d *Device) appAndVersion() []byte {
	if d.current == "" {
		return apps.EncodeAppInfo(apps.AppInfo{Name: apps.DashboardName, Version: d.version})
	}
	return apps.EncodeAppInfo(apps.AppInfo{Name: d.current, Version: "1.0.0", Flags: []byte{0x00}})
}

func (d *Device) openApp(name string) ([]byte, uint16) {
	if d.mode == ModeLocked {
		return nil, apdu.SwPINNotValidated
	}
	if !d.installed[name] {
		return nil, apdu.SwAppNotFound
	}
	if d.mode == ModeDeny {
		return nil, apdu.SwUserRefused
	}
	if d.confirmOpen {
		d.current = name
		d.pending = nil
	}
	return nil, apdu.SwOK
}

// approve reports the status word of the user prompt that precedes a signature.
func (d *Device) approve() (uint16, bool) {
	if d.mode == ModeDeny {
		return apdu.SwConditionsNotMet, false
	}
	return apdu.SwOK, true
}

func (d *Device) secp256k1(path apps.Path) (*secp256k1Key, uint16) {
	var key *secp256k1Key
	err := d.seed.Use(func(seed []byte) error {
		priv, chainCode, err := keys.DeriveSecp256k1(seed, path)
		if err != nil {
			return err
		}
		key = &secp256k1Key{priv: priv, chainCode: chainCode}
		return nil
	})
	if err != nil {
		return nil, apdu.SwInvalidData
	}
	return key, apdu.SwOK
}
