package hardware

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/apps"
	"github.com/status-im/status-signer-go/internal/metrics"
	"github.com/status-im/status-signer-go/internal/transport"
	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
	"github.com/status-im/status-signer-go/signal"
)

// Wallet is the single entry point to one hardware device. It owns the transport,
// tracks which app runs on the device and routes requests to the matching app.
// Operations run one at a time in the order they were issued.
type Wallet struct {
	mu        sync.Mutex // held for the whole of an operation
	closing   atomic.Bool
	transport transport.Transport
	dashboard *apps.Dashboard

	statusLock sync.RWMutex
	status     *Status

	connectTimeout time.Duration
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

func New(t transport.Transport, opts ...Option) *Wallet {
	w := &Wallet{
		transport:      t,
		dashboard:      apps.NewDashboard(t),
		status:         NewStatus(),
		connectTimeout: transport.DefaultTimeout,
		logger:         zap.L().Named("hardware"),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.status.Transport = transport.NameOf(t)
	return w
}

func (w *Wallet) Status() Status {
	w.statusLock.RLock()
	defer w.statusLock.RUnlock()
	return *w.status
}

// Connect opens the transport and asks the device which app is running.
// Connecting an already connected wallet is a no-op.
func (w *Wallet) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.Status().Connected() {
		return nil
	}

	w.update(func(s *Status) {
		s.Reset()
		s.State = Connecting
	})

	connectCtx, cancel := context.WithTimeout(ctx, w.connectTimeout)
	defer cancel()

	err := w.transport.Open(connectCtx)
	if err != nil {
		err = w.connectError(ctx, connectCtx, err)
		w.fail(err)
		return errors.WithMessage(err, "failed to open transport")
	}

	info, err := w.dashboard.GetAppAndVersion(connectCtx)
	if err != nil {
		err = w.connectError(ctx, connectCtx, err)
		_ = w.transport.Close()
		w.fail(err)
		return errors.WithMessage(err, "failed to query device")
	}

	w.update(func(s *Status) {
		s.Version = info.Version
		if info.IsDashboard() {
			s.State = RequiresAppOpen
			s.App = ""
			return
		}
		s.State = Ready
		s.App = info.Name
	})
	return nil
}

// connectError reports the expiry of the connect bound as a timeout rather than a cancellation.
func (w *Wallet) connectError(parent, connectCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(connectCtx.Err(), context.DeadlineExceeded) && errors.Is(err, signerr.ErrCancelled) {
		return errors.Wrapf(signerr.ErrTimeout, "connect took longer than %s", w.connectTimeout)
	}
	return err
}

// Disconnect closes the transport without waiting for the running operation,
// whose pending exchange fails with ErrDeviceDisconnected, and then waits for
// that operation to return before resetting the status.
func (w *Wallet) Disconnect() error {
	w.closing.Store(true)
	defer w.closing.Store(false)

	err := w.transport.Close()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.update(func(s *Status) {
		s.Reset()
	})
	if err != nil {
		return errors.Wrap(err, "failed to close transport")
	}
	return nil
}

// OpenApp asks the device to launch the app and checks that it actually runs.
// The device acknowledges the request before the user confirms, so an
// unconfirmed launch fails with a WrongAppError.
func (w *Wallet) OpenApp(ctx context.Context, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireConnected(); err != nil {
		return err
	}

	current, err := w.dashboard.GetAppAndVersion(ctx)
	if err != nil {
		w.observe(err)
		return errors.WithMessage(err, "failed to query device")
	}
	if current.Name == name {
		w.setApp(current.Name, "")
		return nil
	}
	if !current.IsDashboard() {
		if err := w.dashboard.QuitApp(ctx); err != nil {
			w.observe(err)
			return errors.WithMessagef(err, "failed to close %q", current.Name)
		}
	}

	if err := w.dashboard.OpenApp(ctx, name); err != nil {
		w.observe(err)
		w.setApp("", name)
		return errors.WithMessagef(err, "failed to open %q", name)
	}

	current, err = w.dashboard.GetAppAndVersion(ctx)
	if err != nil {
		w.observe(err)
		return errors.WithMessage(err, "failed to verify app")
	}
	if current.Name != name {
		active := current.Name
		if current.IsDashboard() {
			active = ""
		}
		w.setApp(active, name)
		return &signerr.WrongAppError{Expected: name, Actual: current.Name}
	}

	w.setApp(name, "")
	return nil
}

// OpenAppFor opens the app serving chainID.
func (w *Wallet) OpenAppFor(ctx context.Context, chainID chain.ID) error {
	info, err := chain.Lookup(chainID)
	if err != nil {
		return err
	}
	return w.OpenApp(ctx, info.AppName)
}

// CloseApp returns the device to the dashboard.
func (w *Wallet) CloseApp(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireConnected(); err != nil {
		return err
	}
	if err := w.dashboard.QuitApp(ctx); err != nil {
		w.observe(err)
		return errors.WithMessage(err, "failed to close app")
	}
	w.setApp("", "")
	return nil
}

// GetPublicKey derives the key at path on the device. An empty chainID is
// inferred from the path coin type, an empty path means the chain default.
func (w *Wallet) GetPublicKey(ctx context.Context, chainID chain.ID, path string, display bool) (*apps.PublicKeyResult, error) {
	var res *apps.PublicKeyResult
	err := w.withApp(ctx, chainID, path, "get public key", func(app apps.App, p apps.Path) (err error) {
		res, err = app.GetPublicKey(ctx, p, display)
		return err
	})
	return res, err
}

func (w *Wallet) GetAddress(ctx context.Context, chainID chain.ID, path string, display bool, variant apps.AddressVariant) (*apps.AddressResult, error) {
	var res *apps.AddressResult
	err := w.withApp(ctx, chainID, path, "get address", func(app apps.App, p apps.Path) (err error) {
		res, err = app.GetAddress(ctx, p, display, variant)
		return err
	})
	return res, err
}

// SignTransaction hands the chain specific payload to the device: a sighash for
// bitcoin-family chains, the unsigned encoding for EVM chains and the message for Solana.
func (w *Wallet) SignTransaction(ctx context.Context, chainID chain.ID, path string, payload []byte) (*apps.SignatureResult, error) {
	var res *apps.SignatureResult
	err := w.withApp(ctx, chainID, path, "sign transaction", func(app apps.App, p apps.Path) (err error) {
		res, err = app.SignTransaction(ctx, p, payload)
		return err
	})
	return res, err
}

func (w *Wallet) SignMessage(ctx context.Context, chainID chain.ID, path string, message []byte) (*apps.SignatureResult, error) {
	var res *apps.SignatureResult
	err := w.withApp(ctx, chainID, path, "sign message", func(app apps.App, p apps.Path) (err error) {
		res, err = app.SignMessage(ctx, p, message)
		return err
	})
	return res, err
}

func (w *Wallet) withApp(ctx context.Context, chainID chain.ID, rawPath string, op string, fn func(app apps.App, path apps.Path) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	id, path, err := Route(chainID, rawPath)
	if err != nil {
		return errors.WithMessage(err, op)
	}

	app, err := w.ensureApp(ctx, id)
	if err != nil {
		return errors.WithMessagef(err, "%s on %s", op, id)
	}

	if err := fn(app, path); err != nil {
		w.observe(err)
		return errors.WithMessagef(err, "%s on %s", op, id)
	}
	return nil
}

// Route resolves the chain and derivation path of a request. Without a chain
// the path coin type decides; without a path the chain default is used.
func Route(chainID chain.ID, rawPath string) (chain.ID, apps.Path, error) {
	if chainID == "" && rawPath == "" {
		return "", nil, errors.Wrap(signerr.ErrInvalidPath, "neither chain nor path given")
	}

	if chainID != "" {
		info, err := chain.Lookup(chainID)
		if err != nil {
			return "", nil, err
		}
		if rawPath == "" {
			rawPath = info.DefaultPath
		}
	}

	path, err := apps.ParsePath(rawPath)
	if err != nil {
		return "", nil, err
	}

	if chainID == "" {
		if chainID, err = path.Chain(); err != nil {
			return "", nil, err
		}
	}
	return chainID, path, nil
}

// ensureApp makes sure the app serving id runs on the device. Another running app
// is closed, but the required one is never launched: that needs the user on the device.
func (w *Wallet) ensureApp(ctx context.Context, id chain.ID) (apps.App, error) {
	if err := w.requireConnected(); err != nil {
		return nil, err
	}

	app, err := apps.ForChain(id, w.transport)
	if err != nil {
		return nil, err
	}
	required := app.Name()

	current, err := w.dashboard.GetAppAndVersion(ctx)
	if err != nil {
		w.observe(err)
		return nil, err
	}

	if current.Name == required {
		w.setApp(required, "")
		return app, nil
	}

	active := ""
	if !current.IsDashboard() {
		w.logger.Info("closing app",
			zap.String("active", current.Name),
			zap.String("required", required))
		if err := w.dashboard.QuitApp(ctx); err != nil {
			w.logger.Warn("failed to close app", zap.String("app", current.Name), zap.Error(err))
			w.observe(err)
			active = current.Name
		}
	}

	w.setApp(active, required)
	return nil, &signerr.AppNotOpenError{App: required}
}

func (w *Wallet) requireConnected() error {
	status := w.Status()
	if !status.Connected() {
		return errors.Wrapf(signerr.ErrInvalidState, "device is %s", status.State)
	}
	return nil
}

// setApp records the running app. A non-empty required app means the device waits for the user to open it.
func (w *Wallet) setApp(active, required string) {
	w.update(func(s *Status) {
		s.App = active
		s.RequiredApp = required
		s.Reason = ""
		s.State = RequiresAppOpen
		if required == "" && active != "" {
			s.State = Ready
		}
	})
}

// observe moves the wallet to Error when err shows the device is gone.
func (w *Wallet) observe(err error) {
	if !errors.Is(err, signerr.ErrDeviceDisconnected) &&
		!errors.Is(err, signerr.ErrDeviceNotFound) &&
		!errors.Is(err, signerr.ErrCommunication) {
		return
	}
	if w.closing.Load() {
		return
	}
	_ = w.transport.Close()
	w.fail(err)
}

func (w *Wallet) fail(err error) {
	if w.closing.Load() {
		w.logger.Debug("operation aborted by disconnect", zap.Error(err))
		return
	}
	w.logger.Error("device failure", zap.Error(err))
	w.update(func(s *Status) {
		s.State = Error
		s.App = ""
		s.RequiredApp = ""
		s.Reason = err.Error()
	})
}

func (w *Wallet) update(fn func(s *Status)) {
	w.statusLock.Lock()
	before := *w.status
	fn(w.status)
	after := *w.status
	w.statusLock.Unlock()

	if before != after {
		w.publishStatus(after)
	}
}

func (w *Wallet) publishStatus(status Status) {
	w.logger.Info("status changed", zap.Any("status", status))
	w.metrics.RecordState(string(status.State), allStates)
	signal.Send(StatusChanged, status)
}
