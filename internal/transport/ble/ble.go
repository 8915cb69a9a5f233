package ble

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/metrics"
	"github.com/status-im/status-signer-go/internal/transport"
	"github.com/status-im/status-signer-go/internal/transport/framing"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

// DefaultFrameSize is used until the link reports its negotiated MTU.
const DefaultFrameSize = 20

const (
	LedgerServiceUUID = "13d63400-2c97-0004-0000-4c6564676572"
	LedgerNotifyUUID  = "13d63400-2c97-0004-0001-4c6564676572"
	LedgerWriteUUID   = "13d63400-2c97-0004-0002-4c6564676572"
)

type Config struct {
	ServiceUUID string
	WriteUUID   string
	NotifyUUID  string
	ScanTimeout time.Duration
	Timeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		ServiceUUID: LedgerServiceUUID,
		WriteUUID:   LedgerWriteUUID,
		NotifyUUID:  LedgerNotifyUUID,
		ScanTimeout: 10 * time.Second,
		Timeout:     transport.DefaultTimeout,
	}
}

// Link is a connected GATT channel: one characteristic to write frames to and one
// notifying characteristic carrying the replies.
type Link interface {
	Write(frame []byte) error
	Subscribe(onFrame func(frame []byte)) error
	// FrameSize reports the usable payload size of one write after MTU negotiation.
	FrameSize() (int, error)
	Close() error
}

type Dialer interface {
	// Dial connects to the device. dropped is called when the peer ends the connection.
	Dial(ctx context.Context, cfg Config, dropped func(cause error)) (Link, error)
}

// Transport talks to a device over a BLE GATT link with negotiated frame size.
type Transport struct {
	cfg     Config
	dialer  Dialer
	logger  *zap.Logger
	metrics *metrics.Metrics
	framed  *transport.Framed

	mu   sync.Mutex
	link Link
}

type Option func(*Transport)

func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

func WithDialer(d Dialer) Option {
	return func(t *Transport) {
		t.dialer = d
	}
}

func New(cfg Config, opts ...Option) *Transport {
	t := &Transport{
		cfg:    cfg,
		logger: zap.L().Named("transport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.dialer == nil {
		t.dialer = NewGATTDialer(t.logger)
	}

	codec := framing.Codec{FrameSize: DefaultFrameSize}
	t.framed = transport.NewFramed(t.Name(), codec, t.logger, t.metrics, cfg.Timeout)
	return t
}

func (t *Transport) Name() string {
	return "ble"
}

func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.link != nil {
		return nil
	}

	var (
		link Link
		err  error
	)
	// runs under t.mu, so it sees link once Open has returned
	dropped := func(cause error) {
		t.mu.Lock()
		if link == nil || t.link != link {
			t.mu.Unlock()
			return
		}
		t.link = nil
		t.mu.Unlock()

		t.logger.Warn("device dropped the connection", zap.Error(cause))
		t.framed.Detach(cause)
	}

	link, err = t.dialer.Dial(ctx, t.cfg, dropped)
	if err != nil {
		if errors.Is(err, signerr.ErrDeviceNotFound) || errors.Is(err, signerr.ErrCancelled) {
			return err
		}
		return errors.Wrap(signerr.ErrConnectionFailed, err.Error())
	}

	// the negotiated size differs per connection, never reuse the previous one
	size, err := link.FrameSize()
	if err != nil || size <= 0 {
		t.logger.Debug("frame size unavailable, using default", zap.Error(err))
		size = DefaultFrameSize
	}
	if err := t.framed.SetFrameSize(size); err != nil {
		_ = link.Close()
		return errors.Wrap(signerr.ErrConnectionFailed, err.Error())
	}

	t.framed.Attach(link.Write)
	if err := link.Subscribe(t.framed.Deliver); err != nil {
		t.framed.Detach(err)
		_ = link.Close()
		return errors.Wrap(signerr.ErrConnectionFailed, err.Error())
	}

	t.logger.Info("device connected", zap.Int("frameSize", size))
	t.link = link
	return nil
}

func (t *Transport) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	return t.framed.Exchange(ctx, command)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	link := t.link
	t.link = nil
	t.mu.Unlock()

	if link == nil {
		return nil
	}
	t.framed.Detach(nil)
	return link.Close()
}

func (t *Transport) FrameSize() int {
	return t.framed.FrameSize()
}
