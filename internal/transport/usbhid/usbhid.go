package usbhid

import (
	"context"
	"sync"
	"time"

	"github.com/karalabe/hid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/metrics"
	"github.com/status-im/status-signer-go/internal/transport"
	"github.com/status-im/status-signer-go/internal/transport/framing"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

const (
	PacketSize = 64

	LedgerVendorID  = 0x2c97
	LedgerUsagePage = 0xffa0
)

// Ledger product ids, matched on the high byte (model), the low byte varies with the USB interface set.
var LedgerProductIDs = []uint16{
	0x0001, // Nano S (legacy firmware)
	0x0004, // Nano X (legacy firmware)
	0x1000, // Nano S
	0x4000, // Nano X
	0x5000, // Nano S Plus
	0x6000, // Stax
	0x7000, // Flex
}

var channelTag = []byte{0x01, 0x01, 0x05}

// FrameCodec is the packet layout on the HID channel.
func FrameCodec() framing.Codec {
	return framing.Codec{Header: channelTag, FrameSize: PacketSize, Pad: true}
}

type Config struct {
	VendorID   uint16
	ProductIDs []uint16
	UsagePage  uint16
	Interface  int
	Timeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		VendorID:   LedgerVendorID,
		ProductIDs: LedgerProductIDs,
		UsagePage:  LedgerUsagePage,
		Interface:  0,
		Timeout:    transport.DefaultTimeout,
	}
}

// Device is the subset of hid.Device used by the transport.
type Device interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

type enumerateFunc func(vendorID uint16, productID uint16) ([]hid.DeviceInfo, error)
type openFunc func(info hid.DeviceInfo) (Device, error)

// Transport talks to a device over USB HID with 64 byte packets.
type Transport struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	framed  *transport.Framed

	enumerate enumerateFunc
	open      openFunc

	mu      sync.Mutex
	device  Device
	info    hid.DeviceInfo
	closing bool
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

// WithBackend replaces hidapi enumeration and device opening, e.g. with a simulated device.
func WithBackend(enumerate func(vendorID, productID uint16) ([]hid.DeviceInfo, error), open func(hid.DeviceInfo) (Device, error)) Option {
	return func(t *Transport) {
		t.enumerate = enumerate
		t.open = open
	}
}

func New(cfg Config, opts ...Option) *Transport {
	t := &Transport{
		cfg:       cfg,
		logger:    zap.L().Named("transport"),
		enumerate: hid.Enumerate,
		open: func(info hid.DeviceInfo) (Device, error) {
			return info.Open()
		},
	}
	for _, opt := range opts {
		opt(t)
	}

	t.framed = transport.NewFramed(t.Name(), FrameCodec(), t.logger, t.metrics, cfg.Timeout)
	return t
}

func (t *Transport) Name() string {
	return "hid"
}

func (t *Transport) matches(info hid.DeviceInfo) bool {
	if info.VendorID != t.cfg.VendorID {
		return false
	}
	// Windows and macOS report the usage page, Linux only the interface number
	if info.UsagePage != t.cfg.UsagePage && info.Interface != t.cfg.Interface {
		return false
	}
	for _, id := range t.cfg.ProductIDs {
		if info.ProductID == id || info.ProductID>>8 == id>>8 {
			return true
		}
	}
	return false
}

// find locates exactly one matching device.
func (t *Transport) find() (hid.DeviceInfo, error) {
	infos, err := t.enumerate(t.cfg.VendorID, 0)
	if err != nil {
		return hid.DeviceInfo{}, errors.Wrap(signerr.ErrConnectionFailed, err.Error())
	}

	var found []hid.DeviceInfo
	for _, info := range infos {
		if t.matches(info) {
			found = append(found, info)
		}
	}

	switch len(found) {
	case 0:
		return hid.DeviceInfo{}, errors.Wrapf(signerr.ErrDeviceNotFound, "no device with vendor id 0x%04x", t.cfg.VendorID)
	case 1:
		return found[0], nil
	default:
		return hid.DeviceInfo{}, errors.Wrapf(signerr.ErrConnectionFailed, "%d matching devices, connect only one", len(found))
	}
}

func (t *Transport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(signerr.ErrCancelled, err.Error())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.device != nil {
		return nil
	}

	info, err := t.find()
	if err != nil {
		return err
	}

	device, err := t.open(info)
	if err != nil {
		return errors.Wrapf(signerr.ErrConnectionFailed, "open %s: %v", info.Path, err)
	}

	t.logger.Info("device opened",
		zap.String("product", info.Product),
		zap.Uint16("productID", info.ProductID),
		zap.String("path", info.Path))

	t.device = device
	t.info = info
	t.closing = false
	t.framed.Attach(t.writeFrame(device))

	go t.readLoop(device)
	return nil
}

func (t *Transport) writeFrame(device Device) transport.FrameWriter {
	return func(frame []byte) error {
		_, err := device.Write(frame)
		return err
	}
}

func (t *Transport) readLoop(device Device) {
	buf := make([]byte, PacketSize)
	for {
		n, err := device.Read(buf)
		if err != nil {
			t.mu.Lock()
			closing := t.closing
			current := t.device == device
			if current {
				t.device = nil
			}
			t.mu.Unlock()

			if !closing {
				t.logger.Warn("device read failed", zap.Error(err))
			}
			if current {
				t.framed.Detach(err)
			}
			return
		}
		if n == 0 {
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		t.framed.Deliver(frame)
	}
}

func (t *Transport) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	return t.framed.Exchange(ctx, command)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	device := t.device
	t.device = nil
	t.closing = true
	t.mu.Unlock()

	if device == nil {
		return nil
	}

	t.framed.Detach(nil)
	return device.Close()
}

func (t *Transport) DeviceInfo() hid.DeviceInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}
