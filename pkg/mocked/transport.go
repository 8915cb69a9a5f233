package mocked

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/karalabe/hid"
	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/internal/transport"
	"github.com/status-im/status-signer-go/internal/transport/framing"
	"github.com/status-im/status-signer-go/internal/transport/usbhid"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

// Transport hands raw APDUs straight to a simulated Device.
type Transport struct {
	device  *Device
	timeout time.Duration

	commsLock chan struct{}
	slot      *transport.Slot

	mu      sync.Mutex
	open    bool
	plugged bool
}

type TransportOption func(*Transport)

func WithTimeout(timeout time.Duration) TransportOption {
	return func(t *Transport) {
		t.timeout = timeout
	}
}

func NewTransport(device *Device, opts ...TransportOption) *Transport {
	t := &Transport{
		device:    device,
		timeout:   transport.DefaultTimeout,
		commsLock: make(chan struct{}, 1),
		slot:      transport.NewSlot(),
		plugged:   true,
	}
	t.commsLock <- struct{}{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Name() string {
	return "mock"
}

func (t *Transport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(signerr.ErrCancelled, err.Error())
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.plugged {
		return errors.Wrap(signerr.ErrDeviceNotFound, "simulated device unplugged")
	}
	t.open = true
	t.slot.Reset()
	return nil
}

func (t *Transport) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	select {
	case <-t.commsLock:
	case <-ctx.Done():
		return nil, errors.Wrap(signerr.ErrCancelled, ctx.Err().Error())
	}
	defer func() { t.commsLock <- struct{}{} }()

	t.mu.Lock()
	open := t.open
	t.mu.Unlock()
	if !open {
		return nil, errors.Wrap(signerr.ErrDeviceDisconnected, "transport is not open")
	}

	waiter, err := t.slot.Arm()
	if err != nil {
		return nil, err
	}

	cmd := append([]byte(nil), command...)
	answered := make(chan bool, 1)
	go func() {
		reply, ok := t.device.Handle(cmd)
		if ok {
			t.slot.Resolve(reply)
		}
		answered <- ok
	}()

	reply, err := waiter.Wait(ctx, t.timeout)
	if err != nil {
		select {
		case ok := <-answered:
			if !ok {
				// a swallowed command never produces a late reply
				t.slot.Reset()
			}
		default:
		}
	}
	return reply, err
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.open = false
	t.mu.Unlock()
	t.slot.Fail(errors.WithStack(signerr.ErrDeviceDisconnected))
	return nil
}

// Unplug simulates pulling the cable: the pending exchange fails and Open finds nothing.
func (t *Transport) Unplug() {
	t.mu.Lock()
	t.plugged = false
	t.open = false
	t.mu.Unlock()
	t.slot.Fail(errors.Wrap(signerr.ErrDeviceDisconnected, "unplugged"))
}

func (t *Transport) Plug() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.plugged = true
}

// HIDInfo describes the simulated device on the USB bus.
var HIDInfo = hid.DeviceInfo{
	Path:      "mocked",
	VendorID:  usbhid.LedgerVendorID,
	ProductID: 0x4011,
	Product:   "Nano X (simulated)",
	UsagePage: usbhid.LedgerUsagePage,
}

// HIDBackend plugs the device into a usbhid.Transport, so commands travel
// through real 64 byte HID framing.
func (d *Device) HIDBackend() usbhid.Option {
	return usbhid.WithBackend(
		func(vendorID, _ uint16) ([]hid.DeviceInfo, error) {
			if vendorID != HIDInfo.VendorID {
				return nil, nil
			}
			return []hid.DeviceInfo{HIDInfo}, nil
		},
		func(hid.DeviceInfo) (usbhid.Device, error) {
			return newHIDDevice(d), nil
		},
	)
}

type hidDevice struct {
	device *Device
	codec  framing.Codec
	reasm  *framing.Reassembler

	frames    chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newHIDDevice(d *Device) *hidDevice {
	codec := usbhid.FrameCodec()
	return &hidDevice{
		device: d,
		codec:  codec,
		reasm:  framing.NewReassembler(codec.Header),
		frames: make(chan []byte, 1024),
		closed: make(chan struct{}),
	}
}

func (h *hidDevice) Write(b []byte) (int, error) {
	select {
	case <-h.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	msg, done, err := h.reasm.Feed(b)
	if err != nil {
		return 0, err
	}
	if !done {
		return len(b), nil
	}

	reply, ok := h.device.Handle(msg)
	if !ok {
		return len(b), nil
	}
	frames, err := h.codec.Split(reply)
	if err != nil {
		return 0, err
	}
	for _, f := range frames {
		h.frames <- f
	}
	return len(b), nil
}

func (h *hidDevice) Read(b []byte) (int, error) {
	select {
	case f := <-h.frames:
		return copy(b, f), nil
	case <-h.closed:
		return 0, io.EOF
	}
}

func (h *hidDevice) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	return nil
}
