package usbhid

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/karalabe/hid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/transport/framing"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

// fakeDevice answers every command with a fixed reply, framed like a Ledger.
type fakeDevice struct {
	reply  []byte
	reasm  *framing.Reassembler
	frames chan []byte

	mu      sync.Mutex
	writes  [][]byte
	closed  bool
	closeCh chan struct{}
}

func newFakeDevice(reply []byte) *fakeDevice {
	return &fakeDevice{
		reply:   reply,
		reasm:   framing.NewReassembler(channelTag),
		frames:  make(chan []byte, 64),
		closeCh: make(chan struct{}),
	}
}

func (d *fakeDevice) Write(b []byte) (int, error) {
	d.mu.Lock()
	d.writes = append(d.writes, append([]byte(nil), b...))
	d.mu.Unlock()

	_, done, err := d.reasm.Feed(b)
	if err != nil {
		return 0, err
	}
	if done && d.reply != nil {
		codec := framing.Codec{Header: channelTag, FrameSize: PacketSize, Pad: true}
		frames, err := codec.Split(d.reply)
		if err != nil {
			return 0, err
		}
		for _, f := range frames {
			d.frames <- f
		}
	}
	return len(b), nil
}

func (d *fakeDevice) Read(b []byte) (int, error) {
	select {
	case f := <-d.frames:
		return copy(b, f), nil
	case <-d.closeCh:
		return 0, io.EOF
	}
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.closeCh)
	}
	return nil
}

func ledgerInfo(productID uint16) hid.DeviceInfo {
	return hid.DeviceInfo{
		Path:      "test",
		VendorID:  LedgerVendorID,
		ProductID: productID,
		UsagePage: LedgerUsagePage,
		Product:   "Nano X",
	}
}

func newTestTransport(infos []hid.DeviceInfo, device Device, timeout time.Duration) *Transport {
	cfg := DefaultConfig()
	cfg.Timeout = timeout
	tr := New(cfg, WithLogger(zap.NewNop()))
	tr.enumerate = func(uint16, uint16) ([]hid.DeviceInfo, error) {
		return infos, nil
	}
	tr.open = func(hid.DeviceInfo) (Device, error) {
		return device, nil
	}
	return tr
}

func TestExchangeOverHID(t *testing.T) {
	reply := append(make([]byte, 100), 0x90, 0x00)
	dev := newFakeDevice(reply)
	tr := newTestTransport([]hid.DeviceInfo{ledgerInfo(0x4011)}, dev, time.Second)

	require.NoError(t, tr.Open(context.Background()))
	defer tr.Close()

	got, err := tr.Exchange(context.Background(), []byte{0xb0, 0x01, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, reply, got)

	dev.mu.Lock()
	defer dev.mu.Unlock()
	require.Len(t, dev.writes, 1)
	assert.Len(t, dev.writes[0], PacketSize)
	assert.Equal(t, []byte{0x01, 0x01, 0x05, 0x00, 0x00, 0x00, 0x05}, dev.writes[0][:7])
}

func TestOpenRequiresExactlyOneDevice(t *testing.T) {
	other := ledgerInfo(0x4011)
	other.VendorID = 0x1234

	tr := newTestTransport([]hid.DeviceInfo{other}, nil, time.Second)
	err := tr.Open(context.Background())
	assert.True(t, errors.Is(err, signerr.ErrDeviceNotFound))

	tr = newTestTransport([]hid.DeviceInfo{ledgerInfo(0x4011), ledgerInfo(0x5011)}, nil, time.Second)
	err = tr.Open(context.Background())
	assert.True(t, errors.Is(err, signerr.ErrConnectionFailed))
}

func TestMatchesByInterfaceOnLinux(t *testing.T) {
	tr := New(DefaultConfig(), WithLogger(zap.NewNop()))

	info := ledgerInfo(0x1015)
	info.UsagePage = 0
	info.Interface = 0
	assert.True(t, tr.matches(info))

	info.Interface = 1
	assert.False(t, tr.matches(info))

	info = ledgerInfo(0x9999)
	assert.False(t, tr.matches(info))
}

func TestTimeoutWhenDeviceNeverResponds(t *testing.T) {
	dev := newFakeDevice(nil)
	tr := newTestTransport([]hid.DeviceInfo{ledgerInfo(0x4011)}, dev, 50*time.Millisecond)
	require.NoError(t, tr.Open(context.Background()))
	defer tr.Close()

	start := time.Now()
	_, err := tr.Exchange(context.Background(), []byte{0xe0, 0x04, 0x00, 0x00, 0x00})
	assert.True(t, errors.Is(err, signerr.ErrTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestUnplugFailsExchange(t *testing.T) {
	dev := newFakeDevice(nil)
	tr := newTestTransport([]hid.DeviceInfo{ledgerInfo(0x4011)}, dev, 5*time.Second)
	require.NoError(t, tr.Open(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := tr.Exchange(context.Background(), []byte{0xe0, 0x04, 0x00, 0x00, 0x00})
		done <- err
	}()

	require.Eventually(t, func() bool {
		dev.mu.Lock()
		defer dev.mu.Unlock()
		return len(dev.writes) == 1
	}, time.Second, time.Millisecond)
	_ = dev.Close()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, signerr.ErrDeviceDisconnected))
	case <-time.After(time.Second):
		t.Fatal("exchange not failed after unplug")
	}

	_, err := tr.Exchange(context.Background(), []byte{0xe0, 0x04, 0x00, 0x00, 0x00})
	assert.True(t, errors.Is(err, signerr.ErrDeviceDisconnected))
}
