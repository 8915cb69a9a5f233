package ble

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/transport/framing"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

// fakeLink echoes each command back with 0x9000 using its own frame size.
type fakeLink struct {
	frameSize int
	sizeErr   error
	silent    bool

	mu      sync.Mutex
	onFrame func([]byte)
	reasm   *framing.Reassembler
	writes  [][]byte
	closed  bool
}

func (l *fakeLink) Write(frame []byte) error {
	l.mu.Lock()
	l.writes = append(l.writes, frame)
	msg, done, err := l.reasm.Feed(frame)
	onFrame := l.onFrame
	size := l.frameSize
	l.mu.Unlock()

	if err != nil || !done || l.silent {
		return err
	}

	if size <= 0 {
		size = DefaultFrameSize
	}
	frames, err := framing.Codec{FrameSize: size}.Split(append(msg, 0x90, 0x00))
	if err != nil {
		return err
	}
	go func() {
		for _, f := range frames {
			onFrame(f)
		}
	}()
	return nil
}

func (l *fakeLink) Subscribe(onFrame func([]byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFrame = onFrame
	return nil
}

func (l *fakeLink) FrameSize() (int, error) {
	return l.frameSize, l.sizeErr
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

type fakeDialer struct {
	links   []*fakeLink
	err     error
	dials   int
	dropped []func(error)
}

func (d *fakeDialer) Dial(_ context.Context, _ Config, dropped func(error)) (Link, error) {
	if d.err != nil {
		return nil, d.err
	}
	link := d.links[d.dials]
	link.reasm = framing.NewReassembler(nil)
	d.dials++
	d.dropped = append(d.dropped, dropped)
	return link, nil
}

func newTestTransport(d Dialer) *Transport {
	cfg := DefaultConfig()
	cfg.Timeout = time.Second
	return New(cfg, WithLogger(zap.NewNop()), WithDialer(d))
}

func TestExchangeUsesNegotiatedFrameSize(t *testing.T) {
	link := &fakeLink{frameSize: 50}
	tr := newTestTransport(&fakeDialer{links: []*fakeLink{link}})

	require.NoError(t, tr.Open(context.Background()))
	assert.Equal(t, 50, tr.FrameSize())

	cmd := make([]byte, 120)
	for i := range cmd {
		cmd[i] = byte(i)
	}
	reply, err := tr.Exchange(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, append(cmd, 0x90, 0x00), reply)

	link.mu.Lock()
	defer link.mu.Unlock()
	for _, w := range link.writes {
		assert.LessOrEqual(t, len(w), 50)
	}
	assert.Len(t, link.writes, 3)
}

func TestFrameSizeRequeriedOnReopen(t *testing.T) {
	first := &fakeLink{frameSize: 100}
	second := &fakeLink{sizeErr: errors.New("no mtu")}
	tr := newTestTransport(&fakeDialer{links: []*fakeLink{first, second}})

	require.NoError(t, tr.Open(context.Background()))
	assert.Equal(t, 100, tr.FrameSize())
	require.NoError(t, tr.Close())
	assert.True(t, first.closed)

	require.NoError(t, tr.Open(context.Background()))
	assert.Equal(t, DefaultFrameSize, tr.FrameSize())

	reply, err := tr.Exchange(context.Background(), []byte{0xe0, 0x01, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xe0, 0x01, 0x00, 0x00, 0x00, 0x90, 0x00}, reply)
}

func TestOpenErrors(t *testing.T) {
	tr := newTestTransport(&fakeDialer{err: errors.Wrap(signerr.ErrDeviceNotFound, "scan")})
	assert.True(t, errors.Is(tr.Open(context.Background()), signerr.ErrDeviceNotFound))

	tr = newTestTransport(&fakeDialer{err: errors.New("bluez")})
	assert.True(t, errors.Is(tr.Open(context.Background()), signerr.ErrConnectionFailed))
}

func TestPeerDropFailsPendingExchange(t *testing.T) {
	first := &fakeLink{frameSize: 20, silent: true}
	second := &fakeLink{frameSize: 20}
	dialer := &fakeDialer{links: []*fakeLink{first, second}}
	tr := newTestTransport(dialer)
	require.NoError(t, tr.Open(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := tr.Exchange(context.Background(), []byte{0xe0, 0x01, 0x00, 0x00, 0x00})
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	dialer.dropped[0](errors.New("peer gone"))

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, signerr.ErrDeviceDisconnected), "got %v", err)
		assert.False(t, errors.Is(err, signerr.ErrTimeout))
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("exchange still pending after the peer dropped")
	}

	// the dead link is forgotten, the next Open dials again
	require.NoError(t, tr.Open(context.Background()))
	assert.Equal(t, 2, dialer.dials)
	reply, err := tr.Exchange(context.Background(), []byte{0xe0, 0x01, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xe0, 0x01, 0x00, 0x00, 0x00, 0x90, 0x00}, reply)

	// a late drop report for the first link leaves the second one alone
	dialer.dropped[0](errors.New("stale"))
	_, err = tr.Exchange(context.Background(), []byte{0xe0, 0x01})
	require.NoError(t, err)
}

func TestGATTDialerReportsDropOnce(t *testing.T) {
	d := &GATTDialer{logger: zap.NewNop(), watched: make(map[string]func(error))}

	var causes []error
	d.watch("AA:BB", func(cause error) { causes = append(causes, cause) })
	d.watch("CC:DD", func(error) { t.Error("other device reported") })

	d.connectionChanged("AA:BB", true)
	assert.Empty(t, causes)

	d.connectionChanged("AA:BB", false)
	d.connectionChanged("AA:BB", false)
	require.Len(t, causes, 1)
	assert.Contains(t, causes[0].Error(), "AA:BB")

	d.unwatch("CC:DD")
	d.connectionChanged("CC:DD", false)
}
