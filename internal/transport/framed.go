package transport

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/metrics"
	"github.com/status-im/status-signer-go/internal/transport/framing"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

// FrameWriter sends one frame to the device.
type FrameWriter func(frame []byte) error

// Framed runs the request/response cycle shared by frame-based transports:
// split the command, write the frames, and wait for the reassembled reply that
// the device reader hands back through Deliver.
type Framed struct {
	name    string
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	commsLock chan struct{} // one exchange at a time, also serves as a context-aware mutex
	slot      *Slot

	stateLock sync.Mutex // guards codec and reassembler
	codec     framing.Codec
	reasm     *framing.Reassembler
	write     FrameWriter
}

func NewFramed(name string, codec framing.Codec, logger *zap.Logger, m *metrics.Metrics, timeout time.Duration) *Framed {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.L()
	}

	f := &Framed{
		name:      name,
		logger:    logger.Named(name),
		metrics:   m,
		timeout:   timeout,
		commsLock: make(chan struct{}, 1),
		slot:      NewSlot(),
		codec:     codec,
		reasm:     framing.NewReassembler(codec.Header),
	}
	f.commsLock <- struct{}{}
	return f
}

// Attach sets the frame writer of a freshly opened device and clears state left
// by a previous connection.
func (f *Framed) Attach(write FrameWriter) {
	f.stateLock.Lock()
	f.write = write
	f.reasm.Reset()
	f.stateLock.Unlock()
	f.slot.Reset()
}

// Detach fails the outstanding exchange, if any, with ErrDeviceDisconnected.
func (f *Framed) Detach(cause error) {
	f.stateLock.Lock()
	f.write = nil
	f.reasm.Reset()
	f.stateLock.Unlock()

	err := errors.WithStack(signerr.ErrDeviceDisconnected)
	if cause != nil {
		err = errors.Wrap(signerr.ErrDeviceDisconnected, cause.Error())
	}
	if f.slot.Fail(err) {
		f.logger.Debug("pending exchange failed on disconnect", zap.Error(cause))
	}
}

func (f *Framed) SetFrameSize(size int) error {
	f.stateLock.Lock()
	defer f.stateLock.Unlock()

	codec := f.codec
	codec.FrameSize = size
	if err := codec.Validate(); err != nil {
		return err
	}
	f.codec = codec
	return nil
}

func (f *Framed) FrameSize() int {
	f.stateLock.Lock()
	defer f.stateLock.Unlock()
	return f.codec.FrameSize
}

func (f *Framed) Timeout() time.Duration {
	return f.timeout
}

func (f *Framed) Slot() *Slot {
	return f.slot
}

// Deliver feeds one frame read from the device.
func (f *Framed) Deliver(frame []byte) {
	f.stateLock.Lock()
	msg, done, err := f.reasm.Feed(frame)
	f.stateLock.Unlock()

	if err != nil {
		f.logger.Debug("dropping frame", zap.Error(err))
		return
	}
	if !done {
		return
	}

	if !f.slot.Resolve(msg) {
		f.logger.Debug("discarding response without a waiting exchange", zap.Int("length", len(msg)))
		f.metrics.RecordLateResponse(f.name)
	}
}

func (f *Framed) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	select {
	case <-f.commsLock:
	case <-ctx.Done():
		return nil, errors.Wrap(signerr.ErrCancelled, ctx.Err().Error())
	}
	defer func() { f.commsLock <- struct{}{} }()

	f.stateLock.Lock()
	write := f.write
	codec := f.codec
	f.stateLock.Unlock()

	if write == nil {
		return nil, errors.Wrap(signerr.ErrDeviceDisconnected, "transport is not open")
	}

	frames, err := codec.Split(command)
	if err != nil {
		return nil, err
	}

	waiter, err := f.slot.Arm()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	for _, frame := range frames {
		if err := write(frame); err != nil {
			f.slot.Cancel(waiter)
			return nil, errors.Wrap(signerr.ErrCommunication, err.Error())
		}
	}

	reply, err := waiter.Wait(ctx, f.timeout)
	f.record(command, reply, err, time.Since(start))
	return reply, err
}

func (f *Framed) record(command, reply []byte, err error, elapsed time.Duration) {
	var ins byte
	if len(command) > 1 {
		ins = command[1]
	}
	var sw uint16
	if len(reply) >= 2 {
		sw = uint16(reply[len(reply)-2])<<8 | uint16(reply[len(reply)-1])
	}

	if errors.Is(err, signerr.ErrTimeout) {
		f.metrics.RecordTimeout(f.name)
	}
	f.metrics.RecordExchange(f.name, ins, sw, err, elapsed.Seconds())
	f.logger.Debug("exchange",
		zap.Uint8("ins", ins),
		zap.Uint16("sw", sw),
		zap.Duration("elapsed", elapsed),
		zap.Error(err))
}
