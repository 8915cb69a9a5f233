package pcsc

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/ebfe/scard"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/metrics"
	"github.com/status-im/status-signer-go/internal/transport"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

const zeroTimeout = 0

type card interface {
	Transmit(cmd []byte) ([]byte, error)
	Disconnect(d scard.Disposition) error
}

type cardContext interface {
	ListReaders() ([]string, error)
	GetStatusChange(rs []scard.ReaderState, timeout time.Duration) error
	Connect(reader string) (card, error)
	Release() error
}

type scardContext struct {
	*scard.Context
}

func (c scardContext) Connect(reader string) (card, error) {
	return c.Context.Connect(reader, scard.ShareShared, scard.ProtocolAny)
}

func establish() (cardContext, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, err
	}
	return scardContext{ctx}, nil
}

func IsSCardError(err error) bool {
	_, ok := err.(scard.Error)
	return ok
}

type transmitRequest struct {
	apdu []byte
}

// Transport exchanges raw APDUs with a card in a PC/SC reader.
// All card calls run on a single locked OS thread.
type Transport struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	establish func() (cardContext, error)

	commsLock chan struct{}
	slot      *transport.Slot

	mu       sync.Mutex
	cardCtx  cardContext
	card     card
	reader   string
	commands chan transmitRequest
	quit     chan struct{}
	stopped  chan struct{}
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

func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.timeout = timeout
	}
}

func New(opts ...Option) *Transport {
	t := &Transport{
		logger:    zap.L().Named("transport"),
		timeout:   transport.DefaultTimeout,
		establish: establish,
		commsLock: make(chan struct{}, 1),
		slot:      transport.NewSlot(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named(t.Name())
	t.commsLock <- struct{}{}
	return t
}

func (t *Transport) Name() string {
	return "pcsc"
}

func (t *Transport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(signerr.ErrCancelled, err.Error())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.card != nil {
		return nil
	}

	cardCtx, err := t.establish()
	if err != nil {
		return errors.Wrap(signerr.ErrConnectionFailed, "PC/SC not available: "+err.Error())
	}

	reader, err := t.findReader(cardCtx)
	if err != nil {
		_ = cardCtx.Release()
		return err
	}

	c, err := cardCtx.Connect(reader)
	if err != nil {
		_ = cardCtx.Release()
		return errors.Wrapf(signerr.ErrConnectionFailed, "failed to connect to card in %q: %v", reader, err)
	}

	t.logger.Info("card connected", zap.String("reader", reader))

	t.cardCtx = cardCtx
	t.card = c
	t.reader = reader
	t.commands = make(chan transmitRequest)
	t.quit = make(chan struct{})
	t.stopped = make(chan struct{})
	t.slot.Reset()

	go t.cardCommunicationRoutine(c, t.commands, t.quit, t.stopped)
	return nil
}

// findReader requires exactly one reader holding a card.
func (t *Transport) findReader(cardCtx cardContext) (string, error) {
	readers, err := cardCtx.ListReaders()
	if err != nil || len(readers) == 0 {
		return "", errors.Wrap(signerr.ErrDeviceNotFound, "no smart card reader")
	}

	rs := NewReadersStates(readers)
	err = cardCtx.GetStatusChange(rs, zeroTimeout)
	if err != nil {
		return "", errors.Wrap(signerr.ErrConnectionFailed, err.Error())
	}
	rs.Update()

	withCard := rs.WithCard()
	switch len(withCard) {
	case 0:
		return "", errors.Wrap(signerr.ErrDeviceNotFound, "no card inserted")
	case 1:
		return withCard[0], nil
	default:
		return "", errors.Wrapf(signerr.ErrConnectionFailed, "cards found in %d readers, keep only one", len(withCard))
	}
}

func (t *Transport) cardCommunicationRoutine(c card, commands <-chan transmitRequest, quit <-chan struct{}, stopped chan<- struct{}) {
	// Communication with the card must be done in a fixed thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(stopped)

	for {
		var cmd transmitRequest
		select {
		case <-quit:
			return
		case cmd = <-commands:
		}

		rpdu, err := c.Transmit(cmd.apdu)
		if err != nil {
			if IsSCardError(err) {
				t.logger.Error("transmit failed", zap.Error(err))
			}
			t.slot.Reject(errors.Wrap(signerr.ErrCommunication, err.Error()))
			continue
		}
		if !t.slot.Resolve(rpdu) {
			t.metrics.RecordLateResponse(t.Name())
		}
	}
}

func (t *Transport) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	select {
	case <-t.commsLock:
	case <-ctx.Done():
		return nil, errors.Wrap(signerr.ErrCancelled, ctx.Err().Error())
	}
	defer func() { t.commsLock <- struct{}{} }()

	t.mu.Lock()
	commands := t.commands
	stopped := t.stopped
	t.mu.Unlock()

	if commands == nil {
		return nil, errors.Wrap(signerr.ErrDeviceDisconnected, "transport is not open")
	}

	waiter, err := t.slot.Arm()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case commands <- transmitRequest{apdu: command}:
	case <-stopped:
		t.slot.Cancel(waiter)
		return nil, errors.Wrap(signerr.ErrDeviceDisconnected, "card closed")
	case <-timer.C:
		// the card thread is still busy with an abandoned command
		t.slot.Cancel(waiter)
		t.metrics.RecordTimeout(t.Name())
		return nil, errors.Wrap(signerr.ErrTimeout, "card busy")
	case <-ctx.Done():
		t.slot.Cancel(waiter)
		return nil, errors.Wrap(signerr.ErrCancelled, ctx.Err().Error())
	}

	reply, err := waiter.Wait(ctx, t.timeout-time.Since(start))
	if errors.Is(err, signerr.ErrTimeout) {
		t.metrics.RecordTimeout(t.Name())
	}

	var ins byte
	if len(command) > 1 {
		ins = command[1]
	}
	var sw uint16
	if len(reply) >= 2 {
		sw = uint16(reply[len(reply)-2])<<8 | uint16(reply[len(reply)-1])
	}
	t.metrics.RecordExchange(t.Name(), ins, sw, err, time.Since(start).Seconds())
	return reply, err
}

func (t *Transport) Close() error {
	t.mu.Lock()
	c := t.card
	cardCtx := t.cardCtx
	quit := t.quit
	t.card = nil
	t.cardCtx = nil
	t.commands = nil
	t.mu.Unlock()

	if c == nil {
		return nil
	}

	t.slot.Fail(errors.WithStack(signerr.ErrDeviceDisconnected))
	close(quit)

	err := c.Disconnect(scard.LeaveCard)
	if releaseErr := cardCtx.Release(); err == nil {
		err = releaseErr
	}
	return err
}

func (t *Transport) Reader() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reader
}
