package ble

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/status-im/status-signer-go/pkg/signerr"
)

// ATT header overhead subtracted from the MTU to get the write payload size.
const attOverhead = 3

// settle is how long scanning continues after the first match to detect a second device.
const settle = 500 * time.Millisecond

type mtuGetter interface {
	GetMTU() (uint16, error)
}

// GATTDialer connects through the host Bluetooth adapter.
type GATTDialer struct {
	adapter *bluetooth.Adapter
	logger  *zap.Logger

	handlerOnce sync.Once
	watchLock   sync.Mutex
	watched     map[string]func(error) // by device address
}

func NewGATTDialer(logger *zap.Logger) *GATTDialer {
	return &GATTDialer{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger,
		watched: make(map[string]func(error)),
	}
}

func (d *GATTDialer) Dial(ctx context.Context, cfg Config, dropped func(cause error)) (Link, error) {
	serviceUUID, err := bluetooth.ParseUUID(cfg.ServiceUUID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid service uuid")
	}
	writeUUID, err := bluetooth.ParseUUID(cfg.WriteUUID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid write uuid")
	}
	notifyUUID, err := bluetooth.ParseUUID(cfg.NotifyUUID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid notify uuid")
	}

	if err := d.adapter.Enable(); err != nil {
		return nil, errors.Wrap(err, "failed to enable adapter")
	}
	// the adapter keeps a single handler, shared by every link of this dialer
	d.handlerOnce.Do(func() {
		d.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			d.connectionChanged(device.Address.String(), connected)
		})
	})

	address, err := d.scan(ctx, serviceUUID, cfg.ScanTimeout)
	if err != nil {
		return nil, err
	}

	device, err := d.adapter.Connect(address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect")
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		_ = device.Disconnect()
		return nil, errors.Errorf("service %s not found: %v", cfg.ServiceUUID, err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{writeUUID, notifyUUID})
	if err != nil {
		_ = device.Disconnect()
		return nil, errors.Wrap(err, "failed to discover characteristics")
	}

	key := address.String()
	link := &gattLink{disconnect: func() error {
		d.unwatch(key)
		return device.Disconnect()
	}}
	for i := range chars {
		switch chars[i].UUID() {
		case writeUUID:
			link.write = chars[i]
			link.hasWrite = true
		case notifyUUID:
			link.notify = chars[i]
			link.hasNotify = true
		}
	}
	if !link.hasWrite || !link.hasNotify {
		_ = device.Disconnect()
		return nil, errors.New("device does not expose the expected characteristics")
	}

	d.watch(key, dropped)
	d.logger.Debug("gatt link ready", zap.String("address", key))
	return link, nil
}

func (d *GATTDialer) watch(address string, dropped func(error)) {
	if dropped == nil {
		return
	}
	d.watchLock.Lock()
	d.watched[address] = dropped
	d.watchLock.Unlock()
}

func (d *GATTDialer) unwatch(address string) {
	d.watchLock.Lock()
	delete(d.watched, address)
	d.watchLock.Unlock()
}

// connectionChanged reports a lost connection to the link dialed for address, once.
func (d *GATTDialer) connectionChanged(address string, connected bool) {
	if connected {
		return
	}
	d.watchLock.Lock()
	dropped := d.watched[address]
	delete(d.watched, address)
	d.watchLock.Unlock()

	if dropped == nil {
		return
	}
	d.logger.Info("peripheral disconnected", zap.String("address", address))
	dropped(errors.Errorf("peripheral %s disconnected", address))
}

func (d *GATTDialer) scan(ctx context.Context, service bluetooth.UUID, timeout time.Duration) (bluetooth.Address, error) {
	var (
		mu    sync.Mutex
		seen  = map[string]bluetooth.Address{}
		first = make(chan struct{})
		once  sync.Once
	)

	scanErr := make(chan error, 1)
	go func() {
		scanErr <- d.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !result.HasServiceUUID(service) {
				return
			}
			mu.Lock()
			seen[result.Address.String()] = result.Address
			mu.Unlock()
			once.Do(func() { close(first) })
		})
	}()

	stop := func() {
		_ = d.adapter.StopScan()
		<-scanErr
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-first:
		select {
		case <-time.After(settle):
		case <-ctx.Done():
			stop()
			return bluetooth.Address{}, errors.Wrap(signerr.ErrCancelled, ctx.Err().Error())
		}
	case <-timer.C:
		stop()
		return bluetooth.Address{}, errors.Wrap(signerr.ErrDeviceNotFound, "no device advertising the service")
	case <-ctx.Done():
		stop()
		return bluetooth.Address{}, errors.Wrap(signerr.ErrCancelled, ctx.Err().Error())
	case err := <-scanErr:
		return bluetooth.Address{}, errors.Wrap(err, "scan failed")
	}
	stop()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		return bluetooth.Address{}, errors.Wrapf(signerr.ErrConnectionFailed, "%d devices advertising, keep only one nearby", len(seen))
	}
	for _, addr := range seen {
		return addr, nil
	}
	return bluetooth.Address{}, signerr.ErrDeviceNotFound
}

type gattLink struct {
	write      bluetooth.DeviceCharacteristic
	notify     bluetooth.DeviceCharacteristic
	hasWrite   bool
	hasNotify  bool
	disconnect func() error
}

func (l *gattLink) Write(frame []byte) error {
	_, err := l.write.WriteWithoutResponse(frame)
	return err
}

func (l *gattLink) Subscribe(onFrame func(frame []byte)) error {
	return l.notify.EnableNotifications(func(buf []byte) {
		frame := make([]byte, len(buf))
		copy(frame, buf)
		onFrame(frame)
	})
}

func (l *gattLink) FrameSize() (int, error) {
	getter, ok := interface{}(l.write).(mtuGetter)
	if !ok {
		return 0, errors.New("mtu not available on this platform")
	}
	mtu, err := getter.GetMTU()
	if err != nil {
		return 0, err
	}
	return int(mtu) - attOverhead, nil
}

func (l *gattLink) Close() error {
	return l.disconnect()
}
