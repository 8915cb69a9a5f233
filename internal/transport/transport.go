package transport

import (
	"context"
	"time"
)

// DefaultTimeout bounds the wait for a device response, user confirmation included.
const DefaultTimeout = 30 * time.Second

// Transport carries APDUs to one device. At most one Exchange is in flight at a time;
// concurrent callers queue.
type Transport interface {
	Open(ctx context.Context) error
	Exchange(ctx context.Context, command []byte) ([]byte, error)
	Close() error
}

// Named transports report a short label used in logs and metrics.
type Named interface {
	Name() string
}

func NameOf(t Transport) string {
	if n, ok := t.(Named); ok {
		return n.Name()
	}
	return "unknown"
}
