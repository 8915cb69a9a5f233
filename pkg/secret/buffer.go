package secret

import (
	"fmt"
	"runtime"
	"sync"
)

const Redacted = "[REDACTED]"

// Buffer holds sensitive bytes. The memory is overwritten with zeros on Release,
// and every textual or JSON representation is redacted.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	released bool
}

// New copies b into a fresh Buffer and zeroes b.
func New(b []byte) *Buffer {
	data := make([]byte, len(b))
	copy(data, b)
	Zero(b)
	return wrap(data)
}

// Wrap takes ownership of b without copying it.
func Wrap(b []byte) *Buffer {
	return wrap(b)
}

func wrap(data []byte) *Buffer {
	buf := &Buffer{data: data}
	runtime.SetFinalizer(buf, (*Buffer).Release)
	return buf
}

// Use calls fn with the underlying bytes. fn must not retain the slice.
func (b *Buffer) Use(fn func([]byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return ErrReleased
	}
	return fn(b.data)
}

// Bytes returns a copy of the content. The caller owns the copy and should zero it.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *Buffer) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// Release zeroes the content. Safe to call more than once.
func (b *Buffer) Release() {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	Zero(b.data)
	b.data = nil
	b.released = true
	runtime.SetFinalizer(b, nil)
}

func (b *Buffer) String() string {
	return Redacted
}

func (b *Buffer) GoString() string {
	return Redacted
}

func (b *Buffer) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(Redacted))
}

func (b *Buffer) MarshalJSON() ([]byte, error) {
	return []byte(`"` + Redacted + `"`), nil
}

func (b *Buffer) MarshalText() ([]byte, error) {
	return []byte(Redacted), nil
}

func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
