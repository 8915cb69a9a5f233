package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/pkg/signerr"
)

type result struct {
	data []byte
	err  error
}

// Waiter is the pending response of one exchange. It resolves exactly once.
type Waiter struct {
	slot *Slot
	done atomic.Bool
	ch   chan result
}

func (w *Waiter) resolve(r result) bool {
	if !w.done.CompareAndSwap(false, true) {
		return false
	}
	w.ch <- r
	return true
}

// Wait blocks until the response arrives, timeout elapses or ctx is done.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-w.ch:
		return r.data, r.err
	case <-timer.C:
		if w.slot.abandon(w, true) {
			return nil, errors.Wrapf(signerr.ErrTimeout, "no response after %s", timeout)
		}
	case <-ctx.Done():
		if w.slot.abandon(w, true) {
			return nil, errors.Wrap(signerr.ErrCancelled, ctx.Err().Error())
		}
	}

	// the response won the race against the timer
	r := <-w.ch
	return r.data, r.err
}

// Slot holds the single pending response of a transport.
type Slot struct {
	mu      sync.Mutex
	current *Waiter
	stale   int
}

func NewSlot() *Slot {
	return &Slot{}
}

func (s *Slot) Arm() (*Waiter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return nil, errors.Wrap(signerr.ErrCommunication, "exchange already in flight")
	}

	w := &Waiter{slot: s, ch: make(chan result, 1)}
	s.current = w
	return w, nil
}

// Resolve delivers a complete response. It returns false when the response
// was discarded, either because nothing waits for it or because it belongs to an
// abandoned exchange.
func (s *Slot) Resolve(data []byte) bool {
	return s.deliver(result{data: data})
}

// Reject is Resolve for a failed device call; it also skips abandoned exchanges.
func (s *Slot) Reject(err error) bool {
	return s.deliver(result{err: err})
}

func (s *Slot) deliver(r result) bool {
	s.mu.Lock()
	if s.stale > 0 {
		s.stale--
		s.mu.Unlock()
		return false
	}
	w := s.current
	s.current = nil
	s.mu.Unlock()

	if w == nil {
		return false
	}
	return w.resolve(r)
}

// Fail resolves the pending exchange, if any, with err.
func (s *Slot) Fail(err error) bool {
	s.mu.Lock()
	w := s.current
	s.current = nil
	s.mu.Unlock()

	if w == nil {
		return false
	}
	return w.resolve(result{err: err})
}

// Cancel frees the slot after a failed send; no response is expected.
func (s *Slot) Cancel(w *Waiter) {
	s.abandon(w, false)
}

// Reset forgets abandoned exchanges, used once a fresh connection is opened.
func (s *Slot) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = 0
}

func (s *Slot) Stale() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

func (s *Slot) abandon(w *Waiter, expectLate bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !w.done.CompareAndSwap(false, true) {
		return false
	}
	if s.current == w {
		s.current = nil
		if expectLate {
			s.stale++
		}
	}
	return true
}
