package apps

import (
	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/pkg/signerr"
)

// reader walks a response, checking every declared length against what is left.
type reader struct {
	buf []byte
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) remaining() int {
	return len(r.buf)
}

func (r *reader) byte() (byte, error) {
	if len(r.buf) < 1 {
		return 0, errors.Wrap(signerr.ErrMalformedResponse, "response truncated")
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b, nil
}

func (r *reader) fixed(n int) ([]byte, error) {
	if n < 0 || len(r.buf) < n {
		return nil, errors.Wrapf(signerr.ErrMalformedResponse, "need %d bytes, %d left", n, len(r.buf))
	}
	out := make([]byte, n)
	copy(out, r.buf[:n])
	r.buf = r.buf[n:]
	return out, nil
}

func (r *reader) lengthPrefixed() ([]byte, error) {
	n, err := r.byte()
	if err != nil {
		return nil, err
	}
	return r.fixed(int(n))
}

func (r *reader) rest() []byte {
	out := r.buf
	r.buf = nil
	return out
}
