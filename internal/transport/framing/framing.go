package framing

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/pkg/signerr"
)

const (
	seqLength    = 2
	lengthLength = 2
)

// Codec splits messages into frames of Header || seq(2) [|| total length(2) on the first frame] || payload.
// Frame sizes are fixed for packet devices (zero padded) and negotiated for stream devices.
type Codec struct {
	Header    []byte
	FrameSize int
	Pad       bool
}

func (c Codec) firstPayload() int {
	return c.FrameSize - len(c.Header) - seqLength - lengthLength
}

func (c Codec) nextPayload() int {
	return c.FrameSize - len(c.Header) - seqLength
}

func (c Codec) Validate() error {
	if c.firstPayload() < 1 {
		return errors.Errorf("frame size %d too small for a %d byte header", c.FrameSize, len(c.Header))
	}
	return nil
}

// Split frames msg. A zero-length message still produces one frame carrying the length.
func (c Codec) Split(msg []byte) ([][]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if len(msg) > 0xffff {
		return nil, errors.Wrapf(signerr.ErrPayloadTooLarge, "message of %d bytes", len(msg))
	}

	var frames [][]byte
	remaining := msg
	for seq := 0; seq == 0 || len(remaining) > 0; seq++ {
		frame := make([]byte, 0, c.FrameSize)
		frame = append(frame, c.Header...)
		frame = binary.BigEndian.AppendUint16(frame, uint16(seq))

		room := c.nextPayload()
		if seq == 0 {
			frame = binary.BigEndian.AppendUint16(frame, uint16(len(msg)))
			room = c.firstPayload()
		}

		n := room
		if n > len(remaining) {
			n = len(remaining)
		}
		frame = append(frame, remaining[:n]...)
		remaining = remaining[n:]

		if c.Pad {
			frame = frame[:c.FrameSize]
		}
		frames = append(frames, frame)
	}

	return frames, nil
}

// Reassembler accumulates frames of one message. It is not safe for concurrent use.
type Reassembler struct {
	header  []byte
	buf     []byte
	total   int
	nextSeq uint16
	started bool
}

func NewReassembler(header []byte) *Reassembler {
	return &Reassembler{header: header}
}

func (r *Reassembler) Reset() {
	r.buf = nil
	r.total = 0
	r.nextSeq = 0
	r.started = false
}

// Feed consumes one frame. Frames with a foreign header are ignored.
// It returns the message once the declared length has been collected.
func (r *Reassembler) Feed(frame []byte) ([]byte, bool, error) {
	if len(frame) < len(r.header)+seqLength || !bytes.Equal(frame[:len(r.header)], r.header) {
		return nil, false, nil
	}

	body := frame[len(r.header):]
	seq := binary.BigEndian.Uint16(body)
	body = body[seqLength:]

	// a first frame always starts a new message, whatever was in progress
	if seq == 0 && r.started {
		r.Reset()
	}

	if seq != r.nextSeq {
		expected := r.nextSeq
		r.Reset()
		return nil, false, errors.Wrapf(signerr.ErrCommunication, "unexpected frame sequence %d, want %d", seq, expected)
	}

	if seq == 0 {
		if len(body) < lengthLength {
			r.Reset()
			return nil, false, errors.Wrap(signerr.ErrMalformedResponse, "first frame without length")
		}
		r.total = int(binary.BigEndian.Uint16(body))
		r.buf = make([]byte, 0, r.total)
		r.started = true
		body = body[lengthLength:]
	}

	need := r.total - len(r.buf)
	if need > len(body) {
		need = len(body)
	}
	r.buf = append(r.buf, body[:need]...)
	r.nextSeq++

	if len(r.buf) < r.total {
		return nil, false, nil
	}

	msg := r.buf
	r.Reset()
	return msg, true, nil
}

func (r *Reassembler) InProgress() bool {
	return r.started
}
