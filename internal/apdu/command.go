package apdu

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/pkg/signerr"
)

const (
	MaxShortLength    = 0xff
	MaxExtendedLength = 0xffff

	headerLength = 4
)

var ErrBadRawCommand = errors.New("command must be at least 4 bytes")

// Command is a single device instruction.
// Lc is always written, 0 when there is no payload.
type Command struct {
	Cla  uint8
	Ins  uint8
	P1   uint8
	P2   uint8
	Data []byte

	le    int
	hasLe bool
}

func NewCommand(cla, ins, p1, p2 uint8, data []byte) *Command {
	return &Command{
		Cla:  cla,
		Ins:  ins,
		P1:   p1,
		P2:   p2,
		Data: data,
	}
}

// SetLe sets the expected response length, 1..65536.
func (c *Command) SetLe(le int) *Command {
	c.le = le
	c.hasLe = true
	return c
}

func (c *Command) Le() (bool, int) {
	return c.hasLe, c.le
}

func (c *Command) extended() bool {
	return len(c.Data) > MaxShortLength || (c.hasLe && c.le > MaxShortLength+1)
}

func (c *Command) MarshalBinary() ([]byte, error) {
	if len(c.Data) > MaxExtendedLength {
		return nil, errors.Wrapf(signerr.ErrPayloadTooLarge, "payload of %d bytes exceeds %d", len(c.Data), MaxExtendedLength)
	}
	if c.hasLe && (c.le < 1 || c.le > MaxExtendedLength+1) {
		return nil, errors.Wrapf(signerr.ErrPayloadTooLarge, "expected length %d out of range", c.le)
	}

	ext := c.extended()

	size := headerLength + 1 + len(c.Data)
	if ext {
		size += 2
	}
	if c.hasLe {
		size++
		if ext {
			size++
		}
	}

	buf := make([]byte, 0, size)
	buf = append(buf, c.Cla, c.Ins, c.P1, c.P2)

	if ext {
		buf = append(buf, 0x00)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Data)))
	} else {
		buf = append(buf, uint8(len(c.Data)))
	}
	buf = append(buf, c.Data...)

	if c.hasLe {
		// the maximum length is encoded as zero
		if ext {
			buf = binary.BigEndian.AppendUint16(buf, uint16(c.le))
		} else {
			buf = append(buf, uint8(c.le))
		}
	}

	return buf, nil
}

// Build serializes a command. le is optional and at most one value is used.
func Build(cla, ins, p1, p2 uint8, data []byte, le ...int) ([]byte, error) {
	cmd := NewCommand(cla, ins, p1, p2, data)
	if len(le) > 0 {
		cmd.SetLe(le[0])
	}
	return cmd.MarshalBinary()
}

// ParseCommand decodes a serialized command, as a device would.
func ParseCommand(raw []byte) (*Command, error) {
	if len(raw) < headerLength {
		return nil, ErrBadRawCommand
	}

	cmd := NewCommand(raw[0], raw[1], raw[2], raw[3], nil)
	body := raw[headerLength:]
	if len(body) == 0 {
		return cmd, nil
	}

	if body[0] == 0x00 && len(body) >= 3 {
		lc := int(binary.BigEndian.Uint16(body[1:3]))
		rest := body[3:]
		if (lc > 0 && len(rest) >= lc) || (lc == 0 && len(rest) == 2) {
			cmd.Data = append([]byte(nil), rest[:lc]...)
			return cmd, parseLe(cmd, rest[lc:], true)
		}
	}

	lc := int(body[0])
	rest := body[1:]
	if len(rest) < lc {
		return nil, errors.Wrapf(signerr.ErrWrongLength, "declared %d data bytes, got %d", lc, len(rest))
	}
	if lc > 0 {
		cmd.Data = append([]byte(nil), rest[:lc]...)
	}
	return cmd, parseLe(cmd, rest[lc:], false)
}

func parseLe(cmd *Command, rest []byte, ext bool) error {
	switch {
	case len(rest) == 0:
		return nil
	case !ext && len(rest) == 1:
		le := int(rest[0])
		if le == 0 {
			le = MaxShortLength + 1
		}
		cmd.SetLe(le)
		return nil
	case ext && len(rest) == 2:
		le := int(binary.BigEndian.Uint16(rest))
		if le == 0 {
			le = MaxExtendedLength + 1
		}
		cmd.SetLe(le)
		return nil
	default:
		return errors.Wrapf(signerr.ErrWrongLength, "%d trailing bytes", len(rest))
	}
}
