package apdu

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/status-im/status-signer-go/pkg/signerr"
)

func TestBuildHeaderAndShortLength(t *testing.T) {
	raw, err := Build(0xe0, 0x02, 0x00, 0x01, []byte{0xaa, 0xbb})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xe0, 0x02, 0x00, 0x01, 0x02, 0xaa, 0xbb}, raw)

	raw, err = Build(0xb0, 0x01, 0x00, 0x00, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xb0, 0x01, 0x00, 0x00, 0x00}, raw)

	raw, err = Build(0xe0, 0x40, 0x00, 0x00, []byte{0x01}, 0x20)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xe0, 0x40, 0x00, 0x00, 0x01, 0x01, 0x20}, raw)
}

func TestBuildLengthEncoding(t *testing.T) {
	cases := []struct {
		size     int
		extended bool
	}{
		{0, false},
		{254, false},
		{255, false},
		{256, true},
		{65535, true},
	}

	for _, tc := range cases {
		data := bytes.Repeat([]byte{0x5a}, tc.size)
		raw, err := Build(0xe0, 0x04, 0x00, 0x00, data)
		require.NoError(t, err, "size %d", tc.size)

		if tc.extended {
			require.Len(t, raw, 4+3+tc.size)
			assert.Equal(t, byte(0x00), raw[4])
			assert.Equal(t, byte(tc.size>>8), raw[5])
			assert.Equal(t, byte(tc.size), raw[6])
		} else {
			require.Len(t, raw, 4+1+tc.size)
			assert.Equal(t, byte(tc.size), raw[4])
		}
	}
}

func TestBuildRejectsOversizedPayload(t *testing.T) {
	_, err := Build(0xe0, 0x04, 0x00, 0x00, make([]byte, MaxExtendedLength+1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, signerr.ErrPayloadTooLarge))

	_, err = Build(0xe0, 0x04, 0x00, 0x00, nil, 0)
	assert.Error(t, err)
}

func TestExtendedLe(t *testing.T) {
	raw, err := Build(0xe0, 0x04, 0x00, 0x00, make([]byte, 300), 512)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x00}, raw[len(raw)-2:])

	raw, err = Build(0xe0, 0x04, 0x00, 0x00, []byte{1}, 256)
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), raw[len(raw)-1])
}

// A device that echoes the command payload back with 0x9000.
func echo(raw []byte) ([]byte, error) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		return nil, err
	}
	return Encode(cmd.Data, SwOK), nil
}

func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 254, 255, 256, 1024, 65535}
	les := []int{-1, 1, 255, 256}

	for _, size := range sizes {
		for _, le := range les {
			data := make([]byte, size)
			for i := range data {
				data[i] = byte(i * 7)
			}

			var raw []byte
			var err error
			if le < 0 {
				raw, err = Build(0xe0, 0x06, 0x01, 0x02, data)
			} else {
				raw, err = Build(0xe0, 0x06, 0x01, 0x02, data, le)
			}
			require.NoError(t, err)

			cmd, err := ParseCommand(raw)
			require.NoError(t, err, "size %d le %d", size, le)
			assert.Equal(t, uint8(0xe0), cmd.Cla)
			assert.Equal(t, uint8(0x06), cmd.Ins)
			assert.Equal(t, uint8(0x01), cmd.P1)
			assert.Equal(t, uint8(0x02), cmd.P2)
			if le > 0 {
				hasLe, parsedLe := cmd.Le()
				assert.True(t, hasLe)
				assert.Equal(t, le, parsedLe)
			}

			reply, err := echo(raw)
			require.NoError(t, err)

			resp, err := Parse(reply)
			require.NoError(t, err)
			assert.True(t, resp.IsOK())
			assert.Equal(t, len(data), len(resp.Data))
			if size > 0 {
				assert.Equal(t, data, resp.Data)
			}
		}
	}
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range [][]byte{nil, {}, {0x90}} {
		_, err := Parse(raw)
		require.Error(t, err)
		assert.True(t, errors.Is(err, signerr.ErrMalformedResponse))
	}

	resp, err := Parse([]byte{0x90, 0x00})
	require.NoError(t, err)
	assert.Empty(t, resp.Data)
	assert.True(t, resp.IsOK())
}

func TestStatusWordToError(t *testing.T) {
	assert.NoError(t, StatusWordToError(0x9000))

	cases := map[uint16]*signerr.Kind{
		0x6985: signerr.ErrUserDenied,
		0x5501: signerr.ErrUserDenied,
		0x6982: signerr.ErrDeviceLocked,
		0x5515: signerr.ErrDeviceLocked,
		0x6807: signerr.ErrAppNotFound,
		0x6e00: signerr.ErrAppNotOpen,
		0x6511: signerr.ErrAppNotOpen,
		0x6d00: signerr.ErrIncompatibleFirmware,
		0x6a80: signerr.ErrInvalidData,
		0x6b00: signerr.ErrInvalidParameters,
		0x6700: signerr.ErrWrongLength,
		0x1234: signerr.ErrUnknownStatusWord,
	}

	for sw, kind := range cases {
		err := StatusWordToError(sw)
		require.Error(t, err)
		assert.True(t, errors.Is(err, kind), "sw %04x", sw)

		var swErr *signerr.StatusWordError
		require.True(t, errors.As(err, &swErr))
		assert.Equal(t, sw, swErr.SW)
	}
}

func TestCheckNeverReturnsDataWithError(t *testing.T) {
	data, err := Check(Encode([]byte{1, 2, 3}, 0x6985))
	assert.Nil(t, data)
	assert.True(t, errors.Is(err, signerr.ErrUserDenied))

	data, err = Check(Encode([]byte{1, 2, 3}, SwOK))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}
