package secret

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewZeroesSource(t *testing.T) {
	src := []byte{1, 2, 3, 4}
	buf := New(src)
	defer buf.Release()

	assert.Equal(t, []byte{0, 0, 0, 0}, src)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf.Bytes())
	assert.Equal(t, 4, buf.Len())
}

func TestReleaseZeroesMemory(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	buf := Wrap(data)

	buf.Release()
	buf.Release()

	assert.Equal(t, []byte{0, 0, 0, 0}, data)
	assert.True(t, buf.Released())
	assert.Nil(t, buf.Bytes())

	err := buf.Use(func([]byte) error { return nil })
	assert.True(t, errors.Is(err, ErrReleased))
}

func TestRepresentationsAreRedacted(t *testing.T) {
	buf := New([]byte("super secret key"))
	defer buf.Release()

	for _, verb := range []string{"%v", "%+v", "%#v", "%s", "%x", "%q"} {
		assert.Equal(t, Redacted, fmt.Sprintf(verb, buf), verb)
	}

	data, err := json.Marshal(struct {
		Key *Buffer `json:"key"`
	}{buf})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	core, logs := observer.New(zap.DebugLevel)
	zap.New(core).Info("key", zap.Stringer("key", buf), zap.Any("any", buf))
	require.Equal(t, 1, logs.Len())
	for _, v := range logs.All()[0].ContextMap() {
		assert.NotContains(t, fmt.Sprint(v), "super secret")
	}
}

func TestUsePassesContent(t *testing.T) {
	buf := New([]byte{9, 9})
	defer buf.Release()

	var seen []byte
	require.NoError(t, buf.Use(func(b []byte) error {
		seen = append(seen, b...)
		return nil
	}))
	assert.Equal(t, []byte{9, 9}, seen)
}
