package script

import (
	"errors"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgrid-dev/agentgrid/table"
)

func TestFuncHostRunAndCall(t *testing.T) {
	RegisterSource("double-it", func(h *FuncHost) error {
		h.DefineFunction("twice", func(params *table.Table) (*table.Table, error) {
			out := table.New()
			out.Set("value", params.Int("value")*2)
			return out, nil
		})
		return nil
	})

	h := NewFuncHost()
	require.NoError(t, h.Run("double.script", "double-it"))
	assert.True(t, h.HasFunction("twice"))
	assert.False(t, h.HasFunction("thrice"))

	params := table.New()
	params.Set("value", 21)
	out, err := h.Call("twice", params)
	require.NoError(t, err)
	assert.Equal(t, int64(42), out.Int("value"))

	_, err = h.Call("thrice", params)
	assert.Error(t, err)
}

func TestFuncHostUnknownSource(t *testing.T) {
	h := NewFuncHost()
	assert.Error(t, h.Run("", "never-registered"))
}

func TestFuncHostNilResultBecomesEmptyTable(t *testing.T) {
	RegisterSource("nil-result", func(h *FuncHost) error {
		h.DefineFunction("noop", func(params *table.Table) (*table.Table, error) {
			return nil, nil
		})
		return nil
	})

	h := NewFuncHost()
	require.NoError(t, h.Run("", "nil-result"))
	out, err := h.Call("noop", table.New())
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 0, out.Len())
}

func TestFuncHostCheckHook(t *testing.T) {
	RegisterSource("hooked", func(h *FuncHost) error {
		h.DefineFunction("work", func(params *table.Table) (*table.Table, error) {
			return table.New(), nil
		})
		return nil
	})

	h := NewFuncHost()
	require.NoError(t, h.Run("", "hooked"))

	interrupted := errors.New("interrupted")
	h.SetCheckHook(func() error { return interrupted })

	_, err := h.Call("work", table.New())
	assert.ErrorIs(t, err, interrupted)
}

func TestTimeUnits(t *testing.T) {
	before := time.Now().UnixNano() / 10
	got := Now()
	after := time.Now().UnixNano() / 10

	assert.GreaterOrEqual(t, got, before)
	assert.LessOrEqual(t, got, after)
}

func TestPeekPoke(t *testing.T) {
	buf := make([]byte, 16)
	addr := uintptr(unsafe.Pointer(&buf[0]))

	require.NoError(t, Poke(addr, int64(0xAB), 1))
	v, err := Peek(addr, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0xAB), v)

	require.NoError(t, Poke(addr, int64(0x1234), 2))
	v, err = Peek(addr, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0x1234), v)

	require.NoError(t, Poke(addr, int64(0xDEADBEEF), 4))
	v, err = Peek(addr, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(0xDEADBEEF), v)

	require.NoError(t, Poke(addr, 3.5, -8))
	v, err = Peek(addr, -8)
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)
}

func TestPokeWrapsOnOverflow(t *testing.T) {
	buf := make([]byte, 8)
	addr := uintptr(unsafe.Pointer(&buf[0]))

	require.NoError(t, Poke(addr, int64(0x1FF), 1))
	v, err := Peek(addr, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0xFF), v)
}

func TestPeekPokeRejectWidth(t *testing.T) {
	buf := make([]byte, 32)
	addr := uintptr(unsafe.Pointer(&buf[0]))

	_, err := Peek(addr, 3)
	assert.Error(t, err)
	assert.Error(t, Poke(addr, int64(0), 16), "width 16 needs a 128-bit integer type")
}

func TestAddOffset(t *testing.T) {
	p, err := AddOffset(1000, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, table.Pointer(1012), p)

	p, err = AddOffset(1000, 2, -8)
	require.NoError(t, err)
	assert.Equal(t, table.Pointer(1016), p)

	_, err = AddOffset(1000, 1, 5)
	assert.Error(t, err)
}
