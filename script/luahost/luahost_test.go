package luahost

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgrid-dev/agentgrid/table"
)

func TestRunAndCall(t *testing.T) {
	h := New()
	defer h.Close()

	require.NoError(t, h.Run("inline.lua", `
		function ping(params)
			return { value = params.value + 1 }
		end
	`))
	assert.True(t, h.HasFunction("ping"))
	assert.False(t, h.HasFunction("pong"))

	params := table.New()
	params.Set("value", 7)
	out, err := h.Call("ping", params)
	require.NoError(t, err)
	assert.Equal(t, int64(8), out.Int("value"))
}

func TestCallMissingFunction(t *testing.T) {
	h := New()
	defer h.Close()

	require.NoError(t, h.Run("", `x = 1`))
	_, err := h.Call("nope", table.New())
	assert.Error(t, err)
}

func TestBuiltinRoundTrip(t *testing.T) {
	h := New()
	defer h.Close()

	var gotArgs []any
	h.Register("probe", func(args []any) ([]any, error) {
		gotArgs = args
		return []any{int64(5), "ok"}, nil
	})

	require.NoError(t, h.Run("", `
		function run(params)
			local n, s = probe("hello", 2, true)
			return { n = n, s = s }
		end
	`))

	out, err := h.Call("run", table.New())
	require.NoError(t, err)
	require.Len(t, gotArgs, 3)
	assert.Equal(t, "hello", gotArgs[0])
	assert.Equal(t, int64(2), gotArgs[1])
	assert.Equal(t, true, gotArgs[2])
	assert.Equal(t, int64(5), out.Int("n"))
	assert.Equal(t, "ok", out.String("s"))
}

func TestBuiltinErrorBecomesLuaError(t *testing.T) {
	h := New()
	defer h.Close()

	h.Register("boom", func(args []any) ([]any, error) {
		return nil, errors.New("refused")
	})

	require.NoError(t, h.Run("", `
		function run(params)
			boom()
			return {}
		end
	`))

	_, err := h.Call("run", table.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestNestedTableConversion(t *testing.T) {
	h := New()
	defer h.Close()

	require.NoError(t, h.Run("", `
		function echo(params)
			return params
		end
	`))

	params := table.New()
	params.Set("n", 3)
	params.Set("f", 1.5)
	params.Set("b", true)
	params.Set("s", "str")
	params.Sub("deep").Sub("deeper").Set("leaf", 9)

	out, err := h.Call("echo", params)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Int("n"))
	assert.Equal(t, 1.5, out.Float("f"))
	assert.True(t, out.Bool("b"))
	assert.Equal(t, "str", out.String("s"))
	require.NotNil(t, out.GetSub("deep"))
	assert.Equal(t, int64(9), out.GetSub("deep").Sub("deeper").Int("leaf"))
}

func TestPointerValuesSurviveConversion(t *testing.T) {
	h := New()
	defer h.Close()

	require.NoError(t, h.Run("", `
		function keep(params)
			return { ptr = params.ptr }
		end
	`))

	params := table.New()
	params.Set("ptr", table.Pointer(0xCAFE))
	out, err := h.Call("keep", params)
	require.NoError(t, err)
	v, ok := out.Get("ptr")
	require.True(t, ok)
	assert.Equal(t, table.Pointer(0xCAFE), v)
}

func TestCheckHookInterruptsScript(t *testing.T) {
	h := New()
	defer h.Close()

	require.NoError(t, h.Run("", `
		function spin(params)
			while true do end
		end
	`))

	start := time.Now()
	h.SetCheckHook(func() error {
		if time.Since(start) > 20*time.Millisecond {
			return errors.New("interrupted")
		}
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.Call("spin", table.New())
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err, "infinite loop must be aborted by the hook")
	case <-time.After(5 * time.Second):
		t.Fatal("check hook did not interrupt the script")
	}
}
