package agentgrid

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgrid-dev/agentgrid/agent"
	"github.com/agentgrid-dev/agentgrid/script"
	"github.com/agentgrid-dev/agentgrid/table"
)

func TestRoundTripReply(t *testing.T) {
	agents := New(nil)
	defer func() { _ = agents.Shutdown() }()

	script.RegisterSource("echo-ping", func(h *script.FuncHost) error {
		h.DefineFunction("ping", func(params *table.Table) (*table.Table, error) {
			out := table.New()
			out.Set("value", params.Int("value")+1)
			return out, nil
		})
		return nil
	})

	type pong struct {
		value    int64
		original int64
	}
	pongs := make(chan pong, 8)
	script.RegisterSource("pinger-pong", func(h *script.FuncHost) error {
		h.DefineFunction("pong", func(params *table.Table) (*table.Table, error) {
			pongs <- pong{
				value:    params.Int("value"),
				original: params.OriginalMessageParams().Int("value"),
			}
			return nil, nil
		})
		return nil
	})

	echo, err := agents.AddScriptedAgent("echo", "", "echo-ping")
	require.NoError(t, err)
	require.NoError(t, echo.AddMessage("ping", nil, "", "", ""))

	pinger, err := agents.AddScriptedAgent("pinger", "", "pinger-pong")
	require.NoError(t, err)
	require.NoError(t, pinger.AddMessage("pong", nil, "", "", ""))

	params := table.New()
	params.Set("value", 7)
	params.SetReplyTo("pinger", "pong")
	ping, err := agents.GetMessage("echo", "ping")
	require.NoError(t, err)
	require.NoError(t, ping.Send(params))

	select {
	case got := <-pongs:
		assert.Equal(t, int64(8), got.value)
		assert.Equal(t, int64(7), got.original, "original_message.parameters must carry the incoming payload")
	case <-time.After(5 * time.Second):
		t.Fatal("pong was not delivered")
	}

	agents.WaitUntilEmpty()
	select {
	case <-pongs:
		t.Fatal("pong was delivered more than once")
	default:
	}
}

func TestReplyMergeTable(t *testing.T) {
	agents := New(nil)
	defer func() { _ = agents.Shutdown() }()

	script.RegisterSource("merge-echo", func(h *script.FuncHost) error {
		h.DefineFunction("work", func(params *table.Table) (*table.Table, error) {
			out := table.New()
			out.Set("result", 1)
			return out, nil
		})
		return nil
	})

	got := make(chan *table.Table, 1)
	script.RegisterSource("merge-sink", func(h *script.FuncHost) error {
		h.DefineFunction("done", func(params *table.Table) (*table.Table, error) {
			got <- params.Clone()
			return nil, nil
		})
		return nil
	})

	echo, err := agents.AddScriptedAgent("worker", "", "merge-echo")
	require.NoError(t, err)
	require.NoError(t, echo.AddMessage("work", nil, "", "", ""))
	sink, err := agents.AddScriptedAgent("sink", "", "merge-sink")
	require.NoError(t, err)
	require.NoError(t, sink.AddMessage("done", nil, "", "", ""))

	params := table.New()
	params.SetReplyTo("sink", "done")
	params.Sub(table.KeyReplyTo).Sub(table.KeyReplyMerge).Set("tag", "merged")

	work, err := agents.GetMessage("worker", "work")
	require.NoError(t, err)
	require.NoError(t, work.Send(params))

	select {
	case reply := <-got:
		assert.Equal(t, int64(1), reply.Int("result"))
		assert.Equal(t, "merged", reply.String("tag"), "reply_to.merge folds into the reply payload")
		assert.Equal(t, "work", reply.OriginalMessageName())
	case <-time.After(5 * time.Second):
		t.Fatal("merged reply was not delivered")
	}
}

func TestSendBuiltinDefaultsReplyAgent(t *testing.T) {
	agents := New(nil)
	defer func() { _ = agents.Shutdown() }()

	script.RegisterSource("responder", func(h *script.FuncHost) error {
		h.DefineFunction("ask", func(params *table.Table) (*table.Table, error) {
			out := table.New()
			out.Set("answer", 42)
			return out, nil
		})
		return nil
	})

	answers := make(chan int64, 1)
	script.RegisterSource("asker", func(h *script.FuncHost) error {
		h.DefineFunction("start", func(params *table.Table) (*table.Table, error) {
			// send() fills reply_to.agent with the sender's name, so the
			// response arrives at this agent's "answer" message.
			q := table.New()
			q.Sub(table.KeyReplyTo).Set(table.KeyReplyMessage, "answer")
			send := h.MustGlobal("send")
			_, err := send([]any{"responder", "ask", q})
			return nil, err
		})
		h.DefineFunction("answer", func(params *table.Table) (*table.Table, error) {
			answers <- params.Int("answer")
			return nil, nil
		})
		return nil
	})

	responder, err := agents.AddScriptedAgent("responder", "", "responder")
	require.NoError(t, err)
	require.NoError(t, responder.AddMessage("ask", nil, "", "", ""))

	asker, err := agents.AddScriptedAgent("asker", "", "asker")
	require.NoError(t, err)
	require.NoError(t, asker.AddMessage("start", nil, "", "", ""))
	require.NoError(t, asker.AddMessage("answer", nil, "", "", ""))

	start, err := agents.GetMessage("asker", "start")
	require.NoError(t, err)
	require.NoError(t, start.Send(nil))

	select {
	case v := <-answers:
		assert.Equal(t, int64(42), v)
	case <-time.After(5 * time.Second):
		t.Fatal("answer was not delivered")
	}
}

func TestMissingParameter(t *testing.T) {
	agents := New(nil)
	defer func() { _ = agents.Shutdown() }()

	var invoked atomic.Int64
	a, err := agents.Add("sink", func(msg *agent.Message) {
		invoked.Add(1)
	})
	require.NoError(t, err)

	descs := table.New()
	descs.Sub("x") // described, no default
	require.NoError(t, a.AddMessage("m", descs, "", "", ""))

	m, err := agents.GetMessage("sink", "m")
	require.NoError(t, err)

	err = m.Send(table.New())
	var missing *agent.MissingParameterError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "x", missing.Parameter)
	assert.Equal(t, int64(0), agents.TotalInFlight(), "failed validation must not touch the counter")
	assert.Equal(t, int64(0), invoked.Load())
}

func TestParameterDefaults(t *testing.T) {
	agents := New(nil)
	defer func() { _ = agents.Shutdown() }()

	got := make(chan *table.Table, 1)
	a, err := agents.Add("sink", func(msg *agent.Message) {
		got <- msg.Params
	})
	require.NoError(t, err)

	descs := table.New()
	descs.Sub("x").Set("default", 9)
	require.NoError(t, a.AddMessage("m", descs, "", "", ""))

	m, err := agents.GetMessage("sink", "m")
	require.NoError(t, err)
	require.NoError(t, m.Send(table.New()))

	select {
	case params := <-got:
		assert.Equal(t, int64(9), params.Int("x"), "unset parameters take their described default")
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestPerSubQueueNativeAgent(t *testing.T) {
	agents := New(nil)
	defer func() { _ = agents.Shutdown() }()

	var mu sync.Mutex
	seen := make(map[int64][]int64)
	a, err := agents.AddOrdered("sink", func(msg *agent.Message) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[msg.Params.Queue()] = append(seen[msg.Params.Queue()], msg.Params.Int("n"))
		mu.Unlock()
	}, agent.PerSubQueue)
	require.NoError(t, err)
	require.NoError(t, a.AddMessage("m", nil, "", "", ""))

	m, err := agents.GetMessage("sink", "m")
	require.NoError(t, err)
	for _, send := range []struct{ queue, n int64 }{{1, 1}, {2, 1}, {1, 2}, {2, 2}} {
		params := table.New()
		params.Set(table.KeyQueue, send.queue)
		params.Set("n", send.n)
		require.NoError(t, m.Send(params))
	}

	agents.WaitUntilEmpty()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 2}, seen[1])
	assert.Equal(t, []int64{1, 2}, seen[2])
}

func TestReplicationFanOut(t *testing.T) {
	agents := New(nil)
	defer func() { _ = agents.Shutdown() }()

	var concurrent, peak atomic.Int64
	script.RegisterSource("slow-worker", func(h *script.FuncHost) error {
		h.DefineFunction("work", func(params *table.Table) (*table.Table, error) {
			n := concurrent.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			concurrent.Add(-1)
			return nil, nil
		})
		return nil
	})

	a, err := agents.AddScriptedAgent("crunch", "", "slow-worker")
	require.NoError(t, err)
	require.NoError(t, a.AddMessage("work", nil, "", "", ""))
	// A worker that handled a message within the last second counts as
	// busy, so the queued burst below triggers replication.
	a.Config().SetStartNewThreadTime(time.Second)

	m, err := agents.GetMessage("crunch", "work")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		params := table.New()
		params.Set(table.KeyThreads, 4)
		require.NoError(t, m.Send(params))
	}

	agents.WaitUntilEmpty()

	assert.Equal(t, 4, a.WorkerCount(), "threads=4 caps the worker fan-out at the primary plus 3 replicas")
	assert.GreaterOrEqual(t, peak.Load(), int64(2), "replicas must process messages in parallel")
	assert.Equal(t, int64(0), agents.TotalInFlight())
}

func TestReplicationSkippedWhenUnreplicated(t *testing.T) {
	agents := New(nil)
	defer func() { _ = agents.Shutdown() }()

	script.RegisterSource("solo-worker", func(h *script.FuncHost) error {
		h.DefineFunction("work", func(params *table.Table) (*table.Table, error) {
			time.Sleep(5 * time.Millisecond)
			return nil, nil
		})
		return nil
	})

	a, err := agents.AddScriptedAgent("solo", "", "solo-worker")
	require.NoError(t, err)
	require.NoError(t, a.AddMessage("work", nil, "", "", ""))
	a.Config().SetStartNewThreadTime(time.Second)

	m, err := agents.GetMessage("solo", "work")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		params := table.New()
		params.Set(table.KeyThreads, 4)
		params.Set(table.KeyUnreplicated, true)
		require.NoError(t, m.Send(params))
	}

	agents.WaitUntilEmpty()
	assert.Equal(t, 1, a.WorkerCount(), "unreplicated messages stay on the primary")
}

func TestDrainOnShutdown(t *testing.T) {
	agents := New(nil)

	var handled atomic.Int64
	script.RegisterSource("counter", func(h *script.FuncHost) error {
		h.DefineFunction("tick", func(params *table.Table) (*table.Table, error) {
			handled.Add(1)
			return nil, nil
		})
		return nil
	})

	a, err := agents.AddScriptedAgent("counter", "", "counter")
	require.NoError(t, err)
	require.NoError(t, a.AddMessage("tick", nil, "", "", ""))

	m, err := agents.GetMessage("counter", "tick")
	require.NoError(t, err)
	const total = 1000
	for i := 0; i < total; i++ {
		require.NoError(t, m.Send(nil))
	}

	agents.WaitUntilFirst()
	agents.WaitUntilEmpty()
	assert.Equal(t, int64(total), handled.Load(), "wait_until_empty returns only after every handler invocation")

	done := make(chan struct{})
	go func() {
		_ = agents.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown did not return in bounded time")
	}
	assert.Equal(t, int64(0), agents.TotalInFlight())
}

func TestSendAfterShutdownIsDropped(t *testing.T) {
	agents := New(nil)

	a, err := agents.Add("sink", func(msg *agent.Message) {})
	require.NoError(t, err)
	require.NoError(t, a.AddMessage("m", nil, "", "", ""))
	m, err := agents.GetMessage("sink", "m")
	require.NoError(t, err)

	require.NoError(t, agents.Shutdown())

	require.NoError(t, m.Send(nil), "the public send path drops with a log line after shutdown")
	assert.Equal(t, int64(0), agents.TotalInFlight(), "dropped sends keep the counter balanced")
}

func TestDuplicateAgent(t *testing.T) {
	agents := New(nil)
	defer func() { _ = agents.Shutdown() }()

	_, err := agents.Add("twin", func(msg *agent.Message) {})
	require.NoError(t, err)
	_, err = agents.Add("twin", func(msg *agent.Message) {})
	var dup *DuplicateAgentError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "twin", dup.Name)
}

func TestDuplicateMessageOnNativeAgent(t *testing.T) {
	agents := New(nil)
	defer func() { _ = agents.Shutdown() }()

	a, err := agents.Add("sink", func(msg *agent.Message) {})
	require.NoError(t, err)
	require.NoError(t, a.AddMessage("m", nil, "", "", ""))

	err = a.AddMessage("m", nil, "", "", "")
	var dup *agent.DuplicateMessageError
	require.ErrorAs(t, err, &dup)
}

func TestUnknownLookups(t *testing.T) {
	agents := New(nil)
	defer func() { _ = agents.Shutdown() }()

	_, err := agents.GetMessage("ghost", "m")
	var unknownAgent *UnknownAgentError
	require.ErrorAs(t, err, &unknownAgent)

	_, err = agents.Add("real", func(msg *agent.Message) {})
	require.NoError(t, err)
	_, err = agents.GetMessage("real", "ghost")
	var unknownMessage *agent.UnknownMessageError
	require.ErrorAs(t, err, &unknownMessage)
}

func TestAddAgentBuiltin(t *testing.T) {
	agents := New(nil)
	defer func() { _ = agents.Shutdown() }()

	script.RegisterSource("spawned-child", func(h *script.FuncHost) error {
		h.DefineFunction("greet", func(params *table.Table) (*table.Table, error) {
			return nil, nil
		})
		return nil
	})

	script.RegisterSource("spawning-parent", func(h *script.FuncHost) error {
		h.DefineFunction("spawn", func(params *table.Table) (*table.Table, error) {
			names := table.New()
			names.Set(1, "greet")
			addagent := h.MustGlobal("addagent")
			_, err := addagent([]any{"child", "spawned-child", names})
			return nil, err
		})
		return nil
	})

	parent, err := agents.AddScriptedAgent("parent", "", "spawning-parent")
	require.NoError(t, err)
	require.NoError(t, parent.AddMessage("spawn", nil, "", "", ""))

	spawn, err := agents.GetMessage("parent", "spawn")
	require.NoError(t, err)
	require.NoError(t, spawn.Send(nil))
	agents.WaitUntilEmpty()

	child, err := agents.GetAgent("child")
	require.NoError(t, err)
	assert.Equal(t, agent.KindScripted, child.Kind())
	_, err = agents.GetMessage("child", "greet")
	assert.NoError(t, err, "addagent registers the listed messages")
}

func TestRegisteredTables(t *testing.T) {
	agents := New(nil)
	defer func() { _ = agents.Shutdown() }()

	predefined := table.New()
	predefined.Sub("settings").Set("mode", "fast")
	require.NoError(t, agents.RegisterTable("reader", predefined))

	dup := table.New()
	dup.Sub("settings").Set("mode", "slow")
	assert.Error(t, agents.RegisterTable("reader", dup), "duplicate table keys are rejected")

	got := make(chan string, 1)
	script.RegisterSource("table-reader", func(h *script.FuncHost) error {
		h.DefineFunction("read", func(params *table.Table) (*table.Table, error) {
			got <- h.GlobalTable("settings").String("mode")
			return nil, nil
		})
		return nil
	})

	a, err := agents.AddScriptedAgent("reader", "", "table-reader")
	require.NoError(t, err)
	require.NoError(t, a.AddMessage("read", nil, "", "", ""))

	m, err := agents.GetMessage("reader", "read")
	require.NoError(t, err)
	require.NoError(t, m.Send(nil))

	select {
	case mode := <-got:
		assert.Equal(t, "fast", mode, "registered tables appear as script globals")
	case <-time.After(5 * time.Second):
		t.Fatal("read was not delivered")
	}
}

func TestConfigBuiltins(t *testing.T) {
	agents := New(nil)
	defer func() { _ = agents.Shutdown() }()

	got := make(chan float64, 1)
	script.RegisterSource("config-reader", func(h *script.FuncHost) error {
		h.DefineFunction("tune", func(params *table.Table) (*table.Table, error) {
			setconfig := h.MustGlobal("setconfig")
			cfg := table.New()
			cfg.Set(agent.ConfigStartNewThreadTime, 0.5)
			if _, err := setconfig([]any{cfg}); err != nil {
				return nil, err
			}
			getconfig := h.MustGlobal("getconfig")
			out, err := getconfig(nil)
			if err != nil {
				return nil, err
			}
			got <- out[0].(*table.Table).Float(agent.ConfigStartNewThreadTime)
			return nil, nil
		})
		return nil
	})

	a, err := agents.AddScriptedAgent("tuner", "", "config-reader")
	require.NoError(t, err)
	require.NoError(t, a.AddMessage("tune", nil, "", "", ""))

	m, err := agents.GetMessage("tuner", "tune")
	require.NoError(t, err)
	require.NoError(t, m.Send(nil))

	select {
	case v := <-got:
		assert.Equal(t, 0.5, v)
		assert.Equal(t, 500*time.Millisecond, a.Config().StartNewThreadTime())
	case <-time.After(5 * time.Second):
		t.Fatal("tune was not delivered")
	}
}

func TestIDsAreUnique(t *testing.T) {
	agents := New(nil)
	defer func() { _ = agents.Shutdown() }()

	a, err := agents.Add("a", func(msg *agent.Message) {})
	require.NoError(t, err)
	b, err := agents.Add("b", func(msg *agent.Message) {})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID(), "live agents never share an id")
}
