package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentherd/bus"
	"github.com/hupe1980/agentherd/core"
	"github.com/hupe1980/agentherd/engine"
	"github.com/hupe1980/agentherd/tool"
)

// fakeCoord records spawn requests and serves a fixed roster.
type fakeCoord struct {
	mu       sync.Mutex
	missions []string
	parents  []core.AgentID
	infos    []core.AgentInfo
	spawnErr error
}

func (f *fakeCoord) Spawn(_ context.Context, mission string, parent core.AgentID) (core.AgentID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return "", f.spawnErr
	}
	f.missions = append(f.missions, mission)
	f.parents = append(f.parents, parent)
	return core.AgentID(fmt.Sprintf("agent-child-%d", len(f.missions))), nil
}

func (f *fakeCoord) Agents() []core.AgentInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.AgentInfo, len(f.infos))
	copy(out, f.infos)
	return out
}

func testConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.EngineBackoff = time.Millisecond
	cfg.EngineTimeout = time.Second
	cfg.WaitDefault = 20 * time.Millisecond
	cfg.WaitMax = 250 * time.Millisecond
	return cfg
}

func newTestRuntime(t *testing.T, eng engine.Engine, mutate func(p *Params)) (*Runtime, *bus.Bus, *fakeCoord) {
	t.Helper()
	b := bus.New()
	mb, err := b.Subscribe("agent-1")
	require.NoError(t, err)

	p := Params{
		ID:          "agent-1",
		Mission:     "test mission",
		Mailbox:     mb,
		Bus:         b,
		Coordinator: &fakeCoord{},
		Engine:      eng,
		Config:      testConfig(),
	}
	if mutate != nil {
		mutate(&p)
	}
	return New(p), b, p.Coordinator.(*fakeCoord)
}

func waitDone(t *testing.T, rt *Runtime) {
	t.Helper()
	select {
	case <-rt.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("runtime did not finish; state=%s", rt.State())
	}
}

func TestRunTerminates(t *testing.T) {
	eng := engine.NewMock()
	eng.Enqueue("[TERMINATE: finished counting]")

	var termCount atomic.Int32
	rt, _, _ := newTestRuntime(t, eng, func(p *Params) {
		p.OnTerminate = func(core.AgentID) { termCount.Add(1) }
	})

	go rt.Run(context.Background())
	waitDone(t, rt)

	assert.Equal(t, core.StateTerminated, rt.State())
	assert.Equal(t, int32(1), termCount.Load())
	assert.Contains(t, rt.History().Render(), "[TERMINATE: finished counting]")
}

func TestRunErroredAfterRetryBudget(t *testing.T) {
	eng := engine.NewMock()
	eng.FailNext(10, errors.New("api down"))

	rt, b, _ := newTestRuntime(t, eng, func(p *Params) {
		p.Config.EngineRetries = 1
	})

	go rt.Run(context.Background())
	waitDone(t, rt)

	assert.Equal(t, core.StateErrored, rt.State())
	// Initial attempt plus one retry.
	assert.Equal(t, 2, eng.Calls())
	assert.Contains(t, rt.History().Render(), "decision engine unavailable")

	// The mailbox dies with the loop: later publishes are dropped and the
	// sender is notified, not stranded in a queue nobody reads.
	assert.False(t, b.Subscribed("agent-1"))
	sender, err := b.Subscribe("agent-2")
	require.NoError(t, err)
	b.Publish(core.Message{From: "agent-2", To: "agent-1", Content: "anyone there?"})
	assert.Equal(t, 0, b.Pending("agent-1"))
	notices := sender.Drain()
	require.Len(t, notices, 1)
	assert.Equal(t, core.System, notices[0].From)
	assert.Contains(t, notices[0].Content, "DELIVERY FAILED")
}

func TestEngineRetrySucceedsWithinBudget(t *testing.T) {
	eng := engine.NewMock()
	eng.FailNext(2, errors.New("transient"))
	eng.Enqueue("[TERMINATE: done]")

	rt, _, _ := newTestRuntime(t, eng, func(p *Params) {
		p.Config.EngineRetries = 3
	})

	go rt.Run(context.Background())
	waitDone(t, rt)

	assert.Equal(t, core.StateTerminated, rt.State())
	assert.Equal(t, 3, eng.Calls())
}

func TestWaitResumesOnMessage(t *testing.T) {
	eng := engine.NewMock()
	eng.Enqueue("[WAIT: 60]", "[TERMINATE: heard back]")

	rt, b, _ := newTestRuntime(t, eng, nil)
	_, err := b.Subscribe("agent-2")
	require.NoError(t, err)

	start := time.Now()
	go rt.Run(context.Background())

	// Give the loop a moment to enter the waiting state, then interrupt.
	time.Sleep(30 * time.Millisecond)
	b.Publish(core.Message{From: "agent-2", To: "agent-1", Content: "found it"})

	waitDone(t, rt)

	// The 60s request is clamped to WaitMax and cut short by the message.
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, rt.History().Render(), "[agent-2]: found it")
}

func TestWaitExpiresWithoutMessages(t *testing.T) {
	eng := engine.NewMock()
	eng.Enqueue("[WAIT: 1]", "[TERMINATE: done]")

	rt, _, _ := newTestRuntime(t, eng, func(p *Params) {
		p.Config.WaitMax = 50 * time.Millisecond
	})

	go rt.Run(context.Background())
	waitDone(t, rt)

	assert.Equal(t, core.StateTerminated, rt.State())
}

func TestContextCancelTerminatesDuringWait(t *testing.T) {
	eng := engine.NewMock()
	eng.Enqueue("[WAIT: 60]")

	rt, _, _ := newTestRuntime(t, eng, func(p *Params) {
		p.Config.WaitMax = 10 * time.Second
	})

	ctx, cancel := context.WithCancel(context.Background())
	go rt.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	cancel()
	waitDone(t, rt)

	assert.Equal(t, core.StateTerminated, rt.State())
	assert.Contains(t, rt.History().Render(), "system shutdown")
}

func TestSpawnActionLinksParent(t *testing.T) {
	eng := engine.NewMock()
	eng.Enqueue("[SPAWN: research topic A] [SPAWN: research topic B]", "[TERMINATE: delegated]")

	rt, _, coord := newTestRuntime(t, eng, nil)
	go rt.Run(context.Background())
	waitDone(t, rt)

	require.Equal(t, []string{"research topic A", "research topic B"}, coord.missions)
	assert.Equal(t, []core.AgentID{"agent-1", "agent-1"}, coord.parents)
	assert.Contains(t, rt.History().Render(), "-> agent-child-1")
}

func TestSpawnFailureIsObservedNotFatal(t *testing.T) {
	eng := engine.NewMock()
	eng.Enqueue("[SPAWN: doomed]", "[TERMINATE: done]")

	rt, _, coord := newTestRuntime(t, eng, nil)
	coord.spawnErr = errors.New("manager stopped")

	go rt.Run(context.Background())
	waitDone(t, rt)

	assert.Equal(t, core.StateTerminated, rt.State())
	assert.Contains(t, rt.History().Render(), "spawn failed: manager stopped")
}

func TestTerminateShortCircuitsRemainingTokens(t *testing.T) {
	eng := engine.NewMock()
	eng.Enqueue("[TERMINATE: stopping now] [BROADCAST: should never send]")

	rt, b, _ := newTestRuntime(t, eng, nil)
	other, err := b.Subscribe("agent-2")
	require.NoError(t, err)

	go rt.Run(context.Background())
	waitDone(t, rt)

	assert.Equal(t, 0, other.Len())
}

func TestUnknownTokenSkippedLoopContinues(t *testing.T) {
	eng := engine.NewMock()
	eng.Enqueue("[FROBNICATE: x] [PRINT: still alive]", "[TERMINATE: done]")

	var printed []string
	rt, _, _ := newTestRuntime(t, eng, func(p *Params) {
		p.Console = core.ConsoleFunc(func(_ core.AgentID, text string) {
			printed = append(printed, text)
		})
	})

	go rt.Run(context.Background())
	waitDone(t, rt)

	assert.Equal(t, core.StateTerminated, rt.State())
	assert.Equal(t, []string{"still alive"}, printed)
}

func TestMessageAndBroadcastPublish(t *testing.T) {
	eng := engine.NewMock()
	eng.Enqueue("[MESSAGE: agent-2 | direct hello] [BROADCAST: hello everyone]", "[TERMINATE: done]")

	rt, b, _ := newTestRuntime(t, eng, nil)
	mb2, err := b.Subscribe("agent-2")
	require.NoError(t, err)

	go rt.Run(context.Background())
	waitDone(t, rt)

	msgs := mb2.Drain()
	require.Len(t, msgs, 2)
	assert.Equal(t, "direct hello", msgs[0].Content)
	assert.Equal(t, core.AgentID("agent-2"), msgs[0].To)
	assert.Equal(t, "hello everyone", msgs[1].Content)
	assert.Equal(t, core.Broadcast, msgs[1].To)
}

func TestToolInvocation(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(tool.NewFunc("echo", "repeats its input", func(_ context.Context, args string) (string, error) {
		return "echo: " + args, nil
	}))

	eng := engine.NewMock()
	eng.Enqueue(`[TOOL: echo(hello)]`, "[TERMINATE: done]")

	rt, _, _ := newTestRuntime(t, eng, func(p *Params) {
		p.Tools = reg
	})

	go rt.Run(context.Background())
	waitDone(t, rt)

	assert.Contains(t, rt.History().Render(), "tool echo: echo: hello")
}

func TestListAgentsObservation(t *testing.T) {
	eng := engine.NewMock()
	eng.Enqueue("[LIST_AGENTS]", "[TERMINATE: done]")

	rt, _, coord := newTestRuntime(t, eng, nil)
	coord.infos = []core.AgentInfo{
		{ID: "agent-1", Mission: "test mission", State: core.StateRunning},
		{ID: "agent-2", Mission: "other work", State: core.StateWaiting},
	}

	go rt.Run(context.Background())
	waitDone(t, rt)

	rendered := rt.History().Render()
	assert.Contains(t, rendered, "agent-2 state=waiting")
}

func TestBatchMostRecentPerSender(t *testing.T) {
	rt, _, _ := newTestRuntime(t, engine.NewMock(), func(p *Params) {
		p.Config.BatchSenders = 2
	})

	rt.absorb([]core.Message{
		{From: "agent-2", Content: "old from two"},
		{From: "agent-3", Content: "from three"},
		{From: "agent-2", Content: "new from two"},
		{From: "agent-4", Content: "from four"},
	})

	batch := rt.batch()
	// Two most recent distinct senders, newest message each, oldest first.
	require.Equal(t, []string{"[agent-2]: new from two", "[agent-4]: from four"}, batch)
}

func TestBatchEmptyInbox(t *testing.T) {
	rt, _, _ := newTestRuntime(t, engine.NewMock(), nil)
	assert.Empty(t, rt.batch())
}

func TestTerminateIdempotent(t *testing.T) {
	var termCount atomic.Int32
	rt, b, _ := newTestRuntime(t, engine.NewMock(), func(p *Params) {
		p.OnTerminate = func(core.AgentID) { termCount.Add(1) }
	})

	rt.Terminate("first")
	rt.Terminate("second")

	assert.Equal(t, core.StateTerminated, rt.State())
	assert.Equal(t, int32(1), termCount.Load())
	assert.False(t, b.Subscribed("agent-1"))
}

func TestRunAfterTerminateIsNoOp(t *testing.T) {
	rt, _, _ := newTestRuntime(t, engine.NewMock(), nil)
	rt.Terminate("early")

	go rt.Run(context.Background())
	waitDone(t, rt)

	assert.Equal(t, core.StateTerminated, rt.State())
}

func TestIdle(t *testing.T) {
	rt, b, _ := newTestRuntime(t, engine.NewMock(), nil)

	// Spawning is not quiescent.
	assert.False(t, rt.Idle())

	rt.setState(core.StateRunning)
	assert.True(t, rt.Idle())

	_, err := b.Subscribe("agent-2")
	require.NoError(t, err)
	b.Publish(core.Message{From: "agent-2", To: "agent-1", Content: "ping"})
	assert.False(t, rt.Idle())

	rt.mailbox.Drain()
	assert.True(t, rt.Idle())

	rt.Terminate("done")
	assert.True(t, rt.Idle())
}

func TestInstructionsIncludeToolsAndRoster(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(tool.NewFunc("calc", "evaluates arithmetic", func(_ context.Context, args string) (string, error) {
		return args, nil
	}))

	rt, _, coord := newTestRuntime(t, engine.NewMock(), func(p *Params) {
		p.ParentID = "agent-0"
		p.Tools = reg
	})
	coord.infos = []core.AgentInfo{
		{ID: "agent-1", Mission: "test mission", State: core.StateRunning},
		{ID: "agent-7", Mission: "survey literature", State: core.StateRunning},
		{ID: "agent-8", Mission: "gone", State: core.StateTerminated},
	}

	sys := rt.instructions()
	assert.Contains(t, sys, "8. TOOL")
	assert.Contains(t, sys, "- calc: evaluates arithmetic")
	assert.Contains(t, sys, "Agent ID: agent-1")
	assert.Contains(t, sys, "Parent: agent-0")
	assert.Contains(t, sys, "agent-7")
	// Self and terminated agents stay out of the roster.
	assert.NotContains(t, sys, "agent-8")
	assert.Equal(t, 1, strings.Count(sys, "agent-7 (running)"))
}

func TestHistorySeededWithMission(t *testing.T) {
	rt, _, _ := newTestRuntime(t, engine.NewMock(), nil)
	require.Equal(t, 1, rt.History().Len())
	assert.Contains(t, rt.History().Render(), "test mission")
}
