package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentherd/core"
	"github.com/hupe1980/agentherd/engine"
)

func testConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.EngineBackoff = time.Millisecond
	cfg.WaitMax = 250 * time.Millisecond
	cfg.ConvergencePoll = 20 * time.Millisecond
	cfg.ConvergenceDebounce = 2
	cfg.GracePeriod = time.Second
	cfg.SummarizeEvery = 100000 // summarization has its own test
	return cfg
}

func newTestManager(eng engine.Engine, mutate func(cfg *core.Config)) *Manager {
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return New(eng, func(o *Options) { o.Config = cfg })
}

// Genesis spawns two workers, each reports back with a direct message and
// terminates, and the genesis agent terminates once both results are in.
func TestPopulationRunsToConvergence(t *testing.T) {
	eng := engine.NewMock()
	// Most specific first: substring matches are checked in order.
	eng.AddResponse("result B", "[PRINT: all results in] [TERMINATE: mission complete]")
	eng.AddResponse("-> agent-3", "[WAIT: 30]")
	eng.AddResponse("Agent ID: agent-1", "[SPAWN: explore branch A] [SPAWN: explore branch B]")
	eng.AddResponse("Agent ID: agent-2", "[MESSAGE: agent-1 | result A] [TERMINATE: found result A]")
	eng.AddResponse("Agent ID: agent-3", "[MESSAGE: agent-1 | result B] [TERMINATE: found result B]")

	var printMu sync.Mutex
	var printed []string
	m := New(eng, func(o *Options) {
		o.Config = testConfig()
		o.Console = core.ConsoleFunc(func(_ core.AgentID, text string) {
			printMu.Lock()
			printed = append(printed, text)
			printMu.Unlock()
		})
	})

	ctx := context.Background()
	genesis, err := m.Genesis(ctx, "coordinate the exploration")
	require.NoError(t, err)
	assert.Equal(t, core.AgentID("agent-1"), genesis)

	converged, err := m.WaitForConvergence(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, converged)

	require.NoError(t, m.Stop(ctx))

	for _, info := range m.Agents() {
		assert.Equal(t, core.StateTerminated, info.State, "agent %s", info.ID)
	}

	stats := m.Stats()
	assert.Equal(t, 3, stats.Spawned)
	assert.Equal(t, 3, stats.Terminated)

	roots := m.Tree()
	require.Len(t, roots, 1)
	assert.Equal(t, genesis, roots[0].Info.ID)
	require.Len(t, roots[0].Children, 2)
	assert.Equal(t, core.AgentID("agent-2"), roots[0].Children[0].Info.ID)
	assert.Equal(t, core.AgentID("agent-3"), roots[0].Children[1].Info.ID)

	printMu.Lock()
	defer printMu.Unlock()
	assert.Equal(t, []string{"all results in"}, printed)
}

// Two workers exchange one direct message each and terminate once they have
// heard from the other. The first ping may race the sibling's subscription;
// the delivery-failure notice pushes the sender around the loop to retry.
func TestWorkersExchangeDirectMessages(t *testing.T) {
	eng := engine.NewMock()
	eng.AddResponse("[agent-3]: ping", "[TERMINATE: heard from the other worker]")
	eng.AddResponse("[agent-2]: ping", "[TERMINATE: heard from the other worker]")
	eng.AddResponse("Agent ID: agent-1", "[SPAWN: worker one] [SPAWN: worker two] [TERMINATE: delegated]")
	eng.AddResponse("Agent ID: agent-2", "[MESSAGE: agent-3 | ping from two] [WAIT: 30]")
	eng.AddResponse("Agent ID: agent-3", "[MESSAGE: agent-2 | ping from three] [WAIT: 30]")

	m := newTestManager(eng, nil)
	ctx := context.Background()
	_, err := m.Genesis(ctx, "coordinate two workers")
	require.NoError(t, err)

	converged, err := m.WaitForConvergence(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, converged)
	require.NoError(t, m.Stop(ctx))

	for _, info := range m.Agents() {
		assert.Equal(t, core.StateTerminated, info.State, "agent %s", info.ID)
	}
	assert.Equal(t, 3, m.Stats().Spawned)
}

// A registry snapshot taken in the same action cycle as a SPAWN must already
// contain the child.
func TestListAgentsSeesFreshChild(t *testing.T) {
	eng := engine.NewMock()
	eng.AddResponse("Agent ID: agent-1", "[SPAWN: fresh child] [LIST_AGENTS] [TERMINATE: done]")
	eng.AddResponse("Agent ID: agent-2", "[TERMINATE: done]")

	m := newTestManager(eng, nil)
	ctx := context.Background()
	id, err := m.Genesis(ctx, "observe spawn atomicity")
	require.NoError(t, err)

	converged, err := m.WaitForConvergence(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, converged)
	require.NoError(t, m.Stop(ctx))

	m.mu.RLock()
	rendered := m.agents[id].rt.History().Render()
	m.mu.RUnlock()
	assert.Contains(t, rendered, "agent-2")
	assert.Contains(t, rendered, "fresh child")
}

// An agent suspended in a long WAIT must come down within the grace period
// when the population is stopped.
func TestStopInterruptsLongWait(t *testing.T) {
	eng := engine.NewMock()
	eng.Enqueue("[WAIT: 60]")

	m := newTestManager(eng, func(cfg *core.Config) {
		cfg.WaitMax = 60 * time.Second
	})

	ctx := context.Background()
	id, err := m.Genesis(ctx, "wait for instructions")
	require.NoError(t, err)

	// Let the agent reach its waiting state.
	require.Eventually(t, func() bool {
		info, ok := m.Info(id)
		return ok && info.State == core.StateWaiting
	}, 5*time.Second, 10*time.Millisecond)

	start := time.Now()
	require.NoError(t, m.Stop(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)

	info, ok := m.Info(id)
	require.True(t, ok)
	assert.Equal(t, core.StateTerminated, info.State)
	assert.False(t, m.Bus().Subscribed(id))
}

func TestWaitForConvergenceTimeout(t *testing.T) {
	eng := engine.NewMock()
	eng.SetDefault("[PRINT: still working]") // never settles

	m := newTestManager(eng, nil)
	ctx := context.Background()
	_, err := m.Genesis(ctx, "spin forever")
	require.NoError(t, err)

	converged, err := m.WaitForConvergence(ctx, 300*time.Millisecond)
	assert.False(t, converged)
	assert.ErrorIs(t, err, core.ErrConvergenceTimeout)

	require.NoError(t, m.Stop(ctx))
}

func TestWaitForConvergenceContextCancelled(t *testing.T) {
	eng := engine.NewMock()
	eng.SetDefault("[PRINT: busy]")

	m := newTestManager(eng, nil)
	_, err := m.Genesis(context.Background(), "spin")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	converged, err := m.WaitForConvergence(ctx, time.Minute)
	assert.False(t, converged)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, m.Stop(context.Background()))
}

func TestConcurrentSpawnUniqueIDs(t *testing.T) {
	eng := engine.NewMock() // default response terminates immediately
	m := newTestManager(eng, nil)
	ctx := context.Background()

	const n = 20
	ids := make(chan core.AgentID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := m.Spawn(ctx, fmt.Sprintf("task %d", i), "")
			assert.NoError(t, err)
			ids <- id
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[core.AgentID]struct{}, n)
	for id := range ids {
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, m.Agents(), n)

	converged, err := m.WaitForConvergence(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, converged)
	require.NoError(t, m.Stop(ctx))
}

func TestSpawnAfterStopFails(t *testing.T) {
	m := newTestManager(engine.NewMock(), nil)
	ctx := context.Background()
	require.NoError(t, m.Stop(ctx))

	_, err := m.Spawn(ctx, "too late", "")
	assert.ErrorContains(t, err, "manager stopped")
}

func TestStopIdempotent(t *testing.T) {
	m := newTestManager(engine.NewMock(), nil)
	ctx := context.Background()
	_, err := m.Genesis(ctx, "short lived")
	require.NoError(t, err)

	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx))
}

// An agent whose engine retry budget is exhausted must not hold a live
// mailbox through Stop.
func TestStopAfterAgentErrored(t *testing.T) {
	eng := engine.NewMock()
	eng.FailNext(100, errors.New("engine down"))

	m := newTestManager(eng, func(cfg *core.Config) {
		cfg.EngineRetries = 1
	})
	ctx := context.Background()
	id, err := m.Genesis(ctx, "doomed mission")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, ok := m.Info(id)
		return ok && info.State == core.StateErrored
	}, 5*time.Second, 10*time.Millisecond)

	assert.False(t, m.Bus().Subscribed(id))

	require.NoError(t, m.Stop(ctx))
	assert.False(t, m.Bus().Subscribed(id))

	m.Bus().Publish(core.Message{From: "outside", To: id, Content: "hello?"})
	assert.Equal(t, 0, m.Bus().Pending(id))
}

func TestTerminateUnknownIDIsNoOp(t *testing.T) {
	m := newTestManager(engine.NewMock(), nil)
	m.Terminate("agent-99", "never existed")
	require.NoError(t, m.Stop(context.Background()))
}

func TestInfoSnapshot(t *testing.T) {
	eng := engine.NewMock()
	eng.AddResponse("Agent ID: agent-1", "[SPAWN: dig here] [WAIT: 30]")
	eng.AddResponse("Agent ID: agent-2", "[WAIT: 30]")

	m := newTestManager(eng, func(cfg *core.Config) {
		cfg.WaitMax = 10 * time.Second
	})
	ctx := context.Background()
	genesis, err := m.Genesis(ctx, "parent work")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, ok := m.Info(genesis)
		return ok && len(info.Children) == 1
	}, 5*time.Second, 10*time.Millisecond)

	info, ok := m.Info(genesis)
	require.True(t, ok)
	assert.Equal(t, core.AgentID(""), info.ParentID)
	assert.Equal(t, "parent work", info.Mission)
	assert.Equal(t, []core.AgentID{"agent-2"}, info.Children)

	child, ok := m.Info("agent-2")
	require.True(t, ok)
	assert.Equal(t, genesis, child.ParentID)
	assert.Equal(t, "dig here", child.Mission)

	_, ok = m.Info("agent-42")
	assert.False(t, ok)

	require.NoError(t, m.Stop(ctx))
}

func TestSummarizationOverwritesWorkingMemory(t *testing.T) {
	eng := engine.NewMock()
	eng.AddResponse("Summarize the work", "condensed: nothing found yet")
	eng.SetDefault("[WAIT: 50ms]") // keep cycling so the cadence fires

	m := newTestManager(eng, func(cfg *core.Config) {
		cfg.SummarizeEvery = 3
	})
	ctx := context.Background()
	id, err := m.Genesis(ctx, "long running survey")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, ok := m.Info(id)
		return ok && info.Summary == "condensed: nothing found yet"
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, m.Stop(ctx))
}
