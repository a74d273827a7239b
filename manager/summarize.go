package manager

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentherd/engine"
	"github.com/hupe1980/agentherd/runtime"
)

// summarizerInstructions drive the Decision Engine when it acts as the
// working-memory condenser rather than an agent.
const summarizerInstructions = `You are a concise summarizer. Extract only the KEY findings, decisions, and current status. Be extremely brief.`

// minHistoryForSummary skips agents with fewer than two full exchanges;
// there is nothing worth condensing yet.
const minHistoryForSummary = 4

// noteCycle is invoked by every runtime once per decision cycle. Each
// SummarizeEvery cycles across the population it kicks off one background
// summarization sweep; overlapping sweeps are skipped.
func (m *Manager) noteCycle() {
	c := m.cycles.Add(1)
	if c%uint64(m.cfg.SummarizeEvery) != 0 {
		return
	}
	if !m.summarizing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer m.summarizing.Store(false)
		m.summarizeAll(m.runCtx)
	}()
}

// summarizeAll overwrites each live agent's working memory with a condensed
// view of its history. The history log itself is never touched. Individual
// failures are logged and skipped; a sweep never fails the population.
func (m *Manager) summarizeAll(ctx context.Context) {
	m.mu.RLock()
	rts := make([]*runtime.Runtime, 0, len(m.order))
	for _, id := range m.order {
		rt := m.agents[id].rt
		if rt.State().Terminal() || rt.History().Len() < minHistoryForSummary {
			continue
		}
		rts = append(rts, rt)
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, rt := range rts {
		rt := rt
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, m.cfg.EngineTimeout)
			defer cancel()

			req := engine.Request{
				Instructions: summarizerInstructions,
				History:      rt.History().Render(),
				Directive: fmt.Sprintf(
					"Summarize the work of agent %s (mission: %s) in 2-3 sentences MAX. Focus on: what has been discovered, what is being worked on now, what decisions were made.",
					rt.ID(), rt.Mission(),
				),
			}
			out, err := m.eng.Complete(callCtx, req)
			if err != nil {
				m.logger.Warn("summarization failed", "agent_id", string(rt.ID()), "error", err.Error())
				return nil
			}
			rt.SetWorkingMemory(strings.TrimSpace(out))
			return nil
		})
	}
	_ = g.Wait()
}
