package runtime

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agentherd/core"
)

// capabilityPrompt documents the action grammar for the Decision Engine.
// PRINT, LIST_AGENTS and TOOL are appended conditionally below.
const capabilityPrompt = `You are an autonomous agent in a multi-agent system. You can spawn other agents, communicate, and terminate yourself.

YOUR CAPABILITIES:

1. SPAWN - Create a child agent for a subtask
   Format: [SPAWN: <mission description>]
   Use when: the task is complex, needs parallel exploration, or requires specialized focus

2. BROADCAST - Send a message to all agents
   Format: [BROADCAST: <message>]
   Use when: sharing discoveries, coordinating work, announcing findings

3. MESSAGE - Send a direct message to a specific agent
   Format: [MESSAGE: <agent_id> | <message>]
   Use when: coordinating with one agent, asking for help, sharing relevant info

4. WAIT - Pause before continuing
   Format: [WAIT: <seconds>]
   Use when: you need to give others time to respond or pace your work

5. LIST_AGENTS - Record a snapshot of all agents in the system
   Format: [LIST_AGENTS]
   Use when: you need to know who exists before messaging

6. PRINT - Emit text to the operator console
   Format: [PRINT: <text>]
   Use when: reporting results or progress to the human operator

7. TERMINATE - End your existence
   Format: [TERMINATE: <reason>]
   Use when: your work is done, you are redundant, or you reached a dead end

IMPORTANT RULES:
- Be concise (tokens are expensive)
- Spawn agents when you identify parallel work
- Terminate when your specific task is complete
- Check the active agents list before messaging`

const toolPrompt = `

8. TOOL - Invoke a registered tool
   Format: [TOOL: <name>(<args>)]
   Available tools:
%s`

// instructions assembles the fixed system instructions: capabilities, tool
// docs, identity block and the current active-agents roster.
func (r *Runtime) instructions() string {
	var b strings.Builder
	b.WriteString(capabilityPrompt)

	if r.tools != nil {
		if docs := r.tools.Docs(); docs != "" {
			fmt.Fprintf(&b, toolPrompt, docs)
		}
	}

	parent := "none"
	if r.parentID != "" {
		parent = string(r.parentID)
	}
	fmt.Fprintf(&b, "\n\nCURRENT IDENTITY:\nAgent ID: %s\nMission: %s\nParent: %s\n", r.id, r.mission, parent)

	b.WriteString("\nACTIVE AGENTS IN SYSTEM:\n")
	b.WriteString(r.roster())
	return b.String()
}

// roster lists the other live agents, or a lonely-hearts note when none.
func (r *Runtime) roster() string {
	var lines []string
	for _, info := range r.coord.Agents() {
		if info.ID == r.id || info.State.Terminal() {
			continue
		}
		lines = append(lines, fmt.Sprintf("  - %s (%s): %s", info.ID, info.State, info.Mission))
	}
	if len(lines) == 0 {
		return "  none (you are alone)\n"
	}
	return strings.Join(lines, "\n") + "\n"
}

// renderRoster formats a registry snapshot as a LIST_AGENTS observation.
// Terminated agents are included: the child set is an audit trail.
func renderRoster(infos []core.AgentInfo) string {
	var b strings.Builder
	b.WriteString("agents:\n")
	for _, info := range infos {
		fmt.Fprintf(&b, "  - %s state=%s mission=%q\n", info.ID, info.State, info.Mission)
	}
	return b.String()
}
