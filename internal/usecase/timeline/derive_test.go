package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskstream/internal/domain"
)

func agentProc(id string, status domain.ExecutionProcessStatus, prompt string) domain.ExecutionProcess {
	return domain.ExecutionProcess{
		ID:     id,
		Status: status,
		ExecutorAction: domain.ExecutorAction{
			Kind:   domain.ActionCodingAgentFollowUp,
			Prompt: prompt,
		},
	}
}

func scriptProc(id string, status domain.ExecutionProcessStatus, context domain.ScriptContext, exitCode int64) domain.ExecutionProcess {
	return domain.ExecutionProcess{
		ID:     id,
		Status: status,
		ExecutorAction: domain.ExecutorAction{
			Kind:   domain.ActionScript,
			Script: &domain.ScriptAction{Context: context, Script: "npm install"},
		},
		ExitCode: &exitCode,
	}
}

func TestDeriveSetupScriptThenLiveAgent(t *testing.T) {
	states := []processState{
		{
			proc:    scriptProc("a", domain.ProcessStatusCompleted, domain.ScriptContextSetup, 0),
			entries: []domain.LogEntry{{Type: domain.EntryStdout, Content: "installed"}},
			fetched: true,
		},
		{
			proc: agentProc("b", domain.ProcessStatusRunning, "fix the bug"),
			entries: []domain.LogEntry{
				{Type: domain.EntryUserMessage, Content: "fix the bug"},
				{Type: domain.EntryToolUse, ToolName: "edit_file"},
			},
		},
	}

	out := derive(states, "b")
	require.Len(t, out, 4)

	assert.Equal(t, "a:0", out[0].Key)
	assert.Equal(t, domain.TimelineToolCall, out[0].Type)
	assert.Equal(t, "Setup Script", out[0].ToolName)
	assert.Equal(t, "npm install", out[0].Command)
	assert.Equal(t, "installed", out[0].Output)
	require.NotNil(t, out[0].Success)
	assert.True(t, *out[0].Success)

	assert.Equal(t, "b:user", out[1].Key)
	assert.Equal(t, domain.TimelineUserMessage, out[1].Type)
	assert.Equal(t, "fix the bug", out[1].Content)

	// The agent's echo of the user message is filtered; the tool entry keeps
	// its arrival index.
	assert.Equal(t, "b:1", out[2].Key)
	assert.Equal(t, domain.TimelineToolCall, out[2].Type)
	assert.Equal(t, "edit_file", out[2].ToolName)

	assert.Equal(t, "b:loading", out[3].Key)
	assert.Equal(t, domain.TimelineLoading, out[3].Type)
}

func TestDeriveLoadingOnlyForLiveRunningProcess(t *testing.T) {
	running := processState{proc: agentProc("p1", domain.ProcessStatusRunning, "go")}

	out := derive([]processState{running}, "p1")
	require.Len(t, out, 2)
	assert.Equal(t, domain.TimelineLoading, out[1].Type)

	// Same process, not the live target: no placeholder.
	out = derive([]processState{running}, "")
	require.Len(t, out, 1)

	// Live target but already terminal: no placeholder.
	done := processState{proc: agentProc("p1", domain.ProcessStatusCompleted, "go")}
	out = derive([]processState{done}, "p1")
	require.Len(t, out, 1)
}

func TestDerivePendingApprovalSuppressesLoading(t *testing.T) {
	st := processState{
		proc: agentProc("p1", domain.ProcessStatusRunning, "go"),
		entries: []domain.LogEntry{
			{Type: domain.EntryToolUse, ToolName: "run_command", ApprovalPending: true},
		},
	}

	out := derive([]processState{st}, "p1")
	require.Len(t, out, 2)
	assert.Equal(t, domain.TimelineToolCall, out[1].Type)
	assert.True(t, out[1].ApprovalPending)
	for _, e := range out {
		assert.NotEqual(t, domain.TimelineLoading, e.Type,
			"a pending approval waits on the user, not the agent")
	}
}

func TestDeriveScriptContexts(t *testing.T) {
	tests := []struct {
		name     string
		context  domain.ScriptContext
		wantTool string
		wantAny  bool
	}{
		{"setup", domain.ScriptContextSetup, "Setup Script", true},
		{"cleanup", domain.ScriptContextCleanup, "Cleanup Script", true},
		{"dev server", domain.ScriptContextDev, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := processState{proc: scriptProc("s", domain.ProcessStatusCompleted, tt.context, 0)}
			entry, ok := deriveScript(st)
			assert.Equal(t, tt.wantAny, ok)
			if ok {
				assert.Equal(t, tt.wantTool, entry.ToolName)
			}
		})
	}
}

func TestDeriveScriptSuccess(t *testing.T) {
	running := processState{proc: domain.ExecutionProcess{
		ID:     "s",
		Status: domain.ProcessStatusRunning,
		ExecutorAction: domain.ExecutorAction{
			Kind:   domain.ActionScript,
			Script: &domain.ScriptAction{Context: domain.ScriptContextSetup, Script: "make"},
		},
	}}
	entry, ok := deriveScript(running)
	require.True(t, ok)
	assert.Nil(t, entry.Success, "success is undetermined while running")

	failed := processState{proc: scriptProc("s", domain.ProcessStatusFailed, domain.ScriptContextSetup, 1)}
	entry, ok = deriveScript(failed)
	require.True(t, ok)
	require.NotNil(t, entry.Success)
	assert.False(t, *entry.Success)
}

func TestDeriveScriptJoinsOutputLines(t *testing.T) {
	st := processState{
		proc: scriptProc("s", domain.ProcessStatusCompleted, domain.ScriptContextCleanup, 0),
		entries: []domain.LogEntry{
			{Type: domain.EntryStdout, Content: "line one"},
			{Type: domain.EntryStderr, Content: "line two"},
		},
	}
	entry, ok := deriveScript(st)
	require.True(t, ok)
	assert.Equal(t, "line one\nline two", entry.Output)
}

func TestDeriveOtherKindsPassThrough(t *testing.T) {
	st := processState{
		proc: domain.ExecutionProcess{
			ID:             "d",
			Status:         domain.ProcessStatusRunning,
			ExecutorAction: domain.ExecutorAction{Kind: domain.ActionDevServer},
		},
		entries: []domain.LogEntry{
			{Type: domain.EntryUserMessage, Content: "kept as-is"},
			{Type: domain.LogEntryType("unknown_future_type"), Content: "x"},
		},
	}

	out := derive([]processState{st}, "")
	require.Len(t, out, 2, "pass-through keeps user messages and synthesizes nothing")
	assert.Equal(t, "d:0", out[0].Key)
	assert.Equal(t, domain.TimelineUserMessage, out[0].Type)
	assert.Equal(t, domain.TimelineSystemMessage, out[1].Type, "unknown types degrade to system messages")
}

func TestDeriveKeysStableAcrossReEmits(t *testing.T) {
	st := processState{
		proc: agentProc("p1", domain.ProcessStatusRunning, "go"),
		entries: []domain.LogEntry{
			{Type: domain.EntryAssistantMessage, Content: "thinking about it"},
		},
	}

	first := derive([]processState{st}, "p1")
	st.entries = append(st.entries, domain.LogEntry{Type: domain.EntryToolUse, ToolName: "grep"})
	second := derive([]processState{st}, "p1")

	require.Greater(t, len(second), len(first))
	for i, e := range first[:len(first)-1] { // loading placeholder moves last
		assert.Equal(t, e.Key, second[i].Key, "existing keys must not shift on growth")
	}
}

func TestDeriveOrderFollowsProcessOrder(t *testing.T) {
	t1 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	s := NewStore()
	s.Sync(map[string]domain.ExecutionProcess{
		"new": withCreated(agentProc("new", domain.ProcessStatusCompleted, "second"), t1.Add(time.Minute)),
		"old": withCreated(agentProc("old", domain.ProcessStatusCompleted, "first"), t1),
	})

	out := derive(s.Sorted(), "")
	require.Len(t, out, 2)
	assert.Equal(t, "old:user", out[0].Key)
	assert.Equal(t, "new:user", out[1].Key)
}

func withCreated(p domain.ExecutionProcess, at time.Time) domain.ExecutionProcess {
	p.CreatedAt = at
	return p
}

func TestDeriveAgentScriptAgentOrdering(t *testing.T) {
	t1 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	s := NewStore()
	s.Sync(map[string]domain.ExecutionProcess{
		"first":  withCreated(agentProc("first", domain.ProcessStatusCompleted, "start here"), t1),
		"script": withCreated(scriptProc("script", domain.ProcessStatusCompleted, domain.ScriptContextSetup, 0), t1.Add(time.Minute)),
		"second": withCreated(agentProc("second", domain.ProcessStatusCompleted, "continue"), t1.Add(2*time.Minute)),
	})
	s.SetFetched("first", []domain.LogEntry{
		{Type: domain.EntryUserMessage, Content: "start here"},
		{Type: domain.EntryAssistantMessage, Content: "started"},
	})
	s.SetFetched("second", []domain.LogEntry{
		{Type: domain.EntryUserMessage, Content: "continue"},
		{Type: domain.EntryAssistantMessage, Content: "continued"},
	})

	out := derive(s.Sorted(), "")
	keys := make([]string, len(out))
	for i, e := range out {
		keys[i] = e.Key
	}
	assert.Equal(t, []string{"first:user", "first:1", "script:0", "second:user", "second:1"}, keys,
		"process order by created_at, one synthesized user entry per agent turn, echoes absent")
}
