package timeline

import (
	"strings"

	"taskstream/internal/domain"
)

// derive flattens the sorted store into display entries. It runs at every
// emit and never stores its output, so keys stay stable for unchanged content
// while synthesized entries (user prompt, loading placeholder, collapsed
// script call) are recomputed from current state.
func derive(states []processState, liveID string) []domain.TimelineEntry {
	var out []domain.TimelineEntry
	for _, st := range states {
		switch {
		case st.proc.ExecutorAction.Kind.CodingAgent():
			out = append(out, deriveCodingAgent(st, liveID)...)
		case st.proc.ExecutorAction.Kind == domain.ActionScript:
			if entry, ok := deriveScript(st); ok {
				out = append(out, entry)
			}
		default:
			out = append(out, passThrough(st)...)
		}
	}
	return out
}

// deriveCodingAgent synthesizes the user turn from the request prompt, then
// passes the process's own entries through with the agent's echo of the user
// message suppressed. The live running process gets one loading placeholder
// last, unless a visible entry is itself a pending-approval tool call.
func deriveCodingAgent(st processState, liveID string) []domain.TimelineEntry {
	entries := []domain.TimelineEntry{{
		Key:       domain.UserEntryKey(st.proc.ID),
		ProcessID: st.proc.ID,
		Type:      domain.TimelineUserMessage,
		Content:   st.proc.ExecutorAction.Prompt,
	}}

	pendingApproval := false
	for i, e := range st.entries {
		if e.Type == domain.EntryUserMessage {
			continue
		}
		if e.ApprovalPending {
			pendingApproval = true
		}
		entries = append(entries, fromLogEntry(st.proc.ID, i, e))
	}

	if st.proc.ID == liveID && st.proc.Status == domain.ProcessStatusRunning && !pendingApproval {
		entries = append(entries, domain.TimelineEntry{
			Key:       domain.LoadingEntryKey(st.proc.ID),
			ProcessID: st.proc.ID,
			Type:      domain.TimelineLoading,
		})
	}
	return entries
}

// deriveScript collapses a script process into exactly one tool-call entry.
// Contexts other than setup/cleanup yield no entry at all.
func deriveScript(st processState) (domain.TimelineEntry, bool) {
	script := st.proc.ExecutorAction.Script
	if script == nil {
		return domain.TimelineEntry{}, false
	}

	var toolName string
	switch script.Context {
	case domain.ScriptContextSetup:
		toolName = "Setup Script"
	case domain.ScriptContextCleanup:
		toolName = "Cleanup Script"
	default:
		return domain.TimelineEntry{}, false
	}

	lines := make([]string, 0, len(st.entries))
	for _, e := range st.entries {
		lines = append(lines, e.Content)
	}

	var success *bool
	if st.proc.Status.Terminal() {
		ok := st.proc.ExitCode != nil && *st.proc.ExitCode == 0
		success = &ok
	}

	return domain.TimelineEntry{
		Key:       domain.EntryKey(st.proc.ID, 0),
		ProcessID: st.proc.ID,
		Type:      domain.TimelineToolCall,
		ToolName:  toolName,
		Command:   script.Script,
		Output:    strings.Join(lines, "\n"),
		Success:   success,
	}, true
}

// passThrough maps a process's entries unchanged.
func passThrough(st processState) []domain.TimelineEntry {
	out := make([]domain.TimelineEntry, 0, len(st.entries))
	for i, e := range st.entries {
		out = append(out, fromLogEntry(st.proc.ID, i, e))
	}
	return out
}

// fromLogEntry maps one raw log entry to a display entry. The key uses the
// entry's arrival index, so filtering earlier entries never shifts it.
func fromLogEntry(processID string, index int, e domain.LogEntry) domain.TimelineEntry {
	var t domain.TimelineEntryType
	switch e.Type {
	case domain.EntryUserMessage:
		t = domain.TimelineUserMessage
	case domain.EntryAssistantMessage:
		t = domain.TimelineAssistantMessage
	case domain.EntryToolUse:
		t = domain.TimelineToolCall
	case domain.EntrySystemMessage:
		t = domain.TimelineSystemMessage
	case domain.EntryErrorMessage:
		t = domain.TimelineErrorMessage
	case domain.EntryThinking:
		t = domain.TimelineThinking
	default:
		t = domain.TimelineSystemMessage
	}
	return domain.TimelineEntry{
		Key:             domain.EntryKey(processID, index),
		ProcessID:       processID,
		Type:            t,
		Content:         e.Content,
		ToolName:        e.ToolName,
		ApprovalPending: e.ApprovalPending,
		Timestamp:       e.Timestamp,
	}
}
