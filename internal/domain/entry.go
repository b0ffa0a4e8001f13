package domain

import "fmt"

// LogEntryType classifies one entry of a process's log stream.
// Normalized streams use the message/tool types; raw script streams use
// stdout/stderr.
type LogEntryType string

const (
	EntryUserMessage      LogEntryType = "user_message"
	EntryAssistantMessage LogEntryType = "assistant_message"
	EntryToolUse          LogEntryType = "tool_use"
	EntrySystemMessage    LogEntryType = "system_message"
	EntryErrorMessage     LogEntryType = "error_message"
	EntryThinking         LogEntryType = "thinking"
	EntryStdout           LogEntryType = "stdout"
	EntryStderr           LogEntryType = "stderr"
)

// LogEntry is one unit of a process's log as delivered by the server,
// before timeline derivation.
type LogEntry struct {
	Timestamp       string       `json:"timestamp,omitempty"`
	Type            LogEntryType `json:"type"`
	Content         string       `json:"content"`
	ToolName        string       `json:"tool_name,omitempty"`
	ApprovalPending bool         `json:"approval_pending,omitempty"`
}

// TimelineEntryType classifies one displayed timeline entry.
type TimelineEntryType string

const (
	TimelineUserMessage      TimelineEntryType = "user_message"
	TimelineAssistantMessage TimelineEntryType = "assistant_message"
	TimelineToolCall         TimelineEntryType = "tool_call"
	TimelineSystemMessage    TimelineEntryType = "system_message"
	TimelineErrorMessage     TimelineEntryType = "error_message"
	TimelineThinking         TimelineEntryType = "thinking"
	TimelineLoading          TimelineEntryType = "loading"
)

// TimelineEntry is one normalized unit of the conversation timeline. Keys are
// stable across re-emits for unchanged content so consumers can diff without
// a full re-render.
type TimelineEntry struct {
	Key             string            `json:"key"`
	ProcessID       string            `json:"process_id"`
	Type            TimelineEntryType `json:"type"`
	Content         string            `json:"content,omitempty"`
	ToolName        string            `json:"tool_name,omitempty"`
	Command         string            `json:"command,omitempty"`
	Output          string            `json:"output,omitempty"`
	Success         *bool             `json:"success,omitempty"`
	ApprovalPending bool              `json:"approval_pending,omitempty"`
	Timestamp       string            `json:"timestamp,omitempty"`
}

// EntryKey builds the stable key for the i-th entry of a process.
func EntryKey(processID string, index int) string {
	return fmt.Sprintf("%s:%d", processID, index)
}

// UserEntryKey builds the key of the synthesized user-message entry.
func UserEntryKey(processID string) string {
	return processID + ":user"
}

// LoadingEntryKey builds the key of the synthesized loading placeholder.
func LoadingEntryKey(processID string) string {
	return processID + ":loading"
}

// Phase tags a timeline emit with the loading phase that produced it.
type Phase string

const (
	PhaseInitial  Phase = "initial"
	PhaseRunning  Phase = "running"
	PhaseHistoric Phase = "historic"
)

// TimelineUpdate is one emission of the aggregated timeline.
type TimelineUpdate struct {
	Entries []TimelineEntry
	Phase   Phase
	Loading bool
}
