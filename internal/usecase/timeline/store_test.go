package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskstream/internal/domain"
)

func storeProc(id string, status domain.ExecutionProcessStatus, created time.Time) domain.ExecutionProcess {
	return domain.ExecutionProcess{
		ID:             id,
		Status:         status,
		CreatedAt:      created,
		ExecutorAction: domain.ExecutorAction{Kind: domain.ActionCodingAgentInitial},
	}
}

func TestStoreNextUnfetchedNewestFirstSkipsRunning(t *testing.T) {
	t0 := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	s := NewStore()
	s.Sync(map[string]domain.ExecutionProcess{
		"old":     storeProc("old", domain.ProcessStatusCompleted, t0),
		"mid":     storeProc("mid", domain.ProcessStatusFailed, t0.Add(time.Minute)),
		"running": storeProc("running", domain.ProcessStatusRunning, t0.Add(2*time.Minute)),
	})

	proc, ok := s.NextUnfetched()
	require.True(t, ok)
	assert.Equal(t, "mid", proc.ID, "newest non-running process first")

	require.True(t, s.SetFetched("mid", nil))
	proc, ok = s.NextUnfetched()
	require.True(t, ok)
	assert.Equal(t, "old", proc.ID)

	require.True(t, s.SetFetched("old", nil))
	_, ok = s.NextUnfetched()
	assert.False(t, ok, "the running process is never a historic target")
}

func TestStoreSyncPrunesDepartedProcesses(t *testing.T) {
	t0 := time.Now()
	s := NewStore()
	s.Sync(map[string]domain.ExecutionProcess{
		"keep": storeProc("keep", domain.ProcessStatusCompleted, t0),
		"drop": storeProc("drop", domain.ProcessStatusCompleted, t0),
	})
	require.True(t, s.SetFetched("drop", []domain.LogEntry{{Type: domain.EntryStdout, Content: "x"}}))

	s.Sync(map[string]domain.ExecutionProcess{
		"keep": storeProc("keep", domain.ProcessStatusCompleted, t0),
	})

	states := s.Sorted()
	require.Len(t, states, 1)
	assert.Equal(t, "keep", states[0].proc.ID)
	assert.Zero(t, s.EntryCount(), "pruned entries leave the count")
}

func TestStoreSetFetchedAfterPruneDiscardsResult(t *testing.T) {
	t0 := time.Now()
	s := NewStore()
	s.Sync(map[string]domain.ExecutionProcess{
		"p": storeProc("p", domain.ProcessStatusCompleted, t0),
	})
	s.Sync(map[string]domain.ExecutionProcess{})

	assert.False(t, s.SetFetched("p", []domain.LogEntry{{Content: "stale"}}),
		"a fetch that raced a prune must be discarded")
	assert.False(t, s.SetEntries("p", nil))
}

func TestStoreSyncRefreshKeepsEntries(t *testing.T) {
	t0 := time.Now()
	s := NewStore()
	s.Sync(map[string]domain.ExecutionProcess{
		"p": storeProc("p", domain.ProcessStatusRunning, t0),
	})
	require.True(t, s.SetEntries("p", []domain.LogEntry{{Type: domain.EntryStdout, Content: "one"}}))

	// Status flip arrives via roster; the entry cache survives the refresh.
	s.Sync(map[string]domain.ExecutionProcess{
		"p": storeProc("p", domain.ProcessStatusCompleted, t0),
	})

	states := s.Sorted()
	require.Len(t, states, 1)
	assert.Equal(t, domain.ProcessStatusCompleted, states[0].proc.Status)
	require.Len(t, states[0].entries, 1)
	assert.Equal(t, "one", states[0].entries[0].Content)
}

func TestStoreMarkFetchedKeepsLiveEntries(t *testing.T) {
	t0 := time.Now()
	s := NewStore()
	s.Sync(map[string]domain.ExecutionProcess{
		"p": storeProc("p", domain.ProcessStatusRunning, t0),
	})
	s.SetEntries("p", []domain.LogEntry{{Content: "live"}})
	s.MarkFetched("p")

	_, ok := s.NextUnfetched()
	assert.False(t, ok, "a completed live stream needs no historic re-fetch")
	assert.Equal(t, 1, s.EntryCount())
}

func TestStoreHasUnfetched(t *testing.T) {
	t0 := time.Now()
	s := NewStore()
	assert.False(t, s.HasUnfetched())

	s.Sync(map[string]domain.ExecutionProcess{
		"running": storeProc("running", domain.ProcessStatusRunning, t0),
	})
	assert.False(t, s.HasUnfetched(), "a running process is not a fetch target")

	// The run completes: now it awaits a historic fetch.
	s.Sync(map[string]domain.ExecutionProcess{
		"running": storeProc("running", domain.ProcessStatusCompleted, t0),
	})
	assert.True(t, s.HasUnfetched())

	s.MarkFetched("running")
	assert.False(t, s.HasUnfetched())
}

func TestStoreReset(t *testing.T) {
	s := NewStore()
	s.Sync(map[string]domain.ExecutionProcess{
		"p": storeProc("p", domain.ProcessStatusCompleted, time.Now()),
	})
	s.Reset()
	assert.Empty(t, s.Sorted())
	assert.Zero(t, s.EntryCount())
}
