package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskstream/internal/domain"
	"taskstream/internal/infra/logger"
)

// rosterTransport replays a scripted sequence of stream events and then holds
// the stream open until the context ends.
type rosterTransport struct {
	events   []domain.StreamEvent
	endpoint string
}

func (f *rosterTransport) Open(ctx context.Context, endpoint string) (<-chan domain.StreamEvent, error) {
	f.endpoint = endpoint
	ch := make(chan domain.StreamEvent, len(f.events))
	go func() {
		for _, ev := range f.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				close(ch)
				return
			}
		}
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func rosterPatch(id string, created string, status domain.ExecutionProcessStatus) domain.StreamEvent {
	op := `[{"op":"add","path":"/execution_processes/` + id + `","value":` +
		`{"id":"` + id + `","status":"` + string(status) + `","created_at":"` + created + `",` +
		`"executor_action":{"kind":"coding_agent_initial","prompt":"p"}}}]`
	return domain.StreamEvent{Patch: json.RawMessage(op)}
}

func endpointFor(attemptID string) string {
	return "/attempts/" + attemptID + "/stream"
}

func TestSubscriptionLoadingUntilFirstSnapshot(t *testing.T) {
	ft := &rosterTransport{} // no events: stream opens and stays silent
	r := New(ft, endpointFor, logger.Discard())

	sub, err := r.Subscribe(context.Background(), "att-1", nil)
	require.NoError(t, err)
	defer sub.Close()

	assert.True(t, sub.Loading())
	assert.Empty(t, sub.Processes())
}

func TestSubscriptionSortedRoster(t *testing.T) {
	ft := &rosterTransport{events: []domain.StreamEvent{
		rosterPatch("proc-b", "2026-08-29T10:05:00Z", domain.ProcessStatusRunning),
		rosterPatch("proc-a", "2026-08-29T10:00:00Z", domain.ProcessStatusCompleted),
	}}
	r := New(ft, endpointFor, logger.Discard())

	changed := make(chan struct{}, 16)
	sub, err := r.Subscribe(context.Background(), "att-1", func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool { return len(sub.Processes()) == 2 },
		2*time.Second, 5*time.Millisecond)

	procs := sub.Processes()
	assert.Equal(t, "proc-a", procs[0].ID, "older process first")
	assert.Equal(t, "proc-b", procs[1].ID)
	assert.False(t, sub.Loading())
	assert.Equal(t, "att-1", sub.AttemptID())
	assert.Equal(t, "/attempts/att-1/stream", ft.endpoint)

	byID := sub.ByID()
	assert.Equal(t, domain.ProcessStatusRunning, byID["proc-b"].Status)

	select {
	case <-changed:
	default:
		t.Error("expected onChange to fire on roster updates")
	}
}

func TestSubscriptionCreatedAtTiebreakByID(t *testing.T) {
	same := "2026-08-29T10:00:00Z"
	ft := &rosterTransport{events: []domain.StreamEvent{
		rosterPatch("proc-z", same, domain.ProcessStatusCompleted),
		rosterPatch("proc-a", same, domain.ProcessStatusCompleted),
	}}
	r := New(ft, endpointFor, logger.Discard())

	sub, err := r.Subscribe(context.Background(), "att-1", nil)
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool { return len(sub.Processes()) == 2 },
		2*time.Second, 5*time.Millisecond)

	procs := sub.Processes()
	assert.Equal(t, "proc-a", procs[0].ID)
	assert.Equal(t, "proc-z", procs[1].ID)
}

func TestSubscriptionProcessRemoval(t *testing.T) {
	ft := &rosterTransport{events: []domain.StreamEvent{
		rosterPatch("proc-a", "2026-08-29T10:00:00Z", domain.ProcessStatusRunning),
		{Patch: json.RawMessage(`[{"op":"remove","path":"/execution_processes/proc-a"}]`)},
	}}
	r := New(ft, endpointFor, logger.Discard())

	sub, err := r.Subscribe(context.Background(), "att-1", nil)
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool {
		return !sub.Loading() && len(sub.Processes()) == 0
	}, 2*time.Second, 5*time.Millisecond)
}
