package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskstream/internal/domain"
	"taskstream/internal/infra/logger"
)

func normalizedProc(id string) domain.ExecutionProcess {
	return domain.ExecutionProcess{
		ID:             id,
		Status:         domain.ProcessStatusCompleted,
		ExecutorAction: domain.ExecutorAction{Kind: domain.ActionCodingAgentInitial},
	}
}

func TestHistoricFetcherConsumesStreamToCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/execution-processes/p1/logs/normalized", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: json_patch\n")
		fmt.Fprint(w, `data: [{"op":"add","path":"/entries/-","value":{"type":"user_message","content":"fix the bug"}}]`+"\n\n")
		fmt.Fprint(w, "event: json_patch\n")
		fmt.Fprint(w, `data: [{"op":"add","path":"/entries/-","value":{"type":"assistant_message","content":"on it"}}]`+"\n\n")
		fmt.Fprint(w, "event: finished\n\n")
	}))
	defer srv.Close()

	f := NewHistoricFetcher(testClient(t, srv.URL), logger.Discard())
	entries, err := f.FetchEntries(context.Background(), normalizedProc("p1"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.EntryUserMessage, entries[0].Type)
	assert.Equal(t, "fix the bug", entries[0].Content)
	assert.Equal(t, domain.EntryAssistantMessage, entries[1].Type)
}

func TestHistoricFetcherCleanEOFWithoutFinished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: json_patch\n")
		fmt.Fprint(w, `data: [{"op":"add","path":"/entries/-","value":{"type":"stdout","content":"hello"}}]`+"\n\n")
	}))
	defer srv.Close()

	f := NewHistoricFetcher(testClient(t, srv.URL), logger.Discard())
	entries, err := f.FetchEntries(context.Background(), normalizedProc("p1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryStdout, entries[0].Type)
}

func TestHistoricFetcherRawEndpointForScripts(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: finished\n\n")
	}))
	defer srv.Close()

	proc := domain.ExecutionProcess{
		ID:             "s1",
		ExecutorAction: domain.ExecutorAction{Kind: domain.ActionScript},
	}
	f := NewHistoricFetcher(testClient(t, srv.URL), logger.Discard())
	_, err := f.FetchEntries(context.Background(), proc)
	require.NoError(t, err)
	assert.Equal(t, "/api/execution-processes/s1/logs/raw", gotPath)
}

func TestHistoricFetcherBreakerTripsOnRepeatedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewHistoricFetcher(testClient(t, srv.URL), logger.Discard())
	proc := normalizedProc("p1")
	for i := 0; i < 5; i++ {
		_, err := f.FetchEntries(context.Background(), proc)
		require.ErrorIs(t, err, domain.ErrBadStatus, "failure %d", i+1)
	}

	// The sixth call fails fast without touching the server.
	_, err := f.FetchEntries(context.Background(), proc)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
