package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"

	"taskstream/internal/domain"
	"taskstream/internal/infra/tracer"
)

// HistoricFetcher performs one-shot reads of a process's full log by
// consuming its stream to completion. A circuit breaker fails fast when the
// server rejects fetches repeatedly, so backfill rounds degrade instead of
// hammering a struggling server; callers treat a tripped breaker like any
// other fetch error.
type HistoricFetcher struct {
	client  *Client
	breaker *gobreaker.CircuitBreaker[[]domain.LogEntry]
	logger  *slog.Logger
}

// NewHistoricFetcher creates a HistoricFetcher.
func NewHistoricFetcher(c *Client, logger *slog.Logger) *HistoricFetcher {
	cb := gobreaker.NewCircuitBreaker[[]domain.LogEntry](gobreaker.Settings{
		Name:        "historic-fetch",
		MaxRequests: 1, // one probe in half-open state
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &HistoricFetcher{client: c, breaker: cb, logger: logger}
}

// FetchEntries implements domain.EntryFetcher. A clean end of stream counts
// as completion whether or not the server sent an explicit finished event.
func (f *HistoricFetcher) FetchEntries(ctx context.Context, proc domain.ExecutionProcess) ([]domain.LogEntry, error) {
	return f.breaker.Execute(func() ([]domain.LogEntry, error) {
		spanCtx, span := tracer.StartSpan(ctx, "api.fetch_entries")
		span.SetAttributes(
			attribute.String("process.id", proc.ID),
			attribute.String("process.kind", string(proc.ExecutorAction.Kind)),
		)
		defer span.End()

		// One-shot consumption rides the same streaming protocol; bound it so
		// a stuck stream cannot wedge a backfill round.
		fetchCtx, cancel := context.WithTimeout(spanCtx, f.client.httpClient.Timeout)
		defer cancel()

		events, err := NewSSETransport(f.client).Open(fetchCtx, f.client.LogEndpoint(proc))
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
		entries, _ := followLog(fetchCtx, events, nil, f.logger)
		return entries, nil
	})
}
