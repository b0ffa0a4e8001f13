package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"taskstream/internal/domain"
)

// apiResponse is the server's uniform response envelope.
type apiResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type saveDraftRequest struct {
	Prompt  string `json:"prompt"`
	Version int64  `json:"version"`
}

type setQueueRequest struct {
	Queued  bool  `json:"queued"`
	Version int64 `json:"version"`
}

// DraftAPI is the versioned follow-up draft resource. All writes carry the
// last-known version; the server answers a stale version with 409, surfaced
// as domain.ErrConflict.
type DraftAPI struct {
	client *Client
}

// NewDraftAPI creates a DraftAPI.
func NewDraftAPI(c *Client) *DraftAPI {
	return &DraftAPI{client: c}
}

func draftEndpoint(attemptID string) string {
	return fmt.Sprintf("/api/task-attempts/%s/draft", url.PathEscape(attemptID))
}

// GetDraft implements domain.DraftStore.
func (d *DraftAPI) GetDraft(ctx context.Context, attemptID string) (*domain.FollowUpDraft, error) {
	return d.do(ctx, http.MethodGet, draftEndpoint(attemptID), nil)
}

// SaveDraft implements domain.DraftStore.
func (d *DraftAPI) SaveDraft(ctx context.Context, attemptID, prompt string, version int64) (*domain.FollowUpDraft, error) {
	return d.do(ctx, http.MethodPut, draftEndpoint(attemptID), saveDraftRequest{Prompt: prompt, Version: version})
}

// SetQueue implements domain.DraftStore.
func (d *DraftAPI) SetQueue(ctx context.Context, attemptID string, queued bool, version int64) (*domain.FollowUpDraft, error) {
	return d.do(ctx, http.MethodPut, draftEndpoint(attemptID)+"/queue", setQueueRequest{Queued: queued, Version: version})
}

func (d *DraftAPI) do(ctx context.Context, method, endpoint string, payload interface{}) (*domain.FollowUpDraft, error) {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := d.client.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewDomainError("DraftAPI.do", domain.ErrTransport, err.Error())
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		return nil, domain.NewDomainError("DraftAPI.do", domain.ErrConflict, endpoint)
	case http.StatusNotFound:
		return nil, domain.NewDomainError("DraftAPI.do", domain.ErrNotFound, endpoint)
	default:
		return nil, domain.NewDomainError("DraftAPI.do", domain.ErrBadStatus, resp.Status)
	}

	var envelope apiResponse[domain.FollowUpDraft]
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode draft response: %w", err)
	}
	draft := envelope.Data
	return &draft, nil
}
