// Package slskd is a small client for the slskd Soulseek daemon REST API.
package slskd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/httpclient"
)

type File struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// SearchResponse is one peer's answer to a search.
type SearchResponse struct {
	Username    string `json:"username"`
	Files       []File `json:"files"`
	FileCount   int    `json:"fileCount"`
	HasFreeSlot bool   `json:"hasFreeUploadSlot"`
	QueueLength int    `json:"queueLength"`
}

type SearchState struct {
	ID            string `json:"id"`
	SearchText    string `json:"searchText"`
	State         string `json:"state"`
	IsComplete    bool   `json:"isComplete"`
	ResponseCount int    `json:"responseCount"`
}

// Transfer groups the downloads queued from one user.
type Transfer struct {
	Username    string              `json:"username"`
	Directories []TransferDirectory `json:"directories"`
}

type TransferDirectory struct {
	Directory string         `json:"directory"`
	Files     []TransferFile `json:"files"`
}

type TransferFile struct {
	Filename         string `json:"filename"`
	State            string `json:"state"`
	Size             int64  `json:"size"`
	BytesTransferred int64  `json:"bytesTransferred"`
}

type Client struct {
	http    *httpclient.Client
	baseURL string

	searchTimeout time.Duration
	minWait       time.Duration
	pollInterval  time.Duration
}

type Option func(*Client)

// WithSearchTiming overrides the search wait policy.
func WithSearchTiming(timeout, minWait, poll time.Duration) Option {
	return func(c *Client) {
		c.searchTimeout = timeout
		c.minWait = minWait
		c.pollInterval = poll
	}
}

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/") + "/api/v0",
		http: httpclient.NewClient(
			&http.Client{Timeout: 30 * time.Second},
			0,
			httpclient.WithHeader("X-API-Key", apiKey),
		),
		searchTimeout: constants.SearchTimeout,
		minWait:       constants.SearchMinWait,
		pollInterval:  constants.SearchPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Available reports whether the daemon answers.
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.http.GetJSON(ctx, c.baseURL+"/application", nil) == nil
}

// Search starts a network search and returns its id.
func (c *Client) Search(ctx context.Context, text string) (string, error) {
	body := map[string]any{
		"id":         uuid.NewString(),
		"searchText": text,
		"timeout":    c.searchTimeout.Milliseconds(),
	}

	var state SearchState
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/searches", body, &state); err != nil {
		return "", fmt.Errorf("slskd search %q: %w", text, err)
	}
	if state.ID == "" {
		return "", fmt.Errorf("slskd search %q: no id returned", text)
	}
	return state.ID, nil
}

func (c *Client) SearchStatus(ctx context.Context, id string) (*SearchState, error) {
	var state SearchState
	if err := c.http.GetJSON(ctx, c.baseURL+"/searches/"+url.PathEscape(id), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SearchResponses pages through the responses of a search.
func (c *Client) SearchResponses(ctx context.Context, id string) ([]SearchResponse, error) {
	var all []SearchResponse

	for page := 0; page <= constants.SearchMaxPages; page++ {
		u := fmt.Sprintf("%s/searches/%s/responses?pageIndex=%d&pageSize=%d",
			c.baseURL, url.PathEscape(id), page, constants.SearchPageSize)

		var raw json.RawMessage
		if err := c.http.GetJSON(ctx, u, &raw); err != nil {
			if page == 0 {
				return nil, err
			}
			break
		}

		responses, err := decodeResponses(raw)
		if err != nil {
			return all, err
		}
		if len(responses) == 0 {
			break
		}
		all = append(all, responses...)
		if len(responses) < constants.SearchPageSize {
			break
		}
	}
	return all, nil
}

// decodeResponses accepts both a bare array and an object wrapping one.
func decodeResponses(raw json.RawMessage) ([]SearchResponse, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var list []SearchResponse
		err := json.Unmarshal(raw, &list)
		return list, err
	}

	var wrapped struct {
		Responses []SearchResponse `json:"responses"`
		Data      []SearchResponse `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	if len(wrapped.Responses) > 0 {
		return wrapped.Responses, nil
	}
	return wrapped.Data, nil
}

// WaitForSearch polls until the search completes, or until responses exist
// and the minimum wait has passed, or until the timeout. Whatever responses
// exist at the end are returned.
func (c *Client) WaitForSearch(ctx context.Context, id string) ([]SearchResponse, error) {
	start := time.Now()

	for time.Since(start) < c.searchTimeout {
		state, err := c.SearchStatus(ctx, id)
		if err == nil {
			if state.ResponseCount > 0 && time.Since(start) >= c.minWait {
				responses, rErr := c.SearchResponses(ctx, id)
				if rErr == nil && len(responses) > 0 {
					return responses, nil
				}
			}
			if state.IsComplete {
				return c.SearchResponses(ctx, id)
			}
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return c.SearchResponses(ctx, id)
}

// Enqueue queues files for download from user.
func (c *Client) Enqueue(ctx context.Context, user string, files []File) error {
	u := c.baseURL + "/transfers/downloads/" + url.PathEscape(user)
	if err := c.http.DoJSON(ctx, http.MethodPost, u, files, nil); err != nil {
		return fmt.Errorf("slskd enqueue from %s: %w", user, err)
	}
	return nil
}

func (c *Client) Transfers(ctx context.Context) ([]Transfer, error) {
	var transfers []Transfer
	if err := c.http.GetJSON(ctx, c.baseURL+"/transfers/downloads", &transfers); err != nil {
		return nil, fmt.Errorf("slskd transfers: %w", err)
	}
	return transfers, nil
}

// CancelUser removes every download queued from user.
func (c *Client) CancelUser(ctx context.Context, user string) error {
	u := c.baseURL + "/transfers/downloads/" + url.PathEscape(user)
	if err := c.http.DoJSON(ctx, http.MethodDelete, u, nil, nil); err != nil {
		return fmt.Errorf("slskd cancel %s: %w", user, err)
	}
	return nil
}
