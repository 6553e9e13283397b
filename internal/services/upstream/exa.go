package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lithium-07/dedup-webset/internal/common"
	"github.com/lithium-07/dedup-webset/internal/interfaces"
	"github.com/lithium-07/dedup-webset/internal/models"
)

// ExaClient implements WebsetProvider against the Exa websets API.
type ExaClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  arbor.ILogger
}

// NewExaClient creates the upstream client from config.
func NewExaClient(config *common.UpstreamConfig, logger arbor.ILogger) (*ExaClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("upstream API key is required (set EXA_API_KEY or upstream.api_key in config)")
	}
	return &ExaClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}, nil
}

type createWebsetRequest struct {
	Search      createWebsetSearch       `json:"search"`
	Enrichments []map[string]interface{} `json:"enrichments,omitempty"`
}

type createWebsetSearch struct {
	Query  string              `json:"query"`
	Count  int                 `json:"count,omitempty"`
	Entity *createWebsetEntity `json:"entity,omitempty"`
}

type createWebsetEntity struct {
	Type string `json:"type"`
}

type websetResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type listItemsResponse struct {
	Data       []models.Item `json:"data"`
	HasMore    bool          `json:"hasMore"`
	NextCursor string        `json:"nextCursor"`
}

// CreateWebset starts an upstream search and returns the webset id.
func (c *ExaClient) CreateWebset(ctx context.Context, req *interfaces.WebsetRequest) (string, error) {
	body := createWebsetRequest{
		Search: createWebsetSearch{
			Query: req.Query,
			Count: req.Count,
		},
		Enrichments: req.Enrichments,
	}
	if req.Entity != "" {
		body.Search.Entity = &createWebsetEntity{Type: req.Entity}
	}

	var resp websetResponse
	if err := c.do(ctx, http.MethodPost, "/websets", body, &resp); err != nil {
		return "", fmt.Errorf("failed to create webset: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("upstream returned a webset without an id")
	}

	c.logger.Info().
		Str("webset_id", resp.ID).
		Str("query", req.Query).
		Msg("Upstream webset created")
	return resp.ID, nil
}

// GetStatus returns the provider's status string for a webset.
func (c *ExaClient) GetStatus(ctx context.Context, websetID string) (string, error) {
	var resp websetResponse
	if err := c.do(ctx, http.MethodGet, "/websets/"+url.PathEscape(websetID), nil, &resp); err != nil {
		return "", fmt.Errorf("failed to get webset status: %w", err)
	}
	return resp.Status, nil
}

// ListItems fetches one page of items starting at cursor.
func (c *ExaClient) ListItems(ctx context.Context, websetID, cursor string, limit int) (*interfaces.ItemsPage, error) {
	path := "/websets/" + url.PathEscape(websetID) + "/items"
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp listItemsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list webset items: %w", err)
	}
	return &interfaces.ItemsPage{
		Data:       resp.Data,
		HasMore:    resp.HasMore,
		NextCursor: resp.NextCursor,
	}, nil
}

func (c *ExaClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upstream returned %d: %s", resp.StatusCode, string(snippet))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
