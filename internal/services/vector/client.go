package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lithium-07/dedup-webset/internal/common"
)

// Client talks to the external embedding index over its small JSON API. All
// failures degrade: Add errors are logged by callers and Query errors yield
// empty hits, so the index being down never blocks ingestion.
type Client struct {
	baseURL string
	client  *http.Client
	logger  arbor.ILogger
}

// NewClient creates a vector index client from config.
func NewClient(config *common.VectorConfig, logger arbor.ILogger) *Client {
	timeout := common.Duration(config.Timeout)
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(config.URL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type addRequest struct {
	RowID string `json:"row_id"`
	Text  string `json:"text"`
}

type queryRequest struct {
	Text string `json:"text"`
	K    int    `json:"k"`
}

type queryResponse struct {
	IDs []string `json:"ids"`
}

// Add indexes text under rowID.
func (c *Client) Add(ctx context.Context, rowID, text string) error {
	if rowID == "" || text == "" {
		return nil
	}
	return c.post(ctx, "/add", addRequest{RowID: rowID, Text: text}, nil)
}

// Query returns up to k row IDs similar to text. Any failure returns an empty
// slice alongside the error so callers can fall back to fuzzy candidates.
func (c *Client) Query(ctx context.Context, text string, k int) ([]string, error) {
	if text == "" || k <= 0 {
		return nil, nil
	}
	var resp queryResponse
	if err := c.post(ctx, "/query", queryRequest{Text: text, K: k}, &resp); err != nil {
		c.logger.Debug().Err(err).Msg("Vector query failed")
		return nil, err
	}
	return resp.IDs, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode vector request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build vector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("vector request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("vector service returned %d: %s", resp.StatusCode, string(snippet))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode vector response: %w", err)
	}
	return nil
}
