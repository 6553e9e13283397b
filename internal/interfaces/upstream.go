package interfaces

import (
	"context"

	"github.com/lithium-07/dedup-webset/internal/models"
)

// WebsetRequest describes the upstream search to create.
type WebsetRequest struct {
	Query       string                   `json:"query"`
	Count       int                      `json:"count,omitempty"`
	Entity      string                   `json:"entity,omitempty"`
	Enrichments []map[string]interface{} `json:"enrichments,omitempty"`
}

// ItemsPage is one cursor-paginated page of upstream items.
type ItemsPage struct {
	Data       []models.Item
	HasMore    bool
	NextCursor string
}

// WebsetProvider is the opaque upstream search source.
type WebsetProvider interface {
	// CreateWebset starts an upstream search and returns its id.
	CreateWebset(ctx context.Context, req *WebsetRequest) (string, error)
	// GetStatus returns the provider's own status code for the webset
	// ("running", "idle", ...).
	GetStatus(ctx context.Context, websetID string) (string, error)
	// ListItems fetches one page of items starting at cursor.
	ListItems(ctx context.Context, websetID, cursor string, limit int) (*ItemsPage, error)
}
