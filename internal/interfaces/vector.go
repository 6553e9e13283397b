package interfaces

import "context"

// VectorService is the facade over the external embedding index. All
// operations are best-effort: transport and parse failures degrade recall but
// never block acceptance.
type VectorService interface {
	// Add indexes text under rowID.
	Add(ctx context.Context, rowID, text string) error
	// Query returns up to k row IDs similar to text; errors yield empty hits.
	Query(ctx context.Context, text string, k int) ([]string, error)
}
