package interfaces

import "context"

// Message is one turn of an LLM conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// LLMService is a chat-completion provider. Implementations wrap a concrete
// vendor SDK (Gemini, Claude); the adjudicator only sees this interface.
type LLMService interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	HealthCheck(ctx context.Context) error
	Close() error
}
