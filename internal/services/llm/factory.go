package llm

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/lithium-07/dedup-webset/internal/common"
	"github.com/lithium-07/dedup-webset/internal/interfaces"
)

// NewLLMService creates the configured chat provider.
func NewLLMService(config *common.LLMConfig, logger arbor.ILogger) (interfaces.LLMService, error) {
	switch config.Provider {
	case "", "gemini":
		return NewGeminiService(config, logger)
	case "claude":
		return NewClaudeService(config, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q: must be 'gemini' or 'claude'", config.Provider)
	}
}
