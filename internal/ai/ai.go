// Package ai adapts model backends to the engine's Provider interface. The
// engine speaks plain streamed text (the tool grammar lives inside the text),
// so adapters only need text deltas and usage accounting.
package ai

import (
	"fmt"

	"github.com/ccrvlh/codey-sub000/internal/config"
	"github.com/ccrvlh/codey-sub000/internal/engine"
)

// NewProvider builds the configured backend adapter.
func NewProvider(cfg config.Config) (engine.Provider, error) {
	switch cfg.Provider {
	case "anthropic", "":
		return NewAnthropicProvider(cfg.APIKey, cfg.Model, cfg.MaxOutputTokens), nil
	case "openai-compat":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("provider %q requires CODEY_BASE_URL", cfg.Provider)
		}
		return NewOpenAICompatProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.MaxOutputTokens), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (valid: anthropic, openai-compat)", cfg.Provider)
	}
}
