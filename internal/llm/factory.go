package llm

import (
	"fmt"

	"friday/internal/config"
)

// New builds the provider described by cfg.
func New(name string, cfg *config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderResponses, "":
		return NewResponses(name, cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.ExtraBody), nil
	case config.ProviderCompatible:
		return NewCompatible(name, cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("llm %q: unknown provider %q", name, cfg.Provider)
	}
}
