package main

import (
	"errors"

	"github.com/restflow/restflow/internal/auth"
	"github.com/restflow/restflow/internal/llm"
	"github.com/restflow/restflow/internal/llm/providers"
)

// errNoProvider is returned when no auth profile resolves to a usable LLM
// provider; run "restflow key add" or "restflow key discover" first.
var errNoProvider = errors.New("restflow: no LLM provider configured; run 'restflow key add' or 'restflow key discover'")

// selectProvider picks the runner's single active LLM provider by trying
// each supported provider's auth profile in priority order: Anthropic,
// OpenAI, then Bedrock. Only one provider backs the runner at a time,
// matching llm.Provider's single-backend contract.
func selectProvider(profiles *auth.ProfileStore) (llm.Provider, error) {
	if p, err := profiles.SelectProfile("anthropic"); err == nil {
		return providers.NewAnthropic(providers.AnthropicConfig{APIKey: p.Key})
	}
	if p, err := profiles.SelectProfile("openai"); err == nil {
		return providers.NewOpenAI(p.Key), nil
	}
	if p, err := profiles.SelectProfile("bedrock"); err == nil {
		return providers.NewBedrock(providers.BedrockConfig{
			AccessKeyID:     p.Key,
			SecretAccessKey: p.Refresh,
		})
	}
	return nil, errNoProvider
}
