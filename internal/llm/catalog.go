package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultCatalogURL   = "https://models.dev/api.json"
	catalogRefreshEvery = time.Hour
	catalogRequestTimeout = 8 * time.Second
	catalogOutputTokensCap = 32000
)

// ModelInfo is a catalog entry for one model, resolved by provider+id.
// Grounded on crates/restflow-core/src/runtime/background_agent/model_catalog.rs.
type ModelInfo struct {
	ID                string  `json:"id"`
	Provider          string  `json:"provider"`
	ContextWindow     int     `json:"context_window"`
	MaxOutputTokens   int     `json:"max_output_tokens"`
	InputCostPerMTok  float64 `json:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `json:"output_cost_per_mtok"`
	SupportsTools     bool    `json:"supports_tools"`
	SupportsStreaming bool    `json:"supports_streaming"`
}

// fallbackModels is the compiled-in table used when the catalog fetch is
// disabled or fails, so cost estimation and context sizing are never
// blocked on network access. Mirrors §12's supplemented fallback table.
var fallbackModels = []ModelInfo{
	{ID: "claude-sonnet-4-20250514", Provider: "anthropic", ContextWindow: 200000, MaxOutputTokens: 8192, InputCostPerMTok: 3, OutputCostPerMTok: 15, SupportsTools: true, SupportsStreaming: true},
	{ID: "claude-opus-4-20250514", Provider: "anthropic", ContextWindow: 200000, MaxOutputTokens: 8192, InputCostPerMTok: 15, OutputCostPerMTok: 75, SupportsTools: true, SupportsStreaming: true},
	{ID: "claude-3-5-haiku-20241022", Provider: "anthropic", ContextWindow: 200000, MaxOutputTokens: 8192, InputCostPerMTok: 0.8, OutputCostPerMTok: 4, SupportsTools: true, SupportsStreaming: true},
	{ID: "gpt-4o", Provider: "openai", ContextWindow: 128000, MaxOutputTokens: 16384, InputCostPerMTok: 2.5, OutputCostPerMTok: 10, SupportsTools: true, SupportsStreaming: true},
	{ID: "gpt-4o-mini", Provider: "openai", ContextWindow: 128000, MaxOutputTokens: 16384, InputCostPerMTok: 0.15, OutputCostPerMTok: 0.6, SupportsTools: true, SupportsStreaming: true},
	{ID: "anthropic.claude-3-sonnet-20240229-v1:0", Provider: "bedrock", ContextWindow: 200000, MaxOutputTokens: 4096, SupportsTools: true, SupportsStreaming: true},
	{ID: "meta.llama3-70b-instruct-v1:0", Provider: "bedrock", ContextWindow: 8192, MaxOutputTokens: 2048, SupportsTools: false, SupportsStreaming: true},
}

type modelsDevModel struct {
	ID    string `json:"id"`
	Limit struct {
		Context int `json:"context"`
		Output  int `json:"output"`
	} `json:"limit"`
	Cost *struct {
		Input  float64 `json:"input"`
		Output float64 `json:"output"`
	} `json:"cost"`
}

type modelsDevProvider struct {
	Models map[string]modelsDevModel `json:"models"`
}

// Catalog resolves model metadata from a remote catalog (cached on disk),
// falling back to the compiled-in table when the fetch is disabled or
// fails. Safe for concurrent use.
type Catalog struct {
	httpClient *http.Client
	cachePath  string

	mu          sync.RWMutex
	byKey       map[string]ModelInfo // "provider::model" lowercased
	byModel     map[string]ModelInfo // "model" lowercased
	lastRefresh time.Time
}

// NewCatalog builds a catalog, loading any on-disk cache immediately. The
// caller should call Refresh (or rely on Resolve's lazy refresh) before
// relying on remote data; absent that, Resolve falls back to the
// compiled-in table.
func NewCatalog(cachePath string) *Catalog {
	if cachePath == "" {
		cachePath = resolveCachePath()
	}
	c := &Catalog{
		httpClient: &http.Client{Timeout: catalogRequestTimeout},
		cachePath:  cachePath,
		byKey:      make(map[string]ModelInfo),
		byModel:    make(map[string]ModelInfo),
	}
	c.loadCache()
	return c
}

// Resolve looks up metadata for (provider, model), refreshing the catalog
// if it is stale and fetches are enabled. Falls back to the compiled-in
// table when no catalog entry matches.
func (c *Catalog) Resolve(provider, model string) ModelInfo {
	c.refreshIfStale(false)

	key := providerModelKey(provider, model)
	c.mu.RLock()
	if entry, ok := c.byKey[key]; ok {
		c.mu.RUnlock()
		return entry
	}
	if entry, ok := c.byModel[normalizeKey(model)]; ok {
		c.mu.RUnlock()
		return entry
	}
	c.mu.RUnlock()

	for _, fb := range fallbackModels {
		if strings.EqualFold(fb.ID, model) {
			return fb
		}
	}
	return ModelInfo{ID: model, Provider: provider, ContextWindow: 8192, MaxOutputTokens: 4096}
}

// Refresh forces a catalog fetch regardless of staleness.
func (c *Catalog) Refresh() { c.refreshIfStale(true) }

func (c *Catalog) loadCache() {
	raw, err := os.ReadFile(c.cachePath)
	if err != nil {
		return
	}
	byKey, byModel, err := parseModelsDevJSON(raw)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.byKey, c.byModel = byKey, byModel
	c.lastRefresh = time.Now()
	c.mu.Unlock()
}

func (c *Catalog) refreshIfStale(force bool) {
	if modelsFetchDisabled() {
		return
	}

	c.mu.RLock()
	stale := force || time.Since(c.lastRefresh) >= catalogRefreshEvery
	c.mu.RUnlock()
	if !stale {
		return
	}

	c.mu.Lock()
	if !force && time.Since(c.lastRefresh) < catalogRefreshEvery {
		c.mu.Unlock()
		return
	}
	c.lastRefresh = time.Now()
	c.mu.Unlock()

	resp, err := c.httpClient.Get(modelsCatalogURL())
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	byKey, byModel, err := parseModelsDevJSON(raw)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.byKey, c.byModel = byKey, byModel
	c.mu.Unlock()

	c.writeCache(raw)
}

func (c *Catalog) writeCache(raw []byte) {
	dir := filepath.Dir(c.cachePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(c.cachePath, raw, 0o644)
}

func parseModelsDevJSON(raw []byte) (map[string]ModelInfo, map[string]ModelInfo, error) {
	var root map[string]modelsDevProvider
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, nil, fmt.Errorf("parse models.dev payload: %w", err)
	}

	byKey := make(map[string]ModelInfo)
	byModel := make(map[string]ModelInfo)

	for providerID, provider := range root {
		for modelKey, m := range provider.Models {
			if m.Limit.Context == 0 {
				continue
			}
			outputLimit := m.Limit.Output
			if outputLimit == 0 || outputLimit > catalogOutputTokensCap {
				outputLimit = catalogOutputTokensCap
			}
			entry := ModelInfo{
				ID:              modelKey,
				Provider:        providerID,
				ContextWindow:   m.Limit.Context,
				MaxOutputTokens: outputLimit,
				SupportsTools:   true,
				SupportsStreaming: true,
			}
			if m.Cost != nil {
				entry.InputCostPerMTok = m.Cost.Input
				entry.OutputCostPerMTok = m.Cost.Output
			}

			insertCatalogEntry(byKey, byModel, providerID, modelKey, entry)
			if m.ID != "" {
				insertCatalogEntry(byKey, byModel, providerID, m.ID, entry)
			}
		}
	}
	return byKey, byModel, nil
}

func insertCatalogEntry(byKey, byModel map[string]ModelInfo, providerID, modelID string, entry ModelInfo) {
	byKey[providerModelKey(providerID, modelID)] = entry
	normalized := normalizeKey(modelID)
	if _, exists := byModel[normalized]; !exists {
		byModel[normalized] = entry
	}
}

func providerModelKey(provider, model string) string {
	return normalizeKey(provider) + "::" + normalizeKey(model)
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func modelsCatalogURL() string {
	configured := strings.TrimSpace(os.Getenv("RESTFLOW_MODELS_URL"))
	if configured == "" {
		return defaultCatalogURL
	}
	if strings.HasSuffix(configured, ".json") {
		return configured
	}
	return strings.TrimRight(configured, "/") + "/api.json"
}

func modelsFetchDisabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("RESTFLOW_DISABLE_MODELS_FETCH"))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func resolveCachePath() string {
	if path := strings.TrimSpace(os.Getenv("RESTFLOW_MODELS_PATH")); path != "" {
		return path
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "restflow", "cache", "models.json")
}
