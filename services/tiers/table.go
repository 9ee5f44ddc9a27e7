package tiers

import (
	"errors"
	"fmt"
	"sort"
)

// TierConfig is the static configuration of one tier
type TierConfig struct {
	Model           string  `json:"model" yaml:"model" toml:"model"`
	Provider        string  `json:"provider" yaml:"provider" toml:"provider"`
	InputCostPer1K  float64 `json:"input_cost_per_1k" yaml:"input_cost_per_1k" toml:"input_cost_per_1k"`
	OutputCostPer1K float64 `json:"output_cost_per_1k" yaml:"output_cost_per_1k" toml:"output_cost_per_1k"`
	MaxTokens       int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
}

// Cost returns the dollar cost of a token split at this tier's pricing
func (c TierConfig) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*c.InputCostPer1K + float64(completionTokens)/1000*c.OutputCostPer1K
}

// DefaultConfigs returns the built-in tier configuration
func DefaultConfigs() map[ModelTier]TierConfig {
	return map[ModelTier]TierConfig{
		Cheap: {
			Model:           "gpt-3.5-turbo",
			Provider:        "openai",
			InputCostPer1K:  0.0005,
			OutputCostPer1K: 0.0015,
			MaxTokens:       4096,
		},
		Mid: {
			Model:           "gpt-4",
			Provider:        "openai",
			InputCostPer1K:  0.03,
			OutputCostPer1K: 0.06,
			MaxTokens:       8192,
		},
		Best: {
			Model:           "gpt-4-turbo",
			Provider:        "openai",
			InputCostPer1K:  0.01,
			OutputCostPer1K: 0.03,
			MaxTokens:       128000,
		},
	}
}

// Table is the read-only tier lookup built once at startup. It is keyed by
// tier and reverse-lookupable by model identifier.
type Table struct {
	byTier  map[ModelTier]TierConfig
	byModel map[string]ModelTier
}

// NewTable validates configs and builds the lookup table. Every tier must
// be present with a model and provider; model identifiers must be unique.
func NewTable(configs map[ModelTier]TierConfig) (*Table, error) {
	t := &Table{
		byTier:  make(map[ModelTier]TierConfig, len(All)),
		byModel: make(map[string]ModelTier, len(All)),
	}

	var errs []error
	for _, tier := range All {
		cfg, ok := configs[tier]
		if !ok {
			errs = append(errs, fmt.Errorf("tier %s: missing configuration", tier))
			continue
		}
		if cfg.Model == "" {
			errs = append(errs, fmt.Errorf("tier %s: model is required", tier))
		}
		if cfg.Provider == "" {
			errs = append(errs, fmt.Errorf("tier %s: provider is required", tier))
		}
		if cfg.InputCostPer1K < 0 || cfg.OutputCostPer1K < 0 {
			errs = append(errs, fmt.Errorf("tier %s: costs must be non-negative", tier))
		}
		if cfg.MaxTokens <= 0 {
			errs = append(errs, fmt.Errorf("tier %s: max_tokens must be positive", tier))
		}
		if other, dup := t.byModel[cfg.Model]; dup && cfg.Model != "" {
			errs = append(errs, fmt.Errorf("tier %s: model %q already used by tier %s", tier, cfg.Model, other))
		}

		t.byTier[tier] = cfg
		t.byModel[cfg.Model] = tier
	}
	for tier := range configs {
		if !tier.Valid() {
			errs = append(errs, fmt.Errorf("unknown tier %d", int(tier)))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

// MustDefaultTable builds the table from DefaultConfigs
func MustDefaultTable() *Table {
	t, err := NewTable(DefaultConfigs())
	if err != nil {
		panic(err)
	}
	return t
}

// Get returns the configuration of a tier
func (t *Table) Get(tier ModelTier) TierConfig {
	return t.byTier[tier]
}

// Model returns the model identifier of a tier
func (t *Table) Model(tier ModelTier) string {
	return t.byTier[tier].Model
}

// TierForModel reverse-looks-up a model identifier
func (t *Table) TierForModel(model string) (ModelTier, bool) {
	tier, ok := t.byModel[model]
	return tier, ok
}

// Pricing returns the configuration owning a model identifier
func (t *Table) Pricing(model string) (TierConfig, bool) {
	tier, ok := t.byModel[model]
	if !ok {
		return TierConfig{}, false
	}
	return t.byTier[tier], true
}

// Cost prices a call by model identifier; unknown models cost zero
func (t *Table) Cost(model string, promptTokens, completionTokens int) float64 {
	cfg, ok := t.Pricing(model)
	if !ok {
		return 0
	}
	return cfg.Cost(promptTokens, completionTokens)
}

// Providers returns the distinct provider tags referenced by the table
func (t *Table) Providers() []string {
	seen := make(map[string]struct{})
	for _, cfg := range t.byTier {
		seen[cfg.Provider] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Configs returns a copy of the per-tier configuration
func (t *Table) Configs() map[ModelTier]TierConfig {
	out := make(map[ModelTier]TierConfig, len(t.byTier))
	for k, v := range t.byTier {
		out[k] = v
	}
	return out
}
