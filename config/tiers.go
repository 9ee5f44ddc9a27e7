package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/nandth/model-router-ai/services/tiers"
)

// TierFile is the on-disk tier override document, keyed by tier name:
//
//	cheap:
//	  model: gpt-4o-mini
//	  provider: openai
//	  input_cost_per_1k: 0.00015
//	  output_cost_per_1k: 0.0006
//	  max_tokens: 16384
//
// Tiers absent from the file keep their defaults.
type TierFile map[string]tiers.TierConfig

// LoadTierTable builds the tier table from defaults, overridden by path
// when it is not empty. The format follows the extension: .yaml/.yml or
// .toml.
func LoadTierTable(path string) (*tiers.Table, error) {
	configs := tiers.DefaultConfigs()
	if path == "" {
		return tiers.NewTable(configs)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tier file: %w", err)
	}

	file, err := ParseTierFile(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse tier file %s: %w", path, err)
	}

	for name, cfg := range file {
		tier, err := tiers.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("tier file %s: %w", path, err)
		}
		configs[tier] = cfg
	}
	return tiers.NewTable(configs)
}

// ParseTierFile decodes a tier document by extension
func ParseTierFile(data []byte, ext string) (TierFile, error) {
	file := TierFile{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, err
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &file); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported tier file extension %q", ext)
	}
	return file, nil
}
