package tiers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapScoreToTier_Boundaries(t *testing.T) {
	tests := []struct {
		score int
		want  ModelTier
	}{
		{0, Cheap},
		{30, Cheap},
		{31, Mid},
		{50, Mid},
		{70, Mid},
		{71, Best},
		{100, Best},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MapScoreToTier(tt.score), "score %d", tt.score)
	}
}

func TestMapScoreToTier_Monotonic(t *testing.T) {
	prev := MapScoreToTier(0)
	for s := 1; s <= 100; s++ {
		cur := MapScoreToTier(s)
		assert.GreaterOrEqual(t, int(cur), int(prev), "score %d", s)
		prev = cur
	}
}

func TestModelTier_Next(t *testing.T) {
	assert.Equal(t, Mid, Cheap.Next())
	assert.Equal(t, Best, Mid.Next())
	assert.Equal(t, Best, Best.Next())
	assert.True(t, Cheap < Mid && Mid < Best)
}

func TestModelTier_ParseAndJSON(t *testing.T) {
	for _, tier := range All {
		parsed, err := ParseTier(tier.String())
		require.NoError(t, err)
		assert.Equal(t, tier, parsed)
	}

	parsed, err := ParseTier(" BEST ")
	require.NoError(t, err)
	assert.Equal(t, Best, parsed)

	_, err = ParseTier("premium")
	assert.Error(t, err)

	data, err := json.Marshal(map[string]ModelTier{"tier": Mid})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tier":"mid"}`, string(data))

	var decoded struct {
		Tier ModelTier `json:"tier"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"tier":"best"}`), &decoded))
	assert.Equal(t, Best, decoded.Tier)
	assert.Error(t, json.Unmarshal([]byte(`{"tier":"gold"}`), &decoded))
}

func TestParseRouteMode(t *testing.T) {
	mode, err := ParseRouteMode("")
	require.NoError(t, err)
	assert.Equal(t, RouteAuto, mode)

	mode, err = ParseRouteMode("FORCE")
	require.NoError(t, err)
	assert.Equal(t, RouteForce, mode)

	_, err = ParseRouteMode("manual")
	assert.Error(t, err)
}

func TestTable_Defaults(t *testing.T) {
	table := MustDefaultTable()

	assert.Equal(t, "gpt-3.5-turbo", table.Model(Cheap))
	assert.Equal(t, "gpt-4", table.Model(Mid))
	assert.Equal(t, "gpt-4-turbo", table.Model(Best))
	assert.Equal(t, 128000, table.Get(Best).MaxTokens)

	tier, ok := table.TierForModel("gpt-4")
	assert.True(t, ok)
	assert.Equal(t, Mid, tier)

	_, ok = table.TierForModel("llama-3")
	assert.False(t, ok)

	assert.Equal(t, []string{"openai"}, table.Providers())
}

func TestTable_Cost(t *testing.T) {
	table := MustDefaultTable()

	// 1000 prompt @ 0.03 + 500 completion @ 0.06
	assert.InDelta(t, 0.06, table.Cost("gpt-4", 1000, 500), 1e-9)
	assert.InDelta(t, 0.00125, table.Cost("gpt-3.5-turbo", 1000, 500), 1e-9)
	assert.Equal(t, 0.0, table.Cost("unknown", 1000, 500))
}

func TestNewTable_Validation(t *testing.T) {
	t.Run("missing tier", func(t *testing.T) {
		cfgs := DefaultConfigs()
		delete(cfgs, Mid)
		_, err := NewTable(cfgs)
		assert.ErrorContains(t, err, "tier mid: missing configuration")
	})

	t.Run("duplicate model", func(t *testing.T) {
		cfgs := DefaultConfigs()
		best := cfgs[Best]
		best.Model = "gpt-4"
		cfgs[Best] = best
		_, err := NewTable(cfgs)
		assert.ErrorContains(t, err, "already used")
	})

	t.Run("empty provider and bad max tokens", func(t *testing.T) {
		cfgs := DefaultConfigs()
		cheap := cfgs[Cheap]
		cheap.Provider = ""
		cheap.MaxTokens = 0
		cfgs[Cheap] = cheap
		_, err := NewTable(cfgs)
		assert.ErrorContains(t, err, "provider is required")
		assert.ErrorContains(t, err, "max_tokens must be positive")
	})

	t.Run("configs copy is detached", func(t *testing.T) {
		table := MustDefaultTable()
		cfgs := table.Configs()
		cfgs[Cheap] = TierConfig{Model: "changed"}
		assert.Equal(t, "gpt-3.5-turbo", table.Model(Cheap))
	})
}
