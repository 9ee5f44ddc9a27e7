// Package tiers defines the capability tiers a prompt can be routed to,
// the static per-tier model configuration and the score-to-tier mapping.
package tiers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ModelTier is a capability/cost bracket, ordered Cheap < Mid < Best
type ModelTier int

const (
	Cheap ModelTier = iota
	Mid
	Best
)

// All lists every tier in ascending order
var All = []ModelTier{Cheap, Mid, Best}

const (
	cheapMaxScore = 30
	midMaxScore   = 70
)

// String returns the lower-case wire name of the tier
func (t ModelTier) String() string {
	switch t {
	case Cheap:
		return "cheap"
	case Mid:
		return "mid"
	case Best:
		return "best"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Valid reports whether t is one of the three defined tiers
func (t ModelTier) Valid() bool {
	return t >= Cheap && t <= Best
}

// Next returns the tier one step up, saturating at Best
func (t ModelTier) Next() ModelTier {
	if t >= Best {
		return Best
	}
	return t + 1
}

// MarshalJSON encodes the tier by name
func (t ModelTier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tier name
func (t *ModelTier) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseTier(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalText lets tiers be used as map keys in yaml/toml/json documents
func (t ModelTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name
func (t *ModelTier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier parses "cheap", "mid" or "best" (case-insensitive)
func ParseTier(name string) (ModelTier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cheap":
		return Cheap, nil
	case "mid":
		return Mid, nil
	case "best":
		return Best, nil
	default:
		return Cheap, fmt.Errorf("unknown model tier %q", name)
	}
}

// MapScoreToTier maps a 0-100 score to a tier. Each band is inclusive on
// its lower bound: <=30 cheap, 31..70 mid, >=71 best.
func MapScoreToTier(score int) ModelTier {
	switch {
	case score <= cheapMaxScore:
		return Cheap
	case score <= midMaxScore:
		return Mid
	default:
		return Best
	}
}

// RouteMode selects between engine-chosen and caller-pinned tiers
type RouteMode string

const (
	RouteAuto  RouteMode = "auto"
	RouteForce RouteMode = "force"
)

// ParseRouteMode parses a route mode; the empty string means auto
func ParseRouteMode(mode string) (RouteMode, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", string(RouteAuto):
		return RouteAuto, nil
	case string(RouteForce):
		return RouteForce, nil
	default:
		return RouteAuto, fmt.Errorf("unknown route mode %q", mode)
	}
}
