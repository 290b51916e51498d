package domain

import (
	"encoding/json"
	"math"
)

// AssetMetadata is the off-chain metadata document a token URI points at.
// Produced only by the evolution pipeline; the ledger stores just its URI.
type AssetMetadata struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Image            string         `json:"image"`
	Attributes       []Attribute    `json:"attributes"`
	Version          int            `json:"version"`
	EvolutionType    Tier           `json:"evolutionType,omitempty"`
	LastUpdated      int64          `json:"lastUpdated"` // unix seconds
	EvolutionHistory []HistoryEntry `json:"evolutionHistory"`
}

// Attribute is one (trait, value) pair. Value is a JSON number or string.
type Attribute struct {
	TraitType   string `json:"trait_type"`
	Value       any    `json:"value"`
	DisplayType string `json:"display_type,omitempty"`
}

// HistoryEntry records one accepted evolution.
type HistoryEntry struct {
	Version   int     `json:"version"`
	Type      Tier    `json:"type"`
	Timestamp int64   `json:"timestamp"` // unix seconds
	Signals   Signals `json:"signals"`
}

// GenesisMetadata is the metadata assumed for a token that has no URI yet.
func GenesisMetadata(name string) *AssetMetadata {
	return &AssetMetadata{
		Name:             name,
		Version:          1,
		EvolutionType:    TierCommon,
		Attributes:       []Attribute{},
		EvolutionHistory: []HistoryEntry{},
	}
}

// Clone returns a deep copy. Attribute values are scalars so a shallow copy
// of each Attribute is sufficient.
func (m *AssetMetadata) Clone() *AssetMetadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Attributes = append([]Attribute(nil), m.Attributes...)
	c.EvolutionHistory = append([]HistoryEntry(nil), m.EvolutionHistory...)
	return &c
}

// EffectiveVersion returns Version, or a version derived from the history
// length when the document omits it.
func (m *AssetMetadata) EffectiveVersion() int {
	if m == nil {
		return 1
	}
	if m.Version >= 1 {
		return m.Version
	}
	return len(m.EvolutionHistory) + 1
}

// Attribute returns the attribute with the given trait type.
func (m *AssetMetadata) Attribute(trait string) (Attribute, bool) {
	if m == nil {
		return Attribute{}, false
	}
	for _, a := range m.Attributes {
		if a.TraitType == trait {
			return a, true
		}
	}
	return Attribute{}, false
}

// IntValue interprets the attribute value as an integer. Fractions are
// truncated and magnitudes beyond int32 saturate.
func (a Attribute) IntValue() (int, bool) {
	switch v := a.Value.(type) {
	case int:
		return clampInt(float64(v)), true
	case int64:
		return clampInt(float64(v)), true
	case float64:
		if math.IsNaN(v) {
			return 0, false
		}
		return clampInt(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return clampInt(f), true
	default:
		return 0, false
	}
}

func clampInt(v float64) int {
	switch {
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int(v)
}

// StringValue interprets the attribute value as a string.
func (a Attribute) StringValue() (string, bool) {
	s, ok := a.Value.(string)
	return s, ok
}

// DecodeMetadata parses a metadata document. Malformed attribute or history
// sections are tolerated by the pipeline through defaults, not here.
func DecodeMetadata(data []byte) (*AssetMetadata, error) {
	var m AssetMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Attributes == nil {
		m.Attributes = []Attribute{}
	}
	if m.EvolutionHistory == nil {
		m.EvolutionHistory = []HistoryEntry{}
	}
	return &m, nil
}
