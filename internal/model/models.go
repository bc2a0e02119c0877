package model

import "strings"

// Keyword is a metric template as declared in configuration. Its name and
// pattern may carry placeholders that are resolved by expansion.
type Keyword struct {
	Name        string `yaml:"name" json:"name"`
	Pattern     string `yaml:"pattern" json:"pattern"`
	Type        string `yaml:"type,omitempty" json:"type,omitempty"` // number, string, status, count, multiple_values, sta_violation_worst
	Unit        string `yaml:"unit,omitempty" json:"unit,omitempty"`
	Group       string `yaml:"group,omitempty" json:"group,omitempty"`
	FileName    string `yaml:"file_name,omitempty" json:"file_name,omitempty"`
	PairValue   string `yaml:"pair_value,omitempty" json:"pair_value,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Keyword types understood by the report extractor
const (
	TypeNumber         = "number"
	TypeString         = "string"
	TypeStatus         = "status"
	TypeCount          = "count"
	TypeMultipleValues = "multiple_values"
	TypeViolationWorst = "sta_violation_worst"
)

// ValueType returns the declared type, defaulting to string.
func (k Keyword) ValueType() string {
	if k.Type == "" {
		return TypeString
	}
	return strings.ToLower(k.Type)
}

// HasPlaceholders reports whether the name still contains a {...} token.
func (k Keyword) HasPlaceholders() bool {
	return HasPlaceholder(k.Name)
}

// HasPlaceholder reports whether s contains an unresolved {...} token.
func HasPlaceholder(s string) bool {
	open := strings.IndexByte(s, '{')
	return open >= 0 && strings.IndexByte(s[open:], '}') > 0
}

// Definition kinds
const (
	KindPlain     = "plain"
	KindTiming    = "timing"
	KindNoise     = "noise"
	KindViolation = "violation"
)

// MetricDefinition is a concrete, placeholder-free metric derived from a
// Keyword. Axis values are kept as attributes next to the resolved name.
type MetricDefinition struct {
	Keyword
	Kind            string   `json:"kind"`
	Mode            string   `json:"mode,omitempty"`
	Corner          string   `json:"corner,omitempty"`
	PathType        string   `json:"path_type,omitempty"`
	PathTypePattern string   `json:"path_type_pattern,omitempty"`
	NoiseType       string   `json:"noise_type,omitempty"`
	Sources         []string `json:"sources,omitempty"`
}

// Axes are the expansion dimensions declared under sta_config.
type Axes struct {
	Modes   []string `json:"modes"`
	Corners []string `json:"corners"`
}

// Empty reports whether either axis has no values.
func (a Axes) Empty() bool {
	return len(a.Modes) == 0 || len(a.Corners) == 0
}
