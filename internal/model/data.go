package model

import (
	"fmt"
	"strconv"
)

// MetricValue is one extracted value. Value holds either a float64 or a
// string; values decoded from JSON keep the same two shapes.
type MetricValue struct {
	Value      interface{} `json:"value"`
	Unit       string      `json:"unit,omitempty"`
	SourceFile string      `json:"source_file,omitempty"`
}

// NumberValue builds a numeric MetricValue.
func NumberValue(v float64, unit, source string) MetricValue {
	return MetricValue{Value: v, Unit: unit, SourceFile: source}
}

// StringValue builds a string MetricValue.
func StringValue(v, unit, source string) MetricValue {
	return MetricValue{Value: v, Unit: unit, SourceFile: source}
}

// Float returns the numeric value if the metric holds a number.
func (m MetricValue) Float() (float64, bool) {
	switch v := m.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// IsNumber reports whether the metric holds a number.
func (m MetricValue) IsNumber() bool {
	_, ok := m.Float()
	return ok
}

// String renders the value the way it is exported to CSV and the index.
func (m MetricValue) String() string {
	if f, ok := m.Float(); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	if m.Value == nil {
		return ""
	}
	return fmt.Sprintf("%v", m.Value)
}
