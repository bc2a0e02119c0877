package pipeline

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"hawkeye-pipeline/internal/model"
	"hawkeye-pipeline/pkg/utils"
)

// transformMatches turns regex matches in content into typed metric values
// for one definition. It returns nil when the definition found nothing.
func transformMatches(def model.MetricDefinition, re *regexp.Regexp, content, source string) map[string]model.MetricValue {
	unit := def.Unit
	switch def.ValueType() {
	case model.TypeCount:
		n := len(re.FindAllStringIndex(content, -1))
		return single(def.Name, model.NumberValue(float64(n), unit, source))

	case model.TypeNumber:
		raw, ok := lastCapture(re, content)
		if !ok {
			return nil
		}
		f, ok := utils.ParseNumber(raw)
		if !ok {
			return nil
		}
		return single(def.Name, model.NumberValue(f, unit, source))

	case model.TypeStatus:
		raw, ok := lastCapture(re, content)
		if !ok {
			return nil
		}
		return single(def.Name, model.StringValue(strings.ToUpper(strings.TrimSpace(raw)), unit, source))

	case model.TypeMultipleValues:
		return multipleValues(def, re, content, source)

	case model.TypeViolationWorst:
		return worstViolation(def, re, content, source)

	default:
		raw, ok := lastCapture(re, content)
		if !ok {
			return nil
		}
		return single(def.Name, model.StringValue(strings.TrimSpace(raw), unit, source))
	}
}

// lastCapture returns group 1 of the last match, or the whole match when
// the pattern has no groups.
func lastCapture(re *regexp.Regexp, content string) (string, bool) {
	all := re.FindAllStringSubmatch(content, -1)
	if len(all) == 0 {
		return "", false
	}
	m := all[len(all)-1]
	if len(m) > 1 {
		return m[1], true
	}
	return m[0], true
}

// multipleValues fans the groups of the last match out to name_<pair>
// metrics. Without matching pair names the values are kept as one string.
func multipleValues(def model.MetricDefinition, re *regexp.Regexp, content, source string) map[string]model.MetricValue {
	all := re.FindAllStringSubmatch(content, -1)
	if len(all) == 0 || len(all[len(all)-1]) < 2 {
		return nil
	}
	groups := all[len(all)-1][1:]
	values := make([]float64, 0, len(groups))
	for _, g := range groups {
		f, ok := utils.ParseNumber(g)
		if !ok {
			return nil
		}
		values = append(values, f)
	}

	names := strings.Fields(def.PairValue)
	if len(names) != len(values) {
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		return single(def.Name, model.StringValue(strings.Join(parts, " "), def.Unit, source))
	}
	out := make(map[string]model.MetricValue, len(names))
	for i, n := range names {
		out[def.Name+"_"+n] = model.NumberValue(values[i], def.Unit, source)
	}
	return out
}

// worstViolation keeps the match with the largest magnitude. A readable
// report without violations yields 0.
func worstViolation(def model.MetricDefinition, re *regexp.Regexp, content, source string) map[string]model.MetricValue {
	worst := 0.0
	for _, m := range re.FindAllStringSubmatch(content, -1) {
		raw := m[0]
		if len(m) > 1 {
			raw = m[1]
		}
		f, ok := utils.ParseNumber(raw)
		if !ok {
			continue
		}
		if math.Abs(f) > math.Abs(worst) {
			worst = f
		}
	}
	return single(def.Name, model.NumberValue(worst, def.Unit, source))
}

func single(name string, v model.MetricValue) map[string]model.MetricValue {
	return map[string]model.MetricValue{name: v}
}
