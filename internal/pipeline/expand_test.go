package pipeline

import (
	"testing"

	"hawkeye-pipeline/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandTiming(t *testing.T) {
	tmpl := model.Keyword{
		Name:    "{mode}_{corner}_s_wns_{path_type}",
		Pattern: `{path_type_pattern}\s+([-\d.]+)`,
		Type:    model.TypeNumber,
	}
	defs := Expand(tmpl, model.Axes{Modes: []string{"func", "scan"}, Corners: []string{"ss"}})
	require.Len(t, defs, 10)

	first := defs[0]
	assert.Equal(t, "func_ss_s_wns_total", first.Name)
	assert.Equal(t, `Total\s+([-\d.]+)`, first.Pattern)
	assert.Equal(t, model.KindTiming, first.Kind)
	assert.Equal(t, "func", first.Mode)
	assert.Equal(t, "ss", first.Corner)
	assert.Equal(t, "reg->reg", defs[1].PathTypePattern)
	assert.Equal(t, "scan_ss_s_wns_in2out", defs[9].Name)

	for _, d := range defs {
		assert.False(t, d.HasPlaceholders(), d.Name)
		assert.False(t, model.HasPlaceholder(d.Pattern), d.Pattern)
	}
}

func TestExpandNoiseAndViolation(t *testing.T) {
	axes := model.Axes{Modes: []string{"func"}, Corners: []string{"ss", "ff"}}

	noise := Expand(model.Keyword{Name: "{mode}_{corner}_noise_{noise_type}_num", Pattern: "x"}, axes)
	require.Len(t, noise, 4)
	assert.Equal(t, "func_ss_noise_above_low_num", noise[0].Name)
	assert.Equal(t, "func_ss_noise_below_high_num", noise[1].Name)
	assert.Equal(t, model.KindNoise, noise[0].Kind)

	viol := Expand(model.Keyword{Name: "{mode}_{corner}_max_tran_num", Pattern: "x"}, axes)
	require.Len(t, viol, 2)
	assert.Equal(t, "func_ff_max_tran_num", viol[1].Name)
	assert.Equal(t, model.KindViolation, viol[1].Kind)
}

func TestExpandEmptyAxes(t *testing.T) {
	assert.Nil(t, Expand(model.Keyword{Name: "{mode}_x"}, model.Axes{Modes: []string{"func"}}))
}

func TestExpanderDefinitionsFor(t *testing.T) {
	cfg := loadTestConfig(t)
	e := NewExpander(cfg, nil)

	place := e.DefinitionsFor("apr", "place")
	require.Len(t, place, 3)
	assert.Equal(t, []string{"logs/place.log"}, place[0].Sources)
	assert.Equal(t, model.KindPlain, place[0].Kind)

	sta := e.DefinitionsFor("sta", "sta_pt")
	require.Len(t, sta, 5)
	assert.Equal(t, []string{"func/ss/timing.rpt"}, sta[0].Sources)

	// STA expansion only happens for jobs that run it
	assert.Empty(t, e.DefinitionsFor("apr", "sta_pt"))
	assert.Empty(t, e.DefinitionsFor("apr", "unknown"))
}

func TestExpanderDropsUnexpandedTemplates(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Sta.Modes = nil

	defs := NewExpander(cfg, nil).DefinitionsFor("sta", "sta_pt")
	assert.Empty(t, defs)
}
