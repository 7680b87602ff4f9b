package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("EVM_STRESS_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadExplicitMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Params.Mode = ModeDisplacement
	cfg.Params.FHigh = 4.5
	cfg.Processing.Workers = 3
	cfg.Output.TIFF = true

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	require.NoError(t, cfg.Save(path))

	t.Setenv("EVM_STRESS_CONFIG", path)
	got, err := Load("")
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"params":{"alpah":3}}`), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestParamsValidate(t *testing.T) {
	cases := map[string]func(p *Params){
		"band order":     func(p *Params) { p.FLow, p.FHigh = 3, 1 },
		"zero low":       func(p *Params) { p.FLow = 0 },
		"alpha":          func(p *Params) { p.Alpha = 0.5 },
		"filter order":   func(p *Params) { p.Order = 11 },
		"p_low range":    func(p *Params) { p.PLow = 60 },
		"p_high range":   func(p *Params) { p.PHigh = 40 },
		"opacity":        func(p *Params) { p.OverlayOpacity = 1.5 },
		"gain":           func(p *Params) { p.VisualGain = 0.05 },
		"mode":           func(p *Params) { p.Mode = "rainbow" },
		"colormap":       func(p *Params) { p.Colormap = " " },
		"negative limit": func(p *Params) { p.MaxFrames = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams()
			mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrConfig)
		})
	}

	p := DefaultParams()
	p.Mode = ModeDisplacement
	p.Colormap = ""
	assert.NoError(t, p.Validate(), "colormap is only needed for heatmaps")
}

func TestProcessingValidate(t *testing.T) {
	p := DefaultProcessing()
	p.SmoothingWindow = 4
	assert.ErrorIs(t, p.Validate(), ErrConfig)

	p = DefaultProcessing()
	p.PyramidLevels = 0
	assert.ErrorIs(t, p.Validate(), ErrConfig)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"heatmap": ModeHeatmap, " RMS ": ModeHeatmap, "video": ModeDisplacement} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("x")
	assert.ErrorIs(t, err, ErrConfig)
}
