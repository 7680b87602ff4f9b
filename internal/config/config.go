// Package config holds the flat processing record consumed by every pipeline stage,
// plus the run-level settings (logging, output, processing limits) around it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultConfigPath = "~/.config/evm-stress/config.json"

	// DefaultFPS replaces implausible frame rates reported by the decoder.
	DefaultFPS = 30.0
)

// ErrConfig marks configuration that makes the run meaningless. It is fatal and is
// always reported before any heavy computation starts.
var ErrConfig = errors.New("invalid configuration")

// Mode selects what the pipeline produces.
type Mode string

const (
	ModeHeatmap      Mode = "heatmap"
	ModeDisplacement Mode = "displacement"
)

// ParseMode accepts the canonical names and a few aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heatmap", "rms", "heatmap-rms":
		return ModeHeatmap, nil
	case "displacement", "video", "displacement-video":
		return ModeDisplacement, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q (want heatmap or displacement)", ErrConfig, s)
}

// Params is the flat configuration record. Stages receive it by value and never
// modify it.
type Params struct {
	MaxFrames           int     `json:"max_frames"` // 0 = read every frame
	EnableStabilization bool    `json:"enable_stabilization"`
	FLow                float64 `json:"f_low"`  // Hz
	FHigh               float64 `json:"f_high"` // Hz, must stay below fps/2
	Alpha               float64 `json:"alpha"`  // temporal gain, >= 1
	Order               int     `json:"order"`  // Butterworth order, 1-10
	PLow                int     `json:"p_low"`  // normalization percentiles
	PHigh               int     `json:"p_high"`
	Mode                Mode    `json:"mode"`
	Colormap            string  `json:"colormap"`
	OverlayOpacity      float64 `json:"overlay_opacity"` // 0-1
	VisualGain          float64 `json:"visual_gain"`     // 0.1-10
}

// Processing controls numerical and resource knobs that are not user sliders.
type Processing struct {
	Workers         int  `json:"workers"` // 0 = runtime.NumCPU()
	HalfPrecision   bool `json:"half_precision"`
	PyramidLevels   int  `json:"pyramid_levels"`
	SmoothingWindow int  `json:"smoothing_window"` // odd
	MaxWidth        int  `json:"max_width"`
	MaxHeight       int  `json:"max_height"`
	// CanonicalizeEigenvectors flips principal directions into the upper half plane.
	// Off by default: directions are reported exactly as the decomposition returns them.
	CanonicalizeEigenvectors bool `json:"canonicalize_eigenvectors"`
}

// Logging controls logging verbosity and format.
type Logging struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Output configures which artifacts are written and where.
type Output struct {
	Dir    string `json:"dir"`
	Figure bool   `json:"figure"` // heatmap figure with colorbar
	TIFF   bool   `json:"tiff"`   // 16-bit grayscale heatmap
}

// Config is the full on-disk configuration.
type Config struct {
	Params     Params     `json:"params"`
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Output     Output     `json:"output"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Params:     DefaultParams(),
		Processing: DefaultProcessing(),
		Logging:    Logging{Level: "info", Format: "text"},
		Output:     Output{Dir: "./output", Figure: true},
	}
}

// DefaultParams mirrors the defaults of the interactive controls.
func DefaultParams() Params {
	return Params{
		MaxFrames:           100,
		EnableStabilization: true,
		FLow:                0.5,
		FHigh:               3.0,
		Alpha:               20,
		Order:               5,
		PLow:                5,
		PHigh:               95,
		Mode:                ModeHeatmap,
		Colormap:            "inferno",
		OverlayOpacity:      0.5,
		VisualGain:          1.0,
	}
}

// DefaultProcessing returns the fixed pipeline constants.
func DefaultProcessing() Processing {
	return Processing{
		PyramidLevels:   4,
		SmoothingWindow: 5,
		MaxWidth:        640,
		MaxHeight:       360,
	}
}

// Validate checks every range that can be checked without knowing the frame rate.
// The Nyquist check happens once the decoder has reported the fps.
func (p Params) Validate() error {
	var errs []error
	if p.MaxFrames < 0 {
		errs = append(errs, fmt.Errorf("max_frames must be >= 0, got %d", p.MaxFrames))
	}
	if !(p.FLow > 0) || !(p.FHigh > p.FLow) {
		errs = append(errs, fmt.Errorf("need 0 < f_low < f_high, got f_low=%g f_high=%g", p.FLow, p.FHigh))
	}
	if !(p.Alpha >= 1) {
		errs = append(errs, fmt.Errorf("alpha must be >= 1, got %g", p.Alpha))
	}
	if p.Order < 1 || p.Order > 10 {
		errs = append(errs, fmt.Errorf("order must be in [1,10], got %d", p.Order))
	}
	if p.PLow < 0 || p.PLow > 50 {
		errs = append(errs, fmt.Errorf("p_low must be in [0,50], got %d", p.PLow))
	}
	if p.PHigh < 50 || p.PHigh > 100 {
		errs = append(errs, fmt.Errorf("p_high must be in [50,100], got %d", p.PHigh))
	}
	if p.PLow >= p.PHigh {
		errs = append(errs, fmt.Errorf("p_low must be below p_high, got %d >= %d", p.PLow, p.PHigh))
	}
	if p.Mode != ModeHeatmap && p.Mode != ModeDisplacement {
		errs = append(errs, fmt.Errorf("unknown mode %q", p.Mode))
	}
	if p.Mode == ModeHeatmap && strings.TrimSpace(p.Colormap) == "" {
		errs = append(errs, errors.New("colormap is required in heatmap mode"))
	}
	if p.OverlayOpacity < 0 || p.OverlayOpacity > 1 {
		errs = append(errs, fmt.Errorf("overlay_opacity must be in [0,1], got %g", p.OverlayOpacity))
	}
	if p.VisualGain < 0.1 || p.VisualGain > 10 {
		errs = append(errs, fmt.Errorf("visual_gain must be in [0.1,10], got %g", p.VisualGain))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks the processing constants.
func (p Processing) Validate() error {
	if p.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrConfig, p.Workers)
	}
	if p.PyramidLevels < 1 {
		return fmt.Errorf("%w: pyramid_levels must be >= 1, got %d", ErrConfig, p.PyramidLevels)
	}
	if p.SmoothingWindow < 1 || p.SmoothingWindow%2 == 0 {
		return fmt.Errorf("%w: smoothing_window must be a positive odd number, got %d", ErrConfig, p.SmoothingWindow)
	}
	if p.MaxWidth < 0 || p.MaxHeight < 0 {
		return fmt.Errorf("%w: max size must be non-negative, got %dx%d", ErrConfig, p.MaxWidth, p.MaxHeight)
	}
	return nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	return c.Processing.Validate()
}

// Load reads configuration from disk, falling back to defaults when the file is
// absent. The path comes from the argument, then EVM_STRESS_CONFIG, then the
// default location.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("EVM_STRESS_CONFIG")
	}
	explicit := path != ""
	if path == "" {
		path = defaultConfigPath
	}

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", expanded, err)
	}

	return cfg, nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	expanded, err := expandUser(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(expanded, append(data, '\n'), 0644)
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
