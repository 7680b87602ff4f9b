package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"evm-stress/internal/config"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the command line against a fresh config file in a temp dir.
func run(t *testing.T, cfg *config.Config, args ...string) (string, string, error) {
	t.Helper()
	return runStdin(t, cfg, nil, args...)
}

// runStdin is run with stdin served from in.
func runStdin(t *testing.T, cfg *config.Config, in io.Reader, args ...string) (string, string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, cfg.Save(path))

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd(&stdout, &stderr)
	if in != nil {
		cmd.SetIn(in)
	}
	cmd.SetArgs(append([]string{"--config", path}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, config.Default(), "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "evm-stress "))
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Params.Alpha = 7
	cfg.Params.Colormap = "turbo"
	cfg.Processing.HalfPrecision = true

	out, _, err := run(t, cfg, "config")
	require.NoError(t, err)

	var got config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	if diff := cmp.Diff(*cfg, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLogLevelOverride(t *testing.T) {
	_, _, err := run(t, config.Default(), "--log-level", "debug", "--log-format", "json", "version")
	require.NoError(t, err)
}

func TestParamFlagsApplyOnlyChanged(t *testing.T) {
	var flags paramFlags
	fs := pflag.NewFlagSet("process", pflag.ContinueOnError)
	flags.register(fs)
	require.NoError(t, fs.Parse([]string{"--alpha", "3", "--mode", "video", "--no-stabilize", "--tiff"}))

	cfg := config.Default()
	cfg.Params.FLow = 0.8
	require.NoError(t, flags.apply(fs, cfg))

	assert.Equal(t, 3.0, cfg.Params.Alpha)
	assert.Equal(t, config.ModeDisplacement, cfg.Params.Mode)
	assert.False(t, cfg.Params.EnableStabilization)
	assert.True(t, cfg.Output.TIFF)
	assert.Equal(t, 0.8, cfg.Params.FLow, "unset flags keep the config value")
	assert.Equal(t, config.DefaultParams().Order, cfg.Params.Order)

	var bad paramFlags
	bfs := pflag.NewFlagSet("process", pflag.ContinueOnError)
	bad.register(bfs)
	require.NoError(t, bfs.Parse([]string{"--mode", "hologram"}))
	assert.ErrorIs(t, bad.apply(bfs, cfg), config.ErrConfig)
}

func TestSynthAndProcess(t *testing.T) {
	dir := t.TempDir()
	out, _, err := run(t, config.Default(), "synth", filepath.Join(dir, "clip.avi"),
		"--frames", "30", "--width", "48", "--height", "32", "--square", "12")
	require.NoError(t, err)
	clip := strings.TrimSpace(out)
	assert.Equal(t, filepath.Join(dir, "clip.avi"), clip)

	out, _, err = run(t, config.Default(), "process", clip, "-o", filepath.Join(dir, "out"),
		"--no-progress", "--no-stabilize", "--figure=false", "--f-low", "1", "--f-high", "3", "--order", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "heatmap mode, 30 frames")
	assert.Contains(t, out, filepath.Join(dir, "out", "heatmap_rms.csv"))
	assert.Contains(t, out, filepath.Join(dir, "out", "report.json"))
}

func TestProcessStdin(t *testing.T) {
	dir := t.TempDir()
	out, _, err := run(t, config.Default(), "synth", filepath.Join(dir, "clip.avi"),
		"--frames", "30", "--width", "48", "--height", "32", "--square", "12")
	require.NoError(t, err)
	data, err := os.ReadFile(strings.TrimSpace(out))
	require.NoError(t, err)

	outDir := filepath.Join(dir, "stdin")
	out, _, err = runStdin(t, config.Default(), bytes.NewReader(data), "process", "-", "--ext", "avi",
		"-o", outDir, "--no-progress", "--no-stabilize", "--figure=false", "--f-low", "1", "--f-high", "3", "--order", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "heatmap mode, 30 frames")
	assert.FileExists(t, filepath.Join(outDir, "report.json"))
	assert.FileExists(t, filepath.Join(outDir, "heatmap_rms.png"))

	var manifest map[string]any
	raw, err := os.ReadFile(filepath.Join(outDir, "report.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &manifest))
	assert.NotContains(t, manifest, "input", "stdin runs have no input path")

	_, _, err = runStdin(t, config.Default(), strings.NewReader("garbage"), "process", "-", "--ext", ".avi",
		"-o", outDir, "--no-progress")
	assert.Error(t, err)
}

func TestProcessNyquist(t *testing.T) {
	dir := t.TempDir()
	out, _, err := run(t, config.Default(), "synth", filepath.Join(dir, "clip.avi"),
		"--frames", "10", "--width", "32", "--height", "32", "--square", "8")
	require.NoError(t, err)

	_, _, err = run(t, config.Default(), "process", strings.TrimSpace(out), "--no-progress", "--f-high", "16", "--f-low", "1")
	assert.ErrorIs(t, err, config.ErrConfig)
	assert.Contains(t, err.Error(), "Nyquist")
}

func TestStabilizeDiagnostics(t *testing.T) {
	dir := t.TempDir()
	out, _, err := run(t, config.Default(), "synth", filepath.Join(dir, "clip.avi"),
		"--frames", "5", "--width", "96", "--height", "64")
	require.NoError(t, err)

	out, _, err = run(t, config.Default(), "stabilize", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Contains(t, out, "reference keypoints:")
}
