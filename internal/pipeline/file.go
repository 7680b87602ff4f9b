package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"evm-stress/internal/config"
	"evm-stress/internal/energy"
	"evm-stress/internal/report"
	"evm-stress/internal/version"
	"evm-stress/internal/video"
)

// Manifest is the JSON summary written next to the artifacts.
type Manifest struct {
	RunID         string                `json:"run_id"`
	Version       string                `json:"version"`
	CreatedAt     time.Time             `json:"created_at"`
	Input         string                `json:"input,omitempty"`
	Mode          config.Mode           `json:"mode"`
	FPS           float64               `json:"fps"`
	Frames        int                   `json:"frames"`
	Width         int                   `json:"width"`
	Height        int                   `json:"height"`
	Params        config.Params         `json:"params"`
	Stabilization *StabilizationSummary `json:"stabilization,omitempty"`
	RMS           *energy.Summary       `json:"rms,omitempty"`
	Critical      *CriticalPoint        `json:"critical_point,omitempty"`
	Points        int                   `json:"significant_points"`
	Warnings      []Warning             `json:"warnings"`
	Artifacts     map[string]string     `json:"artifacts"`
}

// StabilizationSummary condenses alignment.Report.
type StabilizationSummary struct {
	Enabled      bool   `json:"enabled"`
	Skipped      bool   `json:"skipped"`
	SkipReason   string `json:"skip_reason,omitempty"`
	RefKeypoints int    `json:"ref_keypoints"`
	Aligned      int    `json:"aligned"`
	Failures     int    `json:"failures"`
}

// CriticalPoint is the pixel with the largest principal eigenvalue.
type CriticalPoint struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Magnitude  float64 `json:"magnitude"`
	DominantHz float64 `json:"dominant_hz"`
}

// Manifest summarizes the result for report.json.
func (r *Result) Manifest(input string, params config.Params) Manifest {
	m := Manifest{
		RunID:     r.RunID,
		Version:   version.String(),
		CreatedAt: time.Now().UTC(),
		Input:     input,
		Mode:      r.Mode,
		FPS:       r.FPS,
		Params:    params,
		Points:    len(r.Points.Points),
		Warnings:  r.Warnings,
		Artifacts: map[string]string{},
	}
	if m.Warnings == nil {
		m.Warnings = []Warning{}
	}
	if r.Frames != nil {
		m.Frames, m.Width, m.Height = r.Frames.Len(), r.Frames.Width, r.Frames.Height
	}
	if s := r.Stabilization; s != nil {
		m.Stabilization = &StabilizationSummary{
			Enabled:      s.Enabled,
			Skipped:      s.Skipped,
			SkipReason:   s.SkipReason,
			RefKeypoints: s.RefKeypoints,
			Aligned:      len(s.Frames) - s.Failures,
			Failures:     s.Failures,
		}
	}
	if r.Heatmap != nil {
		rms := r.RMS
		m.RMS = &rms
	}
	if c, ok := r.Points.CriticalPoint(); ok {
		m.Critical = &CriticalPoint{X: c.X, Y: c.Y, Magnitude: c.Magnitude, DominantHz: r.DominantHz}
	}
	for _, a := range r.Artifacts {
		m.Artifacts[a.Kind] = a.Path
	}
	return m
}

// ProcessFile decodes the video at path, runs the pipeline and writes every
// artifact into outDir.
func (p *Pipeline) ProcessFile(ctx context.Context, path, outDir string) (*Result, error) {
	p.events.emit(EventStageStarted, StageDecode)
	clip, err := video.Decode(path, p.decodeOptions())
	if err != nil {
		return nil, err
	}
	return p.process(ctx, clip, path, outDir)
}

// ProcessReader is ProcessFile for an uploaded byte stream. ext is the container
// extension of the upload.
func (p *Pipeline) ProcessReader(ctx context.Context, r io.Reader, ext, outDir string) (*Result, error) {
	p.events.emit(EventStageStarted, StageDecode)
	clip, err := video.DecodeReader(r, ext, p.decodeOptions())
	if err != nil {
		return nil, err
	}
	return p.process(ctx, clip, "", outDir)
}

func (p *Pipeline) decodeOptions() video.DecodeOptions {
	return video.DecodeOptions{
		MaxFrames: p.cfg.Params.MaxFrames,
		MaxWidth:  p.cfg.Processing.MaxWidth,
		MaxHeight: p.cfg.Processing.MaxHeight,
		CheckFPS:  p.Check,
		Log:       p.log,
	}
}

func (p *Pipeline) process(ctx context.Context, clip *video.Clip, input, outDir string) (*Result, error) {
	p.events.emit(EventStageFinished, StageDecode)

	res, err := p.Run(ctx, clip.Stack, clip.FPS)
	if err != nil {
		return nil, err
	}
	decodeWarnings := make([]Warning, 0, len(clip.Warnings))
	for _, msg := range clip.Warnings {
		w := Warning{Stage: StageDecode, Message: msg}
		decodeWarnings = append(decodeWarnings, w)
		p.events.emit(EventWarning, w)
	}
	res.Warnings = append(decodeWarnings, res.Warnings...)

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	p.events.emit(EventStageStarted, StageEncode)
	out, err := video.Encode(res.Frames, res.FPS, filepath.Join(outDir, video.DefaultOutputName), p.log)
	if err != nil {
		return nil, err
	}
	p.artifact(res, "video", out)
	p.events.emit(EventStageFinished, StageEncode)

	p.events.emit(EventStageStarted, StageReport)
	if res.Mode == config.ModeHeatmap {
		w := &report.Writer{
			Dir:      outDir,
			Colormap: p.colormap,
			Figure:   p.cfg.Output.Figure,
			TIFF:     p.cfg.Output.TIFF,
			Log:      p.log,
		}
		arts, err := w.WriteHeatmap(res.Heatmap, res.Normalized)
		if err != nil {
			return nil, err
		}
		for _, kind := range []string{"png", "csv", "tiff", "figure"} {
			if path, ok := arts[kind]; ok {
				p.artifact(res, kind, path)
			}
		}
	}

	summary := filepath.Join(outDir, report.SummaryName)
	p.artifact(res, "report", summary)
	if err := report.WriteJSON(summary, res.Manifest(input, p.cfg.Params)); err != nil {
		return nil, err
	}
	p.events.emit(EventStageFinished, StageReport)
	return res, nil
}

func (p *Pipeline) artifact(res *Result, kind, path string) {
	a := Artifact{Kind: kind, Path: path}
	res.Artifacts = append(res.Artifacts, a)
	p.events.emit(EventArtifact, a)
}
