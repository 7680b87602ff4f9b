// Package pipeline chains the processing stages: grayscale conversion, optional
// stabilization, then either the RMS heatmap path or the pyramid displacement path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"evm-stress/internal/alignment"
	"evm-stress/internal/config"
	"evm-stress/internal/dsp"
	"evm-stress/internal/energy"
	"evm-stress/internal/frames"
	"evm-stress/internal/image"
	"evm-stress/internal/logging"
	"evm-stress/internal/progress"
	"evm-stress/internal/tensor"

	"github.com/google/uuid"
)

// Warning reports a stage that completed in a degraded way.
type Warning struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

func (w Warning) String() string { return string(w.Stage) + ": " + w.Message }

// Result is everything a run produces. Heatmap-only fields are nil in displacement
// mode.
type Result struct {
	RunID  string
	Mode   config.Mode
	FPS    float64
	Frames *frames.Stack // output video, BGR 0-255

	Stabilization *alignment.Report

	// Heatmap mode
	RMS        energy.Summary // of the amplified RMS map
	Heatmap    *frames.Field  // RMS map times visual gain
	Normalized *frames.Field  // percentile-normalized heatmap in [0,1]
	Tensors    *tensor.Field
	Points     tensor.PointSet
	Glyphs     []tensor.Glyph
	DominantHz float64 // strongest frequency at the critical point

	Warnings  []Warning
	Artifacts []Artifact
}

// Pipeline runs the stage chain for one configuration. It holds no per-run
// state and may be reused.
type Pipeline struct {
	cfg      config.Config
	colormap *image.Colormap
	log      *slog.Logger
	progress progress.Func
	events   events
}

// New validates cfg and returns a pipeline. Configuration errors wrap
// config.ErrConfig.
func New(cfg *config.Config, log *slog.Logger) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: *cfg, log: logging.OrDiscard(log)}
	if cfg.Params.Mode == config.ModeHeatmap {
		cm, err := image.Lookup(cfg.Params.Colormap)
		if err != nil {
			return nil, err
		}
		p.colormap = cm
	}
	return p, nil
}

// OnProgress sets the completion side-channel. Updates are monotonic.
func (p *Pipeline) OnProgress(f progress.Func) {
	p.progress = progress.Monotonic(f)
}

// On registers a listener for pipeline events.
func (p *Pipeline) On(event EventType, listener EventListener) {
	p.events.on(event, listener)
}

// Config returns a copy of the configuration in use.
func (p *Pipeline) Config() config.Config { return p.cfg }

func (p *Pipeline) filterSpec() dsp.FilterSpec {
	return dsp.FilterSpec{Low: p.cfg.Params.FLow, High: p.cfg.Params.FHigh, Order: p.cfg.Params.Order}
}

// Check validates the band against the sample rate. It is the first thing Run
// does so an impossible band fails before any frame is touched.
func (p *Pipeline) Check(fps float64) error {
	return p.filterSpec().Validate(fps)
}

// Run processes a decoded BGR (or gray) stack with values in 0-255 sampled at fps.
// Context cancellation is honored between stages.
func (p *Pipeline) Run(ctx context.Context, stack *frames.Stack, fps float64) (*Result, error) {
	if err := p.Check(fps); err != nil {
		return nil, err
	}
	if err := stack.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline input: %w", err)
	}

	res := &Result{RunID: uuid.NewString(), Mode: p.cfg.Params.Mode, FPS: fps}
	p.log.Info("pipeline started", "run", res.RunID, "mode", res.Mode, "frames", stack.Len(),
		"width", stack.Width, "height", stack.Height, "fps", fps)

	gray, err := stack.Gray(1.0 / 255)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gray, err = p.stabilize(res, gray, progress.Span(p.progress, 0, 0.2))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rest := progress.Span(p.progress, 0.2, 1)
	switch res.Mode {
	case config.ModeDisplacement:
		err = p.runDisplacement(ctx, res, gray, rest)
	default:
		err = p.runHeatmap(ctx, res, gray, rest)
	}
	if err != nil {
		return nil, err
	}
	p.progress.Report(1)
	p.log.Info("pipeline finished", "run", res.RunID, "warnings", len(res.Warnings))
	return res, nil
}

func (p *Pipeline) stabilize(res *Result, gray *frames.Stack, report progress.Func) (*frames.Stack, error) {
	p.events.emit(EventStageStarted, StageStabilize)
	opts := alignment.DefaultOptions()
	opts.Enabled = p.cfg.Params.EnableStabilization
	opts.Log = p.log

	out, rep, err := alignment.New(opts).Stabilize(gray, report)
	if err != nil {
		return nil, fmt.Errorf("stabilize: %w", err)
	}
	res.Stabilization = rep
	if rep.Skipped {
		p.warn(res, StageStabilize, rep.SkipReason)
	}
	if rep.Failures > 0 {
		p.warn(res, StageStabilize, fmt.Sprintf("%d of %d frames could not be aligned and were left unchanged",
			rep.Failures, len(rep.Frames)))
	}
	p.events.emit(EventStageFinished, StageStabilize)
	return out, nil
}

func (p *Pipeline) bandpass(fps float64) dsp.Bandpass {
	return dsp.Bandpass{Spec: p.filterSpec(), FS: fps, Workers: p.cfg.Processing.Workers, Log: p.log}
}

func (p *Pipeline) warn(res *Result, stage Stage, msg string) {
	w := Warning{Stage: stage, Message: msg}
	res.Warnings = append(res.Warnings, w)
	p.log.Warn("degraded stage", "stage", stage, "msg", msg)
	p.events.emit(EventWarning, w)
}
