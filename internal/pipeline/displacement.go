package pipeline

import (
	"context"
	"fmt"

	"evm-stress/internal/frames"
	"evm-stress/internal/progress"
	"evm-stress/internal/pyramid"
)

// runDisplacement magnifies the gray stack through a Laplacian pyramid and
// paints the strongest reconstructed displacements red.
func (p *Pipeline) runDisplacement(ctx context.Context, res *Result, gray *frames.Stack, report progress.Func) error {
	proc := p.cfg.Processing

	p.events.emit(EventStageStarted, StagePyramid)
	amp := pyramid.Amplifier{
		Levels:   proc.PyramidLevels,
		Window:   proc.SmoothingWindow,
		Alpha:    p.cfg.Params.Alpha,
		Bandpass: p.bandpass(res.FPS),
		Workers:  proc.Workers,
		Log:      p.log,
	}
	if eff := pyramid.EffectiveLevels(gray.Height, gray.Width, amp.Levels); eff < amp.Levels {
		p.warn(res, StagePyramid, fmt.Sprintf("frames too small for %d pyramid levels, using %d", amp.Levels, eff))
	}
	recon, err := amp.Run(gray, progress.Span(report, 0, 0.9))
	if err != nil {
		return fmt.Errorf("pyramid: %w", err)
	}
	p.events.emit(EventStageFinished, StagePyramid)
	if err := ctx.Err(); err != nil {
		return err
	}

	p.events.emit(EventStageStarted, StageDisplacement)
	out, err := pyramid.Displacement(recon, gray, pyramid.DefaultMaskPercentile)
	if err != nil {
		return err
	}
	res.Frames = out
	p.events.emit(EventStageFinished, StageDisplacement)
	report.Report(1)
	return nil
}
