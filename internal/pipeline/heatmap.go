package pipeline

import (
	"context"
	"errors"
	"fmt"

	"evm-stress/internal/dsp"
	"evm-stress/internal/energy"
	"evm-stress/internal/frames"
	"evm-stress/internal/image"
	"evm-stress/internal/progress"
	"evm-stress/internal/tensor"
	"evm-stress/internal/workers"
)

// runHeatmap filters the gray stack, reduces the amplified signal to an RMS map,
// finds its principal tensors and composes the output video.
func (p *Pipeline) runHeatmap(ctx context.Context, res *Result, gray *frames.Stack, report progress.Func) error {
	params := p.cfg.Params
	proc := p.cfg.Processing

	p.events.emit(EventStageStarted, StageBandpass)
	filtered, err := p.bandpass(res.FPS).Apply(gray, progress.Span(report, 0, 0.55))
	if err != nil {
		return fmt.Errorf("bandpass: %w", err)
	}
	p.events.emit(EventStageFinished, StageBandpass)
	if err := ctx.Err(); err != nil {
		return err
	}

	p.events.emit(EventStageStarted, StageEnergy)
	prec := energy.PrecisionFor(proc.HalfPrecision)
	rms, err := energy.ComputeRMS(filtered.Scaled(float32(params.Alpha)), prec, proc.Workers)
	if err != nil {
		return fmt.Errorf("rms: %w", err)
	}
	res.RMS = energy.Stats(rms)
	p.log.Info("rms map", "alpha", params.Alpha, "precision", prec,
		"min", res.RMS.Min, "max", res.RMS.Max, "mean", res.RMS.Mean, "std", res.RMS.Std)

	res.Heatmap = rms.Scaled(params.VisualGain)
	hs := energy.Stats(res.Heatmap)
	p.log.Info("heatmap", "visual_gain", params.VisualGain,
		"min", hs.Min, "max", hs.Max, "mean", hs.Mean, "std", hs.Std)
	res.Normalized = energy.Normalize(res.Heatmap, float64(params.PLow), float64(params.PHigh))
	p.events.emit(EventStageFinished, StageEnergy)
	report.Report(0.6)

	p.events.emit(EventStageStarted, StageTensor)
	res.Tensors, err = tensor.Analyze(res.Heatmap, tensor.Options{
		Workers:      proc.Workers,
		Canonicalize: proc.CanonicalizeEigenvectors,
	})
	if err != nil {
		return fmt.Errorf("tensor analysis: %w", err)
	}
	res.Points = tensor.Significant(res.Tensors, tensor.DefaultSelection())
	res.Glyphs = tensor.Glyphs(res.Points, gray.Height, gray.Width)
	if crit, ok := res.Points.CriticalPoint(); ok {
		res.DominantHz, _ = dsp.DominantFrequency(filtered.Series(crit.Y, crit.X, 0, nil), res.FPS)
		p.log.Info("critical point", "x", crit.X, "y", crit.Y, "magnitude", crit.Magnitude,
			"dominant_hz", res.DominantHz, "points", len(res.Points.Points), "candidates", res.Points.Candidates)
	} else {
		p.warn(res, StageTensor, "heat map is flat, no significant points")
	}
	p.events.emit(EventStageFinished, StageTensor)
	report.Report(0.65)
	if err := ctx.Err(); err != nil {
		return err
	}

	p.events.emit(EventStageStarted, StageCompose)
	mask, err := image.PointMask(res.Points.Points, gray.Height, gray.Width)
	if err != nil {
		return fmt.Errorf("point mask: %w", err)
	}
	mags := res.Tensors.Magnitudes()
	heat := mags.Scaled(1 / (mags.Max() + 1e-8))

	res.Frames = frames.NewStack(gray.Len(), gray.Height, gray.Width, 3)
	errs := make([]error, gray.Len())
	workers.Each(gray.Len(), proc.Workers, progress.Span(report, 0.65, 1), func(t int) {
		errs[t] = p.composeFrame(res, t, gray.Frames[t], filtered.Frames[t], mask, heat)
	})
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("compose: %w", err)
	}
	p.events.emit(EventStageFinished, StageCompose)
	return nil
}

// composeFrame amplifies the filtered signal at the significant points, blends
// the eigenvalue map over it and draws the glyphs.
func (p *Pipeline) composeFrame(res *Result, t int, gray, filtered []float32, mask, heat *frames.Field) error {
	base, err := image.AmplifyAtPoints(gray, filtered, mask, p.cfg.Params.Alpha)
	if err != nil {
		return fmt.Errorf("frame %d: %w", t, err)
	}
	defer base.Close()

	out, err := image.Overlay(base, heat, p.colormap, p.cfg.Params.OverlayOpacity)
	if err != nil {
		return fmt.Errorf("frame %d: %w", t, err)
	}
	defer out.Close()
	image.DrawGlyphs(&out, res.Glyphs)

	data, _, _, _, err := frames.MatToFrame(out)
	if err != nil {
		return fmt.Errorf("frame %d: %w", t, err)
	}
	copy(res.Frames.Frames[t], data)
	return nil
}
