package cli

import (
	"fmt"
	"text/tabwriter"

	"evm-stress/internal/alignment"
	"evm-stress/internal/video"

	"github.com/spf13/cobra"
)

func newStabilizeCmd(r *Root) *cobra.Command {
	var maxFrames int

	cmd := &cobra.Command{
		Use:   "stabilize <video>",
		Short: "Print per-frame stabilization diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clip, err := video.Decode(args[0], video.DecodeOptions{
				MaxFrames: maxFrames,
				MaxWidth:  r.cfg.Processing.MaxWidth,
				MaxHeight: r.cfg.Processing.MaxHeight,
				Log:       r.log,
			})
			if err != nil {
				return err
			}
			gray, err := clip.Stack.Gray(1.0 / 255)
			if err != nil {
				return err
			}

			opts := alignment.DefaultOptions()
			opts.Log = r.log
			_, rep, err := alignment.New(opts).Stabilize(gray, nil)
			if err != nil {
				return err
			}
			return printStabilization(r, rep)
		},
	}
	cmd.Flags().IntVar(&maxFrames, "max-frames", 100, "maximum frames to read (0 = all)")
	return cmd
}

func printStabilization(r *Root, rep *alignment.Report) error {
	fmt.Fprintf(r.stdout, "reference keypoints: %d\n", rep.RefKeypoints)
	if rep.Skipped {
		_, err := fmt.Fprintf(r.stdout, "stabilization skipped: %s\n", rep.SkipReason)
		return err
	}

	tw := tabwriter.NewWriter(r.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "frame\tkeypoints\tmatches\tinliers\tscale\trot(deg)\ttx\tty\tresidual\tstatus")
	for _, f := range rep.Frames {
		status := "ok"
		if f.Err != nil {
			status = f.Err.Error()
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%.4f\t%.3f\t%.2f\t%.2f\t%.3f\t%s\n",
			f.Index, f.Keypoints, f.Matches, f.Inliers,
			f.Transform.Scale(), f.Transform.Angle(), f.Transform.TX, f.Transform.TY,
			f.Residual, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(r.stdout, "%d of %d frames aligned\n", len(rep.Frames)-rep.Failures, len(rep.Frames))
	return err
}

func newSynthCmd(r *Root) *cobra.Command {
	o := video.DefaultSynth()

	cmd := &cobra.Command{
		Use:   "synth <output>",
		Short: "Write a synthetic test video with an oscillating square",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.Frames < 1 || o.Width < 8 || o.Height < 8 || o.Square < 1 || !(o.FPS > 0) {
				return fmt.Errorf("invalid synthetic clip %+v", o)
			}
			path, err := video.Encode(video.Synthetic(o), o.FPS, args[0], r.log)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(r.stdout, path)
			return err
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&o.Frames, "frames", o.Frames, "number of frames")
	fs.IntVar(&o.Width, "width", o.Width, "frame width")
	fs.IntVar(&o.Height, "height", o.Height, "frame height")
	fs.Float64Var(&o.FPS, "fps", o.FPS, "frame rate")
	fs.Float64Var(&o.Freq, "freq", o.Freq, "oscillation frequency, Hz")
	fs.Float64Var(&o.Amplitude, "amplitude", o.Amplitude, "oscillation amplitude, gray levels")
	fs.IntVar(&o.Square, "square", o.Square, "side of the oscillating square, pixels")
	fs.Int64Var(&o.Seed, "seed", o.Seed, "texture seed")
	return cmd
}
