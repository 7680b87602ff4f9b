// Command stabtest stabilizes a video, prints per-frame results and writes the
// stabilized frames next to the input for visual inspection.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"evm-stress/internal/alignment"
	"evm-stress/internal/frames"
	"evm-stress/internal/logging"
	"evm-stress/internal/video"
)

func main() {
	input := flag.String("i", "", "Path to input video")
	output := flag.String("o", "", "Path to stabilized output (default <input>_stab.avi)")
	maxFrames := flag.Int("n", 100, "Maximum frames to read (0 = all)")
	minMatches := flag.Int("min-matches", 10, "Matches required per frame")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if *input == "" {
		fmt.Println("Usage: stabtest -i <video> [-o <output>] [-n <frames>] [-v]")
		os.Exit(1)
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	log := logging.New(level, "text")

	fmt.Printf("=== Decoding: %s ===\n", *input)
	clip, err := video.Decode(*input, video.DecodeOptions{MaxFrames: *maxFrames, MaxWidth: 640, MaxHeight: 360, Log: log})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Decode failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  %d frames, %dx%d, %.2f fps\n", clip.Stack.Len(), clip.Stack.Width, clip.Stack.Height, clip.FPS)
	for _, w := range clip.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}

	gray, err := clip.Stack.Gray(1.0 / 255)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Gray conversion failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n=== Stabilizing ===\n")
	opts := alignment.DefaultOptions()
	opts.MinMatches = *minMatches
	opts.Log = log
	stab, rep, err := alignment.New(opts).Stabilize(gray, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stabilization failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  reference keypoints: %d\n", rep.RefKeypoints)
	if rep.Skipped {
		fmt.Printf("  skipped: %s\n", rep.SkipReason)
	}
	for _, f := range rep.Frames {
		if f.Err != nil {
			fmt.Printf("  frame %3d: passed through (%v)\n", f.Index, f.Err)
			continue
		}
		fmt.Printf("  frame %3d: %3d matches, %3d inliers, scale %.4f, rot %.3f deg, t=(%.2f, %.2f), residual %.3f px\n",
			f.Index, f.Matches, f.Inliers, f.Transform.Scale(), f.Transform.Angle(),
			f.Transform.TX, f.Transform.TY, f.Residual)
	}
	fmt.Printf("  %d of %d frames aligned\n", len(rep.Frames)-rep.Failures, len(rep.Frames))

	dest := *output
	if dest == "" {
		dest = strings.TrimSuffix(*input, filepath.Ext(*input)) + "_stab.avi"
	}
	path, err := video.Encode(toBGR(stab), clip.FPS, dest, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encode failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\n=== Wrote %s ===\n", path)
}

// toBGR expands a [0,1] gray stack to 0-255 BGR.
func toBGR(gray *frames.Stack) *frames.Stack {
	out := frames.NewStack(gray.Len(), gray.Height, gray.Width, 3)
	for t, f := range gray.Frames {
		dst := out.Frames[t]
		for i, v := range f {
			v *= 255
			dst[i*3], dst[i*3+1], dst[i*3+2] = v, v, v
		}
	}
	return out
}
