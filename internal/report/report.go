// Package report writes the artifacts of a heatmap run: the colorized PNG, the raw
// CSV matrix, an optional 16-bit TIFF, an optional figure with a colorbar and the
// JSON run summary.
package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	stdimage "image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"evm-stress/internal/frames"
	"evm-stress/internal/image"
	"evm-stress/internal/logging"

	"gocv.io/x/gocv"
	"golang.org/x/image/tiff"
)

// Artifact file names inside the output directory.
const (
	PNGName     = "heatmap_rms.png"
	CSVName     = "heatmap_rms.csv"
	TIFFName    = "heatmap_rms.tiff"
	FigureName  = "heatmap_rms_figure.png"
	SummaryName = "report.json"
)

// ErrWrite is returned when an artifact cannot be written.
var ErrWrite = errors.New("artifact write failed")

// Artifacts maps an artifact kind ("png", "csv", ...) to the file written.
type Artifacts map[string]string

// Writer writes heatmap artifacts into Dir.
type Writer struct {
	Dir      string
	Colormap *image.Colormap
	Figure   bool
	TIFF     bool
	Log      *slog.Logger
}

// WriteHeatmap writes the artifacts for one heatmap. heat is the raw map (exported
// as CSV and plotted in the figure), normalized is its [0,1] rendition (PNG, TIFF).
func (w *Writer) WriteHeatmap(heat, normalized *frames.Field) (Artifacts, error) {
	log := logging.OrDiscard(w.Log)
	if heat.Width != normalized.Width || heat.Height != normalized.Height {
		return nil, fmt.Errorf("%w: heat map %dx%d, normalized %dx%d",
			frames.ErrShape, heat.Width, heat.Height, normalized.Width, normalized.Height)
	}
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	out := Artifacts{}
	path := filepath.Join(w.Dir, PNGName)
	if err := WritePNG(path, normalized, w.Colormap); err != nil {
		return out, err
	}
	out["png"] = path

	path = filepath.Join(w.Dir, CSVName)
	if err := writeFile(path, func(f io.Writer) error { return WriteCSV(f, heat) }); err != nil {
		return out, err
	}
	out["csv"] = path

	if w.TIFF {
		path = filepath.Join(w.Dir, TIFFName)
		if err := writeFile(path, func(f io.Writer) error { return WriteTIFF(f, normalized) }); err != nil {
			return out, err
		}
		out["tiff"] = path
	}

	if w.Figure {
		path = filepath.Join(w.Dir, FigureName)
		if err := WriteFigure(path, heat, w.Colormap); err != nil {
			return out, err
		}
		out["figure"] = path
	}

	for kind, p := range out {
		log.Info("artifact written", "kind", kind, "path", p)
	}
	return out, nil
}

// WritePNG quantizes a [0,1] field to 8 bits, colorizes it and writes it as PNG.
func WritePNG(path string, normalized *frames.Field, cm *image.Colormap) error {
	img, err := cm.Colorize8(normalized)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
	}
	defer img.Close()
	if !gocv.IMWrite(path, img) {
		return fmt.Errorf("%w: %s", ErrWrite, path)
	}
	return nil
}

// WriteCSV writes the field row-major: a header of column indices, then one line
// per image row.
func WriteCSV(w io.Writer, field *frames.Field) error {
	cw := csv.NewWriter(w)
	row := make([]string, field.Width)
	for x := range row {
		row[x] = strconv.Itoa(x)
	}
	if err := cw.Write(row); err != nil {
		return err
	}
	for y := 0; y < field.Height; y++ {
		for x, v := range field.Row(y) {
			row[x] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTIFF writes a [0,1] field as a deflate-compressed 16-bit grayscale TIFF.
func WriteTIFF(w io.Writer, normalized *frames.Field) error {
	img := stdimage.NewGray16(stdimage.Rect(0, 0, normalized.Width, normalized.Height))
	for y := 0; y < normalized.Height; y++ {
		for x, v := range normalized.Row(y) {
			if v != v || v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v*65535 + 0.5)})
		}
	}
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
}

// WriteJSON writes v as indented JSON.
func WriteJSON(path string, v any) error {
	return writeFile(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
	}
	return nil
}
