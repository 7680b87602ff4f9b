// Package image renders analysis results onto video frames: colormapped heat
// overlays, directional glyphs and the point-amplified base frame.
package image

import (
	"fmt"
	"image/color"
	"math"
	"sort"
	"strings"
	"sync"

	"evm-stress/internal/config"
	"evm-stress/internal/frames"

	"gocv.io/x/gocv"
)

// Colormap maps [0,1] to 256 colors.
type Colormap struct {
	Name string
	lut  [256]color.RGBA
}

// OpenCV colormap identifiers. The perceptual maps (OpenCV 4.5+) carry the
// 256-entry matplotlib tables; gocv only names the older ones.
const (
	colormapMagma   gocv.ColormapTypes = 13
	colormapInferno gocv.ColormapTypes = 14
	colormapPlasma  gocv.ColormapTypes = 15
	colormapViridis gocv.ColormapTypes = 16
	colormapCividis gocv.ColormapTypes = 17
	colormapTurbo   gocv.ColormapTypes = 20
)

var builtins = map[string]gocv.ColormapTypes{
	"magma":   colormapMagma,
	"inferno": colormapInferno,
	"plasma":  colormapPlasma,
	"viridis": colormapViridis,
	"cividis": colormapCividis,
	"turbo":   colormapTurbo,
	"jet":     gocv.ColormapJet,
	"hot":     gocv.ColormapHot,
	"cool":    gocv.ColormapCool,
}

var (
	cacheMu sync.Mutex
	cache   = map[string]*Colormap{}
)

// Names lists every supported colormap.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named colormap. Unknown names are a configuration error.
func Lookup(name string) (*Colormap, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cm, ok := cache[key]; ok {
		return cm, nil
	}

	kind, ok := builtins[key]
	if !ok {
		return nil, fmt.Errorf("%w: unknown colormap %q (available: %s)", config.ErrConfig, name, strings.Join(Names(), ", "))
	}
	cm, err := fromOpenCV(key, kind)
	if err != nil {
		return nil, err
	}
	cache[key] = cm
	return cm, nil
}

// fromOpenCV samples a built-in map by colorizing a 0-255 ramp.
func fromOpenCV(name string, kind gocv.ColormapTypes) (*Colormap, error) {
	ramp := make([]byte, 256)
	for i := range ramp {
		ramp[i] = byte(i)
	}
	src, err := frames.BytesToMat(ramp, 1, 256, gocv.MatTypeCV8UC1)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.ApplyColorMap(src, &dst, kind)

	bgr := dst.ToBytes()
	if len(bgr) != 256*3 {
		return nil, fmt.Errorf("colormap %s: unexpected %d bytes", name, len(bgr))
	}
	cm := &Colormap{Name: name}
	for i := range cm.lut {
		cm.lut[i] = color.RGBA{B: bgr[i*3], G: bgr[i*3+1], R: bgr[i*3+2], A: 255}
	}
	return cm, nil
}

// At returns the color for v in [0,1]. Out-of-range values saturate and NaN maps
// to the lowest color.
func (c *Colormap) At(v float64) color.RGBA {
	if math.IsNaN(v) || v <= 0 {
		return c.lut[0]
	}
	i := int(v * 256)
	if i > 255 {
		i = 255
	}
	return c.Index(byte(i))
}

// Index returns the color of an 8-bit level.
func (c *Colormap) Index(b byte) color.RGBA { return c.lut[b] }

// BGR colorizes a [0,1] field into interleaved 8-bit BGR pixels.
func (c *Colormap) BGR(field *frames.Field) []byte {
	out := make([]byte, len(field.Data)*3)
	for i, v := range field.Data {
		col := c.At(v)
		out[i*3], out[i*3+1], out[i*3+2] = col.B, col.G, col.R
	}
	return out
}

// LUTMat returns the map as a 256x1 BGR Mat for gocv.ApplyCustomColorMap.
// The caller owns the returned Mat.
func (c *Colormap) LUTMat() (gocv.Mat, error) {
	buf := make([]byte, 256*3)
	for i := range c.lut {
		col := c.Index(byte(i))
		buf[i*3], buf[i*3+1], buf[i*3+2] = col.B, col.G, col.R
	}
	return frames.BytesToMat(buf, 256, 1, gocv.MatTypeCV8UC3)
}

// Colorize8 quantizes a [0,1] field to 8 bits (v*255, truncated) and colorizes it
// with OpenCV. The caller owns the returned BGR Mat.
func (c *Colormap) Colorize8(field *frames.Field) (gocv.Mat, error) {
	gray, err := frames.BytesToMat(field.Bytes8(), field.Height, field.Width, gocv.MatTypeCV8UC1)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer gray.Close()

	lut, err := c.LUTMat()
	if err != nil {
		return gocv.NewMat(), err
	}
	defer lut.Close()

	dst := gocv.NewMat()
	gocv.ApplyCustomColorMap(gray, &dst, lut)
	return dst, nil
}
