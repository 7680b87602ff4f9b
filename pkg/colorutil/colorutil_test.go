package colorutil

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHSVToRGBA(t *testing.T) {
	assert.Equal(t, color.RGBA{R: 255, A: 255}, HSVToRGBA(0, 255, 255))
	assert.Equal(t, color.RGBA{B: 255, A: 255}, HSVToRGBA(120, 255, 255))
	assert.Equal(t, HSVToRGBA(0, 255, 255), HSVToRGBA(180, 255, 255))
	assert.Equal(t, color.RGBA{R: 200, G: 200, B: 200, A: 255}, HSVToRGBA(60, 0, 200))
}
