package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/datasets"
)

func rampImage(side int) datasets.Image {
	img := datasets.NewImage(side, side, 3)
	for i := range img.Pixels {
		img.Pixels[i] = float32(i) / float32(len(img.Pixels))
	}
	return img
}

func TestRenderImage_Dimensions(t *testing.T) {
	img := rampImage(8)
	art := RenderImage(img)
	lines := strings.Split(art, "\n")
	require.Len(t, lines, 4) // Two pixel rows per text line.
	for i, line := range lines {
		assert.Equalf(t, 8, displayWidth(line), "line %d", i)
	}

	// Odd heights keep the dangling row.
	odd := datasets.NewImage(5, 3, 3)
	lines = strings.Split(RenderImage(odd), "\n")
	require.Len(t, lines, 3)
}

func TestRenderImage_ClampsOutOfRange(t *testing.T) {
	img := datasets.NewImage(2, 2, 3)
	for i := range img.Pixels {
		img.Pixels[i] = -3.5 // Normalized images go negative.
	}
	assert.NotPanics(t, func() { RenderImage(img) })
}

func TestViewGrid(t *testing.T) {
	examples := [][]datasets.Image{
		{rampImage(4), rampImage(4)},
		{rampImage(4), rampImage(4)},
	}
	grid := ViewGrid(examples, []string{"example 0", "example 1"})
	assert.Contains(t, grid, "example 0")
	assert.Contains(t, grid, "example 1")
	// Two examples separated by a blank line.
	assert.Len(t, strings.Split(grid, "\n\n"), 2)
}

func TestSummary(t *testing.T) {
	box := Summary("pretraining", [][2]string{
		{"steps", "1200"},
		{"~loss", "0.3614"},
	})
	assert.Contains(t, box, "pretraining")
	assert.Contains(t, box, "steps")
	assert.Contains(t, box, "0.3614")
}
