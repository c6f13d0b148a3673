package datasets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoments(t *testing.T) {
	// Channel 0 is the constant 0.5, channel 1 alternates 0 and 1 per image.
	const side = 4
	makeImage := func(ch1 float32) Image {
		img := NewImage(side, side, 2)
		for p := range side * side {
			img.Pixels[p*2] = 0.5
			img.Pixels[p*2+1] = ch1
		}
		return img
	}
	ds := &Slice{
		DatasetName: "synthetic",
		Side:        side,
		Classes:     2,
		Images:      []Image{makeImage(0), makeImage(1), makeImage(0), makeImage(1)},
		Labels:      []int32{0, 1, 0, 1},
	}

	mean, stddev, err := Moments(ds, 0)
	require.NoError(t, err)
	require.Len(t, mean, 2)
	require.Len(t, stddev, 2)
	assert.InDelta(t, 0.5, mean[0], 1e-6)
	assert.InDelta(t, 0, stddev[0], 1e-6)
	assert.InDelta(t, 0.5, mean[1], 1e-6)
	// Unbiased sample stddev of 32 zeros and 32 ones.
	assert.InDelta(t, 0.50395, stddev[1], 1e-4)

	// maxExamples caps the scan: the first two images have channel-1 values 0 and 1.
	mean, _, err = Moments(ds, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, mean[1], 1e-6)

	_, _, err = Moments(&Slice{DatasetName: "empty"}, 0)
	require.ErrorContains(t, err, "empty")
}
