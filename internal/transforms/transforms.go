// Package transforms implements the random image augmentations used to draw
// independent views of an example during pretraining.
//
// Every Transform draws from an explicit random source passed by the caller, so a
// view is fully determined by the generator handed to Apply. There is no package
// level random state.
package transforms

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/datasets"
)

// Transform produces a transformed image from an input image.
//
// Apply takes ownership of img and may modify it in place; callers must pass a
// private copy (datasets.Dataset.Sample already returns one). Implementations must
// be safe for concurrent use as long as each goroutine uses its own rng.
type Transform interface {
	Apply(rng *rand.Rand, img datasets.Image) datasets.Image
}

// Compose applies its transforms in order.
type Compose []Transform

// Apply implements Transform.
func (c Compose) Apply(rng *rand.Rand, img datasets.Image) datasets.Image {
	for _, t := range c {
		img = t.Apply(rng, img)
	}
	return img
}

// RandomApply applies the wrapped transform with probability P and otherwise passes
// the image through unchanged.
type RandomApply struct {
	Transform Transform
	P         float64
}

// Apply implements Transform.
func (ra RandomApply) Apply(rng *rand.Rand, img datasets.Image) datasets.Image {
	if rng.Float64() >= ra.P {
		return img
	}
	return ra.Transform.Apply(rng, img)
}

// RandomHorizontalFlip mirrors the image left-right with probability P.
type RandomHorizontalFlip struct {
	P float64
}

// Apply implements Transform.
func (f RandomHorizontalFlip) Apply(rng *rand.Rand, img datasets.Image) datasets.Image {
	if rng.Float64() >= f.P {
		return img
	}
	for y := range img.Height {
		for x := range img.Width / 2 {
			mirror := img.Width - 1 - x
			for c := range img.Channels {
				v := img.At(y, x, c)
				img.Set(y, x, c, img.At(y, mirror, c))
				img.Set(y, mirror, c, v)
			}
		}
	}
	return img
}

// RandomGrayscale replaces a 3-channel image with its luminance replicated over all
// channels, with probability P. Images with other channel counts pass through.
type RandomGrayscale struct {
	P float64
}

// Apply implements Transform.
func (g RandomGrayscale) Apply(rng *rand.Rand, img datasets.Image) datasets.Image {
	if img.Channels != 3 || rng.Float64() >= g.P {
		return img
	}
	for p := 0; p < len(img.Pixels); p += 3 {
		l := luminance(img.Pixels[p], img.Pixels[p+1], img.Pixels[p+2])
		img.Pixels[p], img.Pixels[p+1], img.Pixels[p+2] = l, l, l
	}
	return img
}

// luminance is the ITU-R 601 luma of an RGB pixel.
func luminance(r, g, b float32) float32 {
	return 0.299*r + 0.587*g + 0.114*b
}

// Normalize shifts and scales each channel by precomputed per-channel moments, the
// last step of both the training and the evaluation pipelines.
type Normalize struct {
	Mean, Stddev []float32
}

// Apply implements Transform.
func (n Normalize) Apply(_ *rand.Rand, img datasets.Image) datasets.Image {
	if len(n.Mean) != img.Channels || len(n.Stddev) != img.Channels {
		exceptions.Panicf("Normalize configured for %d channels, got image with %d channels",
			len(n.Mean), img.Channels)
	}
	for p := 0; p < len(img.Pixels); p += img.Channels {
		for c := range img.Channels {
			img.Pixels[p+c] = (img.Pixels[p+c] - n.Mean[c]) / n.Stddev[c]
		}
	}
	return img
}
