package transforms

import (
	"math"
	"math/rand/v2"

	"github.com/chewxy/math32"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/datasets"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/generics"
)

// Aspect ratio bounds of the crop window.
const (
	minAspect = 3.0 / 4.0
	maxAspect = 4.0 / 3.0
)

// RandomResizedCrop crops a window of random area and aspect ratio out of the image
// and resizes it to Size x Size with bilinear interpolation.
//
// The window area is drawn uniformly from [MinScale, MaxScale] of the input area and
// its aspect ratio log-uniformly from [3/4, 4/3].
type RandomResizedCrop struct {
	Size               int
	MinScale, MaxScale float64
}

// Apply implements Transform.
func (rc RandomResizedCrop) Apply(rng *rand.Rand, img datasets.Image) datasets.Image {
	y, x, h, w := rc.window(rng, img.Height, img.Width)
	return resizeBilinear(img, y, x, h, w, rc.Size)
}

// window picks the crop offset and dimensions. It falls back to a centered crop with
// clamped aspect ratio when 10 draws fail to fit the image.
func (rc RandomResizedCrop) window(rng *rand.Rand, height, width int) (y, x, h, w int) {
	area := float64(height * width)
	logMin, logMax := math.Log(minAspect), math.Log(maxAspect)
	for range 10 {
		targetArea := area * (rc.MinScale + rng.Float64()*(rc.MaxScale-rc.MinScale))
		aspect := math.Exp(logMin + rng.Float64()*(logMax-logMin))
		w = int(math.Round(math.Sqrt(targetArea * aspect)))
		h = int(math.Round(math.Sqrt(targetArea / aspect)))
		if w > 0 && w <= width && h > 0 && h <= height {
			y = rng.IntN(height - h + 1)
			x = rng.IntN(width - w + 1)
			return
		}
	}
	inRatio := float64(width) / float64(height)
	switch {
	case inRatio < minAspect:
		w = width
		h = int(math.Round(float64(w) / minAspect))
	case inRatio > maxAspect:
		h = height
		w = int(math.Round(float64(h) * maxAspect))
	default:
		w, h = width, height
	}
	return (height - h) / 2, (width - w) / 2, h, w
}

// resizeBilinear resizes the (y0, x0, h, w) window of img to a size x size image.
// Sample positions follow the half-pixel-center convention, with borders replicated.
func resizeBilinear(img datasets.Image, y0, x0, h, w, size int) datasets.Image {
	out := datasets.NewImage(size, size, img.Channels)
	scaleY := float32(h) / float32(size)
	scaleX := float32(w) / float32(size)
	for oy := range size {
		srcY := (float32(oy)+0.5)*scaleY - 0.5
		floorY := math32.Floor(srcY)
		wy := srcY - floorY
		iy0 := generics.Clamp(int(floorY), 0, h-1)
		iy1 := generics.Clamp(int(floorY)+1, 0, h-1)
		for ox := range size {
			srcX := (float32(ox)+0.5)*scaleX - 0.5
			floorX := math32.Floor(srcX)
			wx := srcX - floorX
			ix0 := generics.Clamp(int(floorX), 0, w-1)
			ix1 := generics.Clamp(int(floorX)+1, 0, w-1)
			for c := range img.Channels {
				top := (1-wx)*img.At(y0+iy0, x0+ix0, c) + wx*img.At(y0+iy0, x0+ix1, c)
				bottom := (1-wx)*img.At(y0+iy1, x0+ix0, c) + wx*img.At(y0+iy1, x0+ix1, c)
				out.Set(oy, ox, c, (1-wy)*top+wy*bottom)
			}
		}
	}
	return out
}
