package transforms

import (
	"math/rand/v2"

	"github.com/chewxy/math32"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/datasets"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/generics"
)

// ColorJitter randomly perturbs the brightness, contrast, saturation and hue of a
// 3-channel image; images with other channel counts pass through.
//
// Brightness, Contrast and Saturation enable their perturbation when > 0, each factor
// drawn uniformly from [max(0, 1-F), 1+F]. Hue shifts are drawn from [-Hue, Hue], as
// fractions of the hue circle. The four perturbations are applied in random order.
type ColorJitter struct {
	Brightness, Contrast, Saturation, Hue float64
}

// Apply implements Transform.
func (cj ColorJitter) Apply(rng *rand.Rand, img datasets.Image) datasets.Image {
	if img.Channels != 3 {
		return img
	}
	brightness := sampleFactor(rng, cj.Brightness)
	contrast := sampleFactor(rng, cj.Contrast)
	saturation := sampleFactor(rng, cj.Saturation)
	var hue float32
	if cj.Hue > 0 {
		hue = float32((rng.Float64()*2 - 1) * cj.Hue)
	}
	for _, op := range rng.Perm(4) {
		switch op {
		case 0:
			adjustBrightness(img, brightness)
		case 1:
			adjustContrast(img, contrast)
		case 2:
			adjustSaturation(img, saturation)
		case 3:
			adjustHue(img, hue)
		}
	}
	return img
}

// sampleFactor draws a multiplicative factor from [max(0, 1-spread), 1+spread], or
// returns the neutral 1 when the perturbation is disabled.
func sampleFactor(rng *rand.Rand, spread float64) float32 {
	if spread <= 0 {
		return 1
	}
	low := max(0, 1-spread)
	high := 1 + spread
	return float32(low + rng.Float64()*(high-low))
}

func adjustBrightness(img datasets.Image, factor float32) {
	if factor == 1 {
		return
	}
	for p, v := range img.Pixels {
		img.Pixels[p] = generics.Clamp(v*factor, 0, 1)
	}
}

// adjustContrast blends every pixel with the mean luminance of the whole image.
func adjustContrast(img datasets.Image, factor float32) {
	if factor == 1 {
		return
	}
	var meanLuma float32
	for p := 0; p < len(img.Pixels); p += 3 {
		meanLuma += luminance(img.Pixels[p], img.Pixels[p+1], img.Pixels[p+2])
	}
	meanLuma /= float32(len(img.Pixels) / 3)
	for p, v := range img.Pixels {
		img.Pixels[p] = generics.Clamp(factor*v+(1-factor)*meanLuma, 0, 1)
	}
}

// adjustSaturation blends every pixel with its own luminance.
func adjustSaturation(img datasets.Image, factor float32) {
	if factor == 1 {
		return
	}
	for p := 0; p < len(img.Pixels); p += 3 {
		l := luminance(img.Pixels[p], img.Pixels[p+1], img.Pixels[p+2])
		for c := range 3 {
			img.Pixels[p+c] = generics.Clamp(factor*img.Pixels[p+c]+(1-factor)*l, 0, 1)
		}
	}
}

// adjustHue rotates every pixel's hue by shift, a fraction of the full hue circle.
func adjustHue(img datasets.Image, shift float32) {
	if shift == 0 {
		return
	}
	for p := 0; p < len(img.Pixels); p += 3 {
		h, s, v := rgbToHSV(img.Pixels[p], img.Pixels[p+1], img.Pixels[p+2])
		img.Pixels[p], img.Pixels[p+1], img.Pixels[p+2] = hsvToRGB(h+shift, s, v)
	}
}

func rgbToHSV(r, g, b float32) (h, s, v float32) {
	maxC := math32.Max(r, math32.Max(g, b))
	minC := math32.Min(r, math32.Min(g, b))
	v = maxC
	d := maxC - minC
	if maxC > 0 {
		s = d / maxC
	}
	if d == 0 {
		return 0, s, v
	}
	switch maxC {
	case r:
		h = (g - b) / d
		if h < 0 {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	return h / 6, s, v
}

func hsvToRGB(h, s, v float32) (r, g, b float32) {
	h -= math32.Floor(h) // Wrap into [0, 1).
	sector := int(h * 6)
	f := h*6 - float32(sector)
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)
	switch sector % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}
