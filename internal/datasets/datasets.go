// Package datasets loads the image collections used for self-supervised pretraining
// and for the downstream linear evaluation.
//
// All images are served as dense float32 tensors scaled to [0, 1], so the augmentation
// pipeline and the model never see raw bytes.
package datasets

import (
	"strings"

	"github.com/pkg/errors"
)

// Image is a dense float32 image in row-major [row][column][channel] order.
// Pixel values are in [0, 1] when loaded, and may take any value after normalization.
type Image struct {
	Height, Width, Channels int
	Pixels                  []float32
}

// NewImage returns a zero-valued image of the given dimensions.
func NewImage(height, width, channels int) Image {
	return Image{
		Height:   height,
		Width:    width,
		Channels: channels,
		Pixels:   make([]float32, height*width*channels),
	}
}

// At returns the value of channel c of the pixel at row y, column x.
func (img Image) At(y, x, c int) float32 {
	return img.Pixels[(y*img.Width+x)*img.Channels+c]
}

// Set assigns the value of channel c of the pixel at row y, column x.
func (img Image) Set(y, x, c int, value float32) {
	img.Pixels[(y*img.Width+x)*img.Channels+c] = value
}

// Clone returns a deep copy of the image.
func (img Image) Clone() Image {
	clone := img
	clone.Pixels = make([]float32, len(img.Pixels))
	copy(clone.Pixels, img.Pixels)
	return clone
}

// Dataset provides indexed access to a labeled image collection.
// Implementations must support concurrent Sample calls, since augmentation
// workers read from the dataset in parallel.
type Dataset interface {
	// Name identifies the dataset, e.g. "cifar10".
	Name() string

	// Len returns the number of examples.
	Len() int

	// NumClasses returns the number of distinct labels.
	NumClasses() int

	// ImageSize returns the side of the square images served by Sample.
	ImageSize() int

	// Sample returns a fresh copy of the image at the given index and its label.
	// The caller owns the returned image and may mutate it freely.
	Sample(index int) (Image, int32, error)
}

// New loads the named dataset partition, downloading it under baseDir if missing.
// Known names: "cifar10" and "cifar100".
func New(name, baseDir string, part Partition) (Dataset, error) {
	switch strings.ToLower(name) {
	case "cifar10":
		return LoadCIFAR10(baseDir, part)
	case "cifar100":
		return LoadCIFAR100(baseDir, part)
	}
	return nil, errors.Errorf("unknown dataset %q, valid values are cifar10 and cifar100", name)
}

// Slice is an in-memory Dataset over a slice of images, used in tests and synthetic runs.
type Slice struct {
	DatasetName string
	Side        int
	Classes     int
	Images      []Image
	Labels      []int32
}

// Name implements Dataset.
func (s *Slice) Name() string { return s.DatasetName }

// Len implements Dataset.
func (s *Slice) Len() int { return len(s.Images) }

// NumClasses implements Dataset.
func (s *Slice) NumClasses() int { return s.Classes }

// ImageSize implements Dataset.
func (s *Slice) ImageSize() int { return s.Side }

// Sample implements Dataset.
func (s *Slice) Sample(index int) (Image, int32, error) {
	if index < 0 || index >= len(s.Images) {
		return Image{}, 0, errors.Errorf("sample index %d out of range for dataset %q with %d examples",
			index, s.DatasetName, len(s.Images))
	}
	return s.Images[index].Clone(), s.Labels[index], nil
}
