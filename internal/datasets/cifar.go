package datasets

import (
	"os"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	cifarSide       = 32
	cifarChannels   = 3
	cifarPixelBytes = cifarSide * cifarSide * cifarChannels

	cifar10URL    = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"
	cifar10Tar    = "cifar-10-binary.tar.gz"
	cifar10Dir    = "cifar-10-batches-bin"
	cifar100URL   = "https://www.cs.toronto.edu/~kriz/cifar-100-binary.tar.gz"
	cifar100Tar   = "cifar-100-binary.tar.gz"
	cifar100Dir   = "cifar-100-binary"
)

// Partition selects the training or the held-out split of a dataset.
type Partition int

const (
	// Train is the split used for pretraining and for fitting the linear classifier.
	Train Partition = iota

	// Test is the held-out split used only to report evaluation accuracy.
	Test
)

// String implements fmt.Stringer.
func (p Partition) String() string {
	if p == Train {
		return "train"
	}
	return "test"
}

// CIFAR is an in-memory CIFAR-10 or CIFAR-100 dataset. Records are kept as the raw
// bytes read from disk and converted to float32 on each Sample call, which keeps the
// resident size at ~150MB for the training split.
type CIFAR struct {
	name    string
	classes int
	records [][]byte // 3072 bytes each: 1024 red, 1024 green, 1024 blue, row-major 32x32.
	labels  []int32
}

var _ Dataset = (*CIFAR)(nil)

// LoadCIFAR10 downloads (if missing) and decodes the given partition of CIFAR-10
// under baseDir. Labels are the 10 usual object classes.
func LoadCIFAR10(baseDir string, part Partition) (*CIFAR, error) {
	baseDir = data.ReplaceTildeInDir(baseDir)
	if err := data.DownloadAndUntarIfMissing(cifar10URL, baseDir, cifar10Tar, cifar10Dir, ""); err != nil {
		return nil, errors.WithMessagef(err, "failed to download CIFAR-10 into %q", baseDir)
	}
	var files []string
	if part == Train {
		files = []string{"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin",
			"data_batch_4.bin", "data_batch_5.bin"}
	} else {
		files = []string{"test_batch.bin"}
	}
	for ii, f := range files {
		files[ii] = path.Join(baseDir, cifar10Dir, f)
	}
	return loadBinFiles("cifar10", 10, 1, 0, files)
}

// LoadCIFAR100 downloads (if missing) and decodes the given partition of CIFAR-100
// under baseDir. Labels are the 100 fine-grained classes; the coarse labels stored in
// each record are ignored.
func LoadCIFAR100(baseDir string, part Partition) (*CIFAR, error) {
	baseDir = data.ReplaceTildeInDir(baseDir)
	if err := data.DownloadAndUntarIfMissing(cifar100URL, baseDir, cifar100Tar, cifar100Dir, ""); err != nil {
		return nil, errors.WithMessagef(err, "failed to download CIFAR-100 into %q", baseDir)
	}
	file := "train.bin"
	if part == Test {
		file = "test.bin"
	}
	return loadBinFiles("cifar100", 100, 2, 1, []string{path.Join(baseDir, cifar100Dir, file)})
}

// loadBinFiles decodes CIFAR binary files: each record is labelBytes of labels
// (of which the byte at labelIndex is the class used) followed by 3072 pixel bytes.
func loadBinFiles(name string, classes, labelBytes, labelIndex int, files []string) (*CIFAR, error) {
	ds := &CIFAR{name: name, classes: classes}
	recordSize := labelBytes + cifarPixelBytes
	var totalBytes uint64
	for _, filePath := range files {
		contents, err := os.ReadFile(filePath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s file %q", name, filePath)
		}
		if len(contents) == 0 || len(contents)%recordSize != 0 {
			return nil, errors.Errorf("malformed %s file %q: %d bytes is not a multiple of the %d bytes record size",
				name, filePath, len(contents), recordSize)
		}
		numRecords := len(contents) / recordSize
		for r := range numRecords {
			record := contents[r*recordSize : (r+1)*recordSize]
			label := int32(record[labelIndex])
			if int(label) >= classes {
				return nil, errors.Errorf("malformed %s file %q: record %d has label %d, expected < %d",
					name, filePath, r, label, classes)
			}
			ds.labels = append(ds.labels, label)
			ds.records = append(ds.records, record[labelBytes:])
		}
		totalBytes += uint64(len(contents))
	}
	klog.V(1).Infof("Loaded %s: %d examples (%s) from %d file(s)",
		name, len(ds.records), humanize.Bytes(totalBytes), len(files))
	return ds, nil
}

// Name implements Dataset.
func (ds *CIFAR) Name() string { return ds.name }

// Len implements Dataset.
func (ds *CIFAR) Len() int { return len(ds.records) }

// NumClasses implements Dataset.
func (ds *CIFAR) NumClasses() int { return ds.classes }

// ImageSize implements Dataset.
func (ds *CIFAR) ImageSize() int { return cifarSide }

// Sample implements Dataset: it converts the stored channel planes to a fresh
// row-major float32 image scaled to [0, 1].
func (ds *CIFAR) Sample(index int) (Image, int32, error) {
	if index < 0 || index >= len(ds.records) {
		return Image{}, 0, errors.Errorf("sample index %d out of range for %s with %d examples",
			index, ds.name, len(ds.records))
	}
	img := NewImage(cifarSide, cifarSide, cifarChannels)
	raw := ds.records[index]
	const plane = cifarSide * cifarSide
	for c := range cifarChannels {
		for p := range plane {
			img.Pixels[p*cifarChannels+c] = float32(raw[c*plane+p]) / 255
		}
	}
	return img, ds.labels[index], nil
}
