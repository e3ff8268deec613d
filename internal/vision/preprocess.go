package vision

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

const (
	// InputSize is the square edge, in pixels, of the classifier input.
	InputSize = 224
	// Channels is the number of color channels in the classifier input.
	Channels = 3
	// DefaultCropFactor keeps 80% of each dimension around the center.
	DefaultCropFactor = 0.8
)

// Per-channel standardization constants. They must match the ones used
// when the classifier was trained; a mismatch degrades accuracy silently.
var (
	channelMean = [Channels]float32{0.485, 0.456, 0.406}
	channelStd  = [Channels]float32{0.229, 0.224, 0.225}
)

// Tensor is a dense NHWC float tensor.
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// Len returns the number of elements described by Shape.
func (t Tensor) Len() int {
	return t.Shape[0] * t.Shape[1] * t.Shape[2] * t.Shape[3]
}

// Preprocessor converts a PixelGrid into the classifier input tensor.
type Preprocessor struct {
	CropFactor float64
	Size       int
	Mean       [Channels]float32
	Std        [Channels]float32
}

// DefaultPreprocessor returns the preprocessor matching the trained model.
func DefaultPreprocessor() Preprocessor {
	return Preprocessor{
		CropFactor: DefaultCropFactor,
		Size:       InputSize,
		Mean:       channelMean,
		Std:        channelStd,
	}
}

// CenterCrop returns the centered region keeping factor of each dimension.
func CenterCrop(width, height int, factor float64) image.Rectangle {
	newH := max(int(math.Floor(float64(height)*factor)), 1)
	newW := max(int(math.Floor(float64(width)*factor)), 1)
	top := (height - newH) / 2
	left := (width - newW) / 2
	return image.Rect(left, top, left+newW, top+newH)
}

// Preprocess center-crops, resizes with bilinear interpolation, scales to
// [0,1] and standardizes g. The output always has shape 1×Size×Size×3 and is
// identical for identical inputs.
func (p Preprocessor) Preprocess(g PixelGrid) Tensor {
	size := p.Size
	if size <= 0 {
		size = InputSize
	}
	factor := p.CropFactor
	if factor <= 0 || factor > 1 {
		factor = DefaultCropFactor
	}

	t := Tensor{
		Shape: [4]int{1, size, size, Channels},
		Data:  make([]float32, size*size*Channels),
	}
	if g.Width() == 0 || g.Height() == 0 {
		return t
	}

	crop := CenterCrop(g.Width(), g.Height(), factor).Add(g.img.Rect.Min)
	resized := resizeLinear(imaging.Crop(g.img, crop), size, size)

	n := 0
	for y := 0; y < size; y++ {
		row := resized.PixOffset(0, y)
		for x := 0; x < size; x++ {
			i := row + x*4
			for c := 0; c < Channels; c++ {
				v := float32(resized.Pix[i+c]) / 255
				t.Data[n] = (v - p.Mean[c]) / p.Std[c]
				n++
			}
		}
	}
	return t
}
