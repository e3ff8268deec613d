package vision

import (
	"image"
	"math"
)

// Fixed-point precision of the interpolation weights.
const (
	weightBits  = 11
	weightScale = 1 << weightBits
	castShift   = 2 * weightBits
)

type linearTap struct {
	src    int
	w0, w1 int32
}

// linearTaps maps every destination index to its two source neighbours.
// Sample points sit at pixel centres: s = (d+0.5)*scale - 0.5, clamped to
// the source range, with the weights rounded to weightBits of precision.
func linearTaps(srcN, dstN int) []linearTap {
	scale := float64(srcN) / float64(dstN)
	taps := make([]linearTap, dstN)
	for d := range taps {
		f := float32((float64(d)+0.5)*scale - 0.5)
		s := int(math.Floor(float64(f)))
		f -= float32(s)
		if s < 0 {
			s, f = 0, 0
		}
		if s >= srcN-1 {
			s, f = srcN-1, 0
		}
		w0 := int32(math.RoundToEven(float64((1 - f) * weightScale)))
		taps[d] = linearTap{src: s, w0: w0, w1: weightScale - w0}
	}
	return taps
}

// resizeLinear scales src to w×h by blending the 2×2 source pixels around
// each sample point. Results are bit-identical to OpenCV's INTER_LINEAR on
// 8-bit images. Alpha is not carried over.
func resizeLinear(src *image.NRGBA, w, h int) *image.NRGBA {
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	xs := linearTaps(sw, w)
	ys := linearTaps(sh, h)

	// horizontal pass over a single source row
	hrow := func(sy int, out []int32) {
		base := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+sy)
		for x, tap := range xs {
			p0 := base + tap.src*4
			p1 := base + min(tap.src+1, sw-1)*4
			for c := 0; c < Channels; c++ {
				out[x*Channels+c] = int32(src.Pix[p0+c])*tap.w0 + int32(src.Pix[p1+c])*tap.w1
			}
		}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	row0 := make([]int32, w*Channels)
	row1 := make([]int32, w*Channels)
	for y, tap := range ys {
		hrow(tap.src, row0)
		hrow(min(tap.src+1, sh-1), row1)
		off := dst.PixOffset(0, y)
		for x := 0; x < w; x++ {
			for c := 0; c < Channels; c++ {
				i := x*Channels + c
				v := (row0[i]*tap.w0 + row1[i]*tap.w1 + 1<<(castShift-1)) >> castShift
				dst.Pix[off+x*4+c] = uint8(min(max(v, 0), 255))
			}
			dst.Pix[off+x*4+3] = 0xff
		}
	}
	return dst
}
