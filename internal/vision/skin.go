package vision

import "image/color"

// Skin band in YCbCr space, inclusive on both ends.
const (
	skinYMin  = 30
	skinYMax  = 235
	skinCrMin = 140
	skinCrMax = 165
	skinCbMin = 90
	skinCbMax = 130
)

// IsSkin reports whether an RGB pixel falls inside the skin chrominance band.
func IsSkin(r, g, b uint8) bool {
	y, cb, cr := color.RGBToYCbCr(r, g, b)
	return y >= skinYMin && y <= skinYMax &&
		cr >= skinCrMin && cr <= skinCrMax &&
		cb >= skinCbMin && cb <= skinCbMax
}

// SkinRatio returns the fraction of pixels in g classified as skin-colored.
// A grid without pixels has a ratio of 0.
func SkinRatio(g PixelGrid) float64 {
	w, h := g.Width(), g.Height()
	total := w * h
	if total == 0 {
		return 0
	}

	skin := 0
	pix := g.img.Pix
	for y := 0; y < h; y++ {
		row := g.img.PixOffset(g.img.Rect.Min.X, g.img.Rect.Min.Y+y)
		for x := 0; x < w; x++ {
			i := row + x*4
			if IsSkin(pix[i], pix[i+1], pix[i+2]) {
				skin++
			}
		}
	}
	return float64(skin) / float64(total)
}
