// Package vision turns uploaded image bytes into the pixel grid and model
// input tensor consumed by the classifier.
package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register the WebP decoder alongside imaging's formats
)

// ErrEmptyImage is returned when a decoded image has no pixels.
var ErrEmptyImage = errors.New("image has zero area")

// DecodeError reports bytes that are not a supported, non-empty image.
type DecodeError struct {
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e == nil || e.Err == nil {
		return "decode image"
	}
	return fmt.Sprintf("decode image: %v", e.Err)
}

// Unwrap returns the underlying decoder error.
func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PixelGrid is an immutable 8-bit RGB image. The backing buffer is never
// handed out, so a grid can be shared across goroutines without locking.
type PixelGrid struct {
	img *image.NRGBA
}

// NewPixelGrid copies img into an RGB grid, discarding alpha.
func NewPixelGrid(img image.Image) PixelGrid {
	nrgba := imaging.Clone(img)
	for i := 3; i < len(nrgba.Pix); i += 4 {
		nrgba.Pix[i] = 0xff
	}
	return PixelGrid{img: nrgba}
}

// Width returns the grid width in pixels.
func (g PixelGrid) Width() int {
	if g.img == nil {
		return 0
	}
	return g.img.Rect.Dx()
}

// Height returns the grid height in pixels.
func (g PixelGrid) Height() int {
	if g.img == nil {
		return 0
	}
	return g.img.Rect.Dy()
}

// RGB returns the channel values at (x, y).
func (g PixelGrid) RGB(x, y int) (r, gr, b uint8) {
	i := g.img.PixOffset(g.img.Rect.Min.X+x, g.img.Rect.Min.Y+y)
	return g.img.Pix[i], g.img.Pix[i+1], g.img.Pix[i+2]
}

// Decoder decodes raw upload bytes.
type Decoder struct {
	// AutoOrient applies the EXIF orientation tag before any other step.
	AutoOrient bool
}

// Decode decodes data with the default decoder.
func Decode(data []byte) (PixelGrid, error) {
	return Decoder{}.Decode(data)
}

// Decode turns data into a PixelGrid or fails with *DecodeError.
func (d Decoder) Decode(data []byte) (PixelGrid, error) {
	if len(data) == 0 {
		return PixelGrid{}, &DecodeError{Err: errors.New("empty payload")}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(d.AutoOrient))
	if err != nil {
		return PixelGrid{}, &DecodeError{Err: err}
	}
	if img.Bounds().Empty() {
		return PixelGrid{}, &DecodeError{Err: ErrEmptyImage}
	}

	return NewPixelGrid(img), nil
}
