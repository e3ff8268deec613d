package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	skinTone = color.NRGBA{R: 220, G: 170, B: 140, A: 255}
	skyBlue  = color.NRGBA{R: 30, G: 90, B: 230, A: 255}
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"))
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	_, err := Decode(nil)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestDecodeDropsAlpha(t *testing.T) {
	img := solidImage(4, 3, color.NRGBA{R: 10, G: 20, B: 30, A: 0})

	grid, err := Decode(encodePNG(t, img))
	require.NoError(t, err)
	assert.Equal(t, 4, grid.Width())
	assert.Equal(t, 3, grid.Height())

	r, g, b := grid.RGB(2, 1)
	assert.Equal(t, [3]uint8{10, 20, 30}, [3]uint8{r, g, b})
}

func TestIsSkin(t *testing.T) {
	assert.True(t, IsSkin(skinTone.R, skinTone.G, skinTone.B))
	assert.False(t, IsSkin(skyBlue.R, skyBlue.G, skyBlue.B))
	assert.False(t, IsSkin(0, 0, 0), "too dark")
	assert.False(t, IsSkin(255, 255, 255), "too bright")
}

func TestSkinRatio(t *testing.T) {
	img := solidImage(10, 10, skyBlue)
	for y := 0; y < 10; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, skinTone)
		}
	}

	ratio := SkinRatio(NewPixelGrid(img))
	assert.InDelta(t, 0.4, ratio, 1e-12)

	assert.Equal(t, 1.0, SkinRatio(NewPixelGrid(solidImage(3, 7, skinTone))))
	assert.Equal(t, 0.0, SkinRatio(NewPixelGrid(solidImage(3, 7, skyBlue))))
}

func TestSkinRatioZeroArea(t *testing.T) {
	assert.Equal(t, 0.0, SkinRatio(PixelGrid{}))
	assert.Equal(t, 0.0, SkinRatio(NewPixelGrid(image.NewNRGBA(image.Rect(0, 0, 0, 5)))))
}

func TestCenterCrop(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		factor        float64
		want          image.Rectangle
	}{
		{name: "square", width: 100, height: 100, factor: 0.8, want: image.Rect(10, 10, 90, 90)},
		{name: "odd margins floor", width: 15, height: 11, factor: 0.8, want: image.Rect(1, 1, 13, 9)},
		{name: "tiny keeps one pixel", width: 1, height: 1, factor: 0.8, want: image.Rect(0, 0, 1, 1)},
		{name: "no crop", width: 40, height: 20, factor: 1, want: image.Rect(0, 0, 40, 20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CenterCrop(tt.width, tt.height, tt.factor))
		})
	}
}

func TestPreprocessShape(t *testing.T) {
	p := DefaultPreprocessor()
	for _, size := range [][2]int{{224, 224}, {640, 480}, {31, 500}, {1, 1}, {3000, 17}} {
		tensor := p.Preprocess(NewPixelGrid(solidImage(size[0], size[1], skinTone)))
		assert.Equal(t, [4]int{1, InputSize, InputSize, Channels}, tensor.Shape, "input %v", size)
		assert.Len(t, tensor.Data, InputSize*InputSize*Channels)
		assert.Equal(t, tensor.Len(), len(tensor.Data))
	}
}

func TestPreprocessNormalizesChannels(t *testing.T) {
	tensor := DefaultPreprocessor().Preprocess(NewPixelGrid(solidImage(50, 30, skinTone)))

	want := standardized(DefaultPreprocessor(), skinTone)
	for i, v := range tensor.Data {
		require.InDelta(t, want[i%Channels], v, 1e-6, "element %d", i)
	}
}

func standardized(p Preprocessor, c color.NRGBA) [Channels]float32 {
	return [Channels]float32{
		(float32(c.R)/255 - p.Mean[0]) / p.Std[0],
		(float32(c.G)/255 - p.Mean[1]) / p.Std[1],
		(float32(c.B)/255 - p.Mean[2]) / p.Std[2],
	}
}

func TestPreprocessMatchesBilinearReference(t *testing.T) {
	// Expected values follow cv2.resize(..., interpolation=INTER_LINEAR).
	tests := []struct {
		name string
		row  []uint8
		size int
		want []uint8
	}{
		{name: "quarter offsets reach the last column", row: []uint8{0, 200, 100}, size: 2, want: []uint8{50, 125}},
		{name: "halfway rounds up", row: []uint8{100, 101, 10, 30}, size: 2, want: []uint8{101, 20}},
		{name: "upscale clamps at the edges", row: []uint8{0, 100}, size: 4, want: []uint8{0, 25, 75, 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := image.NewNRGBA(image.Rect(0, 0, len(tt.row), tt.size))
			for y := 0; y < tt.size; y++ {
				for x, v := range tt.row {
					img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
				}
			}
			p := DefaultPreprocessor()
			p.CropFactor = 1
			p.Size = tt.size

			tensor := p.Preprocess(NewPixelGrid(img))
			for y := 0; y < tt.size; y++ {
				for x, v := range tt.want {
					want := standardized(p, color.NRGBA{R: v, G: v, B: v, A: 255})
					i := (y*tt.size + x) * Channels
					for c := 0; c < Channels; c++ {
						require.InDelta(t, want[c], tensor.Data[i+c], 1e-6, "x=%d y=%d c=%d", x, y, c)
					}
				}
			}
		})
	}
}

func TestPreprocessSamplesOnlyNeighbouringPixels(t *testing.T) {
	// 2800 wide crops to 2240 and shrinks tenfold, so each output column
	// blends source columns 10k+4 and 10k+5 of the crop and nothing else.
	const width, height = 2800, 20
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	black := color.NRGBA{A: 255}
	img := solidImage(width, height, black)
	for x := 0; x < width; x++ {
		if m := (x - 280) % 10; m == 4 || m == 5 {
			for y := 0; y < height; y++ {
				img.SetNRGBA(x, y, white)
			}
		}
	}

	p := DefaultPreprocessor()
	tensor := p.Preprocess(NewPixelGrid(img))

	want := standardized(p, white)
	centre := (InputSize/2*InputSize + InputSize/2) * Channels
	assert.InDelta(t, 2.2489, tensor.Data[centre], 1e-4)
	for i, v := range tensor.Data {
		require.InDelta(t, want[i%Channels], v, 1e-6, "element %d", i)
	}
}

func TestPreprocessCropsBeforeResizing(t *testing.T) {
	border := color.NRGBA{R: 230, G: 20, B: 20, A: 255}
	interior := color.NRGBA{R: 30, G: 60, B: 200, A: 255}
	img := solidImage(100, 100, border)
	for y := 10; y < 90; y++ {
		for x := 10; x < 90; x++ {
			img.SetNRGBA(x, y, interior)
		}
	}

	p := DefaultPreprocessor()
	tensor := p.Preprocess(NewPixelGrid(img))

	want := standardized(p, interior)
	for i, v := range tensor.Data {
		require.InDelta(t, want[i%Channels], v, 1e-6, "element %d", i)
	}
}

func TestPreprocessIsDeterministic(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 97, 61))
	for y := 0; y < 61; y++ {
		for x := 0; x < 97; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 3), G: uint8(y * 5), B: uint8(x ^ y), A: 255})
		}
	}
	data := encodePNG(t, img)

	first, err := Decode(data)
	require.NoError(t, err)
	second, err := Decode(data)
	require.NoError(t, err)

	p := DefaultPreprocessor()
	assert.Equal(t, p.Preprocess(first).Data, p.Preprocess(second).Data)
}
