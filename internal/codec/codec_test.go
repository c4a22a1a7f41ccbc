package codec

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/imagevault/internal/domain"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), uint8(x + y), 0xff})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestBoundedSize(t *testing.T) {
	tests := []struct {
		name        string
		w, h        int
		wantW       int
		wantH       int
		wantResized bool
	}{
		{"within bounds", 800, 600, 800, 600, false},
		{"exact bounds", 1920, 1080, 1920, 1080, false},
		{"wide", 2000, 1000, 1920, 960, true},
		{"tall", 1000, 3000, 360, 1080, true},
		{"square", 4000, 4000, 1080, 1080, true},
		{"wide but too tall keeps width rule", 2000, 1500, 1920, 1440, true},
		{"only height over", 1200, 1200, 1080, 1080, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, resized := BoundedSize(tt.w, tt.h, 1920, 1080)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
			assert.Equal(t, tt.wantResized, resized)

			if resized {
				assert.LessOrEqual(t, max(w, h), 1920)
				in := float64(tt.w) / float64(tt.h)
				out := float64(w) / float64(h)
				assert.InDelta(t, in, out, 0.01)
			}
		})
	}
}

func TestSelectFormat(t *testing.T) {
	assert.Equal(t, domain.FormatPNG, SelectFormat("image/png", true))
	assert.Equal(t, domain.FormatWEBP, SelectFormat("image/png", false))
	assert.Equal(t, domain.FormatGIF, SelectFormat("image/gif", false))
	assert.Equal(t, domain.FormatWEBP, SelectFormat("image/jpeg", false))
	assert.Equal(t, domain.FormatWEBP, SelectFormat("image/webp", true))
	assert.Equal(t, domain.FormatWEBP, SelectFormat("image/jpeg", true))
}

func TestDecode_Alpha(t *testing.T) {
	opaque := encodePNG(t, gradient(10, 10))
	img, err := Decode(opaque)
	require.NoError(t, err)
	assert.False(t, img.HasAlpha)
	assert.Equal(t, "png", img.Format)

	nrgba := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	nrgba.Set(1, 1, color.NRGBA{R: 10, A: 0x40})
	img, err = Decode(encodePNG(t, nrgba))
	require.NoError(t, err)
	assert.True(t, img.HasAlpha)
	assert.Equal(t, 10, img.Width)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode([]byte("not an image"))
	require.ErrorIs(t, err, domain.ErrUnsupportedImage)

	_, _, err = Measure([]byte{0x00})
	require.ErrorIs(t, err, domain.ErrUnsupportedImage)
}

func TestProcessor_WideJPEGBecomesWEBP(t *testing.T) {
	p := NewProcessor(DefaultOptions())

	res, err := p.Process(context.Background(), encodeJPEG(t, 2000, 1000), "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, "image/webp", res.Mimetype)
	assert.Equal(t, 1920, res.Width)
	assert.Equal(t, 960, res.Height)
	assert.Equal(t, domain.FormatWEBP, res.Compression.Format)
	assert.Equal(t, 80, res.Compression.Quality)
	assert.True(t, res.Compression.Resized)
	require.NotNil(t, res.Compression.MaxWidth)
	assert.Equal(t, 1920, *res.Compression.MaxWidth)
	assert.NotEmpty(t, res.Data)

	thumb, _, err := image.Decode(bytes.NewReader(res.Thumbnail))
	require.NoError(t, err)
	assert.Equal(t, 150, thumb.Bounds().Dx())
	assert.Equal(t, 150, thumb.Bounds().Dy())
}

func TestProcessor_AlphaPNGStaysPNG(t *testing.T) {
	p := NewProcessor(DefaultOptions())

	src := image.NewNRGBA(image.Rect(0, 0, 64, 32))
	src.Set(0, 0, color.NRGBA{A: 0x80})

	res, err := p.Process(context.Background(), encodePNG(t, src), "image/png")
	require.NoError(t, err)

	assert.Equal(t, "image/png", res.Mimetype)
	assert.Equal(t, 85, res.Compression.Quality)
	assert.False(t, res.Compression.Resized)
	assert.Nil(t, res.Compression.MaxWidth)

	out, format, err := image.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 64, out.Bounds().Dx())
}

func TestProcessor_GIFStaysGIF(t *testing.T) {
	p := NewProcessor(DefaultOptions())

	pal := image.NewPaletted(image.Rect(0, 0, 20, 20), color.Palette{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, pal, nil))

	res, err := p.Process(context.Background(), buf.Bytes(), "image/gif")
	require.NoError(t, err)
	assert.Equal(t, "image/gif", res.Mimetype)
}

func TestProcessor_CorruptInput(t *testing.T) {
	p := NewProcessor(DefaultOptions())

	_, err := p.Process(context.Background(), []byte("garbage"), "image/jpeg")
	require.ErrorIs(t, err, domain.ErrUnsupportedImage)
}

func TestProcessor_Passthrough(t *testing.T) {
	p := NewProcessor(DefaultOptions())

	data := encodeJPEG(t, 40, 30)
	res := p.Passthrough(data, "image/jpeg")
	assert.Equal(t, data, res.Data)
	assert.Equal(t, "image/jpeg", res.Mimetype)
	assert.Equal(t, 40, res.Width)
	assert.Equal(t, 30, res.Height)
	assert.NotEmpty(t, res.Thumbnail)
	assert.Equal(t, domain.FormatJPEG, res.Compression.Format)

	broken := p.Passthrough([]byte("garbage"), "image/png")
	assert.Equal(t, []byte("garbage"), broken.Data)
	assert.Equal(t, domain.FormatPNG, broken.Compression.Format)
	assert.Zero(t, broken.Width)
	assert.Empty(t, broken.Thumbnail)
}

func TestEncode_JPEGBranch(t *testing.T) {
	img, err := Decode(encodeJPEG(t, 16, 16))
	require.NoError(t, err)

	out, err := img.Encode(domain.FormatJPEG, EncodeOptions{Quality: 85})
	require.NoError(t, err)
	_, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)

	_, err = img.Encode("tiff", EncodeOptions{})
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestResize_PreservesRatio(t *testing.T) {
	img, err := Decode(encodeJPEG(t, 300, 100))
	require.NoError(t, err)

	small := img.Resize(150, 50)
	assert.Equal(t, 150, small.Width)
	assert.Equal(t, 50, small.Height)
	assert.True(t, math.Abs(float64(small.Width)/float64(small.Height)-3) < 0.01)
}
