// Package codec wraps the image library used to decode, bound, re-encode and
// thumbnail uploads.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	// Registers GIF, JPEG and PNG decoders.
	_ "image/gif"
	_ "image/jpeg"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
	_ "golang.org/x/image/webp"

	"github.com/prn-tf/imagevault/internal/domain"
)

// ErrUnknownFormat indicates an output format the encoder does not produce.
var ErrUnknownFormat = errors.New("unknown output format")

// Image is a decoded picture plus the facts the format policy needs.
type Image struct {
	img      image.Image
	Width    int
	Height   int
	HasAlpha bool
	// Format is the decoder name: "jpeg", "png", "gif" or "webp".
	Format string
}

// Decode parses data into an Image.
func Decode(data []byte) (*Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedImage, err)
	}
	b := img.Bounds()
	return &Image{
		img:      img,
		Width:    b.Dx(),
		Height:   b.Dy(),
		HasAlpha: hasAlpha(img),
		Format:   format,
	}, nil
}

// Measure reads only the header to report dimensions.
func Measure(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", domain.ErrUnsupportedImage, err)
	}
	return cfg.Width, cfg.Height, nil
}

// hasAlpha reports whether the decoded image carries an alpha channel,
// not whether any pixel is actually transparent.
func hasAlpha(img image.Image) bool {
	switch m := img.(type) {
	case *image.NRGBA, *image.NRGBA64, *image.Alpha, *image.Alpha16:
		return true
	case *image.Paletted:
		for _, c := range m.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
		return false
	case *image.Gray, *image.Gray16, *image.YCbCr, *image.CMYK:
		return false
	}
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}

// Resize scales the image to exactly width x height.
func (i *Image) Resize(width, height int) *Image {
	out := imaging.Resize(i.img, width, height, imaging.Lanczos)
	return &Image{
		img:      out,
		Width:    width,
		Height:   height,
		HasAlpha: i.HasAlpha,
		Format:   i.Format,
	}
}

// EncodeOptions carries per-format knobs.
type EncodeOptions struct {
	Quality int
	// PNGLevel follows zlib numbering, 0 (none) to 9 (best).
	PNGLevel int
}

// Encode writes the image in the requested format.
func (i *Image) Encode(format string, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch format {
	case domain.FormatWEBP:
		err = webp.Encode(&buf, i.img, webp.Options{Quality: opts.Quality})
	case domain.FormatPNG:
		err = imaging.Encode(&buf, i.img, imaging.PNG, imaging.PNGCompressionLevel(pngLevel(opts.PNGLevel)))
	case domain.FormatGIF:
		err = imaging.Encode(&buf, i.img, imaging.GIF)
	case domain.FormatJPEG:
		// Baseline only; the standard encoder has no progressive mode.
		err = imaging.Encode(&buf, i.img, imaging.JPEG, imaging.JPEGQuality(opts.Quality))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Thumbnail crops to cover a size x size square around the center and
// encodes it as JPEG.
func (i *Image) Thumbnail(size, quality int) ([]byte, error) {
	thumb := imaging.Fill(i.img, size, size, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func pngLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level >= 7:
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}
