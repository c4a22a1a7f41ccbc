package codec

import (
	"context"

	"github.com/prn-tf/imagevault/internal/domain"
)

// Options are the fixed quality and geometry knobs of the pipeline.
type Options struct {
	MaxWidth         int
	MaxHeight        int
	ThumbnailSize    int
	ThumbnailQuality int
	JPEGQuality      int
	WEBPQuality      int
	PNGLevel         int
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		MaxWidth:         1920,
		MaxHeight:        1080,
		ThumbnailSize:    150,
		ThumbnailQuality: 70,
		JPEGQuality:      85,
		WEBPQuality:      80,
		PNGLevel:         9,
	}
}

// Result is a processed upload ready to be chunked.
type Result struct {
	Data        []byte
	Mimetype    string
	Width       int
	Height      int
	Thumbnail   []byte
	Compression domain.Compression
}

// Processor bounds, re-encodes and thumbnails uploads.
type Processor struct {
	opts Options
}

// NewProcessor creates a Processor.
func NewProcessor(opts Options) *Processor {
	return &Processor{opts: opts}
}

// Options returns the processor settings.
func (p *Processor) Options() Options {
	return p.opts
}

// Process decodes data, resizes it into bounds when needed, re-encodes it per
// SelectFormat and derives the thumbnail from the result.
func (p *Processor) Process(ctx context.Context, data []byte, declaredMimetype string) (*Result, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	width, height, resized := BoundedSize(img.Width, img.Height, p.opts.MaxWidth, p.opts.MaxHeight)
	if resized {
		img = img.Resize(width, height)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format := SelectFormat(declaredMimetype, img.HasAlpha)
	quality := p.opts.JPEGQuality
	if format == domain.FormatWEBP {
		quality = p.opts.WEBPQuality
	}

	encoded, err := img.Encode(format, EncodeOptions{Quality: quality, PNGLevel: p.opts.PNGLevel})
	if err != nil {
		return nil, err
	}

	thumb, err := img.Thumbnail(p.opts.ThumbnailSize, p.opts.ThumbnailQuality)
	if err != nil {
		return nil, err
	}

	compression := domain.Compression{
		Quality: quality,
		Format:  format,
		Resized: resized,
	}
	if resized {
		compression.MaxWidth = &width
		compression.MaxHeight = &height
	}

	return &Result{
		Data:        encoded,
		Mimetype:    Mimetype(format),
		Width:       width,
		Height:      height,
		Thumbnail:   thumb,
		Compression: compression,
	}, nil
}

// Passthrough keeps the upload bytes as they are. It is used by call sites
// configured to survive codec failures. A thumbnail is attempted but may be
// empty.
func (p *Processor) Passthrough(data []byte, declaredMimetype string) *Result {
	res := &Result{
		Data:     data,
		Mimetype: declaredMimetype,
		Compression: domain.Compression{
			Quality: 100,
			Format:  FormatFromMimetype(declaredMimetype),
		},
	}

	if w, h, err := Measure(data); err == nil {
		res.Width, res.Height = w, h
	}
	if img, err := Decode(data); err == nil {
		if thumb, err := img.Thumbnail(p.opts.ThumbnailSize, p.opts.ThumbnailQuality); err == nil {
			res.Thumbnail = thumb
		}
	}
	return res
}
