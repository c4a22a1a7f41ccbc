package codec

import (
	"math"

	"github.com/prn-tf/imagevault/internal/domain"
)

// BoundedSize computes output dimensions for a source that may exceed
// maxW x maxH. The longer side is clamped to its own bound and the other
// side follows the aspect ratio, so a wide source may still end up taller
// than maxH. Sources within bounds are returned unchanged.
func BoundedSize(w, h, maxW, maxH int) (outW, outH int, resized bool) {
	if w <= 0 || h <= 0 || (w <= maxW && h <= maxH) {
		return w, h, false
	}

	aspect := float64(w) / float64(h)
	if w > h {
		outW = min(w, maxW)
		outH = int(math.Round(float64(outW) / aspect))
	} else {
		outH = min(h, maxH)
		outW = int(math.Round(float64(outH) * aspect))
	}
	return max(outW, 1), max(outH, 1), true
}

// SelectFormat picks the output format from the declared mimetype.
// PNG with alpha stays PNG, GIF stays GIF, everything else becomes WEBP.
// JPEG is never returned even though the encoder supports it.
func SelectFormat(declaredMimetype string, hasAlpha bool) string {
	switch {
	case declaredMimetype == "image/png" && hasAlpha:
		return domain.FormatPNG
	case declaredMimetype == "image/gif":
		return domain.FormatGIF
	default:
		return domain.FormatWEBP
	}
}

// Mimetype maps an output format to its mimetype.
func Mimetype(format string) string {
	return "image/" + format
}

// FormatFromMimetype returns the subtype of an image mimetype.
func FormatFromMimetype(mimetype string) string {
	switch mimetype {
	case "image/jpeg":
		return domain.FormatJPEG
	case "image/png":
		return domain.FormatPNG
	case "image/gif":
		return domain.FormatGIF
	case "image/webp":
		return domain.FormatWEBP
	}
	return domain.FormatOriginal
}
