// Package images derives resized, format-converted variants from source
// photos. Conversion never fails to the caller: an ordered strategy cascade
// (avif, webp, jpeg, original bytes) stops at the first success and carries
// the fallback depth forward as data.
package images

import (
	"fmt"
	"time"
)

// Variant names one derived rendition of a source image.
type Variant string

const (
	VariantThumbnail   Variant = "thumbnail"
	VariantMedium      Variant = "medium"
	VariantFull        Variant = "full"
	VariantPlaceholder Variant = "placeholder"
)

// Format names an output encoding. FormatAuto is a negotiation token and is
// never a concrete output: cache keys always carry the resolved format.
type Format string

const (
	FormatAuto Format = "auto"
	FormatAVIF Format = "avif"
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
)

// spec holds the fixed per-variant parameters. Quality presets are not
// caller-adjustable. Thumbnails live longest; full-size shortest; the
// placeholder far longer than any real variant.
type spec struct {
	width   int
	height  int
	quality int
	ttl     time.Duration
}

var variantSpecs = map[Variant]spec{
	VariantThumbnail:   {width: 300, height: 300, quality: 75, ttl: 24 * time.Hour},
	VariantMedium:      {width: 800, height: 800, quality: 85, ttl: 12 * time.Hour},
	VariantFull:        {quality: 90, ttl: 6 * time.Hour},
	VariantPlaceholder: {ttl: 7 * 24 * time.Hour},
}

// ParseVariant validates a variant name.
func ParseVariant(name string) (Variant, error) {
	v := Variant(name)
	if _, ok := variantSpecs[v]; !ok {
		return "", fmt.Errorf("unknown variant %q", name)
	}
	return v, nil
}

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(name); f {
	case FormatAuto, FormatAVIF, FormatWebP, FormatJPEG:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q", name)
	}
}

// TTLFor returns the cache TTL for a variant.
func TTLFor(variant Variant) time.Duration {
	if s, ok := variantSpecs[variant]; ok {
		return s.ttl
	}
	return time.Hour
}

// CacheKey builds the store key for a derived variant. The key is a pure
// function of its four components plus the resolved concrete format; the
// unresolved auto token is rejected. Note the deliberate staleness window:
// there is no content-hash component, so replacing the source photo at the
// same id/slot serves stale variants until the TTL lapses.
func CacheKey(id string, variant Variant, format Format, slotIndex int) (string, error) {
	if format == FormatAuto {
		return "", fmt.Errorf("cache key requires a resolved format, got %q", format)
	}
	return fmt.Sprintf("image-variant:%s:%s:%s:%d", id, variant, format, slotIndex), nil
}

// ContentType returns the MIME type for a concrete format.
func ContentType(format Format) string {
	switch format {
	case FormatAVIF:
		return "image/avif"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
