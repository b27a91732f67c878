package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
	"github.com/rs/zerolog"

	"github.com/londonmove/listings-proxy/pkg/kvstore"
	"github.com/londonmove/listings-proxy/pkg/logging"
)

// Transparent 1x1 GIF, served when a placeholder is requested for a source
// that is missing or empty.
const onePixelGIF = "data:image/gif;base64,R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"

// placeholderPrefixLen bounds how much of the source survives into a
// placeholder data URI. The truncated base64 is decorative blur material,
// not a decodable image.
const placeholderPrefixLen = 150

// Result is the outcome of processing one variant. Format is the encoding
// actually delivered; when the cascade fell past the requested encoder,
// Fallback is set and FallbackDepth counts how many strategies failed first.
type Result struct {
	Data          []byte
	ContentType   string
	Variant       Variant
	Format        Format
	Fallback      bool
	FallbackDepth int
	OriginalSize  int
	OptimizedSize int
}

// Ratio reports optimized size relative to the original, 0 when unknown.
func (r *Result) Ratio() float64 {
	if r.OriginalSize == 0 {
		return 0
	}
	return float64(r.OptimizedSize) / float64(r.OriginalSize)
}

// Engine derives image variants and optionally caches them in a Store.
type Engine struct {
	store  kvstore.Store
	logger zerolog.Logger
}

// NewEngine creates an Engine. The store may be nil when only Process is
// used; ProcessAndCache requires it.
func NewEngine(store kvstore.Store) *Engine {
	return &Engine{
		store:  store,
		logger: logging.NewLogger("images"),
	}
}

// strategy is one step of the conversion cascade.
type strategy struct {
	format Format
	encode func(img image.Image, quality int) ([]byte, error)
}

func encodeAVIF(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := avif.Encode(&buf, img, avif.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// cascadeFor returns the ordered strategies for a resolved format. Each
// cascade ends in JPEG; the original-bytes terminal step is handled by the
// caller so it can skip decoding entirely.
func cascadeFor(format Format) []strategy {
	switch format {
	case FormatAVIF:
		return []strategy{
			{FormatAVIF, encodeAVIF},
			{FormatWebP, encodeWebP},
			{FormatJPEG, encodeJPEG},
		}
	case FormatWebP:
		return []strategy{
			{FormatWebP, encodeWebP},
			{FormatJPEG, encodeJPEG},
		}
	default:
		return []strategy{
			{FormatJPEG, encodeJPEG},
		}
	}
}

// Process converts src into the requested variant and format. It never
// returns an error for bad image data: when decoding or every encoder fails,
// the original bytes pass through unchanged with Fallback set. The auto
// token is resolved to webp, matching negotiation's default for capable
// clients; callers that want header-driven resolution call Resolve first.
func (e *Engine) Process(src []byte, variant Variant, format Format) (*Result, error) {
	vs, ok := variantSpecs[variant]
	if !ok {
		return nil, fmt.Errorf("unknown variant %q", variant)
	}
	if format == FormatAuto {
		format = FormatWebP
	}

	if variant == VariantPlaceholder {
		return e.placeholder(src), nil
	}

	res := &Result{
		Variant:      variant,
		Format:       format,
		OriginalSize: len(src),
	}

	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		e.logger.Warn().Err(err).Str("variant", string(variant)).Msg("Source decode failed, passing original bytes through")
		return e.passthrough(res, src, len(cascadeFor(format))), nil
	}

	if vs.width > 0 || vs.height > 0 {
		img = imaging.Fit(img, vs.width, vs.height, imaging.Lanczos)
	}

	for depth, s := range cascadeFor(format) {
		data, err := s.encode(img, vs.quality)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Str("variant", string(variant)).
				Str("format", string(s.format)).
				Msg("Encoder failed, falling back")
			conversionFallbacks.WithLabelValues(string(s.format)).Inc()
			continue
		}
		res.Data = data
		res.ContentType = ContentType(s.format)
		res.Format = s.format
		res.FallbackDepth = depth
		res.Fallback = depth > 0
		res.OptimizedSize = len(data)
		conversionsTotal.WithLabelValues(string(s.format)).Inc()
		return res, nil
	}

	// Every encoder failed on a decodable image. Original bytes still win.
	return e.passthrough(res, src, len(cascadeFor(format))), nil
}

func (e *Engine) passthrough(res *Result, src []byte, depth int) *Result {
	res.Data = src
	res.ContentType = "image/jpeg"
	res.Format = FormatJPEG
	res.Fallback = true
	res.FallbackDepth = depth
	res.OptimizedSize = len(src)
	conversionFallbacks.WithLabelValues("original").Inc()
	return res
}

// placeholder builds a low-cost blur stand-in without decoding the source:
// a data URI holding a truncated base64 prefix of the source bytes, or a
// transparent 1x1 GIF when there is no source at all.
func (e *Engine) placeholder(src []byte) *Result {
	res := &Result{
		Variant:      VariantPlaceholder,
		Format:       FormatJPEG,
		ContentType:  "text/plain",
		OriginalSize: len(src),
	}
	if len(src) == 0 {
		res.Data = []byte(onePixelGIF)
		res.Fallback = true
	} else {
		prefix := src
		if len(prefix) > placeholderPrefixLen {
			prefix = prefix[:placeholderPrefixLen]
		}
		res.Data = []byte("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(prefix))
	}
	res.OptimizedSize = len(res.Data)
	return res
}

// cachedVariant is the stored envelope for a processed variant. Content type
// travels with the bytes so fallback results replay with the type they were
// produced under, not the type the key implies.
type cachedVariant struct {
	ContentType string `json:"content_type"`
	Fallback    bool   `json:"fallback"`
	Data        []byte `json:"data"`
}

// ProcessAndCache serves a variant from the store when present, otherwise
// processes src and writes the result back under the resolved-format key
// with the variant's TTL. Cache write failures degrade to a log line; the
// processed result is still returned.
func (e *Engine) ProcessAndCache(ctx context.Context, id string, slotIndex int, variant Variant, format Format, src []byte) (*Result, error) {
	if e.store == nil {
		return nil, fmt.Errorf("images: ProcessAndCache requires a store")
	}
	if format == FormatAuto {
		format = FormatWebP
	}
	key, err := CacheKey(id, variant, format, slotIndex)
	if err != nil {
		return nil, err
	}

	if raw, err := e.store.Get(ctx, key); err == nil {
		var cv cachedVariant
		if err := json.Unmarshal(raw, &cv); err == nil {
			variantCacheHits.WithLabelValues(string(variant)).Inc()
			return &Result{
				Data:          cv.Data,
				ContentType:   cv.ContentType,
				Variant:       variant,
				Format:        format,
				Fallback:      cv.Fallback,
				OriginalSize:  len(src),
				OptimizedSize: len(cv.Data),
			}, nil
		}
		e.logger.Warn().Str("key", key).Msg("Discarding undecodable cached variant")
	}
	variantCacheMisses.WithLabelValues(string(variant)).Inc()

	res, err := e.Process(src, variant, format)
	if err != nil {
		return nil, err
	}

	envelope, err := json.Marshal(cachedVariant{
		ContentType: res.ContentType,
		Fallback:    res.Fallback,
		Data:        res.Data,
	})
	if err == nil {
		err = e.store.Put(ctx, key, envelope, TTLFor(variant))
	}
	if err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("Variant cache write failed, serving uncached result")
	}
	return res, nil
}

// ObserveProcessDuration records end-to-end variant handling time for
// callers that time the full request path.
func ObserveProcessDuration(variant Variant, d time.Duration) {
	processDuration.WithLabelValues(string(variant)).Observe(d.Seconds())
}
