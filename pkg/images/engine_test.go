package images

import (
	"bytes"
	"context"
	"image/jpeg"
	"strings"
	"testing"
	"time"

	"github.com/londonmove/listings-proxy/internal/testutil"
	"github.com/londonmove/listings-proxy/pkg/kvstore"
)

func TestProcess_ThumbnailFitsBounds(t *testing.T) {
	engine := NewEngine(nil)
	src := testutil.NewTestJPEG(t, 1200, 900)

	res, err := engine.Process(src, VariantThumbnail, FormatJPEG)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Fallback {
		t.Error("Expected direct encode without fallback")
	}
	if res.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", res.ContentType)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if cfg.Width > 300 || cfg.Height > 300 {
		t.Errorf("Result %dx%d exceeds 300x300 bounds", cfg.Width, cfg.Height)
	}
	// 1200x900 fit into 300x300 keeps the 4:3 ratio.
	if cfg.Width != 300 || cfg.Height != 225 {
		t.Errorf("Result %dx%d, want 300x225", cfg.Width, cfg.Height)
	}
}

func TestProcess_FullKeepsDimensions(t *testing.T) {
	engine := NewEngine(nil)
	src := testutil.NewTestJPEG(t, 640, 480)

	res, err := engine.Process(src, VariantFull, FormatJPEG)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if cfg.Width != 640 || cfg.Height != 480 {
		t.Errorf("Full variant resized to %dx%d, want 640x480", cfg.Width, cfg.Height)
	}
}

func TestProcess_WebPFormat(t *testing.T) {
	engine := NewEngine(nil)
	src := testutil.NewTestPNG(t, 400, 400)

	res, err := engine.Process(src, VariantMedium, FormatWebP)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Format != FormatWebP || res.ContentType != "image/webp" {
		t.Errorf("Format = %q ContentType = %q, want webp", res.Format, res.ContentType)
	}
	if res.Fallback {
		t.Error("Expected direct webp encode")
	}
}

func TestProcess_UndecodableSourcePassesThrough(t *testing.T) {
	engine := NewEngine(nil)
	src := []byte("definitely not an image")

	res, err := engine.Process(src, VariantMedium, FormatAVIF)
	if err != nil {
		t.Fatalf("Process() must not fail on bad input, got %v", err)
	}
	if !res.Fallback {
		t.Error("Expected fallback for undecodable source")
	}
	if !bytes.Equal(res.Data, src) {
		t.Error("Expected original bytes to pass through unchanged")
	}
	if res.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", res.ContentType)
	}
	if res.FallbackDepth != 3 {
		t.Errorf("FallbackDepth = %d, want 3 (past avif, webp, jpeg)", res.FallbackDepth)
	}
}

func TestProcess_UnknownVariant(t *testing.T) {
	engine := NewEngine(nil)
	if _, err := engine.Process(nil, Variant("poster"), FormatJPEG); err == nil {
		t.Error("Expected error for unknown variant")
	}
}

func TestProcess_Placeholder(t *testing.T) {
	engine := NewEngine(nil)
	src := testutil.NewTestJPEG(t, 100, 100)

	res, err := engine.Process(src, VariantPlaceholder, FormatJPEG)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.ContentType != "text/plain" {
		t.Errorf("ContentType = %q, want text/plain", res.ContentType)
	}
	if !strings.HasPrefix(string(res.Data), "data:image/jpeg;base64,") {
		t.Errorf("Placeholder should be a data URI, got %q", string(res.Data[:32]))
	}
	if res.Fallback {
		t.Error("Placeholder from real bytes should not be a fallback")
	}
}

func TestProcess_PlaceholderEmptySource(t *testing.T) {
	engine := NewEngine(nil)

	res, err := engine.Process(nil, VariantPlaceholder, FormatJPEG)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if string(res.Data) != onePixelGIF {
		t.Error("Expected 1x1 GIF data URI for empty source")
	}
	if !res.Fallback {
		t.Error("Empty-source placeholder should report fallback")
	}
}

func TestProcessAndCache_HitSkipsReprocessing(t *testing.T) {
	store := kvstore.NewMemory()
	engine := NewEngine(store)
	ctx := context.Background()
	src := testutil.NewTestJPEG(t, 600, 400)

	first, err := engine.ProcessAndCache(ctx, "12345", 1, VariantThumbnail, FormatJPEG, src)
	if err != nil {
		t.Fatalf("First ProcessAndCache() error = %v", err)
	}

	second, err := engine.ProcessAndCache(ctx, "12345", 1, VariantThumbnail, FormatJPEG, src)
	if err != nil {
		t.Fatalf("Second ProcessAndCache() error = %v", err)
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Error("Cache hit returned different bytes than the processed result")
	}
	if second.ContentType != first.ContentType {
		t.Errorf("ContentType drifted on hit: %q vs %q", second.ContentType, first.ContentType)
	}
}

func TestProcessAndCache_AppliesVariantTTL(t *testing.T) {
	store := kvstore.NewMemory()
	engine := NewEngine(store)
	ctx := context.Background()
	src := testutil.NewTestJPEG(t, 600, 400)

	if _, err := engine.ProcessAndCache(ctx, "12345", 2, VariantMedium, FormatJPEG, src); err != nil {
		t.Fatalf("ProcessAndCache() error = %v", err)
	}

	key, _ := CacheKey("12345", VariantMedium, FormatJPEG, 2)
	_, md, err := store.GetWithMetadata(ctx, key)
	if err != nil {
		t.Fatalf("Expected cached variant, got %v", err)
	}
	ttl := md.TTL()
	if ttl <= 11*time.Hour || ttl > 12*time.Hour {
		t.Errorf("Variant TTL = %v, want about 12h", ttl)
	}
}

func TestProcessAndCache_AutoResolvesBeforeKeying(t *testing.T) {
	store := kvstore.NewMemory()
	engine := NewEngine(store)
	ctx := context.Background()
	src := testutil.NewTestJPEG(t, 320, 240)

	if _, err := engine.ProcessAndCache(ctx, "777", 1, VariantThumbnail, FormatAuto, src); err != nil {
		t.Fatalf("ProcessAndCache() error = %v", err)
	}

	key, _ := CacheKey("777", VariantThumbnail, FormatWebP, 1)
	if _, err := store.Get(ctx, key); err != nil {
		t.Errorf("Expected auto to resolve to webp before keying, got %v", err)
	}
}
