package listings

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/londonmove/listings-proxy/pkg/kvstore"
)

type stubMedia struct {
	list    []byte
	listErr error
	files   map[string]string
	fileErr error
}

func (s *stubMedia) FetchMediaList(context.Context, string) ([]byte, error) {
	return s.list, s.listErr
}

func (s *stubMedia) FetchMediaFile(_ context.Context, filename string) ([]byte, error) {
	if s.fileErr != nil {
		return nil, s.fileErr
	}
	return []byte(s.files[filename]), nil
}

func newRefreshCache(t *testing.T, media MediaFetcher) (*Cache, *kvstore.Memory) {
	t.Helper()
	store := kvstore.NewMemory()
	cache, err := NewCache(Config{
		Store:       store,
		Fetcher:     &stubFetcher{},
		Media:       media,
		MetadataTTL: time.Minute,
		ImageTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	return cache, store
}

func TestRefreshImages_StoresSlots(t *testing.T) {
	photo := base64.StdEncoding.EncodeToString([]byte("photo-bytes"))
	plan := base64.StdEncoding.EncodeToString([]byte("plan-bytes"))
	media := &stubMedia{
		list: []byte(`[
			{"filename": "p1.jpg", "base64data": "` + photo + `", "imgorder": "1"},
			{"filename": "fp.jpg", "base64data": "` + plan + `", "imgorder": "9998"}
		]`),
	}
	cache, store := newRefreshCache(t, media)
	ctx := context.Background()

	refreshed, err := cache.RefreshImages(ctx, "101")
	if err != nil {
		t.Fatalf("RefreshImages() error = %v", err)
	}
	if len(refreshed) != 2 {
		t.Errorf("Refreshed %d slots, want 2", len(refreshed))
	}

	got, err := store.Get(ctx, ImageKey("101", SlotPhoto1))
	if err != nil {
		t.Fatalf("Expected stored main photo, got %v", err)
	}
	if string(got) != photo {
		t.Error("Stored photo payload differs from media payload")
	}
	if _, err := store.Get(ctx, ImageKey("101", SlotFloorPlan)); err != nil {
		t.Errorf("Expected stored floor plan, got %v", err)
	}
}

func TestRefreshImages_FetchesFileWhenNotInlined(t *testing.T) {
	media := &stubMedia{
		list:  []byte(`[{"filename": "p1.jpg", "imgorder": "1"}]`),
		files: map[string]string{"p1.jpg": "ZmlsZS1ieXRlcw=="},
	}
	cache, store := newRefreshCache(t, media)
	ctx := context.Background()

	refreshed, err := cache.RefreshImages(ctx, "101")
	if err != nil {
		t.Fatalf("RefreshImages() error = %v", err)
	}
	if len(refreshed) != 1 {
		t.Fatalf("Refreshed %d slots, want 1", len(refreshed))
	}
	got, err := store.Get(ctx, ImageKey("101", SlotPhoto1))
	if err != nil {
		t.Fatalf("Expected stored photo, got %v", err)
	}
	if string(got) != "ZmlsZS1ieXRlcw==" {
		t.Errorf("Stored payload = %q", string(got))
	}
}

func TestRefreshImages_SkipsFailedSlot(t *testing.T) {
	media := &stubMedia{
		list:    []byte(`[{"filename": "p1.jpg", "imgorder": "1"}]`),
		fileErr: errors.New("media fetch failed"),
	}
	cache, _ := newRefreshCache(t, media)

	refreshed, err := cache.RefreshImages(context.Background(), "101")
	if err != nil {
		t.Fatalf("A failed slot must not fail the refresh, got %v", err)
	}
	if len(refreshed) != 0 {
		t.Errorf("Refreshed %d slots, want 0", len(refreshed))
	}
}

func TestRefreshImages_RequiresMediaFetcher(t *testing.T) {
	cache, _ := newRefreshCache(t, nil)

	if _, err := cache.RefreshImages(context.Background(), "101"); err == nil {
		t.Error("Expected error without a media fetcher")
	}
}

func TestRefreshImages_ListError(t *testing.T) {
	media := &stubMedia{listErr: errors.New("upstream down")}
	cache, _ := newRefreshCache(t, media)

	if _, err := cache.RefreshImages(context.Background(), "101"); err == nil {
		t.Error("Expected list fetch error to propagate")
	}
}
