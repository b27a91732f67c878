package listings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/londonmove/listings-proxy/pkg/kvstore"
	"github.com/londonmove/listings-proxy/pkg/logging"
	"github.com/londonmove/listings-proxy/pkg/upstream"
)

// ErrNotFound indicates a listing id absent from both the per-id cache and
// the snapshot, even after a fallback fetch. Distinct from upstream
// unavailability so callers can answer "missing resource" vs "degraded".
var ErrNotFound = errors.New("listing not found")

// Fetcher is the upstream dependency of the cache.
type Fetcher interface {
	FetchListings(ctx context.Context) (*upstream.Result, error)
}

// Config holds the cache configuration.
type Config struct {
	// Store is the backing key/value store.
	Store kvstore.Store

	// Fetcher performs the deduplicated upstream refresh on miss.
	Fetcher Fetcher

	// Media optionally enables per-slot image refresh from the media
	// endpoints. Nil disables RefreshImages.
	Media MediaFetcher

	// MetadataTTL is the snapshot freshness window.
	MetadataTTL time.Duration

	// RecordTTL is the per-id entry TTL; longer than MetadataTTL.
	RecordTTL time.Duration

	// ImageTTL is the image-slot TTL; longer than MetadataTTL since images
	// churn less.
	ImageTTL time.Duration
}

// Cache serves the listings snapshot with minimal upstream calls. At most
// one upstream fetch is in flight per logical key at any time; concurrent
// callers share that fetch's outcome.
type Cache struct {
	store   kvstore.Store
	fetcher Fetcher
	media   MediaFetcher
	cfg     Config
	logger  zerolog.Logger
	group   singleflight.Group
}

// NewCache creates a listings cache.
func NewCache(cfg Config) (*Cache, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = 5 * time.Minute
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = 2 * cfg.MetadataTTL
	}
	if cfg.ImageTTL <= 0 {
		cfg.ImageTTL = time.Hour
	}

	return &Cache{
		store:   cfg.Store,
		fetcher: cfg.Fetcher,
		media:   cfg.Media,
		cfg:     cfg,
		logger:  logging.NewLogger("listings-cache"),
	}, nil
}

// FetchAll returns the current snapshot with images reconstructed. A
// non-expired metadata entry is served from cache; otherwise one
// deduplicated upstream fetch is performed and all concurrent callers
// receive its result.
func (c *Cache) FetchAll(ctx context.Context) (*Snapshot, error) {
	if snapshot, ok := c.cachedSnapshot(ctx); ok {
		return snapshot, nil
	}

	v, err, shared := c.group.Do(KeyMetadata, func() (interface{}, error) {
		// Re-check under the flight lock: a concurrent refresh may have
		// landed while this caller was queueing.
		if snapshot, ok := c.cachedSnapshot(ctx); ok {
			return snapshot, nil
		}
		return c.refresh(ctx)
	})
	if shared {
		dedupSharedResults.Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot).clone(), nil
}

// FetchOne returns one listing with images reconstructed. It prefers the
// per-id cache entry, falls back to the snapshot cache, and triggers a full
// fetch as last resort. Fallback hits opportunistically populate the per-id
// entry for future direct hits.
func (c *Cache) FetchOne(ctx context.Context, id string) (*Record, error) {
	if data, err := c.store.Get(ctx, RecordKey(id)); err == nil {
		var record Record
		if err := json.Unmarshal(data, &record); err == nil {
			reconstructed, stats := c.Reconstruct(ctx, record)
			c.logReconstruct(id, stats)
			return reconstructed, nil
		}
		c.logger.Warn().Str("key", RecordKey(id)).Msg("Corrupt per-id cache entry, falling back")
	} else if err != kvstore.ErrNotFound {
		c.logger.Warn().Err(err).Str("key", RecordKey(id)).Msg("Per-id cache read failed")
	}

	// Scan the metadata snapshot before paying for a full fetch.
	if records, ok := c.cachedMetadata(ctx); ok {
		if record := findRecord(records, id); record != nil {
			c.populateRecordEntry(ctx, *record)
			reconstructed, stats := c.Reconstruct(ctx, *record)
			c.logReconstruct(id, stats)
			return reconstructed, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	snapshot, err := c.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	record := snapshot.Find(id)
	if record == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.populateRecordEntry(ctx, record.MetadataOnly())
	return record, nil
}

// Store splits each record into image-stripped metadata plus per-slot image
// blobs and writes them under independent TTLs. On partial failure of the
// split write it falls back to a single combined write under the metadata
// key so no data is lost; only a failed fallback is reported.
func (c *Cache) Store(ctx context.Context, snapshot *Snapshot) error {
	splitFailed := false

	for i := range snapshot.Records {
		record := &snapshot.Records[i]
		for slot, b64 := range record.Images {
			if err := c.store.Put(ctx, ImageKey(record.ID, slot), []byte(b64), c.cfg.ImageTTL); err != nil {
				c.logger.Warn().Err(err).
					Str("key", ImageKey(record.ID, slot)).
					Msg("Image slot write failed")
				splitFailed = true
			}
		}
	}

	var metadata []Record
	if !splitFailed {
		metadata = make([]Record, len(snapshot.Records))
		for i, record := range snapshot.Records {
			metadata[i] = record.MetadataOnly()
		}
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if err := c.store.Put(ctx, KeyMetadata, data, c.cfg.MetadataTTL); err != nil {
			c.logger.Warn().Err(err).Str("key", KeyMetadata).Msg("Metadata write failed")
			splitFailed = true
		}
	}

	if !splitFailed {
		return nil
	}

	// Degraded mode: one combined write, images included, under the
	// metadata key. Logged, not surfaced, unless this write fails too.
	degradedWrites.Inc()
	combined, err := json.Marshal(snapshot.Records)
	if err != nil {
		return fmt.Errorf("marshal combined snapshot: %w", err)
	}
	if err := c.store.Put(ctx, KeyMetadata, combined, c.cfg.MetadataTTL); err != nil {
		return fmt.Errorf("combined fallback write: %w", err)
	}
	c.logger.Warn().
		Int("records", len(snapshot.Records)).
		Msg("Split cache write degraded, stored combined snapshot")
	return nil
}

// PatchFeaturedFlag flips each cached record's featured flag to its
// membership in ids, without a full re-fetch. Returns false when no cached
// metadata exists to patch; the caller must fall back to full invalidation.
func (c *Cache) PatchFeaturedFlag(ctx context.Context, ids map[string]struct{}) (bool, error) {
	data, md, err := c.store.GetWithMetadata(ctx, KeyMetadata)
	if err != nil {
		if err == kvstore.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("read metadata for patch: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return false, fmt.Errorf("unmarshal metadata for patch: %w", err)
	}

	var changed []string
	for i := range records {
		_, featured := ids[records[i].ID]
		if records[i].IsFeatured() != featured {
			changed = append(changed, records[i].ID)
		}
		records[i].SetFeatured(featured)
	}

	patched, err := json.Marshal(records)
	if err != nil {
		return false, fmt.Errorf("marshal patched metadata: %w", err)
	}

	// Preserve the entry's remaining lifetime; patching must not extend it.
	ttl := md.TTL()
	if ttl <= 0 {
		ttl = c.cfg.MetadataTTL
	}
	if err := c.store.Put(ctx, KeyMetadata, patched, ttl); err != nil {
		return false, fmt.Errorf("write patched metadata: %w", err)
	}

	// Per-id entries outlive the snapshot and carry the flag too; drop the
	// ones that just flipped so FetchOne recomputes instead of serving the
	// pre-toggle flag until RecordTTL lapses.
	for _, id := range changed {
		if err := c.store.Delete(ctx, RecordKey(id)); err != nil {
			c.logger.Warn().Err(err).Str("key", RecordKey(id)).Msg("Failed to drop stale per-id entry")
		}
	}

	featuredPatches.Inc()
	return true, nil
}

// InvalidateMetadata drops the cached snapshot so the next read recomputes
// it from upstream.
func (c *Cache) InvalidateMetadata(ctx context.Context) error {
	return c.store.Delete(ctx, KeyMetadata)
}

// InvalidateRecord drops the per-id entry for id so the next FetchOne
// recomputes it.
func (c *Cache) InvalidateRecord(ctx context.Context, id string) error {
	return c.store.Delete(ctx, RecordKey(id))
}

// Reconstruct merges cached image slots back into an image-stripped record.
// The main photo is fetched first and awaited on its own; all other slots
// are fetched in parallel and joined before returning. Partial image loss
// never fails the reconstruction; coverage is reported in the stats.
func (c *Cache) Reconstruct(ctx context.Context, record Record) (*Record, ImageStats) {
	merged := record.copy()
	slots := merged.markedSlots()

	var stats ImageStats
	if len(slots) == 0 {
		stats.Loaded = len(merged.Images)
		return &merged, stats
	}

	secondary := make([]Slot, 0, len(slots))
	for _, slot := range slots {
		if slot == SlotPhoto1 {
			// Main photo first, independently awaited.
			if b64, err := c.store.Get(ctx, ImageKey(merged.ID, slot)); err == nil {
				merged.Images[slot] = string(b64)
				stats.Loaded++
			} else {
				stats.Missing++
			}
			continue
		}
		secondary = append(secondary, slot)
	}

	if len(secondary) > 0 {
		type slotResult struct {
			slot Slot
			b64  string
			ok   bool
		}

		results := make(chan slotResult, len(secondary))
		var wg sync.WaitGroup
		for _, slot := range secondary {
			wg.Add(1)
			go func(slot Slot) {
				defer wg.Done()
				b64, err := c.store.Get(ctx, ImageKey(merged.ID, slot))
				results <- slotResult{slot: slot, b64: string(b64), ok: err == nil}
			}(slot)
		}
		wg.Wait()
		close(results)

		for result := range results {
			if result.ok {
				merged.Images[result.slot] = result.b64
				stats.Loaded++
			} else {
				stats.Missing++
			}
		}
	}

	if stats.Missing > 0 {
		imagesMissing.Add(float64(stats.Missing))
	}
	return &merged, stats
}

// cachedSnapshot loads and reconstructs the snapshot from the metadata
// entry. ok is false on miss or corruption.
func (c *Cache) cachedSnapshot(ctx context.Context) (*Snapshot, bool) {
	records, ok := c.cachedMetadata(ctx)
	if !ok {
		return nil, false
	}

	snapshot := &Snapshot{Records: make([]Record, len(records))}
	var total ImageStats
	for i, record := range records {
		reconstructed, stats := c.Reconstruct(ctx, record)
		snapshot.Records[i] = *reconstructed
		total.Loaded += stats.Loaded
		total.Missing += stats.Missing
	}

	c.logger.Debug().
		Int("records", len(snapshot.Records)).
		Int("images_loaded", total.Loaded).
		Int("images_missing", total.Missing).
		Msg("Snapshot served from cache")
	return snapshot, true
}

// cachedMetadata loads the raw metadata records without reconstruction.
func (c *Cache) cachedMetadata(ctx context.Context) ([]Record, bool) {
	data, err := c.store.Get(ctx, KeyMetadata)
	if err != nil {
		if err != kvstore.ErrNotFound {
			c.logger.Warn().Err(err).Str("key", KeyMetadata).Msg("Metadata read failed")
		}
		return nil, false
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		c.logger.Warn().Err(err).Str("key", KeyMetadata).Msg("Corrupt metadata entry")
		return nil, false
	}
	return records, true
}

// refresh performs the actual upstream fetch, stores the result, and returns
// the fresh snapshot. Runs inside the singleflight group.
func (c *Cache) refresh(ctx context.Context) (*Snapshot, error) {
	result, err := c.fetcher.FetchListings(ctx)
	if err != nil {
		return nil, err
	}

	if result.Status == upstream.StatusNotModified {
		// The upstream validated a copy we no longer hold. Surfacing this is
		// mandatory; returning empty data here would look like truth.
		return nil, fmt.Errorf("listings refresh: %w", upstream.ErrInconsistentState)
	}

	var records []Record
	if err := json.Unmarshal(result.Data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal listings payload: %w", err)
	}
	snapshot := &Snapshot{Records: records}
	snapshotRefreshes.Inc()

	// Caching is best-effort: a store failure must never block returning
	// correct data to the caller.
	if err := c.Store(ctx, snapshot); err != nil {
		c.logger.Warn().Err(err).Msg("Snapshot store failed, serving uncached data")
	}

	c.logger.Info().Int("records", len(records)).Msg("Listings snapshot refreshed")
	return snapshot, nil
}

// populateRecordEntry writes the per-id cache entry, best-effort.
func (c *Cache) populateRecordEntry(ctx context.Context, record Record) {
	data, err := json.Marshal(record)
	if err != nil {
		c.logger.Warn().Err(err).Str("propref", record.ID).Msg("Marshal per-id entry failed")
		return
	}
	if err := c.store.Put(ctx, RecordKey(record.ID), data, c.cfg.RecordTTL); err != nil {
		c.logger.Warn().Err(err).Str("key", RecordKey(record.ID)).Msg("Per-id cache write failed")
	}
}

func (c *Cache) logReconstruct(id string, stats ImageStats) {
	c.logger.Debug().
		Str("propref", id).
		Int("images_loaded", stats.Loaded).
		Int("images_missing", stats.Missing).
		Msg("Record reconstructed")
}

func findRecord(records []Record, id string) *Record {
	for i := range records {
		if records[i].ID == id {
			return &records[i]
		}
	}
	return nil
}
