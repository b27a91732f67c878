// Package featured maintains the curated set of listing ids promoted for
// highlighted display. The set is bounded by a min/max cardinality; falling
// below the floor after a removal arms a delayed backfill job that
// replenishes it from random non-featured listings.
package featured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/londonmove/listings-proxy/pkg/kvstore"
	"github.com/londonmove/listings-proxy/pkg/listings"
	"github.com/londonmove/listings-proxy/pkg/logging"
)

// Store keys. KeyIDs is the source of truth; KeyIDsCache is a long-TTL read
// accelerator that every mutation invalidates.
const (
	KeyIDs      = "featured:ids"
	KeyIDsCache = "featured:ids:cache"
	KeyJob      = "featured:backfill-job"
)

// ErrCapacityExceeded signals an add attempted while the set is at its
// maximum. Match with errors.Is; the concrete limit travels in CapacityError.
var ErrCapacityExceeded = errors.New("featured set at capacity")

// CapacityError carries the configured maximum so callers can surface it.
type CapacityError struct {
	Max int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("featured set is at capacity (max %d listings)", e.Max)
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}

// Listings is the slice of the listings cache the manager needs: flag
// patching with full invalidation as the fallback, and snapshot access for
// backfill candidate selection.
type Listings interface {
	PatchFeaturedFlag(ctx context.Context, ids map[string]struct{}) (bool, error)
	InvalidateMetadata(ctx context.Context) error
	InvalidateRecord(ctx context.Context, id string) error
	FetchAll(ctx context.Context) (*listings.Snapshot, error)
}

// Config holds the featured-set parameters.
type Config struct {
	Store    kvstore.Store
	Listings Listings

	// Cardinality bounds. Min is the backfill floor, Max is enforced
	// synchronously on add.
	Min int
	Max int

	// CacheTTL governs the derived read-cache. Featured ids churn far less
	// often than listing metadata, so this runs much longer than the
	// metadata TTL.
	CacheTTL time.Duration

	// BackfillDelay is how long after the triggering removal a backfill
	// job becomes due. BackfillTTLBuffer extends the job's store TTL past
	// executeAt so an unpolled job expires instead of lingering.
	BackfillDelay     time.Duration
	BackfillTTLBuffer time.Duration
}

// DefaultConfig returns the standard featured-set parameters.
func DefaultConfig() Config {
	return Config{
		Min:               7,
		Max:               10,
		CacheTTL:          24 * time.Hour,
		BackfillDelay:     5 * time.Minute,
		BackfillTTLBuffer: 10 * time.Minute,
	}
}

// Manager owns the featured set and its backfill state machine.
type Manager struct {
	store    kvstore.Store
	listings Listings
	min      int
	max      int
	cacheTTL time.Duration
	delay    time.Duration
	buffer   time.Duration
	logger   zerolog.Logger

	// now is swapped in tests to step the job clock.
	now func() time.Time
}

// New creates a Manager. Zero-valued Config fields take defaults.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("featured: Store is required")
	}
	if cfg.Listings == nil {
		return nil, errors.New("featured: Listings is required")
	}
	def := DefaultConfig()
	if cfg.Min == 0 {
		cfg.Min = def.Min
	}
	if cfg.Max == 0 {
		cfg.Max = def.Max
	}
	if cfg.Min > cfg.Max {
		return nil, fmt.Errorf("featured: min %d exceeds max %d", cfg.Min, cfg.Max)
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.BackfillDelay == 0 {
		cfg.BackfillDelay = def.BackfillDelay
	}
	if cfg.BackfillTTLBuffer == 0 {
		cfg.BackfillTTLBuffer = def.BackfillTTLBuffer
	}
	return &Manager{
		store:    cfg.Store,
		listings: cfg.Listings,
		min:      cfg.Min,
		max:      cfg.Max,
		cacheTTL: cfg.CacheTTL,
		delay:    cfg.BackfillDelay,
		buffer:   cfg.BackfillTTLBuffer,
		logger:   logging.NewLogger("featured"),
		now:      time.Now,
	}, nil
}

// ToggleResult reports the outcome of a toggle.
type ToggleResult struct {
	IDs               []string
	Added             bool
	Removed           bool
	BackfillScheduled bool
	Shortfall         int
	ExecuteAt         time.Time
}

// Toggle removes id when present, otherwise adds it. An add at max
// cardinality is rejected with CapacityError and the set is unchanged. When
// a removal drops the set below the floor, a backfill job is scheduled
// before the list is persisted. Every successful mutation persists the
// source of truth, invalidates the read-cache, and patches (or, failing
// that, invalidates) the listings metadata cache.
func (m *Manager) Toggle(ctx context.Context, id string) (*ToggleResult, error) {
	ids, err := m.sourceIDs(ctx)
	if err != nil {
		return nil, err
	}

	res := &ToggleResult{}
	if idx := indexOf(ids, id); idx >= 0 {
		ids = append(ids[:idx], ids[idx+1:]...)
		res.Removed = true
	} else {
		if len(ids) >= m.max {
			togglesTotal.WithLabelValues("rejected").Inc()
			return nil, &CapacityError{Max: m.max}
		}
		ids = append(ids, id)
		res.Added = true
	}
	res.IDs = ids

	if res.Removed && len(ids) < m.min {
		job, err := m.Schedule(ctx, len(ids))
		if err != nil {
			// The removal still goes through; the next removal or
			// poller pass gets another chance to arm the job.
			m.logger.Error().Err(err).Msg("Failed to schedule backfill job")
		} else if job != nil {
			res.BackfillScheduled = true
			res.Shortfall = job.Shortfall
			res.ExecuteAt = job.ExecuteAt
		}
	}

	if err := m.persistIDs(ctx, ids); err != nil {
		return nil, err
	}
	m.invalidateReadCache(ctx)
	m.syncListingsCache(ctx, id, ids)

	action := "added"
	if res.Removed {
		action = "removed"
	}
	togglesTotal.WithLabelValues(action).Inc()
	m.logger.Info().
		Str("propref", id).
		Str("action", action).
		Int("count", len(ids)).
		Bool("backfill_scheduled", res.BackfillScheduled).
		Msg("Featured set toggled")
	return res, nil
}

// GetIDs returns the featured ids, serving from the read-cache and falling
// back to the source of truth on miss, repopulating the cache.
func (m *Manager) GetIDs(ctx context.Context) ([]string, error) {
	if raw, err := m.store.Get(ctx, KeyIDsCache); err == nil {
		var ids []string
		if err := json.Unmarshal(raw, &ids); err == nil {
			readCacheHits.Inc()
			return ids, nil
		}
		m.logger.Warn().Msg("Discarding undecodable featured read-cache entry")
	}
	readCacheMisses.Inc()

	ids, err := m.sourceIDs(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(ids); err == nil {
		if err := m.store.Put(ctx, KeyIDsCache, data, m.cacheTTL); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to repopulate featured read-cache")
		}
	}
	return ids, nil
}

// IDSet returns the featured ids as a membership set.
func (m *Manager) IDSet(ctx context.Context) (map[string]struct{}, error) {
	ids, err := m.GetIDs(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (m *Manager) sourceIDs(ctx context.Context) ([]string, error) {
	raw, err := m.store.Get(ctx, KeyIDs)
	if errors.Is(err, kvstore.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("featured: reading id list: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("featured: decoding id list: %w", err)
	}
	return ids, nil
}

// persistIDs writes the source of truth. No TTL: the list must survive any
// cache churn.
func (m *Manager) persistIDs(ctx context.Context, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("featured: encoding id list: %w", err)
	}
	if err := m.store.Put(ctx, KeyIDs, data, 0); err != nil {
		return fmt.Errorf("featured: persisting id list: %w", err)
	}
	return nil
}

func (m *Manager) invalidateReadCache(ctx context.Context) {
	if err := m.store.Delete(ctx, KeyIDsCache); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to invalidate featured read-cache")
	}
}

// syncListingsCache patches the cached listing metadata in place, falling
// back to full invalidation when no cached metadata exists to patch.
// Correctness over efficiency: a failed patch must not leave stale flags.
// The toggled record's per-id entry is dropped unconditionally; it outlives
// the snapshot and the patch cannot reach records absent from it.
func (m *Manager) syncListingsCache(ctx context.Context, toggled string, ids []string) {
	if err := m.listings.InvalidateRecord(ctx, toggled); err != nil {
		m.logger.Warn().Err(err).Str("propref", toggled).Msg("Failed to drop per-id entry after featured mutation")
	}

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	patched, err := m.listings.PatchFeaturedFlag(ctx, set)
	if err == nil && patched {
		return
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("Featured flag patch failed, invalidating listings metadata")
	}
	if err := m.listings.InvalidateMetadata(ctx); err != nil {
		m.logger.Error().Err(err).Msg("Failed to invalidate listings metadata after featured mutation")
	}
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
