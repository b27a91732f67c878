// Package config holds the explicit, typed configuration for the listings
// proxy. Every knob has a documented default; nothing is read from an
// untyped environment bag at runtime.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Featured set bounds. The curated list is kept within [MinFeatured,
// MaxFeatured]; dropping below the floor arms an automatic backfill.
const (
	DefaultMinFeatured = 7
	DefaultMaxFeatured = 10
)

// Config holds all tunables for the proxy core.
type Config struct {
	// UpstreamBaseURL is the base URL of the listings source.
	UpstreamBaseURL string

	// UpstreamToken is the opaque bearer token for the listings source.
	// It is stored URL-encoded and decoded before use.
	UpstreamToken string

	// MetadataTTL is how long the image-stripped snapshot stays fresh.
	MetadataTTL time.Duration

	// RecordTTL is the per-id cache TTL. Longer than MetadataTTL so
	// opportunistic per-id entries outlive the snapshot they came from.
	RecordTTL time.Duration

	// ImageTTL is the TTL for raw image slots. Images churn less than
	// metadata, so this is longer than MetadataTTL.
	ImageTTL time.Duration

	// ETagTTL is the TTL for stored ETags. Longer than MetadataTTL so the
	// conditional-request optimization outlives the data it validates.
	ETagTTL time.Duration

	// FeaturedCacheTTL is the TTL of the derived featured-ids read cache.
	FeaturedCacheTTL time.Duration

	// FetchTimeout is the hard wall-clock budget for a listings fetch.
	FetchTimeout time.Duration

	// MediaTimeout is the hard wall-clock budget for a media fetch.
	MediaTimeout time.Duration

	// MinFeatured is the floor below which a backfill is scheduled.
	MinFeatured int

	// MaxFeatured is the hard cap enforced on every add.
	MaxFeatured int

	// BackfillDelay is how long after scheduling a backfill job becomes due.
	BackfillDelay time.Duration

	// BackfillTTLBuffer extends the job's store TTL past its ExecuteAt so an
	// unpolled job self-expires instead of lingering.
	BackfillTTLBuffer time.Duration

	// AdminToken gates the toggle-featured operation.
	AdminToken string
}

// Default returns the documented default configuration. Callers override
// individual fields before passing the config to constructors.
func Default() Config {
	return Config{
		UpstreamBaseURL:   "https://www.rentman.online",
		MetadataTTL:       5 * time.Minute,
		RecordTTL:         10 * time.Minute,
		ImageTTL:          1 * time.Hour,
		ETagTTL:           24 * time.Hour,
		FeaturedCacheTTL:  24 * time.Hour,
		FetchTimeout:      10 * time.Second,
		MediaTimeout:      15 * time.Second,
		MinFeatured:       DefaultMinFeatured,
		MaxFeatured:       DefaultMaxFeatured,
		BackfillDelay:     5 * time.Minute,
		BackfillTTLBuffer: 10 * time.Minute,
	}
}

// FromEnv builds a Config from environment variables, starting from Default.
// Unset variables keep their defaults.
func FromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv("UPSTREAM_BASE_URL"); v != "" {
		cfg.UpstreamBaseURL = v
	}
	if v := os.Getenv("UPSTREAM_API_TOKEN"); v != "" {
		decoded, err := url.QueryUnescape(v)
		if err != nil {
			return cfg, fmt.Errorf("decode UPSTREAM_API_TOKEN: %w", err)
		}
		cfg.UpstreamToken = decoded
	}
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")

	var err error
	if cfg.MetadataTTL, err = envDuration("METADATA_TTL", cfg.MetadataTTL); err != nil {
		return cfg, err
	}
	if cfg.RecordTTL, err = envDuration("RECORD_TTL", cfg.RecordTTL); err != nil {
		return cfg, err
	}
	if cfg.ImageTTL, err = envDuration("IMAGE_TTL", cfg.ImageTTL); err != nil {
		return cfg, err
	}
	if cfg.ETagTTL, err = envDuration("ETAG_TTL", cfg.ETagTTL); err != nil {
		return cfg, err
	}
	if cfg.FetchTimeout, err = envDuration("FETCH_TIMEOUT", cfg.FetchTimeout); err != nil {
		return cfg, err
	}
	if cfg.MediaTimeout, err = envDuration("MEDIA_TIMEOUT", cfg.MediaTimeout); err != nil {
		return cfg, err
	}
	if cfg.BackfillDelay, err = envDuration("BACKFILL_DELAY", cfg.BackfillDelay); err != nil {
		return cfg, err
	}
	if cfg.MinFeatured, err = envInt("MIN_FEATURED", cfg.MinFeatured); err != nil {
		return cfg, err
	}
	if cfg.MaxFeatured, err = envInt("MAX_FEATURED", cfg.MaxFeatured); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate checks cross-field invariants.
func (c Config) Validate() error {
	if c.MinFeatured < 0 || c.MaxFeatured <= 0 {
		return fmt.Errorf("featured bounds must be positive (min=%d max=%d)", c.MinFeatured, c.MaxFeatured)
	}
	if c.MinFeatured > c.MaxFeatured {
		return fmt.Errorf("min featured (%d) exceeds max featured (%d)", c.MinFeatured, c.MaxFeatured)
	}
	if c.ETagTTL < c.MetadataTTL {
		return fmt.Errorf("etag TTL (%s) must not be shorter than metadata TTL (%s)", c.ETagTTL, c.MetadataTTL)
	}
	if c.RecordTTL < c.MetadataTTL {
		return fmt.Errorf("record TTL (%s) must not be shorter than metadata TTL (%s)", c.RecordTTL, c.MetadataTTL)
	}
	return nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}
