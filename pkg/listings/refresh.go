package listings

import (
	"context"
	"errors"
	"fmt"
)

// MediaFetcher retrieves the per-listing media endpoints used to refresh
// individual image slots without a full snapshot fetch.
type MediaFetcher interface {
	FetchMediaList(ctx context.Context, propref string) ([]byte, error)
	FetchMediaFile(ctx context.Context, filename string) ([]byte, error)
}

// RefreshImages re-pulls one listing's image slots from the media endpoints
// and stores each under its usual image key with the image TTL. Items whose
// payload is not inlined in the list are fetched individually; a single
// failed slot is logged and skipped rather than failing the refresh.
// Returns the slots that were refreshed.
func (c *Cache) RefreshImages(ctx context.Context, id string) ([]Slot, error) {
	if c.media == nil {
		return nil, errors.New("media fetcher not configured")
	}

	payload, err := c.media.FetchMediaList(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("media list for %s: %w", id, err)
	}
	items, err := ParseMediaList(payload)
	if err != nil {
		return nil, err
	}

	var refreshed []Slot
	for slot, item := range SlotMediaItems(items) {
		data := item.Base64Data
		if data == "" {
			fetched, err := c.media.FetchMediaFile(ctx, item.Filename)
			if err != nil {
				c.logger.Warn().Err(err).
					Str("propref", id).
					Str("filename", item.Filename).
					Msg("Media file fetch failed, slot skipped")
				continue
			}
			data = string(fetched)
		}
		if err := c.store.Put(ctx, ImageKey(id, slot), []byte(data), c.cfg.ImageTTL); err != nil {
			c.logger.Warn().Err(err).
				Str("key", ImageKey(id, slot)).
				Msg("Image slot refresh write failed")
			continue
		}
		refreshed = append(refreshed, slot)
	}

	c.logger.Info().
		Str("propref", id).
		Int("slots", len(refreshed)).
		Msg("Image slots refreshed from media endpoint")
	return refreshed, nil
}
