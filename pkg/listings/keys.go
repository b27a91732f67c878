package listings

import "fmt"

// Store key layout for the listings dataset.
const (
	// KeyMetadata holds the image-stripped snapshot.
	KeyMetadata = "listings:metadata"

	// keyRecordPrefix scopes opportunistic per-id record entries.
	keyRecordPrefix = "listings:record:"
)

// ImageKey returns the store key for one image slot of one listing.
func ImageKey(id string, slot Slot) string {
	return fmt.Sprintf("listings:image:%s:%s", id, slot)
}

// RecordKey returns the store key for a per-id record entry.
func RecordKey(id string) string {
	return keyRecordPrefix + id
}
