package listings

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Order-hint sentinels used by the upstream media endpoint. Anything else is
// a sequential photo.
const (
	orderHintFloorPlan = "9998"
	orderHintEPC       = "9999"
)

// MediaItem is one entry from the per-listing media endpoint.
type MediaItem struct {
	Filename   string `json:"filename"`
	Base64Data string `json:"base64data"`
	OrderHint  string `json:"imgorder"`
}

// ParseMediaList decodes the media endpoint payload.
func ParseMediaList(data []byte) ([]MediaItem, error) {
	var items []MediaItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshal media list: %w", err)
	}
	return items, nil
}

// SlotForItem maps a media item to its image slot. seq is the 1-based
// position of the item among the sequential photos seen so far; it advances
// only when the item is a plain photo.
func SlotForItem(item MediaItem, seq int) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(item.OrderHint)) {
	case orderHintFloorPlan, "floorplan":
		return SlotFloorPlan, nil
	case orderHintEPC, "epc":
		return SlotEPC, nil
	default:
		return PhotoSlot(seq)
	}
}

// SlotMediaItems assigns every item in the list to a slot, dropping items
// that overflow the nine photo positions.
func SlotMediaItems(items []MediaItem) map[Slot]MediaItem {
	slotted := make(map[Slot]MediaItem, len(items))
	seq := 1
	for _, item := range items {
		slot, err := SlotForItem(item, seq)
		if err != nil {
			continue
		}
		if slot != SlotFloorPlan && slot != SlotEPC {
			seq++
		}
		slotted[slot] = item
	}
	return slotted
}
