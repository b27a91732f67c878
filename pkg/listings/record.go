// Package listings owns the cached listings dataset: it splits heavyweight
// image blobs from lightweight metadata, caches each under independent TTLs,
// reconstructs composite records on read, and deduplicates concurrent
// upstream fetches.
package listings

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Slot names one binary image position on a listing record.
type Slot string

// Image slots carried by a listing record. Slots are sparse: any subset may
// be absent.
const (
	SlotPhoto1    Slot = "photo1"
	SlotPhoto2    Slot = "photo2"
	SlotPhoto3    Slot = "photo3"
	SlotPhoto4    Slot = "photo4"
	SlotPhoto5    Slot = "photo5"
	SlotPhoto6    Slot = "photo6"
	SlotPhoto7    Slot = "photo7"
	SlotPhoto8    Slot = "photo8"
	SlotPhoto9    Slot = "photo9"
	SlotFloorPlan Slot = "floorplan"
	SlotEPC       Slot = "epc"
)

// AllSlots lists every slot in reconstruction order: the main photo first,
// then the secondary slots.
var AllSlots = []Slot{
	SlotPhoto1, SlotPhoto2, SlotPhoto3, SlotPhoto4, SlotPhoto5,
	SlotPhoto6, SlotPhoto7, SlotPhoto8, SlotPhoto9,
	SlotFloorPlan, SlotEPC,
}

// PhotoSlot returns the slot for a 1-based photo index.
func PhotoSlot(index int) (Slot, error) {
	if index < 1 || index > 9 {
		return "", fmt.Errorf("photo index must be between 1 and 9, got %d", index)
	}
	return Slot(fmt.Sprintf("photo%d", index)), nil
}

// binaryField maps a slot to its wire field name on the upstream record.
func (s Slot) binaryField() string {
	return string(s) + "binary"
}

// slotForBinaryField inverts binaryField. ok is false for non-image fields.
func slotForBinaryField(field string) (Slot, bool) {
	if !strings.HasSuffix(field, "binary") {
		return "", false
	}
	slot := Slot(strings.TrimSuffix(field, "binary"))
	for _, known := range AllSlots {
		if slot == known {
			return slot, true
		}
	}
	return "", false
}

// fieldFeatured is the metadata flag maintained by the featured-set manager.
const fieldFeatured = "featured"

// slotMarkerField records, on an image-stripped record, which slots the
// record originally carried. Written by the split store, consumed and
// removed during reconstruction.
const slotMarkerField = "_imageSlots"

// Record is one property listing. ID is the stable upstream reference and is
// immutable once assigned. Fields are opaque display metadata passed through
// untouched. Images holds base64-encoded blobs keyed by slot; both maps are
// sparse.
type Record struct {
	ID     string
	Fields map[string]json.RawMessage
	Images map[Slot]string
}

// UnmarshalJSON splits an upstream listing object into the stable id, opaque
// metadata fields, and image slots.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal listing record: %w", err)
	}

	idRaw, ok := raw["propref"]
	if !ok {
		return fmt.Errorf("listing record has no propref field")
	}
	// propref arrives as either a JSON string or a bare number.
	var id string
	if err := json.Unmarshal(idRaw, &id); err != nil {
		id = strings.TrimSpace(string(idRaw))
	}
	if id == "" {
		return fmt.Errorf("listing record has empty propref")
	}

	r.ID = id
	r.Fields = make(map[string]json.RawMessage, len(raw))
	r.Images = make(map[Slot]string)

	for field, value := range raw {
		if slot, isImage := slotForBinaryField(field); isImage {
			var b64 string
			if err := json.Unmarshal(value, &b64); err != nil || b64 == "" {
				continue
			}
			r.Images[slot] = b64
			continue
		}
		r.Fields[field] = value
	}
	return nil
}

// MarshalJSON merges metadata fields and image slots back into the upstream
// wire shape. Keys are emitted sorted, so equal records marshal to identical
// bytes.
func (r Record) MarshalJSON() ([]byte, error) {
	merged := make(map[string]json.RawMessage, len(r.Fields)+len(r.Images))
	for field, value := range r.Fields {
		merged[field] = value
	}
	for slot, b64 := range r.Images {
		encoded, err := json.Marshal(b64)
		if err != nil {
			return nil, fmt.Errorf("marshal image slot %s: %w", slot, err)
		}
		merged[slot.binaryField()] = encoded
	}
	return json.Marshal(merged)
}

// MetadataOnly returns a copy of the record with image slots stripped and a
// marker of which slots were present.
func (r Record) MetadataOnly() Record {
	stripped := Record{
		ID:     r.ID,
		Fields: make(map[string]json.RawMessage, len(r.Fields)+1),
		Images: map[Slot]string{},
	}
	for field, value := range r.Fields {
		stripped.Fields[field] = value
	}
	if len(r.Images) > 0 {
		slots := make([]string, 0, len(r.Images))
		for _, slot := range AllSlots {
			if _, ok := r.Images[slot]; ok {
				slots = append(slots, string(slot))
			}
		}
		marker, _ := json.Marshal(slots)
		stripped.Fields[slotMarkerField] = marker
	}
	return stripped
}

// markedSlots reads and removes the stored slot marker.
func (r *Record) markedSlots() []Slot {
	marker, ok := r.Fields[slotMarkerField]
	if !ok {
		return nil
	}
	delete(r.Fields, slotMarkerField)

	var names []string
	if err := json.Unmarshal(marker, &names); err != nil {
		return nil
	}
	slots := make([]Slot, 0, len(names))
	for _, name := range names {
		slots = append(slots, Slot(name))
	}
	return slots
}

// SetFeatured flips the featured metadata flag.
func (r *Record) SetFeatured(featured bool) {
	if r.Fields == nil {
		r.Fields = make(map[string]json.RawMessage, 1)
	}
	if featured {
		r.Fields[fieldFeatured] = json.RawMessage("true")
	} else {
		r.Fields[fieldFeatured] = json.RawMessage("false")
	}
}

// IsFeatured reports the featured metadata flag.
func (r Record) IsFeatured() bool {
	value, ok := r.Fields[fieldFeatured]
	if !ok {
		return false
	}
	var featured bool
	if err := json.Unmarshal(value, &featured); err != nil {
		return false
	}
	return featured
}

// Snapshot is the full ordered collection of listing records as last fetched
// from upstream. It is replaced atomically on each successful refresh and
// copied on access.
type Snapshot struct {
	Records []Record
}

// Find returns the record with the given id, or nil.
func (s *Snapshot) Find(id string) *Record {
	for i := range s.Records {
		if s.Records[i].ID == id {
			return &s.Records[i]
		}
	}
	return nil
}

// IDs returns the ids of all records in snapshot order.
func (s *Snapshot) IDs() []string {
	ids := make([]string, len(s.Records))
	for i := range s.Records {
		ids[i] = s.Records[i].ID
	}
	return ids
}

// clone returns a deep-enough copy for safe mutation by consumers.
func (s *Snapshot) clone() *Snapshot {
	records := make([]Record, len(s.Records))
	for i, record := range s.Records {
		records[i] = record.copy()
	}
	return &Snapshot{Records: records}
}

func (r Record) copy() Record {
	fields := make(map[string]json.RawMessage, len(r.Fields))
	for field, value := range r.Fields {
		fields[field] = value
	}
	images := make(map[Slot]string, len(r.Images))
	for slot, b64 := range r.Images {
		images[slot] = b64
	}
	return Record{ID: r.ID, Fields: fields, Images: images}
}

// ImageStats reports reconstruction coverage for observability.
type ImageStats struct {
	Loaded  int `json:"loaded"`
	Missing int `json:"missing"`
}
