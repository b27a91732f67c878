package listings

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestRecord_Unmarshal_SplitsImages(t *testing.T) {
	payload := []byte(`{
		"propref": "101",
		"displayaddress": "1 High Street",
		"displayprice": "£1,200 pcm",
		"beds": 2,
		"photo1binary": "cGhvdG8x",
		"photo3binary": "cGhvdG8z",
		"floorplanbinary": "cGxhbg==",
		"photo2binary": ""
	}`)

	var record Record
	if err := json.Unmarshal(payload, &record); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if record.ID != "101" {
		t.Errorf("Expected id 101, got %q", record.ID)
	}
	if len(record.Images) != 3 {
		t.Errorf("Expected 3 image slots, got %d", len(record.Images))
	}
	if record.Images[SlotPhoto1] != "cGhvdG8x" {
		t.Errorf("photo1 slot mismatch: %q", record.Images[SlotPhoto1])
	}
	if record.Images[SlotFloorPlan] != "cGxhbg==" {
		t.Errorf("floorplan slot mismatch: %q", record.Images[SlotFloorPlan])
	}
	if _, ok := record.Images[SlotPhoto2]; ok {
		t.Error("Empty image fields must not create slots")
	}
	if _, ok := record.Fields["photo1binary"]; ok {
		t.Error("Image fields must not leak into metadata")
	}
	if string(record.Fields["displayaddress"]) != `"1 High Street"` {
		t.Errorf("Metadata field mismatch: %s", record.Fields["displayaddress"])
	}
}

func TestRecord_Unmarshal_NumericPropref(t *testing.T) {
	var record Record
	if err := json.Unmarshal([]byte(`{"propref": 202}`), &record); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if record.ID != "202" {
		t.Errorf("Expected id 202, got %q", record.ID)
	}
}

func TestRecord_Unmarshal_MissingPropref(t *testing.T) {
	var record Record
	if err := json.Unmarshal([]byte(`{"displayaddress": "x"}`), &record); err == nil {
		t.Error("Expected error for record without propref")
	}
}

func TestRecord_MarshalRoundTrip(t *testing.T) {
	payload := []byte(`{"beds":2,"photo1binary":"cGhvdG8x","propref":"101"}`)

	var record Record
	if err := json.Unmarshal(payload, &record); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	first, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	second, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("Marshal must be deterministic")
	}

	var again Record
	if err := json.Unmarshal(first, &again); err != nil {
		t.Fatalf("Round-trip unmarshal failed: %v", err)
	}
	if again.ID != "101" || again.Images[SlotPhoto1] != "cGhvdG8x" {
		t.Errorf("Round trip lost data: %+v", again)
	}
}

func TestRecord_MetadataOnly(t *testing.T) {
	var record Record
	payload := []byte(`{"propref":"101","beds":2,"photo1binary":"YQ==","epcbinary":"Yg=="}`)
	if err := json.Unmarshal(payload, &record); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	stripped := record.MetadataOnly()
	if len(stripped.Images) != 0 {
		t.Error("MetadataOnly must strip image slots")
	}
	if _, ok := stripped.Fields[slotMarkerField]; !ok {
		t.Error("MetadataOnly must mark which slots were present")
	}

	slots := stripped.markedSlots()
	if len(slots) != 2 {
		t.Fatalf("Expected 2 marked slots, got %d", len(slots))
	}
	if slots[0] != SlotPhoto1 || slots[1] != SlotEPC {
		t.Errorf("Marked slot order mismatch: %v", slots)
	}
	if _, ok := stripped.Fields[slotMarkerField]; ok {
		t.Error("markedSlots must consume the marker")
	}

	// The original record is untouched.
	if len(record.Images) != 2 {
		t.Error("MetadataOnly must not mutate the source record")
	}
}

func TestRecord_FeaturedFlag(t *testing.T) {
	record := Record{ID: "101"}

	if record.IsFeatured() {
		t.Error("New record must not be featured")
	}

	record.SetFeatured(true)
	if !record.IsFeatured() {
		t.Error("Expected featured after SetFeatured(true)")
	}

	record.SetFeatured(false)
	if record.IsFeatured() {
		t.Error("Expected not featured after SetFeatured(false)")
	}
}

func TestPhotoSlot(t *testing.T) {
	slot, err := PhotoSlot(1)
	if err != nil || slot != SlotPhoto1 {
		t.Errorf("PhotoSlot(1) = %v, %v", slot, err)
	}
	if _, err := PhotoSlot(0); err == nil {
		t.Error("Expected error for index 0")
	}
	if _, err := PhotoSlot(10); err == nil {
		t.Error("Expected error for index 10")
	}
}

func TestSnapshot_FindAndIDs(t *testing.T) {
	snapshot := &Snapshot{Records: []Record{{ID: "a"}, {ID: "b"}}}

	if snapshot.Find("b") == nil {
		t.Error("Expected to find record b")
	}
	if snapshot.Find("z") != nil {
		t.Error("Expected nil for unknown id")
	}

	ids := snapshot.IDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("IDs mismatch: %v", ids)
	}
}
