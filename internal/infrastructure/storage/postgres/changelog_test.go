package postgres

import (
	"testing"

	"unitcast/internal/core/id"
	"unitcast/internal/domain/changefeed"
)

func TestDecodeRow_Created(t *testing.T) {
	rowID := id.New()
	row := &ChangeRow{
		ID:        rowID,
		Seq:       7,
		EventKind: "Created",
		NewImage:  []byte(`{"unitId":{"string":"U1"},"customerId":{"string":"C1"},"floor":{"number":"3"}}`),
	}

	rec, err := decodeRow(row)
	if err != nil {
		t.Fatalf("decodeRow: %v", err)
	}
	if rec.ID != rowID.String() {
		t.Errorf("record id mismatch: %s", rec.ID)
	}
	if rec.EventKind != changefeed.EventCreated {
		t.Errorf("kind mismatch: %s", rec.EventKind)
	}
	if len(rec.NewImage) != 3 {
		t.Errorf("expected 3 attributes, got %d", len(rec.NewImage))
	}
	if rec.OldImage != nil {
		t.Errorf("expected nil old image")
	}
}

func TestDecodeRow_RemovedCarriesOldImage(t *testing.T) {
	row := &ChangeRow{
		ID:        id.New(),
		EventKind: "Removed",
		OldImage:  []byte(`{"unitId":{"string":"U2"},"accountId":{"string":"A2"}}`),
	}

	rec, err := decodeRow(row)
	if err != nil {
		t.Fatalf("decodeRow: %v", err)
	}
	if rec.NewImage != nil {
		t.Errorf("expected nil new image")
	}
	if img := rec.Image(); img == nil {
		t.Fatal("Image() should fall back to the old image for removals")
	}
}

func TestDecodeRow_NullImages(t *testing.T) {
	rec, err := decodeRow(&ChangeRow{ID: id.New(), EventKind: "Modified"})
	if err != nil {
		t.Fatalf("decodeRow: %v", err)
	}
	if rec.NewImage != nil || rec.OldImage != nil {
		t.Errorf("expected both images nil, got %+v", rec)
	}
}

func TestDecodeRow_MalformedImage(t *testing.T) {
	row := &ChangeRow{
		ID:        id.New(),
		EventKind: "Created",
		NewImage:  []byte(`[1,2,3]`),
	}

	if _, err := decodeRow(row); err == nil {
		t.Fatal("expected error for non-object image")
	}
}
