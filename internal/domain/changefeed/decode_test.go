package changefeed

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tv(s string) TypedValue {
	var v TypedValue
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(err)
	}
	return v
}

func TestDecodeImage_Scalars(t *testing.T) {
	img := Image{
		"unitId":     tv(`{"string": "unitA"}`),
		"customerId": tv(`{"string": "cust123"}`),
		"qty":        tv(`{"number": "42.5"}`),
		"active":     tv(`{"bool": true}`),
		"note":       tv(`{"null": true}`),
	}

	attrs, err := DecodeImage(img)
	require.NoError(t, err)

	assert.Equal(t, "unitA", attrs.GetString("unitId"))
	assert.Equal(t, "cust123", attrs.GetString("customerId"))
	assert.True(t, decimal.RequireFromString("42.5").Equal(attrs.GetDecimal("qty")))
	assert.True(t, attrs.GetBool("active"))
	assert.True(t, attrs.Has("note"))
	assert.Nil(t, attrs["note"])
}

func TestUnwrap_NumberEncodings(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"quoted decimal", `{"number": "42.5"}`, "42.5"},
		{"bare number", `{"number": 42.5}`, "42.5"},
		{"high precision", `{"number": "123.456789012345678901"}`, "123.456789012345678901"},
		{"negative", `{"number": "-7"}`, "-7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tv(tt.in).Unwrap()
			if err != nil {
				t.Fatalf("Unwrap failed: %v", err)
			}
			d, ok := got.(decimal.Decimal)
			if !ok {
				t.Fatalf("want decimal.Decimal, got %T", got)
			}
			if d.String() != tt.want {
				t.Errorf("want %s, got %s", tt.want, d.String())
			}
		})
	}
}

func TestUnwrap_MalformedEnvelope(t *testing.T) {
	_, err := tv(`{"string": "a", "number": "1"}`).Unwrap()
	assert.Error(t, err)

	_, err = TypedValue{}.Unwrap()
	assert.Error(t, err)

	_, err = tv(`{"number": "not-a-number"}`).Unwrap()
	assert.Error(t, err)
}

func TestUnwrap_UnknownTagPassesThrough(t *testing.T) {
	got, err := tv(`{"bytes": "AQID"}`).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, "AQID", got)
}

func TestChangeRecord_ImageSelection(t *testing.T) {
	oldImg := Image{"unitId": tv(`{"string": "old"}`)}
	newImg := Image{"unitId": tv(`{"string": "new"}`)}

	rec := ChangeRecord{EventKind: EventRemoved, OldImage: oldImg, NewImage: newImg}
	assert.Equal(t, oldImg, rec.Image())

	rec.EventKind = EventCreated
	assert.Equal(t, newImg, rec.Image())

	rec.EventKind = EventModified
	assert.Equal(t, newImg, rec.Image())
}

func TestChangeRecord_Ref(t *testing.T) {
	assert.Equal(t, "evt-1", ChangeRecord{ID: "evt-1"}.Ref(4))
	assert.Equal(t, "#4", ChangeRecord{}.Ref(4))
}

func TestEventKind_Known(t *testing.T) {
	assert.True(t, EventCreated.Known())
	assert.True(t, EventModified.Known())
	assert.True(t, EventRemoved.Known())
	assert.False(t, EventKind("Truncated").Known())
}
