// Package changefeed provides the wire model of the upstream change log:
// typed-value mutation records, image decoding, and the optional record filter.
package changefeed

import (
	"encoding/json"
	"fmt"
)

// EventKind classifies a change-log mutation.
type EventKind string

const (
	EventCreated  EventKind = "Created"  // row inserted upstream
	EventModified EventKind = "Modified" // row updated upstream
	EventRemoved  EventKind = "Removed"  // row deleted upstream
)

// Known reports whether the kind is one the projector routes.
func (k EventKind) Known() bool {
	switch k {
	case EventCreated, EventModified, EventRemoved:
		return true
	}
	return false
}

// TypedValue is the change log's scalar envelope: a single type tag mapped to
// the encoded value, e.g. {"string": "abc"}, {"number": "42.5"},
// {"bool": true}, {"null": true}.
type TypedValue map[string]json.RawMessage

// Image is a row snapshot keyed by attribute name.
type Image map[string]TypedValue

// ChangeRecord is one mutation event as delivered by the change log.
type ChangeRecord struct {
	// ID is the upstream event identifier, used for failure reporting.
	ID string `json:"id,omitempty"`

	// EventKind selects the projection protocol.
	EventKind EventKind `json:"eventKind"`

	// NewImage is the row state after the mutation (Created, Modified).
	NewImage Image `json:"newImage,omitempty"`

	// OldImage is the row state before the mutation (Removed).
	OldImage Image `json:"oldImage,omitempty"`
}

// Ref returns the record's identifier for logs and failure reports,
// falling back to its batch position.
func (r ChangeRecord) Ref(index int) string {
	if r.ID != "" {
		return r.ID
	}
	return fmt.Sprintf("#%d", index)
}

// Image returns the snapshot relevant to the event kind: the new image for
// Created and Modified, the old image for Removed.
func (r ChangeRecord) Image() Image {
	if r.EventKind == EventRemoved {
		return r.OldImage
	}
	return r.NewImage
}

// Batch is the ingest envelope carrying records in delivery order.
type Batch struct {
	Records []ChangeRecord `json:"records"`
}
