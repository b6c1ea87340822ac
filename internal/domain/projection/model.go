package projection

import (
	"sort"
	"time"

	"unitcast/internal/core/entity"
)

// Lifecycle attribute names on destination records. Exactly one of them is
// touched per protocol.
const (
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldDeletedAt = "deletedAt"
)

// Record is a projected unit row in the destination store. DeletedAt
// presence is the only delete marker; soft-deleted records keep all
// attributes.
type Record struct {
	PartitionKey string            `db:"pk" json:"pk"`
	SortKey      string            `db:"sk" json:"sk"`
	Attributes   entity.Attributes `db:"attributes" json:"attributes,omitempty"`
	CreatedAt    *time.Time        `db:"created_at" json:"createdAt,omitempty"`
	UpdatedAt    *time.Time        `db:"updated_at" json:"updatedAt,omitempty"`
	DeletedAt    *time.Time        `db:"deleted_at" json:"deletedAt,omitempty"`
}

// Identity returns the record's composite key.
func (r *Record) Identity() Identity {
	return Identity{PartitionKey: r.PartitionKey, SortKey: r.SortKey}
}

// IsDeleted reports whether the record carries the soft-delete marker.
func (r *Record) IsDeleted() bool {
	return r.DeletedAt != nil
}

// FieldValue is one attribute to set during a conditioned update. Names and
// values travel separately so store adapters can parameterize them
// independently of the statement text.
type FieldValue struct {
	Name  string
	Value any
}

// AttributeSet lists the incoming attributes as ordered fields for an
// update. Order is normalized so generated statements are stable.
func AttributeSet(attrs entity.Attributes) []FieldValue {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]FieldValue, 0, len(names))
	for _, name := range names {
		fields = append(fields, FieldValue{Name: name, Value: attrs[name]})
	}
	return fields
}
