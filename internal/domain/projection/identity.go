// Package projection maintains parent-scoped unit projections in the
// destination store: identity derivation, parent gating, the three
// conditioned write protocols, and batch dispatch.
package projection

import (
	"unitcast/internal/core/entity"
)

// AttrUnitID is the image attribute every projectable record must carry.
const AttrUnitID = "unitId"

// ParentType is an owner a unit can be scoped to.
type ParentType string

const (
	ParentCustomer ParentType = "customer"
	ParentLocation ParentType = "location"
	ParentAccount  ParentType = "account"
)

// ParentPriority is the fixed resolution order. The first parent type whose
// gate passes claims the record; account is the terminal fallback.
var ParentPriority = [...]ParentType{ParentCustomer, ParentLocation, ParentAccount}

// IDAttribute names the image attribute carrying this parent's identifier,
// e.g. "customerId".
func (p ParentType) IDAttribute() string {
	return string(p) + "Id"
}

// UnitSortKey is the sort key of unit projections scoped to this parent,
// e.g. "customerUnit".
func (p ParentType) UnitSortKey() string {
	return string(p) + "Unit"
}

// MarkerSortKey is the sort key of the parent's own marker record,
// e.g. "customer".
func (p ParentType) MarkerSortKey() string {
	return string(p)
}

// RequiresParent reports whether creation is gated on the parent marker.
// Account-scoped units are created unconditionally.
func (p ParentType) RequiresParent() bool {
	return p != ParentAccount
}

// Identity is the composite destination key of a record.
type Identity struct {
	PartitionKey string
	SortKey      string
}

func (i Identity) String() string {
	return i.PartitionKey + "/" + i.SortKey
}

// DeriveIdentity derives the unit projection identity for one parent type:
// partition key "<parentId>|<unitId>", sort key "<parent>Unit". Absent when
// the image lacks unitId or the parent identifier.
func DeriveIdentity(attrs entity.Attributes, pt ParentType) (Identity, bool) {
	unitID, ok := attrs.StringValue(AttrUnitID)
	if !ok {
		return Identity{}, false
	}
	parentID, ok := attrs.StringValue(pt.IDAttribute())
	if !ok {
		return Identity{}, false
	}
	return Identity{
		PartitionKey: parentID + "|" + unitID,
		SortKey:      pt.UnitSortKey(),
	}, true
}

// MarkerIdentity derives the identity of the parent marker record gating
// creation: partition key "<parentId>", sort key "<parent>".
func MarkerIdentity(attrs entity.Attributes, pt ParentType) (Identity, bool) {
	parentID, ok := attrs.StringValue(pt.IDAttribute())
	if !ok {
		return Identity{}, false
	}
	return Identity{
		PartitionKey: parentID,
		SortKey:      pt.MarkerSortKey(),
	}, true
}
