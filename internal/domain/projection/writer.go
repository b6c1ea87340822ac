package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"unitcast/internal/core/entity"
	"unitcast/pkg/logger"
)

// Action describes what one change did to the destination.
type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionDeleted  Action = "deleted"
	ActionExisted  Action = "existed"  // create lost to an existing record
	ActionVanished Action = "vanished" // update/delete lost the race
	ActionNoMatch  Action = "no_match" // no identity derivable or no gate passed
	ActionSkipped  Action = "skipped"  // filtered out or unknown event kind
	ActionFailed   Action = "failed"
)

// Disposition pairs the action taken with the identity it targeted.
// Identity is zero for ActionNoMatch.
type Disposition struct {
	Action   Action
	Identity Identity
}

// Writer applies one decoded change through a conditioned protocol. Each
// protocol walks ParentPriority in order; the first parent type whose gate
// passes claims the record and exactly one write is attempted.
//
// Gate lookups that fail are treated as "absent": the projector prefers
// staying available over blocking the batch on a read error, and the miss is
// logged at warn so it stays visible.
type Writer struct {
	store    Store
	resolver *Resolver
}

// NewWriter creates a writer over the destination store.
func NewWriter(store Store) *Writer {
	return &Writer{store: store, resolver: NewResolver(store)}
}

// Create applies a Created event. Customer- and location-scoped creations
// are gated on the parent marker record; account-scoped creation is
// unconditional. A record already present under the derived identity is a
// success-equivalent redelivery.
func (w *Writer) Create(ctx context.Context, attrs entity.Attributes, now time.Time) (Disposition, error) {
	for _, pt := range ParentPriority {
		identity, ok := DeriveIdentity(attrs, pt)
		if !ok {
			continue
		}

		if pt.RequiresParent() {
			marker, _ := MarkerIdentity(attrs, pt)
			exists, err := w.resolver.Exists(ctx, marker)
			if err != nil {
				logger.Warn(ctx, "parent existence check failed, treating as absent",
					"marker", marker.String(), "error", err)
				continue
			}
			if !exists {
				continue
			}
		}

		rec := &Record{
			PartitionKey: identity.PartitionKey,
			SortKey:      identity.SortKey,
			Attributes:   attrs,
			CreatedAt:    &now,
		}
		err := w.store.PutIfAbsent(ctx, rec)
		if errors.Is(err, ErrAlreadyExists) {
			logger.Warn(ctx, "projection already exists, create skipped",
				"identity", identity.String())
			return Disposition{Action: ActionExisted, Identity: identity}, nil
		}
		if err != nil {
			return Disposition{Action: ActionFailed, Identity: identity},
				fmt.Errorf("create projection %s: %w", identity, err)
		}

		logger.Info(ctx, "projection created", "identity", identity.String())
		return Disposition{Action: ActionCreated, Identity: identity}, nil
	}

	logger.Info(ctx, "change not projected, no parent matched", "event", "Created")
	return Disposition{Action: ActionNoMatch}, nil
}

// Update applies a Modified event: the first derivable identity whose
// projection exists receives every incoming attribute plus updatedAt.
func (w *Writer) Update(ctx context.Context, attrs entity.Attributes, now time.Time) (Disposition, error) {
	return w.updateMatching(ctx, attrs, AttributeSet(attrs), FieldUpdatedAt, ActionUpdated, now)
}

// SoftDelete applies a Removed event: only deletedAt is set, every other
// attribute is preserved.
func (w *Writer) SoftDelete(ctx context.Context, attrs entity.Attributes, now time.Time) (Disposition, error) {
	return w.updateMatching(ctx, attrs, nil, FieldDeletedAt, ActionDeleted, now)
}

func (w *Writer) updateMatching(ctx context.Context, attrs entity.Attributes, fields []FieldValue, tsField string, action Action, now time.Time) (Disposition, error) {
	for _, pt := range ParentPriority {
		identity, ok := DeriveIdentity(attrs, pt)
		if !ok {
			continue
		}

		exists, err := w.resolver.Exists(ctx, identity)
		if err != nil {
			logger.Warn(ctx, "projection lookup failed, treating as absent",
				"identity", identity.String(), "error", err)
			continue
		}
		if !exists {
			continue
		}

		err = w.store.UpdateIfIdentityMatches(ctx, identity, fields, tsField, now)
		if errors.Is(err, ErrNotFound) {
			// Lost the race between lookup and conditioned update.
			logger.Warn(ctx, "projection vanished before write",
				"identity", identity.String(), "field", tsField)
			return Disposition{Action: ActionVanished, Identity: identity}, nil
		}
		if err != nil {
			return Disposition{Action: ActionFailed, Identity: identity},
				fmt.Errorf("update projection %s: %w", identity, err)
		}

		logger.Info(ctx, "projection written", "identity", identity.String(), "field", tsField)
		return Disposition{Action: action, Identity: identity}, nil
	}

	logger.Info(ctx, "change not projected, no matching projection", "field", tsField)
	return Disposition{Action: ActionNoMatch}, nil
}
