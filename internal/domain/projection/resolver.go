package projection

import (
	"context"
	"errors"
)

// Resolver performs the point reads behind gating decisions, splitting the
// outcome three ways: found, definitively absent, or unknown because the
// read failed. Callers decide whether "unknown" may stand in for absence;
// the resolver itself never swallows the error.
type Resolver struct {
	store Store
}

// NewResolver creates a resolver over the destination store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Lookup returns the record at id, ErrNotFound when absent, or the store's
// transient error.
func (r *Resolver) Lookup(ctx context.Context, id Identity) (*Record, error) {
	return r.store.GetByIdentity(ctx, id)
}

// Exists reports presence. A non-nil error means the answer is unknown, not
// that the record is absent.
func (r *Resolver) Exists(ctx context.Context, id Identity) (bool, error) {
	_, err := r.store.GetByIdentity(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
