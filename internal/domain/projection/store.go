package projection

import (
	"context"
	"errors"
	"time"
)

// Conditioned-write sentinels. Store adapters translate their native
// signals (ON CONFLICT, ConditionalCheckFailedException, ...) into these.
var (
	// ErrNotFound reports a point read or conditioned update that matched
	// no record.
	ErrNotFound = errors.New("projection record not found")

	// ErrAlreadyExists reports a conditioned insert that lost to an
	// existing record.
	ErrAlreadyExists = errors.New("projection record already exists")
)

// Store is the destination capability surface the projector relies on.
// One long-lived handle is opened at startup and injected; the projector
// never retries store calls itself — retry policy belongs to the client
// configuration behind the adapter.
type Store interface {
	// GetByIdentity returns the record at the composite key, or ErrNotFound.
	GetByIdentity(ctx context.Context, id Identity) (*Record, error)

	// PutIfAbsent stores the record unless the identity is already taken,
	// in which case it returns ErrAlreadyExists and changes nothing.
	PutIfAbsent(ctx context.Context, rec *Record) error

	// UpdateIfIdentityMatches sets the given attributes plus the lifecycle
	// timestamp field on an existing record, returning ErrNotFound when the
	// identity is gone. Soft delete is this same primitive with an empty
	// attribute set and tsField = FieldDeletedAt.
	UpdateIfIdentityMatches(ctx context.Context, id Identity, attrs []FieldValue, tsField string, ts time.Time) error
}
