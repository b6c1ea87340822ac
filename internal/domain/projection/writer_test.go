package projection_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unitcast/internal/core/entity"
	"unitcast/internal/domain/projection"
	"unitcast/internal/infrastructure/storage/memory"
)

// flakyStore decorates the memory driver with injectable faults and call
// counters.
type flakyStore struct {
	projection.Store
	getErr  map[projection.Identity]error
	putErr  error
	updErr  error
	puts    int
	updates int
}

func newFlaky(inner projection.Store) *flakyStore {
	return &flakyStore{Store: inner, getErr: make(map[projection.Identity]error)}
}

func (f *flakyStore) GetByIdentity(ctx context.Context, id projection.Identity) (*projection.Record, error) {
	if err, ok := f.getErr[id]; ok {
		return nil, err
	}
	return f.Store.GetByIdentity(ctx, id)
}

func (f *flakyStore) PutIfAbsent(ctx context.Context, rec *projection.Record) error {
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	return f.Store.PutIfAbsent(ctx, rec)
}

func (f *flakyStore) UpdateIfIdentityMatches(ctx context.Context, id projection.Identity, attrs []projection.FieldValue, tsField string, ts time.Time) error {
	f.updates++
	if f.updErr != nil {
		return f.updErr
	}
	return f.Store.UpdateIfIdentityMatches(ctx, id, attrs, tsField, ts)
}

func marker(pt projection.ParentType, parentID string) *projection.Record {
	return &projection.Record{PartitionKey: parentID, SortKey: pt.MarkerSortKey()}
}

var testNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func TestWriter_Create_GatedOnCustomerMarker(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(marker(projection.ParentCustomer, "cust123"))
	w := projection.NewWriter(store)

	attrs := entity.Attributes{"unitId": "unitA", "customerId": "cust123", "data": "x"}
	disp, err := w.Create(ctx, attrs, testNow)
	require.NoError(t, err)
	assert.Equal(t, projection.ActionCreated, disp.Action)

	id := projection.Identity{PartitionKey: "cust123|unitA", SortKey: "customerUnit"}
	assert.Equal(t, id, disp.Identity)

	rec, err := store.GetByIdentity(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "x", rec.Attributes.GetString("data"))
	assert.Equal(t, "cust123", rec.Attributes.GetString("customerId"))
	assert.Equal(t, testNow, *rec.CreatedAt)
	assert.Nil(t, rec.UpdatedAt)
	assert.Nil(t, rec.DeletedAt)
}

func TestWriter_Create_MissingParentBlocksCreate(t *testing.T) {
	ctx := context.Background()
	store := newFlaky(memory.New())
	w := projection.NewWriter(store)

	disp, err := w.Create(ctx, entity.Attributes{"unitId": "unitA", "customerId": "cust123"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, projection.ActionNoMatch, disp.Action)
	assert.Zero(t, store.puts)
}

func TestWriter_Create_FallsThroughToAccount(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	w := projection.NewWriter(store)

	// customer marker absent, account needs none
	attrs := entity.Attributes{"unitId": "unitA", "customerId": "cust123", "accountId": "acct789"}
	disp, err := w.Create(ctx, attrs, testNow)
	require.NoError(t, err)
	assert.Equal(t, projection.ActionCreated, disp.Action)
	assert.Equal(t, "accountUnit", disp.Identity.SortKey)
	assert.Equal(t, "acct789|unitA", disp.Identity.PartitionKey)
}

func TestWriter_Create_PriorityCustomerOverAccount(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	inner.Seed(marker(projection.ParentCustomer, "cust123"))
	store := newFlaky(inner)
	w := projection.NewWriter(store)

	attrs := entity.Attributes{"unitId": "unitA", "customerId": "cust123", "accountId": "acct789"}
	disp, err := w.Create(ctx, attrs, testNow)
	require.NoError(t, err)
	assert.Equal(t, "customerUnit", disp.Identity.SortKey)
	assert.Equal(t, 1, store.puts)

	_, err = inner.GetByIdentity(ctx, projection.Identity{PartitionKey: "acct789|unitA", SortKey: "accountUnit"})
	assert.ErrorIs(t, err, projection.ErrNotFound)
}

func TestWriter_Create_LocationWhenCustomerUnresolved(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(marker(projection.ParentLocation, "loc456"))
	w := projection.NewWriter(store)

	attrs := entity.Attributes{"unitId": "unitB", "customerId": "cust123", "locationId": "loc456"}
	disp, err := w.Create(ctx, attrs, testNow)
	require.NoError(t, err)
	assert.Equal(t, projection.ActionCreated, disp.Action)
	assert.Equal(t, projection.Identity{PartitionKey: "loc456|unitB", SortKey: "locationUnit"}, disp.Identity)
}

func TestWriter_Create_RedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(marker(projection.ParentCustomer, "cust123"))
	w := projection.NewWriter(store)

	attrs := entity.Attributes{"unitId": "unitA", "customerId": "cust123"}
	first, err := w.Create(ctx, attrs, testNow)
	require.NoError(t, err)
	require.Equal(t, projection.ActionCreated, first.Action)

	later := testNow.Add(time.Hour)
	second, err := w.Create(ctx, attrs, later)
	require.NoError(t, err)
	assert.Equal(t, projection.ActionExisted, second.Action)

	rec, err := store.GetByIdentity(ctx, first.Identity)
	require.NoError(t, err)
	assert.Equal(t, testNow, *rec.CreatedAt, "redelivery must not touch the original record")
}

func TestWriter_Create_MarkerLookupErrorFallsThrough(t *testing.T) {
	ctx := context.Background()
	store := newFlaky(memory.New())
	store.getErr[projection.Identity{PartitionKey: "cust123", SortKey: "customer"}] = errors.New("read timeout")
	w := projection.NewWriter(store)

	attrs := entity.Attributes{"unitId": "unitA", "customerId": "cust123", "accountId": "acct789"}
	disp, err := w.Create(ctx, attrs, testNow)
	require.NoError(t, err)
	assert.Equal(t, "accountUnit", disp.Identity.SortKey, "unreadable marker gates like a missing one")
}

func TestWriter_Create_StoreFaultPropagates(t *testing.T) {
	ctx := context.Background()
	store := newFlaky(memory.New())
	store.putErr = errors.New("connection reset")
	w := projection.NewWriter(store)

	disp, err := w.Create(ctx, entity.Attributes{"unitId": "unitA", "accountId": "acct789"}, testNow)
	require.Error(t, err)
	assert.Equal(t, projection.ActionFailed, disp.Action)
}

func TestWriter_Update_WritesAttributesAndUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	created := testNow.Add(-time.Hour)
	store.Seed(&projection.Record{
		PartitionKey: "loc456|unitB",
		SortKey:      "locationUnit",
		Attributes:   entity.Attributes{"unitId": "unitB", "locationId": "loc456", "data": "old"},
		CreatedAt:    &created,
	})
	w := projection.NewWriter(store)

	attrs := entity.Attributes{"unitId": "unitB", "locationId": "loc456", "data": "new"}
	disp, err := w.Update(ctx, attrs, testNow)
	require.NoError(t, err)
	assert.Equal(t, projection.ActionUpdated, disp.Action)

	rec, err := store.GetByIdentity(ctx, disp.Identity)
	require.NoError(t, err)
	assert.Equal(t, "new", rec.Attributes.GetString("data"))
	assert.Equal(t, created, *rec.CreatedAt)
	assert.Equal(t, testNow, *rec.UpdatedAt)
	assert.Nil(t, rec.DeletedAt)
}

func TestWriter_Update_NoProjectionIsNoMatch(t *testing.T) {
	ctx := context.Background()
	store := newFlaky(memory.New())
	w := projection.NewWriter(store)

	disp, err := w.Update(ctx, entity.Attributes{"unitId": "unitB", "locationId": "loc456"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, projection.ActionNoMatch, disp.Action)
	assert.Zero(t, store.updates)
}

func TestWriter_Update_PicksFirstExistingIdentity(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(&projection.Record{
		PartitionKey: "acct789|unitA",
		SortKey:      "accountUnit",
		Attributes:   entity.Attributes{"data": "old"},
	})
	w := projection.NewWriter(store)

	// customer identity derivable but its projection does not exist
	attrs := entity.Attributes{"unitId": "unitA", "customerId": "cust123", "accountId": "acct789", "data": "new"}
	disp, err := w.Update(ctx, attrs, testNow)
	require.NoError(t, err)
	assert.Equal(t, "accountUnit", disp.Identity.SortKey)
}

func TestWriter_Update_LostRaceIsVanished(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	inner.Seed(&projection.Record{PartitionKey: "acct789|unitC", SortKey: "accountUnit"})
	store := newFlaky(inner)
	store.updErr = projection.ErrNotFound
	w := projection.NewWriter(store)

	disp, err := w.Update(ctx, entity.Attributes{"unitId": "unitC", "accountId": "acct789"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, projection.ActionVanished, disp.Action)
}

func TestWriter_SoftDelete_SetsOnlyDeletedAt(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	created := testNow.Add(-2 * time.Hour)
	updated := testNow.Add(-time.Hour)
	store.Seed(&projection.Record{
		PartitionKey: "acct789|unitC",
		SortKey:      "accountUnit",
		Attributes:   entity.Attributes{"unitId": "unitC", "accountId": "acct789", "data": "keep"},
		CreatedAt:    &created,
		UpdatedAt:    &updated,
	})
	w := projection.NewWriter(store)

	disp, err := w.SoftDelete(ctx, entity.Attributes{"unitId": "unitC", "accountId": "acct789"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, projection.ActionDeleted, disp.Action)

	rec, err := store.GetByIdentity(ctx, disp.Identity)
	require.NoError(t, err)
	assert.True(t, rec.IsDeleted())
	assert.Equal(t, testNow, *rec.DeletedAt)
	assert.Equal(t, "keep", rec.Attributes.GetString("data"))
	assert.Equal(t, updated, *rec.UpdatedAt)
	assert.Equal(t, created, *rec.CreatedAt)
}

func TestWriter_SoftDelete_NoMatch(t *testing.T) {
	ctx := context.Background()
	w := projection.NewWriter(memory.New())

	disp, err := w.SoftDelete(ctx, entity.Attributes{"unitId": "ghost", "accountId": "acct789"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, projection.ActionNoMatch, disp.Action)
}
