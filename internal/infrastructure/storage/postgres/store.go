package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"unitcast/internal/core/apperror"
	"unitcast/internal/core/entity"
	"unitcast/internal/domain/projection"
)

// Querier abstracts pgxpool.Pool so stores can be exercised against mocks.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Compile-time check that Store implements projection.Store.
var _ projection.Store = (*Store)(nil)

// Store implements the destination on a single keyed table:
//
//	CREATE TABLE unit_projections (
//	    pk         text NOT NULL,
//	    sk         text NOT NULL,
//	    attributes jsonb NOT NULL DEFAULT '{}'::jsonb,
//	    created_at timestamptz,
//	    updated_at timestamptz,
//	    deleted_at timestamptz,
//	    PRIMARY KEY (pk, sk)
//	);
type Store struct {
	db    Querier
	table string
}

// NewStore creates a destination store over the pool.
func NewStore(pool *Pool, table string) *Store {
	return &Store{db: pool.Pool, table: table}
}

// NewStoreWithQuerier creates a store over any querier. Used by tests.
func NewStoreWithQuerier(db Querier, table string) *Store {
	return &Store{db: db, table: table}
}

// builder returns a squirrel builder with PostgreSQL placeholder format.
func (s *Store) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// GetByIdentity returns the record at the composite key.
func (s *Store) GetByIdentity(ctx context.Context, pid projection.Identity) (*projection.Record, error) {
	q := s.builder().
		Select("pk", "sk", "attributes", "created_at", "updated_at", "deleted_at").
		From(s.table).
		Where(squirrel.Eq{"pk": pid.PartitionKey, "sk": pid.SortKey}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rec := &projection.Record{}
	if err := pgxscan.Get(ctx, s.db, rec, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, projection.ErrNotFound
		}
		return nil, apperror.NewStore("get", err)
	}
	return rec, nil
}

// PutIfAbsent inserts the record unless the identity is taken.
func (s *Store) PutIfAbsent(ctx context.Context, rec *projection.Record) error {
	q := s.builder().
		Insert(s.table).
		SetMap(map[string]any{
			"pk":         rec.PartitionKey,
			"sk":         rec.SortKey,
			"attributes": rec.Attributes,
			"created_at": rec.CreatedAt,
			"updated_at": rec.UpdatedAt,
			"deleted_at": rec.DeletedAt,
		}).
		Suffix("ON CONFLICT (pk, sk) DO NOTHING")

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewStore("put", err)
	}
	if tag.RowsAffected() == 0 {
		return projection.ErrAlreadyExists
	}
	return nil
}

// UpdateIfIdentityMatches merges the attribute set into the jsonb column and
// stamps the lifecycle field. Attribute names travel inside the bound jsonb
// argument, never in the statement text.
func (s *Store) UpdateIfIdentityMatches(ctx context.Context, pid projection.Identity, attrs []projection.FieldValue, tsField string, ts time.Time) error {
	tsColumn, err := lifecycleColumn(tsField)
	if err != nil {
		return err
	}

	q := s.builder().Update(s.table)
	if len(attrs) > 0 {
		merged := make(entity.Attributes, len(attrs))
		for _, fv := range attrs {
			merged[fv.Name] = fv.Value
		}
		q = q.Set("attributes", squirrel.Expr("COALESCE(attributes, '{}'::jsonb) || ?", merged))
	}
	q = q.Set(tsColumn, ts).
		Where(squirrel.Eq{"pk": pid.PartitionKey, "sk": pid.SortKey})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewStore("update", err)
	}
	if tag.RowsAffected() == 0 {
		return projection.ErrNotFound
	}
	return nil
}

func lifecycleColumn(field string) (string, error) {
	switch field {
	case projection.FieldCreatedAt:
		return "created_at", nil
	case projection.FieldUpdatedAt:
		return "updated_at", nil
	case projection.FieldDeletedAt:
		return "deleted_at", nil
	}
	return "", fmt.Errorf("unknown lifecycle field %q", field)
}
