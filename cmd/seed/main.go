// Package main provides a CLI tool for preparing a local database: it
// creates the projector tables and enqueues a demo slice of change events.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"unitcast/internal/core/id"
	"unitcast/internal/domain/projection"
	"unitcast/internal/infrastructure/storage/postgres"
	"unitcast/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	dsn := os.Getenv("UNITCAST_POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("UNITCAST_POSTGRES_DSN environment variable is required")
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dsn))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to database")

	destTable := getEnv("DESTINATION_TABLE", "unit_projections")
	sourceTable := getEnv("SOURCE_TABLE", "unit_changes")

	if err := ensureSchema(ctx, pool, destTable, sourceTable); err != nil {
		log.Fatalw("failed to create schema", "error", err)
	}
	log.Info("schema ready")

	if err := seedParentMarkers(ctx, pool, destTable, log); err != nil {
		log.Fatalw("failed to seed parent markers", "error", err)
	}

	if os.Getenv("SEED_DEMO_DATA") == "true" {
		if err := seedChangeEvents(ctx, pool, sourceTable, log); err != nil {
			log.Fatalw("failed to seed change events", "error", err)
		}
	}

	log.Info("seeding completed successfully")
}

// ensureSchema creates the projector tables when they are missing.
func ensureSchema(ctx context.Context, pool *postgres.Pool, destTable, sourceTable string) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				pk         text NOT NULL,
				sk         text NOT NULL,
				attributes jsonb NOT NULL DEFAULT '{}'::jsonb,
				created_at timestamptz,
				updated_at timestamptz,
				deleted_at timestamptz,
				PRIMARY KEY (pk, sk)
			)`, destTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id            uuid PRIMARY KEY,
				seq           bigint GENERATED ALWAYS AS IDENTITY UNIQUE,
				event_kind    text NOT NULL,
				new_image     jsonb,
				old_image     jsonb,
				status        text NOT NULL DEFAULT 'pending',
				retry_count   int NOT NULL DEFAULT 0,
				last_error    text,
				next_retry_at timestamptz,
				created_at    timestamptz NOT NULL DEFAULT NOW(),
				consumed_at   timestamptz
			)`, sourceTable),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%s_claim ON %s (status, seq)`,
			sourceTable, sourceTable),
		`
			CREATE TABLE IF NOT EXISTS projection_journal (
				id                 uuid PRIMARY KEY,
				record_id          text NOT NULL,
				event_kind         text NOT NULL,
				action             text NOT NULL,
				pk                 text NOT NULL,
				sk                 text NOT NULL,
				payload            jsonb,
				payload_compressed bytea,
				compression_algo   text NOT NULL DEFAULT 'none',
				error              text,
				created_at         timestamptz NOT NULL DEFAULT NOW()
			)`,
		`
			CREATE INDEX IF NOT EXISTS idx_projection_journal_identity
			ON projection_journal (pk, sk, created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// seedParentMarkers inserts the parent records that gate unit creation.
// Units scoped to a customer or location only project once their parent
// marker exists.
func seedParentMarkers(ctx context.Context, pool *postgres.Pool, destTable string, log *logger.Logger) error {
	store := postgres.NewStore(pool, destTable)
	now := time.Now().UTC()

	markers := []*projection.Record{
		{
			PartitionKey: "C-1001",
			SortKey:      "customer",
			Attributes:   map[string]any{"name": "Northwind Utilities"},
			CreatedAt:    &now,
		},
		{
			PartitionKey: "L-2001",
			SortKey:      "location",
			Attributes:   map[string]any{"name": "Building 7"},
			CreatedAt:    &now,
		},
	}

	for _, marker := range markers {
		err := store.PutIfAbsent(ctx, marker)
		if errors.Is(err, projection.ErrAlreadyExists) {
			log.Infow("parent marker already present", "pk", marker.PartitionKey, "sk", marker.SortKey)
			continue
		}
		if err != nil {
			return err
		}
		log.Infow("seeded parent marker", "pk", marker.PartitionKey, "sk", marker.SortKey)
	}
	return nil
}

// seedChangeEvents enqueues a demo slice of the change log: creates under
// each parent kind, a modification, and a removal.
func seedChangeEvents(ctx context.Context, pool *postgres.Pool, sourceTable string, log *logger.Logger) error {
	events := []struct {
		kind     string
		newImage string
		oldImage string
	}{
		{
			kind:     "Created",
			newImage: `{"unitId":{"string":"U-100"},"customerId":{"string":"C-1001"},"name":{"string":"Meter A"},"reading":{"number":"1520.5"}}`,
		},
		{
			kind:     "Modified",
			newImage: `{"unitId":{"string":"U-100"},"customerId":{"string":"C-1001"},"name":{"string":"Meter A"},"reading":{"number":"1533.25"},"active":{"bool":true}}`,
		},
		{
			kind:     "Created",
			newImage: `{"unitId":{"string":"U-200"},"locationId":{"string":"L-2001"},"name":{"string":"Sensor 12"},"floor":{"number":"3"}}`,
		},
		{
			kind:     "Created",
			newImage: `{"unitId":{"string":"U-300"},"accountId":{"string":"A-3001"},"name":{"string":"Gateway"},"active":{"bool":true}}`,
		},
		{
			kind:     "Removed",
			oldImage: `{"unitId":{"string":"U-100"},"customerId":{"string":"C-1001"}}`,
		},
	}

	for _, e := range events {
		var newImage, oldImage *string
		if e.newImage != "" {
			newImage = &e.newImage
		}
		if e.oldImage != "" {
			oldImage = &e.oldImage
		}

		_, err := pool.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, event_kind, new_image, old_image)
			VALUES ($1, $2, $3, $4)
		`, sourceTable), id.New(), e.kind, newImage, oldImage)
		if err != nil {
			return err
		}
	}

	log.Infow("seeded change events", "count", len(events))
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
