// Package storage selects the destination store driver.
package storage

import (
	"context"
	"fmt"

	"unitcast/internal/domain/projection"
	"unitcast/internal/infrastructure/storage/dynamo"
	"unitcast/internal/infrastructure/storage/memory"
	"unitcast/internal/infrastructure/storage/postgres"
)

// Driver identifies a destination store implementation.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverDynamo   Driver = "dynamo"
	DriverMemory   Driver = "memory"
)

// Destination bundles the selected store with its readiness probe.
type Destination struct {
	Store  projection.Store
	Driver Driver
	Ready  func(ctx context.Context) error
}

// Options configures destination selection. Pool is required for the
// postgres driver and ignored otherwise; its lifecycle stays with the
// caller.
type Options struct {
	Driver Driver
	Table  string
	Pool   *postgres.Pool
}

// Open builds the destination store for the configured driver.
func Open(ctx context.Context, opts Options) (*Destination, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverPostgres
	}
	if opts.Table == "" {
		return nil, fmt.Errorf("destination table required")
	}

	switch driver {
	case DriverPostgres:
		if opts.Pool == nil {
			return nil, fmt.Errorf("postgres driver requires a pool")
		}
		return &Destination{
			Store:  postgres.NewStore(opts.Pool, opts.Table),
			Driver: DriverPostgres,
			Ready:  opts.Pool.Ping,
		}, nil

	case DriverDynamo:
		store, err := dynamo.OpenFromEnv(ctx, opts.Table)
		if err != nil {
			return nil, fmt.Errorf("open dynamo destination: %w", err)
		}
		return &Destination{
			Store:  store,
			Driver: DriverDynamo,
			Ready:  store.Ping,
		}, nil

	case DriverMemory:
		return &Destination{
			Store:  memory.New(),
			Driver: DriverMemory,
			Ready:  func(context.Context) error { return nil },
		}, nil
	}

	return nil, fmt.Errorf("unknown store driver %s", driver)
}
