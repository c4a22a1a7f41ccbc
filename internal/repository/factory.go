package repository

import (
	"context"
)

// Repositories holds all repository instances.
type Repositories struct {
	Blob BlobRepository
}

// DatabaseHealth is an interface for database health checks.
// This interface satisfies handler.HealthChecker for health endpoints.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// Migrator applies the embedded schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Database is an open backend with its repositories.
type Database interface {
	DatabaseHealth
	Migrator
}
