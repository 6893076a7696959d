// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Event operations. Datasets are named so several simulations can coexist.
	SaveEvents(ctx context.Context, dataset string, events []Event) error
	ListEvents(ctx context.Context, dataset string) ([]Event, error)
	DeleteEvents(ctx context.Context, dataset string) error

	// Training runs
	SaveRun(ctx context.Context, run *TrainingRun) error
	GetRun(ctx context.Context, runID string) (*TrainingRun, error)
	ListRuns(ctx context.Context, algorithm string) ([]*TrainingRun, error)

	// Artifact blobs, keyed by algorithm name and blob kind
	SaveArtifact(ctx context.Context, algorithm string, kind string, blob []byte) error
	GetArtifact(ctx context.Context, algorithm string, kind string) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" koanf:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" koanf:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" koanf:"postgres_port"`
	PostgresUser     string `json:"postgresUser" koanf:"postgres_user"`
	PostgresPassword string `json:"postgresPassword" koanf:"postgres_password"`
	PostgresDB       string `json:"postgresDb" koanf:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" koanf:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" koanf:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" koanf:"conn_max_lifetime"`
}
