package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/gofrs/flock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/coldvault/coldvault/internal/logger"
)

// catalogAdvisoryLockKey is the fixed pg_advisory_lock key coldvault
// uses to claim exclusive ownership of a Postgres-backed catalog. One
// database serves one repository, so a single well-known key is
// sufficient; it does not need to vary per Config.
const catalogAdvisoryLockKey = 0x636f6c64 // "cold" in hex, arbitrary but stable

// ErrCatalogLocked is returned by Open when another process already
// holds the catalog's exclusive lock (spec.md §5 "the catalog is
// exclusive per process").
var ErrCatalogLocked = fmt.Errorf("catalog: already locked by another process")

// BackendType selects which relational engine backs the catalog.
type BackendType string

const (
	// BackendSQLite is the default single-node catalog backend.
	BackendSQLite BackendType = "sqlite"

	// BackendPostgres is a HA-capable catalog backend.
	BackendPostgres BackendType = "postgres"
)

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the path to the catalog database file.
	Path string
}

// PostgresConfig configures the Postgres backend.
type PostgresConfig struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	return dsn
}

// Config selects and configures a catalog backend.
type Config struct {
	Type     BackendType
	SQLite   SQLiteConfig
	Postgres PostgresConfig
}

// ApplyDefaults fills in missing configuration with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = BackendSQLite
	}
	if c.Type == BackendSQLite && c.SQLite.Path == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, _ := os.UserHomeDir()
			configDir = filepath.Join(homeDir, ".config")
		}
		c.SQLite.Path = filepath.Join(configDir, "coldvault", "catalog.db")
	}
	if c.Type == BackendPostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 10
		}
		if c.Postgres.MaxIdleConns == 0 {
			c.Postgres.MaxIdleConns = 2
		}
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Type {
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case BackendPostgres:
		if c.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if c.Postgres.Database == "" {
			return fmt.Errorf("postgres database is required")
		}
	default:
		return fmt.Errorf("unsupported catalog backend: %s", c.Type)
	}
	return nil
}

// Store is the gorm-backed implementation of the catalog, supporting
// both SQLite (single node, default) and Postgres (HA) via the same
// code path, following the teacher's dual-backend GORMStore pattern.
//
// A Store holds an OS-level exclusive lock on its backend for its
// whole lifetime: an flock sidecar file for SQLite, a session-scoped
// pg_advisory_lock for Postgres. Exactly one process may have a given
// catalog open at a time (spec.md §5).
type Store struct {
	db     *gorm.DB
	config *Config

	fileLock   *flock.Flock
	advisoryTx *sql.Conn
}

// Open creates a catalog Store, connecting to the configured backend,
// acquiring its exclusive lock, and running AutoMigrate for every model
// in AllModels. Open fails with ErrCatalogLocked if another process
// already holds the lock.
func Open(config *Config) (*Store, error) {
	if config == nil {
		config = &Config{}
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog configuration: %w", err)
	}

	var dialector gorm.Dialector
	var fileLock *flock.Flock
	switch config.Type {
	case BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(config.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}

		fileLock = flock.New(config.SQLite.Path + ".lock")
		locked, err := fileLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire catalog lock: %w", err)
		}
		if !locked {
			return nil, ErrCatalogLocked
		}

		dsn := config.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		dialector = sqlite.Open(dsn)
	case BackendPostgres:
		dialector = postgres.Open(config.Postgres.DSN())
	default:
		return nil, fmt.Errorf("unsupported catalog backend: %s", config.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		if fileLock != nil {
			_ = fileLock.Unlock()
		}
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	var advisoryConn *sql.Conn
	if config.Type == BackendPostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access underlying sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(config.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.Postgres.MaxIdleConns)

		// pg_advisory_lock is session-scoped: it must run on, and be
		// released from, the same connection, so it needs a dedicated
		// sql.Conn held for the Store's lifetime rather than one
		// borrowed from gorm's pool.
		advisoryConn, err = sqlDB.Conn(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to reserve advisory lock connection: %w", err)
		}
		var acquired bool
		if err := advisoryConn.QueryRowContext(context.Background(),
			"SELECT pg_try_advisory_lock($1)", catalogAdvisoryLockKey).Scan(&acquired); err != nil {
			_ = advisoryConn.Close()
			return nil, fmt.Errorf("failed to acquire catalog advisory lock: %w", err)
		}
		if !acquired {
			_ = advisoryConn.Close()
			return nil, ErrCatalogLocked
		}
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate catalog schema: %w", err)
	}

	if err := db.FirstOrCreate(&RepositoryFlag{ID: 1}).Error; err != nil {
		return nil, fmt.Errorf("failed to initialize repository flag row: %w", err)
	}

	logger.Info("catalog opened", logger.Backend(string(config.Type)))

	return &Store{db: db, config: config, fileLock: fileLock, advisoryTx: advisoryConn}, nil
}

// Close releases the underlying database connection and the catalog's
// exclusive lock.
func (s *Store) Close() error {
	var closeErr error

	// The advisory lock must be released on its own connection before
	// the pool behind it is torn down.
	if s.advisoryTx != nil {
		if _, err := s.advisoryTx.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", catalogAdvisoryLockKey); err != nil {
			logger.Error("failed to release catalog advisory lock", logger.Err(err))
		}
		if err := s.advisoryTx.Close(); err != nil {
			closeErr = err
		}
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil && closeErr == nil {
		closeErr = err
	}

	if s.fileLock != nil {
		if err := s.fileLock.Unlock(); err != nil && closeErr == nil {
			closeErr = err
		}
	}

	return closeErr
}
