package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ahrav/go-evalrun/internal/domain"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// sqliteParams are appended to every sqlite DSN. Transactions take the write
// lock at BEGIN so a read-then-write transaction never fails on upgrade.
const sqliteParams = "_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"

// clearChunkSize bounds the IN list of bulk error clears.
const clearChunkSize = 500

// Config configures the database connection.
type Config struct {
	Driver          string        `yaml:"driver" validate:"required,oneof=sqlite postgres mysql"`
	DSN             string        `yaml:"dsn" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
	// LogLevel is the gorm logger level: silent, error, warn, or info.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=silent error warn info"`
	// AutoMigrate creates or updates the schema when the store is opened.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// Gorm is the gorm-backed Store implementation.
type Gorm struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ Store = (*Gorm)(nil)

// Open connects to the configured database and, when AutoMigrate is set,
// migrates the schema.
func Open(ctx context.Context, cfg Config) (*Gorm, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access connection pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Driver, err)
	}

	s := &Gorm{
		db:     db,
		logger: slog.Default().With("component", "store", "driver", cfg.Driver),
	}
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func dialectorFor(cfg Config) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverSQLite:
		if dir := filepath.Dir(sqlitePath(cfg.DSN)); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
		return sqlite.Open(sqliteDSN(cfg.DSN)), nil
	case DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	case DriverMySQL:
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unknown database driver: %q (expected sqlite, postgres or mysql)", cfg.Driver)
	}
}

func sqlitePath(dsn string) string {
	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	return path
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqliteParams
	}
	return dsn + "?" + sqliteParams
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// Migrate creates or updates every table the store manages.
func (s *Gorm) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allRecords()...); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	s.logger.Info("schema migrated")
	return nil
}

// Close releases the underlying connection pool.
func (s *Gorm) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// notFound maps gorm's missing-row error to domain.ErrNotFound.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf(format+": %w", append(args, domain.ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func chunks(lines []int, size int) [][]int {
	var out [][]int
	for len(lines) > size {
		out = append(out, lines[:size])
		lines = lines[size:]
	}
	if len(lines) > 0 {
		out = append(out, lines)
	}
	return out
}
