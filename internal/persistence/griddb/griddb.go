// Package griddb is the sqlite backing store for grid regions, user accounts,
// asset blobs and offline instant messages.
package griddb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type DB struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (creating if needed) the database at path and applies pending migrations.
func Open(path string, logger *log.Logger) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	g := &DB{db: db, logger: logger}
	if err := g.MigrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

// MigrateUp applies every embedded migration not yet recorded.
func (g *DB) MigrateUp() error {
	m, err := g.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it closes g.db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version; 0 when nothing is applied.
func (g *DB) Version() (uint, bool, error) {
	m, err := g.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (g *DB) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(g.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{g.logger}
	return m, nil
}

type migrateLogger struct{ l *log.Logger }

func (m migrateLogger) Printf(format string, v ...any) { m.l.Printf("migrate: "+format, v...) }
func (m migrateLogger) Verbose() bool                  { return false }

func (g *DB) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

// Grid, Users, Assets and OfflineIMs are views of g typed for each consumer.
func (g *DB) Grid() *RegionStore          { return &RegionStore{db: g.db} }
func (g *DB) Users() *UserStore           { return &UserStore{db: g.db} }
func (g *DB) Assets() *AssetStore         { return &AssetStore{db: g.db} }
func (g *DB) OfflineIMs() *OfflineIMStore { return &OfflineIMStore{db: g.db, logger: g.logger} }

func execCtx(ctx context.Context, db *sql.DB, q string, args ...any) (sql.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return db.ExecContext(ctx, q, args...)
}
