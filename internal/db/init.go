// Package db prepares the notifire schema.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/RezaEskandarii/notifire/internal/constants"
	"github.com/RezaEskandarii/notifire/internal/lock"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Script is one migration file.
type Script struct {
	Name string
	SQL  string
}

// Init pings the database and applies every migration script in name order.
// Scripts are idempotent; the migration lock keeps concurrent instances from
// running them at the same time.
func Init(ctx context.Context, db *sql.DB, distributedLock lock.DistributedLockManager, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if err := distributedLock.Acquire(ctx, constants.MigrationLock); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if err := distributedLock.Release(context.WithoutCancel(ctx), constants.MigrationLock); err != nil {
			logger.Warn("failed to release migration lock", "error", err)
		}
	}()

	scripts, err := ReadSQLScripts()
	if err != nil {
		return err
	}
	for _, script := range scripts {
		if _, err := db.ExecContext(ctx, script.SQL); err != nil {
			return fmt.Errorf("migration %s: %w", script.Name, err)
		}
		logger.Info("migration applied", "script", script.Name)
	}
	return nil
}

// ReadSQLScripts returns the embedded migrations sorted by file name.
func ReadSQLScripts() ([]Script, error) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return nil, err
	}

	var scripts []Script
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := migrations.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, Script{Name: entry.Name(), SQL: string(content)})
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Name < scripts[j].Name })
	return scripts, nil
}
