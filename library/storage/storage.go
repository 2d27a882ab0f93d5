// Package storage provides the persistence backends behind state.Store: JSON
// and YAML document files, a SQL database (sqlite3 or postgres) and an
// in-memory backend.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"lbms/library/config"
	"lbms/library/state"
)

var (
	_ state.Backend = (*FileBackend)(nil)
	_ state.Backend = (*Database)(nil)
	_ state.Backend = (*Memory)(nil)
)

// Open returns the backend selected by cfg.Type.
func Open(ctx context.Context, cfg config.Storage, logger *slog.Logger) (state.Backend, error) {
	switch cfg.Type {
	case config.StorageJSON:
		return NewJSONFile(cfg.FilePath(), cfg.MaxBackupFiles, logger), nil
	case config.StorageYAML:
		return NewYAMLFile(cfg.FilePath(), cfg.MaxBackupFiles, logger), nil
	case config.StorageSQL:
		return NewDatabase(ctx, cfg.SQL.Driver, cfg.SQL.DSN, logger)
	case config.StorageMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
