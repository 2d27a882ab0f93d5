package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"lbms/library/state"
)

const schemaVersion = 1

const (
	tableMeta = "meta"
	colID     = "id"

	// Rows per INSERT; keeps bind variables well below driver limits.
	insertBatch = 200
)

// Database stores every entity type in its own table, one TEXT column per
// field.
type Database struct {
	db      *sqlx.DB
	driver  string
	dialect goqu.DialectWrapper
	logger  *slog.Logger
}

// NewDatabase connects to a sqlite3 or postgres database. For sqlite3 the dsn
// is a file path; the directory is created so a first run succeeds.
func NewDatabase(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Database, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	switch driver {
	case "sqlite3":
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, unavailable("open", dsn, fmt.Errorf("create db dir: %w", err))
			}
		}
		if !strings.HasPrefix(dsn, "file:") {
			dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dsn)
		}
	case "postgres":
	default:
		return nil, unavailable("open", "", fmt.Errorf("unsupported driver %q", driver))
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, unavailable("open", "", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, unavailable("ping", "", err)
	}
	if driver == "sqlite3" {
		// One writer; WAL lets readers proceed during Save.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			db.Close()
			return nil, unavailable("open", "", fmt.Errorf("enable WAL: %w", err))
		}
	}
	return &Database{db: db, driver: driver, dialect: goqu.Dialect(driver), logger: logger}, nil
}

func (d *Database) Close() error { return d.db.Close() }

// Load migrates the schema and reads every table into records.
func (d *Database) Load(ctx context.Context, schemas []state.Schema) (state.Snapshot, error) {
	if err := d.migrate(ctx, schemas); err != nil {
		return nil, unavailable("migrate", "", err)
	}

	snap := make(state.Snapshot, len(schemas))
	for _, s := range schemas {
		recs, err := d.loadTable(ctx, s)
		if err != nil {
			return nil, &state.StorageError{Op: "load", Path: s.Name, Err: errors.Join(state.ErrCorruptData, err)}
		}
		snap[s.Name] = recs
	}
	return snap, nil
}

func (d *Database) loadTable(ctx context.Context, s state.Schema) ([]state.Record, error) {
	cols := make([]any, 0, len(s.Columns)+1)
	cols = append(cols, goqu.I(colID))
	for _, c := range s.Columns {
		cols = append(cols, goqu.I(c))
	}
	query, args, err := d.dialect.From(goqu.T(s.Name)).
		Select(cols...).
		Order(goqu.I(colID).Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select %s: %w", s.Name, err)
	}

	rows, err := d.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []state.Record
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		rec := make(state.Record, len(vals))
		rec[colID] = text(vals[0])
		for i, c := range s.Columns {
			rec[c] = text(vals[i+1])
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Save replaces the content of every table inside one transaction.
func (d *Database) Save(ctx context.Context, schemas []state.Schema, snap state.Snapshot) error {
	if err := d.migrate(ctx, schemas); err != nil {
		return unavailable("migrate", "", err)
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable("save", "", err)
	}
	defer tx.Rollback()

	for _, s := range schemas {
		del, args, err := d.dialect.Delete(goqu.T(s.Name)).Prepared(true).ToSQL()
		if err != nil {
			return &state.StorageError{Op: "save", Path: s.Name, Err: err}
		}
		if _, err := tx.ExecContext(ctx, del, args...); err != nil {
			return &state.StorageError{Op: "save", Path: s.Name, Err: err}
		}

		recs := snap[s.Name]
		if len(recs) == 0 {
			continue
		}
		rows := make([]any, 0, len(recs))
		for _, r := range recs {
			id, err := strconv.ParseInt(r[colID], 10, 64)
			if err != nil {
				return &state.StorageError{Op: "save", Path: s.Name, Err: fmt.Errorf("invalid id %q", r[colID])}
			}
			row := goqu.Record{colID: id}
			for _, c := range s.Columns {
				row[c] = r[c]
			}
			rows = append(rows, row)
		}
		for start := 0; start < len(rows); start += insertBatch {
			end := min(start+insertBatch, len(rows))
			ins, args, err := d.dialect.Insert(goqu.T(s.Name)).Rows(rows[start:end]...).Prepared(true).ToSQL()
			if err != nil {
				return &state.StorageError{Op: "save", Path: s.Name, Err: err}
			}
			if _, err := tx.ExecContext(ctx, ins, args...); err != nil {
				return &state.StorageError{Op: "save", Path: s.Name, Err: err}
			}
		}
		d.logger.Debug("table saved", "table", s.Name, "rows", len(recs))
	}
	if err := tx.Commit(); err != nil {
		return unavailable("save", "", err)
	}
	return nil
}

// migrate creates the meta table and one table per schema. Tables are only
// created once per schema version.
func (d *Database) migrate(ctx context.Context, schemas []state.Schema) error {
	if _, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return fmt.Errorf("create meta: %w", err)
	}

	current, err := d.currentVersion(ctx)
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range schemas {
		if _, err := tx.ExecContext(ctx, createTable(s)); err != nil {
			return fmt.Errorf("apply migration %s: %w", s.Name, err)
		}
	}

	del, args, err := d.dialect.Delete(tableMeta).Where(goqu.Ex{"key": "schema_version"}).Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, del, args...); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	ins, args, err := d.dialect.Insert(tableMeta).
		Rows(goqu.Record{"key": "schema_version", "value": strconv.Itoa(schemaVersion)}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, ins, args...); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	d.logger.Info("schema migrated", "driver", d.driver, "version", schemaVersion, "tables", len(schemas))
	return nil
}

func (d *Database) currentVersion(ctx context.Context) (int, error) {
	query, args, err := d.dialect.From(tableMeta).
		Select(goqu.I("value")).
		Where(goqu.Ex{"key": "schema_version"}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, err
	}
	var raw string
	if err := d.db.QueryRowxContext(ctx, query, args...).Scan(&raw); err != nil {
		// No row yet: fresh database.
		return 0, nil
	}
	v, _ := strconv.Atoi(raw)
	return v, nil
}

func createTable(s state.Schema) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `CREATE TABLE IF NOT EXISTS "%s" (id BIGINT PRIMARY KEY`, s.Name)
	for _, c := range s.Columns {
		fmt.Fprintf(&sb, `, "%s" TEXT NOT NULL DEFAULT ''`, c)
	}
	sb.WriteString(");")
	return sb.String()
}

// text converts a scanned column value into its record form.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

func unavailable(op, path string, err error) error {
	return &state.StorageError{Op: op, Path: path, Err: errors.Join(state.ErrStorageUnavailable, err)}
}
