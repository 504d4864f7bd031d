package database

import (
	"context"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("academia.database")

const (
	connectTimeout = 10 * time.Second
	migrateTimeout = 30 * time.Second
)

// NewPostgresPool connects to Postgres. maxConns must leave room for the
// connections held by LISTEN change channels, one per open page.
func NewPostgresPool(databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Annotate(err, "parsing database URL")
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = min(5, maxConns)
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Annotate(err, "creating connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Annotate(err, "pinging database")
	}
	logger.Debugf("connected to %s/%s (max %d conns)", cfg.ConnConfig.Host, cfg.ConnConfig.Database, maxConns)
	return pool, nil
}

// migration is one NNN_name.sql file.
type migration struct {
	version int
	name    string
	sql     string
}

// loadMigrations reads the migration files in fsys ordered by version.
// Files that are not .sql are ignored; a .sql file without a numeric
// prefix, or two files with the same version, is an error.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, errors.Annotate(err, "reading migrations directory")
	}

	seen := make(map[int]string)
	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}

		prefix, _, ok := strings.Cut(name, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil || version <= 0 {
			return nil, errors.NotValidf("migration file name %q", name)
		}
		if other, dup := seen[version]; dup {
			return nil, errors.NotValidf("migration version %d used by %q and %q", version, other, name)
		}
		seen[version] = name

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, errors.Annotatef(err, "reading migration %s", name)
		}
		out = append(out, migration{version: version, name: name, sql: string(data)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// RunMigrations applies the migrations in migrationsDir that
// schema_migrations has not recorded yet, each in its own transaction.
func RunMigrations(pool *pgxpool.Pool, migrationsDir string) error {
	migrations, err := loadMigrations(os.DirFS(migrationsDir))
	if err != nil {
		return errors.Trace(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`); err != nil {
		return errors.Annotate(err, "creating schema_migrations")
	}

	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return errors.Trace(err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return errors.Annotate(err, "executing")
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version)
			return errors.Annotate(err, "recording")
		})
		if err != nil {
			return errors.Annotatef(err, "migration %s", m.name)
		}
		logger.Infof("applied migration %03d: %s", m.version, m.name)
	}
	return nil
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[int]bool, error) {
	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, errors.Annotate(err, "listing applied migrations")
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, errors.Annotate(err, "listing applied migrations")
	}

	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}
