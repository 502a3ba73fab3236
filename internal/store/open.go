package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"tgmirror/internal/domain"
)

// Store is the full persistence surface the sync engine and CLI use.
type Store interface {
	domain.DocumentStore
	domain.CursorPersister
	Count(ctx context.Context, collection string, f domain.Filter) (int64, error)
	Ping(ctx context.Context) error
	Backend() string
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*MongoStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// Open builds a Store from a DSN. A bare path or sqlite:// selects SQLite,
// postgres:// selects Postgres, mongodb:// selects MongoDB and memory://
// an in-process store. database names the Mongo database.
func Open(ctx context.Context, dsn, database string, logger *slog.Logger) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("store dsn is empty")
	}
	scheme := ""
	if i := strings.Index(dsn, "://"); i > 0 {
		scheme = strings.ToLower(dsn[:i])
	}

	switch scheme {
	case "", "file", "sqlite", "sqlite3":
		path, err := dsnPath(dsn)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(path, logger)
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, dsn, logger)
	case "mongodb", "mongodb+srv":
		return NewMongoStore(ctx, dsn, database, logger)
	case "memory", "mem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", scheme)
	}
}

func dsnPath(dsn string) (string, error) {
	if !strings.Contains(dsn, "://") {
		return dsn, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse store dsn: %w", err)
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if path == "" {
		return "", fmt.Errorf("store dsn %q has no path", dsn)
	}
	return path, nil
}

// SQLitePath returns the database file of a SQLite DSN. ok is false for
// the other backends.
func SQLitePath(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	scheme := ""
	if i := strings.Index(dsn, "://"); i > 0 {
		scheme = strings.ToLower(dsn[:i])
	}
	switch scheme {
	case "", "file", "sqlite", "sqlite3":
		p, err := dsnPath(dsn)
		return p, err == nil && p != ""
	}
	return "", false
}
