package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"tgmirror/internal/domain"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders into $n for postgres.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const recordColumns = `id, collection, channel_id, source_message_id, sender_id, sender_name,
	sender_username, text, created_at, origin, synced_to_source, source_delivered_id, synced_at,
	media_url, media_type, relay_path, original_file_name, deleted, deleted_at,
	reply_to_id, rejected_at, reject_reason, delete_synced`

// SQLStore implements Store on a relational database. Every channel
// collection shares one table keyed by the collection column.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// NewSQLiteStore opens (creating if needed) an SQLite database file.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return newSQLStore(db, dialectSQLite, logger)
}

// NewPostgresStore connects to a postgres server using a lib/pq DSN.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot reach postgres: %w", err)
	}
	return newSQLStore(db, dialectPostgres, logger)
}

func newSQLStore(db *sql.DB, d dialect, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLStore{db: db, dialect: d, logger: logger}
	if err := RunMigrations(db, d, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

// Backend names the SQL dialect in use.
func (s *SQLStore) Backend() string { return s.dialect.String() }

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) ExistsByKey(ctx context.Context, collection, sourceMessageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT 1 FROM message_records
		 WHERE collection = ? AND origin = 'source' AND source_message_id = ? LIMIT 1`),
		collection, sourceMessageID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s/%s: %w", collection, sourceMessageID, err)
	}
	return true, nil
}

// Insert stores rec. Source-origin records are conditional on the
// (collection, source_message_id) key and return domain.ErrDuplicate when
// the key is already present.
func (s *SQLStore) Insert(ctx context.Context, collection string, rec domain.MessageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO message_records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`),
		rec.ID, collection, rec.ChannelID, rec.SourceMessageID, rec.SenderID, rec.SenderDisplayName,
		nullString(rec.SenderUsername), rec.Text, rec.CreatedAt.UnixMilli(), string(rec.Origin),
		rec.SynchronizedToSource, nullString(rec.SourceDeliveredID), nullTime(rec.SyncedAt),
		nullString(rec.MediaURL), nullString(string(rec.MediaType)), nullString(rec.RelayPath),
		nullString(rec.OriginalFileName), rec.Deleted, nullTime(rec.DeletedAt),
		nullString(rec.ReplyToID), nullTime(rec.RejectedAt), nullString(rec.RejectReason), rec.DeleteSynced,
	)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	if n == 0 {
		return domain.ErrDuplicate
	}
	return nil
}

func (s *SQLStore) Query(ctx context.Context, collection string, f domain.Filter, limit int) ([]domain.MessageRecord, error) {
	where, args := filterClause(collection, f)
	query := `SELECT ` + recordColumns + ` FROM message_records WHERE ` + where + ` ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []domain.MessageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of records in collection matching f.
func (s *SQLStore) Count(ctx context.Context, collection string, f domain.Filter) (int64, error) {
	where, args := filterClause(collection, f)
	var n int64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT COUNT(*) FROM message_records WHERE `+where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

func (s *SQLStore) UpdateFields(ctx context.Context, collection, id string, p domain.Patch) error {
	var sets []string
	var args []any
	if p.SynchronizedToSource != nil {
		sets = append(sets, "synced_to_source = ?")
		args = append(args, *p.SynchronizedToSource)
	}
	if p.SourceDeliveredID != nil {
		sets = append(sets, "source_delivered_id = ?")
		args = append(args, nullString(*p.SourceDeliveredID))
	}
	if p.SyncedAt != nil {
		sets = append(sets, "synced_at = ?")
		args = append(args, p.SyncedAt.UnixMilli())
	}
	if p.RejectedAt != nil {
		sets = append(sets, "rejected_at = ?")
		args = append(args, p.RejectedAt.UnixMilli())
	}
	if p.RejectReason != nil {
		sets = append(sets, "reject_reason = ?")
		args = append(args, nullString(*p.RejectReason))
	}
	if p.Deleted != nil {
		sets = append(sets, "deleted = ?")
		args = append(args, *p.Deleted)
	}
	if p.DeletedAt != nil {
		sets = append(sets, "deleted_at = ?")
		args = append(args, p.DeletedAt.UnixMilli())
	}
	if p.DeleteSynced != nil {
		sets = append(sets, "delete_synced = ?")
		args = append(args, *p.DeleteSynced)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, collection, id)
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE message_records SET `+strings.Join(sets, ", ")+` WHERE collection = ? AND id = ?`), args...)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, domain.ErrNotFound)
	}
	return nil
}

// LoadCursors returns every persisted per-channel cursor.
func (s *SQLStore) LoadCursors(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, last_message_id FROM sync_cursors`)
	if err != nil {
		return nil, fmt.Errorf("load cursors: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var ch string
		var id int64
		if err := rows.Scan(&ch, &id); err != nil {
			return nil, fmt.Errorf("load cursors: %w", err)
		}
		out[ch] = id
	}
	return out, rows.Err()
}

// SaveCursor upserts a cursor, never moving a stored value backwards.
func (s *SQLStore) SaveCursor(ctx context.Context, channelID string, lastMessageID int64) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO sync_cursors (channel_id, last_message_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (channel_id) DO UPDATE
		 SET last_message_id = excluded.last_message_id, updated_at = excluded.updated_at
		 WHERE sync_cursors.last_message_id < excluded.last_message_id`),
		channelID, lastMessageID, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", channelID, err)
	}
	return nil
}

func filterClause(collection string, f domain.Filter) (string, []any) {
	clauses := []string{"collection = ?"}
	args := []any{collection}
	if f.Origin != nil {
		clauses = append(clauses, "origin = ?")
		args = append(args, string(*f.Origin))
	}
	if f.SynchronizedToSource != nil {
		clauses = append(clauses, "synced_to_source = ?")
		args = append(args, *f.SynchronizedToSource)
	}
	if f.Deleted != nil {
		clauses = append(clauses, "deleted = ?")
		args = append(args, *f.Deleted)
	}
	if f.DeleteSynced != nil {
		clauses = append(clauses, "delete_synced = ?")
		args = append(args, *f.DeleteSynced)
	}
	if f.Rejected != nil {
		if *f.Rejected {
			clauses = append(clauses, "rejected_at IS NOT NULL")
		} else {
			clauses = append(clauses, "rejected_at IS NULL")
		}
	}
	if f.CreatedAtOrBefore != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.CreatedAtOrBefore.UnixMilli())
	}
	return strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.MessageRecord, error) {
	var (
		rec                                        domain.MessageRecord
		collection, origin                         string
		createdAt                                  int64
		username, deliveredID, mediaURL, mediaType sql.NullString
		relayPath, fileName, replyTo, rejectReason sql.NullString
		syncedAt, deletedAt, rejectedAt            sql.NullInt64
	)
	err := row.Scan(&rec.ID, &collection, &rec.ChannelID, &rec.SourceMessageID, &rec.SenderID,
		&rec.SenderDisplayName, &username, &rec.Text, &createdAt, &origin, &rec.SynchronizedToSource,
		&deliveredID, &syncedAt, &mediaURL, &mediaType, &relayPath, &fileName, &rec.Deleted, &deletedAt,
		&replyTo, &rejectedAt, &rejectReason, &rec.DeleteSynced)
	if err != nil {
		return rec, err
	}
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.Origin = domain.Origin(origin)
	rec.SenderUsername = username.String
	rec.SourceDeliveredID = deliveredID.String
	rec.MediaURL = mediaURL.String
	rec.MediaType = domain.MediaType(mediaType.String)
	rec.RelayPath = relayPath.String
	rec.OriginalFileName = fileName.String
	rec.ReplyToID = replyTo.String
	rec.RejectReason = rejectReason.String
	rec.SyncedAt = timePtr(syncedAt)
	rec.DeletedAt = timePtr(deletedAt)
	rec.RejectedAt = timePtr(rejectedAt)
	return rec, nil
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
