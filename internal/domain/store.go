package domain

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrDuplicate is returned by Insert when a source record with the same
// (collection, sourceMessageId) already exists.
var ErrDuplicate = errors.New("duplicate source record")

// ErrNotFound is returned by UpdateFields when no record has the given id.
var ErrNotFound = errors.New("record not found")

// DocumentStore holds MessageRecords grouped into collections.
type DocumentStore interface {
	ExistsByKey(ctx context.Context, collection, sourceMessageID string) (bool, error)
	// Insert is an atomic conditional insert for origin=source records:
	// it fails with ErrDuplicate instead of creating a second record.
	Insert(ctx context.Context, collection string, rec MessageRecord) error
	Query(ctx context.Context, collection string, f Filter, limit int) ([]MessageRecord, error)
	UpdateFields(ctx context.Context, collection, id string, p Patch) error
	Close() error
}

// CursorPersister is implemented by stores that can keep cursors across
// process restarts.
type CursorPersister interface {
	LoadCursors(ctx context.Context) (map[string]int64, error)
	SaveCursor(ctx context.Context, channelID string, lastMessageID int64) error
}

// RelayHost is the object-relay endpoint media is uploaded to.
type RelayHost interface {
	Put(ctx context.Context, path string, r io.Reader) error
	// Size returns the stored size; ok is false when the object is absent.
	Size(ctx context.Context, path string) (size int64, ok bool, err error)
	Delete(ctx context.Context, path string) error
	PublicURL(path string) string
}

// Clock returns the current time. Engines take one so tests can pin time.
type Clock func() time.Time
