// Package cursor tracks the last processed source message id per channel.
package cursor

import (
	"context"
	"fmt"
	"log/slog"

	"tgmirror/internal/domain"
)

// Map holds one cursor per channel. It is owned by the inbound engine and
// mutated only from the orchestrator loop, so it carries no lock.
type Map struct {
	values  map[string]int64
	persist domain.CursorPersister
	logger  *slog.Logger
}

// New returns a process-lifetime cursor map seeded with initial values.
func New(initial map[string]int64) *Map {
	values := make(map[string]int64, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &Map{values: values}
}

// Load seeds a map from p and writes every advance through to it.
func Load(ctx context.Context, p domain.CursorPersister, logger *slog.Logger) (*Map, error) {
	stored, err := p.LoadCursors(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cursors: %w", err)
	}
	m := New(stored)
	m.persist = p
	m.logger = logger
	return m, nil
}

// Get returns the cursor for channelID, 0 if none was recorded.
func (m *Map) Get(channelID string) int64 {
	return m.values[channelID]
}

// Advance moves the cursor forward to id. Smaller or equal ids are ignored,
// so a cursor never decreases. It reports whether the cursor moved.
func (m *Map) Advance(ctx context.Context, channelID string, id int64) bool {
	if id <= m.values[channelID] {
		return false
	}
	m.values[channelID] = id
	if m.persist != nil {
		if err := m.persist.SaveCursor(ctx, channelID, id); err != nil && m.logger != nil {
			m.logger.Warn("cursor not persisted", "channel", channelID, "cursor", id, "err", err)
		}
	}
	return true
}

// Snapshot copies the current values.
func (m *Map) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
