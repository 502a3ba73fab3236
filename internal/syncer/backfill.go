package syncer

import (
	"context"

	"tgmirror/internal/domain"
)

// BackfillStats reports what a backfill run did.
type BackfillStats struct {
	Seen    int
	Stored  int
	Skipped int
	Failed  int
}

// Backfill walks ch's history from newest to oldest in pages of pageSize
// until the source runs dry or maxMessages were seen. Each message goes
// through the same ingest path as the realtime loop. Cursors are left
// untouched. Store write failures are counted and skipped; a failed fetch
// or existence check ends the run.
func (e *Engine) Backfill(ctx context.Context, ch domain.ChannelDescriptor, pageSize, maxMessages int) (BackfillStats, error) {
	logger := e.channelLogger(ch)
	var stats BackfillStats
	var offsetID int64

	for stats.Seen < maxMessages {
		limit := min(pageSize, maxMessages-stats.Seen)
		page, err := e.source.FetchHistory(ctx, ch.SourceID, limit, offsetID)
		if err != nil {
			return stats, domain.Wrap(domain.KindTransient, "fetch history", err)
		}
		if len(page) == 0 {
			break
		}

		for _, m := range page {
			if offsetID == 0 || m.ID < offsetID {
				offsetID = m.ID
			}
			stats.Seen++
			created, err := e.ingest(ctx, ch, m, logger)
			switch {
			case err != nil && domain.KindOf(err) == domain.KindStoreWrite:
				stats.Failed++
				e.metrics.PhaseError("backfill", string(domain.KindStoreWrite))
				logger.Warn("backfill record not stored", "message_id", m.ID, "err", err)
			case err != nil:
				return stats, err
			case created:
				stats.Stored++
			default:
				stats.Skipped++
			}
		}
		logger.Info("backfill page processed",
			"seen", stats.Seen,
			"stored", stats.Stored,
			"oldest_id", offsetID,
		)
	}
	return stats, nil
}
