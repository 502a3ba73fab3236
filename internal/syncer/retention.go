package syncer

import (
	"context"

	"tgmirror/internal/domain"
)

// EnforceRetention logically deletes records of ch whose createdAt is at or
// before now minus the channel's retention horizon. The store flag is
// authoritative and set first; removing the source message and the relay
// object afterwards is best effort, logged and never retried.
func (e *Engine) EnforceRetention(ctx context.Context, ch domain.ChannelDescriptor) (int, error) {
	logger := e.channelLogger(ch)
	if ch.Retention <= 0 {
		return 0, nil
	}

	now := e.now()
	cutoff := now.Add(-ch.Retention)
	expired, err := e.store.Query(ctx, ch.CollectionName, domain.Filter{
		Deleted:           domain.Ptr(false),
		CreatedAtOrBefore: &cutoff,
	}, e.opts.RetentionBatch)
	if err != nil {
		return 0, domain.Wrap(domain.KindTransient, "query expired", err)
	}

	deleted := 0
	for _, rec := range expired {
		err := e.store.UpdateFields(ctx, ch.CollectionName, rec.ID, domain.Patch{
			Deleted:      domain.Ptr(true),
			DeletedAt:    &now,
			DeleteSynced: domain.Ptr(true),
		})
		if err != nil {
			e.metrics.PhaseError("retention", string(domain.KindStoreWrite))
			logger.Error("failed to mark record deleted",
				"record_id", rec.ID, "kind", domain.KindStoreWrite, "err", err)
			continue
		}
		deleted++
		e.metrics.RetentionDeleted()
		e.removeArtifacts(ctx, ch, rec)
	}

	if deleted > 0 {
		logger.Info("expired records deleted", "count", deleted, "horizon", ch.Retention.String())
	}
	return deleted, nil
}

func (e *Engine) removeArtifacts(ctx context.Context, ch domain.ChannelDescriptor, rec domain.MessageRecord) {
	logger := e.channelLogger(ch)

	if key := rec.SourceMessageKey(); key != "" {
		if err := e.source.DeleteMessage(ctx, ch.SourceID, key); err != nil {
			logger.Warn("source message not deleted", "record_id", rec.ID, "message_id", key, "err", err)
		}
	}
	if rec.RelayPath != "" && e.relay != nil {
		if err := e.relay.Delete(ctx, rec.RelayPath); err != nil {
			logger.Warn("relay object not deleted", "record_id", rec.ID, "path", rec.RelayPath, "err", err)
		}
	}
}
