package syncer

import (
	"context"

	"tgmirror/internal/domain"
)

// PropagateDeletes removes the source message and relay object of
// application records of ch that the application deleted. Like retention,
// the deleteSynced flag is written first and the removals are best effort,
// so a record is handled once even when the platform call fails.
func (e *Engine) PropagateDeletes(ctx context.Context, ch domain.ChannelDescriptor) (int, error) {
	logger := e.channelLogger(ch)

	gone, err := e.store.Query(ctx, ch.CollectionName, domain.Filter{
		Origin:       domain.Ptr(domain.OriginApplication),
		Deleted:      domain.Ptr(true),
		DeleteSynced: domain.Ptr(false),
	}, e.opts.RetentionBatch)
	if err != nil {
		return 0, domain.Wrap(domain.KindTransient, "query app deletes", err)
	}

	synced := 0
	for _, rec := range gone {
		err := e.store.UpdateFields(ctx, ch.CollectionName, rec.ID, domain.Patch{
			DeleteSynced: domain.Ptr(true),
		})
		if err != nil {
			e.metrics.PhaseError("deletes", string(domain.KindStoreWrite))
			logger.Error("failed to mark delete synced",
				"record_id", rec.ID, "kind", domain.KindStoreWrite, "err", err)
			continue
		}
		synced++
		e.metrics.DeletePropagated()
		e.removeArtifacts(ctx, ch, rec)
	}

	if synced > 0 {
		logger.Info("app deletes propagated", "count", synced)
	}
	return synced, nil
}
