package syncer

import (
	"context"
	"errors"

	"tgmirror/internal/domain"
)

const defaultAppSender = "App User"

// DeliverPending sends application records of ch that have not reached the
// source platform yet and marks each delivered one. A record is a
// candidate only while it is origin=application, unsynchronized, not
// deleted and not rejected, so a marked record is never sent again.
//
// A permanent refusal by the platform stamps rejectedAt on the record,
// which takes it out of later batches.
//
// Delivery is at-least-once: when the send succeeds but the mark fails,
// the record is sent again next cycle.
func (e *Engine) DeliverPending(ctx context.Context, ch domain.ChannelDescriptor) (int, error) {
	logger := e.channelLogger(ch)

	pending, err := e.store.Query(ctx, ch.CollectionName, domain.Filter{
		Origin:               domain.Ptr(domain.OriginApplication),
		SynchronizedToSource: domain.Ptr(false),
		Deleted:              domain.Ptr(false),
		Rejected:             domain.Ptr(false),
	}, e.opts.OutboundBatch)
	if err != nil {
		return 0, domain.Wrap(domain.KindTransient, "query pending", err)
	}

	delivered := 0
	for _, rec := range pending {
		deliveredID, err := e.source.DeliverMessage(ctx, ch.SourceID, e.outboundMessage(rec))
		if errors.Is(err, domain.ErrRejected) {
			e.metrics.PhaseError("outbound", "rejected")
			e.markRejected(ctx, ch, rec, err)
			continue
		}
		if err != nil {
			return delivered, domain.Wrap(domain.KindTransient, "deliver "+rec.ID, err)
		}

		now := e.now()
		err = e.store.UpdateFields(ctx, ch.CollectionName, rec.ID, domain.Patch{
			SynchronizedToSource: domain.Ptr(true),
			SourceDeliveredID:    domain.Ptr(deliveredID),
			SyncedAt:             &now,
		})
		if err != nil {
			e.metrics.PhaseError("outbound", string(domain.KindStoreWrite))
			logger.Error("delivered record not marked, it will be sent again",
				"record_id", rec.ID, "delivered_id", deliveredID, "kind", domain.KindStoreWrite, "err", err)
			continue
		}
		delivered++
		e.metrics.OutboundDelivered()
		logger.Debug("application record delivered", "record_id", rec.ID, "delivered_id", deliveredID)
	}

	if delivered > 0 {
		logger.Info("outbound records delivered", "count", delivered)
	}
	return delivered, nil
}

func (e *Engine) markRejected(ctx context.Context, ch domain.ChannelDescriptor, rec domain.MessageRecord, reason error) {
	logger := e.channelLogger(ch)
	now := e.now()
	err := e.store.UpdateFields(ctx, ch.CollectionName, rec.ID, domain.Patch{
		RejectedAt:   &now,
		RejectReason: domain.Ptr(reason.Error()),
	})
	if err != nil {
		e.metrics.PhaseError("outbound", string(domain.KindStoreWrite))
		logger.Error("rejected record not marked, it will be tried again",
			"record_id", rec.ID, "kind", domain.KindStoreWrite, "err", err)
		return
	}
	logger.Warn("platform rejected application record, it will not be retried",
		"record_id", rec.ID, "reason", reason)
}

func (e *Engine) outboundMessage(rec domain.MessageRecord) domain.OutboundMessage {
	text := rec.Text
	if e.opts.AttributeOutbound {
		name := rec.SenderDisplayName
		if name == "" {
			name = defaultAppSender
		}
		text = "📱 " + name + ":\n" + text
	}
	return domain.OutboundMessage{
		Text:      text,
		MediaURL:  rec.MediaURL,
		MediaType: rec.MediaType,
		ReplyToID: rec.ReplyToID,
	}
}
