package syncer

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"tgmirror/internal/domain"
	"tgmirror/internal/metrics"
)

// SyncChannel ingests the newest FetchWindow source messages of ch that are
// above its cursor and returns how many new records were stored.
//
// Messages are processed in ascending id order. The cursor advances to the
// highest id that was stored or found already present; a failure stops the
// batch there so the next cycle retries from the failed message. Only the
// newest window is read: a burst larger than the window between two polls
// leaves the older part of the burst unsynced.
func (e *Engine) SyncChannel(ctx context.Context, ch domain.ChannelDescriptor) (int, error) {
	logger := e.channelLogger(ch)
	cur := e.cursors.Get(ch.SourceID)

	window, err := e.source.FetchHistory(ctx, ch.SourceID, e.opts.FetchWindow, 0)
	if err != nil {
		return 0, domain.Wrap(domain.KindTransient, "fetch history", err)
	}

	batch := make([]domain.SourceMessage, 0, len(window))
	for _, m := range window {
		if m.ID > cur {
			batch = append(batch, m)
		}
	}
	slices.SortFunc(batch, func(a, b domain.SourceMessage) int { return cmp.Compare(a.ID, b.ID) })

	stored := 0
	done := cur
	var batchErr error
	for _, m := range batch {
		if m.ID == done {
			continue
		}
		created, err := e.ingest(ctx, ch, m, logger)
		if err != nil {
			batchErr = err
			break
		}
		if created {
			stored++
		}
		done = m.ID
	}

	if e.cursors.Advance(ctx, ch.SourceID, done) {
		e.metrics.SetCursor(ch.DisplayName, done)
		logger.Debug("cursor advanced", "from", cur, "to", done)
	}
	if stored > 0 {
		logger.Info("inbound records stored", "count", stored, "cursor", e.cursors.Get(ch.SourceID))
	}
	return stored, batchErr
}

// ingest stores one source message unless it is already present. It
// reports whether a new record was created.
func (e *Engine) ingest(ctx context.Context, ch domain.ChannelDescriptor, m domain.SourceMessage, logger *slog.Logger) (bool, error) {
	key := strconv.FormatInt(m.ID, 10)

	exists, err := e.store.ExistsByKey(ctx, ch.CollectionName, key)
	if err != nil {
		return false, domain.Wrap(domain.KindTransient, "exists check "+key, err)
	}
	if exists {
		logger.Debug("source message already stored", "message_id", m.ID)
		return false, nil
	}

	senderID, senderName, username := e.resolveSender(ctx, ch, m.Sender, logger)
	createdAt := time.Unix(m.TimestampUnix, 0)
	if m.TimestampUnix == 0 {
		createdAt = e.now()
	}

	rec := domain.MessageRecord{
		ChannelID:            ch.SourceID,
		SourceMessageID:      key,
		SenderID:             senderID,
		SenderDisplayName:    senderName,
		SenderUsername:       username,
		Text:                 m.Text,
		CreatedAt:            createdAt,
		Origin:               domain.OriginSource,
		SynchronizedToSource: true,
	}
	if m.ReplyToID != 0 {
		rec.ReplyToID = strconv.FormatInt(m.ReplyToID, 10)
	}

	if m.Media != nil {
		e.attachMedia(ctx, ch, m, &rec, logger)
	}

	err = e.store.Insert(ctx, ch.CollectionName, rec)
	if errors.Is(err, domain.ErrDuplicate) {
		logger.Debug("source message stored concurrently", "message_id", m.ID)
		return false, nil
	}
	if err != nil {
		return false, domain.Wrap(domain.KindStoreWrite, "insert "+key, err)
	}
	e.metrics.InboundRecord()
	return true, nil
}

// attachMedia relays m's attachment into rec. Failures leave the media
// fields empty; the text record is stored regardless.
func (e *Engine) attachMedia(ctx context.Context, ch domain.ChannelDescriptor, m domain.SourceMessage, rec *domain.MessageRecord, logger *slog.Logger) {
	if e.media == nil {
		logger.Debug("media relay disabled, storing text only", "message_id", m.ID)
		return
	}
	res, err := e.media.Relay(ctx, ch, *m.Media, m.ID, m.Text)
	if err != nil {
		e.metrics.MediaRelay(metrics.ResultFailed)
		e.metrics.PhaseError("inbound", string(domain.KindMediaRelay))
		logger.Warn("media relay failed, storing text only",
			"message_id", m.ID, "kind", domain.KindMediaRelay, "err", err)
		return
	}
	e.metrics.MediaRelay(metrics.ResultOK)
	rec.MediaURL = res.URL
	rec.MediaType = res.Type
	rec.RelayPath = res.Path
	rec.OriginalFileName = res.OriginalFileName
}

// resolveSender returns sender id, display name and username for a source
// message. Posts without a user get a synthetic "channel_" identity, and a
// failed lookup falls back to the channel name.
func (e *Engine) resolveSender(ctx context.Context, ch domain.ChannelDescriptor, s domain.SenderRef, logger *slog.Logger) (string, string, string) {
	switch {
	case s.UserID != 0:
		id := strconv.FormatInt(s.UserID, 10)
		ident, err := e.source.ResolveIdentity(ctx, s.UserID)
		if err != nil {
			e.metrics.PhaseError("inbound", string(domain.KindIdentity))
			logger.Warn("identity resolution failed, using channel identity",
				"user_id", s.UserID, "kind", domain.KindIdentity, "err", err)
			return id, ch.DisplayName, ""
		}
		return id, displayName(ident, ch.DisplayName), ident.Username
	case s.PostAuthor != "":
		return "channel_" + s.PostAuthor, s.PostAuthor, ""
	case s.ChannelID != 0:
		return "channel_" + strconv.FormatInt(s.ChannelID, 10), ch.DisplayName, ""
	default:
		return "channel_" + strings.TrimPrefix(ch.SourceID, "@"), ch.DisplayName, ""
	}
}

func displayName(ident domain.Identity, fallback string) string {
	if name := strings.TrimSpace(ident.FirstName + " " + ident.LastName); name != "" {
		return name
	}
	if ident.Username != "" {
		return "@" + ident.Username
	}
	return fallback
}
