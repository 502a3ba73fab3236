package telegram

import (
	"context"
	"fmt"
	"sort"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tgmirror/internal/domain"
)

const updatesPageSize = 100

// FetchHistory drains pending updates into the per-chat buffers, then
// serves up to limit buffered posts of channelRef, newest first. With
// offsetID > 0 only posts older than offsetID are returned.
func (b *Bot) FetchHistory(ctx context.Context, channelRef string, limit int, offsetID int64) ([]domain.SourceMessage, error) {
	chatID, err := b.chatID(ctx, channelRef)
	if err != nil {
		return nil, err
	}
	if err := b.drain(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	buf := b.history[chatID]
	out := make([]domain.SourceMessage, 0, min(limit, len(buf)))
	for i := len(buf) - 1; i >= 0 && len(out) < limit; i-- {
		if offsetID > 0 && buf[i].ID >= offsetID {
			continue
		}
		out = append(out, buf[i])
	}
	return out, nil
}

// drain pulls every pending update without long polling. Only watched
// chats are buffered; everything else is acknowledged and dropped.
func (b *Bot) drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.mu.Lock()
		offset := b.offset
		b.mu.Unlock()

		updates, err := b.api.GetUpdates(tgbotapi.UpdateConfig{
			Offset:         offset,
			Limit:          updatesPageSize,
			Timeout:        0,
			AllowedUpdates: []string{"message", "channel_post"},
		})
		if err != nil {
			return fmt.Errorf("get updates: %w", err)
		}
		if len(updates) == 0 {
			return nil
		}

		b.mu.Lock()
		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			msg := u.ChannelPost
			if msg == nil {
				msg = u.Message
			}
			if msg == nil || msg.Chat == nil || !b.watched[msg.Chat.ID] {
				continue
			}
			if msg.From != nil && !msg.From.IsBot {
				b.rememberUser(msg.From.ID, domain.Identity{
					Username:  msg.From.UserName,
					FirstName: msg.From.FirstName,
					LastName:  msg.From.LastName,
				})
			}
			b.buffer(msg.Chat.ID, toSourceMessage(msg))
		}
		b.mu.Unlock()

		if len(updates) < updatesPageSize {
			return nil
		}
	}
}

// buffer inserts m in id order, dropping the oldest posts beyond capacity.
// Callers hold b.mu.
func (b *Bot) buffer(chatID int64, m domain.SourceMessage) {
	buf := b.history[chatID]
	i := sort.Search(len(buf), func(i int) bool { return buf[i].ID >= m.ID })
	if i < len(buf) && buf[i].ID == m.ID {
		buf[i] = m
	} else {
		buf = append(buf, domain.SourceMessage{})
		copy(buf[i+1:], buf[i:])
		buf[i] = m
	}
	if len(buf) > b.bufferSize {
		buf = append([]domain.SourceMessage(nil), buf[len(buf)-b.bufferSize:]...)
	}
	b.history[chatID] = buf
}

func toSourceMessage(m *tgbotapi.Message) domain.SourceMessage {
	sm := domain.SourceMessage{
		ID:            int64(m.MessageID),
		Text:          m.Text,
		TimestampUnix: int64(m.Date),
		Media:         mediaRef(m),
	}
	if sm.Text == "" {
		sm.Text = m.Caption
	}
	if m.From != nil {
		sm.Sender.UserID = m.From.ID
	}
	if m.ReplyToMessage != nil {
		sm.ReplyToID = int64(m.ReplyToMessage.MessageID)
	}
	sm.Sender.PostAuthor = m.AuthorSignature
	switch {
	case m.SenderChat != nil:
		sm.Sender.ChannelID = m.SenderChat.ID
	case m.Chat != nil:
		sm.Sender.ChannelID = m.Chat.ID
	}
	return sm
}

func mediaRef(m *tgbotapi.Message) *domain.MediaRef {
	switch {
	case len(m.Photo) > 0:
		largest := m.Photo[0]
		for _, p := range m.Photo[1:] {
			if p.Width*p.Height > largest.Width*largest.Height {
				largest = p
			}
		}
		return &domain.MediaRef{FileID: largest.FileID, Size: int64(largest.FileSize)}
	case m.Video != nil:
		return &domain.MediaRef{
			FileID:       m.Video.FileID,
			DeclaredKind: domain.MediaVideo,
			MimeType:     m.Video.MimeType,
			FileName:     m.Video.FileName,
			Size:         int64(m.Video.FileSize),
		}
	case m.Animation != nil:
		return &domain.MediaRef{
			FileID:       m.Animation.FileID,
			DeclaredKind: domain.MediaVideo,
			MimeType:     m.Animation.MimeType,
			FileName:     m.Animation.FileName,
			Size:         int64(m.Animation.FileSize),
		}
	case m.VideoNote != nil:
		return &domain.MediaRef{
			FileID:       m.VideoNote.FileID,
			DeclaredKind: domain.MediaVideo,
			Size:         int64(m.VideoNote.FileSize),
		}
	case m.Audio != nil:
		return &domain.MediaRef{
			FileID:       m.Audio.FileID,
			DeclaredKind: domain.MediaAudio,
			MimeType:     m.Audio.MimeType,
			FileName:     m.Audio.FileName,
			Size:         int64(m.Audio.FileSize),
		}
	case m.Voice != nil:
		return &domain.MediaRef{
			FileID:       m.Voice.FileID,
			DeclaredKind: domain.MediaAudio,
			MimeType:     m.Voice.MimeType,
			Size:         int64(m.Voice.FileSize),
		}
	case m.Document != nil:
		return &domain.MediaRef{
			FileID:   m.Document.FileID,
			Document: true,
			MimeType: m.Document.MimeType,
			FileName: m.Document.FileName,
			Size:     int64(m.Document.FileSize),
		}
	}
	return nil
}
