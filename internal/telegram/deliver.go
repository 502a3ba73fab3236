package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tgmirror/internal/domain"
)

const (
	maxMessageLen  = 4000
	maxCaptionLen  = 1024
	maxSendRetries = 3
)

// DeliverMessage posts msg to channelRef and returns the platform message
// id. Long text is split into several messages; the id of the first one is
// returned. Media goes out by URL with the text as caption. A reply target
// applies to the first message only and is dropped by Telegram when the
// target no longer exists.
func (b *Bot) DeliverMessage(ctx context.Context, channelRef string, msg domain.OutboundMessage) (string, error) {
	chatID, err := b.chatID(ctx, channelRef)
	if err != nil {
		return "", err
	}
	replyTo := 0
	if msg.ReplyToID != "" {
		if replyTo, err = strconv.Atoi(msg.ReplyToID); err != nil {
			return "", fmt.Errorf("%w: invalid reply target %q", domain.ErrRejected, msg.ReplyToID)
		}
	}

	var (
		first tgbotapi.Message
		rest  []string
	)
	if msg.MediaURL != "" {
		caption := msg.Text
		if len([]rune(caption)) > maxCaptionLen {
			rest = splitText(caption, maxMessageLen)
			caption = ""
		}
		first, err = b.send(ctx, mediaConfig(chatID, msg.MediaType, msg.MediaURL, caption, replyTo))
	} else {
		chunks := splitText(msg.Text, maxMessageLen)
		if len(chunks) == 0 {
			return "", fmt.Errorf("%w: empty message", domain.ErrRejected)
		}
		rest = chunks[1:]
		c := tgbotapi.NewMessage(chatID, chunks[0])
		c.BaseChat = replyBase(c.BaseChat, replyTo)
		first, err = b.send(ctx, c)
	}
	if err != nil {
		return "", err
	}

	for _, chunk := range rest {
		if _, err := b.send(ctx, tgbotapi.NewMessage(chatID, chunk)); err != nil {
			b.logger.Warn("telegram follow-up chunk failed", "chat_id", chatID, "err", err)
			break
		}
	}
	return strconv.Itoa(first.MessageID), nil
}

func mediaConfig(chatID int64, kind domain.MediaType, url, caption string, replyTo int) tgbotapi.Chattable {
	file := tgbotapi.FileURL(url)
	switch kind {
	case domain.MediaVideo:
		c := tgbotapi.NewVideo(chatID, file)
		c.Caption = caption
		c.BaseChat = replyBase(c.BaseChat, replyTo)
		return c
	case domain.MediaAudio:
		c := tgbotapi.NewAudio(chatID, file)
		c.Caption = caption
		c.BaseChat = replyBase(c.BaseChat, replyTo)
		return c
	case domain.MediaDocument:
		c := tgbotapi.NewDocument(chatID, file)
		c.Caption = caption
		c.BaseChat = replyBase(c.BaseChat, replyTo)
		return c
	default:
		c := tgbotapi.NewPhoto(chatID, file)
		c.Caption = caption
		c.BaseChat = replyBase(c.BaseChat, replyTo)
		return c
	}
}

func replyBase(base tgbotapi.BaseChat, replyTo int) tgbotapi.BaseChat {
	if replyTo > 0 {
		base.ReplyToMessageID = replyTo
		base.AllowSendingWithoutReply = true
	}
	return base
}

// DeleteMessage removes a message from channelRef. A message that is
// already gone is not an error.
func (b *Bot) DeleteMessage(ctx context.Context, channelRef string, messageID string) error {
	chatID, err := b.chatID(ctx, channelRef)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", messageID, err)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = b.api.Request(tgbotapi.NewDeleteMessage(chatID, id))
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "message to delete not found") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete message %d in %d: %w", id, chatID, err)
	}
	return nil
}

// send delivers one request with pacing and retry.
// 429 waits for the advertised retry_after (or a growing backoff), other
// 4xx are permanent, anything else backs off linearly.
func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= maxSendRetries; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return tgbotapi.Message{}, err
		}

		sent, err := b.api.Send(c)
		if err == nil {
			return sent, nil
		}
		lastErr = err

		var apiErr *tgbotapi.Error
		isAPIErr := errors.As(err, &apiErr)

		if (isAPIErr && apiErr.Code == 429) || strings.Contains(err.Error(), "Too Many Requests") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			if isAPIErr && apiErr.RetryAfter > 0 {
				retryAfter = time.Duration(apiErr.RetryAfter) * time.Second
			}
			b.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			if err := b.sleep(ctx, retryAfter); err != nil {
				return tgbotapi.Message{}, err
			}
			continue
		}

		if isAPIErr && apiErr.Code >= 400 && apiErr.Code < 500 {
			return tgbotapi.Message{}, fmt.Errorf("%w: %v", domain.ErrRejected, err)
		}

		if attempt < maxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			b.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			if err := b.sleep(ctx, backoff); err != nil {
				return tgbotapi.Message{}, err
			}
		}
	}
	return tgbotapi.Message{}, fmt.Errorf("telegram send failed after %d attempts: %w", maxSendRetries+1, lastErr)
}

// splitText cuts text into chunks of at most maxLen bytes, preferring
// newline boundaries.
func splitText(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !isRuneStart(text[cutAt]) {
				cutAt--
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
