// Package telegram adapts the Telegram Bot API to domain.Source.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"tgmirror/internal/domain"
)

// botAPI is the subset of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Config struct {
	Token       string
	APIEndpoint string
	// HistoryBuffer is the number of posts kept per chat for FetchHistory.
	HistoryBuffer     int
	SendRatePerSecond float64
	SendBurst         int
	HTTPTimeout       time.Duration
	Logger            *slog.Logger
}

// Bot implements domain.Source for channels the bot administers.
type Bot struct {
	api     botAPI
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	// now reads the clock for identity expiry; replaced in tests.
	now func() time.Time

	mu         sync.Mutex
	offset     int
	bufferSize int
	history    map[int64][]domain.SourceMessage
	users      map[int64]cachedIdentity
	chats      map[string]int64
	watched    map[int64]bool
}

const (
	identityTTL    = time.Hour
	maxCachedUsers = 1024
)

type cachedIdentity struct {
	ident domain.Identity
	at    time.Time
}

var _ domain.Source = (*Bot)(nil)

// New connects to the Bot API. It fails when the token is rejected.
func New(cfg Config) (*Bot, error) {
	var (
		api *tgbotapi.BotAPI
		err error
	)
	if cfg.APIEndpoint != "" {
		api, err = tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, cfg.APIEndpoint)
	} else {
		api, err = tgbotapi.NewBotAPI(cfg.Token)
	}
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	b := newBot(api, cfg)
	b.logger.Info("telegram bot connected",
		"username", api.Self.UserName,
		"id", api.Self.ID,
	)
	return b, nil
}

func newBot(api botAPI, cfg Config) *Bot {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HistoryBuffer < 1 {
		cfg.HistoryBuffer = 500
	}
	limit := rate.Inf
	if cfg.SendRatePerSecond > 0 {
		limit = rate.Limit(cfg.SendRatePerSecond)
	}
	burst := cfg.SendBurst
	if burst < 1 {
		burst = 1
	}
	return &Bot{
		api:        api,
		http:       sharedHTTPClient(cfg.HTTPTimeout),
		limiter:    rate.NewLimiter(limit, burst),
		logger:     cfg.Logger,
		sleep:      sleepContext,
		now:        time.Now,
		bufferSize: cfg.HistoryBuffer,
		history:    make(map[int64][]domain.SourceMessage),
		users:      make(map[int64]cachedIdentity),
		chats:      make(map[string]int64),
		watched:    make(map[int64]bool),
	}
}

// Watch resolves the given channel references up front so that updates
// for them are buffered from the first drain on. Updates from chats that
// were never resolved are dropped. A reference that fails to resolve does
// not stop the others.
func (b *Bot) Watch(ctx context.Context, refs ...string) error {
	var errs []error
	for _, ref := range refs {
		if _, err := b.chatID(ctx, ref); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// chatID maps a channel reference (numeric id or @username) to a chat id
// and marks the chat as watched.
func (b *Bot) chatID(ctx context.Context, ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		b.mu.Lock()
		b.watched[id] = true
		b.mu.Unlock()
		return id, nil
	}
	if !strings.HasPrefix(ref, "@") {
		ref = "@" + ref
	}

	b.mu.Lock()
	id, ok := b.chats[ref]
	b.mu.Unlock()
	if ok {
		return id, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	chat, err := b.api.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: ref},
	})
	if err != nil {
		return 0, fmt.Errorf("resolve chat %s: %w", ref, err)
	}
	b.mu.Lock()
	b.chats[ref] = chat.ID
	b.watched[chat.ID] = true
	b.mu.Unlock()
	return chat.ID, nil
}

// ResolveIdentity returns a user's profile, preferring what recent updates
// already carried over a getChat round trip. Cached profiles expire after
// identityTTL so renames are picked up.
func (b *Bot) ResolveIdentity(ctx context.Context, userID int64) (domain.Identity, error) {
	b.mu.Lock()
	c, ok := b.users[userID]
	b.mu.Unlock()
	if ok && b.now().Sub(c.at) < identityTTL {
		return c.ident, nil
	}
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, err
	}

	chat, err := b.api.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: userID},
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("resolve user %d: %w", userID, err)
	}
	ident := domain.Identity{
		Username:  chat.UserName,
		FirstName: chat.FirstName,
		LastName:  chat.LastName,
	}
	b.mu.Lock()
	b.rememberUser(userID, ident)
	b.mu.Unlock()
	return ident, nil
}

// rememberUser caches ident, evicting expired entries and then the oldest
// one when the cache is full. Callers hold b.mu.
func (b *Bot) rememberUser(userID int64, ident domain.Identity) {
	now := b.now()
	if _, ok := b.users[userID]; !ok && len(b.users) >= maxCachedUsers {
		var oldestID int64
		var oldest time.Time
		for id, c := range b.users {
			if now.Sub(c.at) >= identityTTL {
				delete(b.users, id)
				continue
			}
			if oldest.IsZero() || c.at.Before(oldest) {
				oldestID, oldest = id, c.at
			}
		}
		if len(b.users) >= maxCachedUsers {
			delete(b.users, oldestID)
		}
	}
	b.users[userID] = cachedIdentity{ident: ident, at: now}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
