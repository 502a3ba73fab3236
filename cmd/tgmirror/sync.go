package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tgmirror/internal/config"
	"tgmirror/internal/cursor"
	"tgmirror/internal/domain"
	"tgmirror/internal/media"
	"tgmirror/internal/metrics"
	"tgmirror/internal/registry"
	"tgmirror/internal/relay"
	"tgmirror/internal/store"
	"tgmirror/internal/syncer"
	"tgmirror/internal/telegram"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// app holds everything the sync commands share.
type app struct {
	cfg      *config.Config
	registry *registry.Registry
	store    store.Store
	bot      *telegram.Bot
	metrics  *metrics.Collector
	engine   *syncer.Engine
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// openStore opens the registry and the document store. Both failures are
// fatal startup errors.
func openStore(ctx context.Context, cfg *config.Config) (*registry.Registry, store.Store, error) {
	reg, err := registry.FromConfig(cfg)
	if err != nil {
		return nil, nil, domain.Wrap(domain.KindFatalStartup, "channel registry", err)
	}
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	st, err := store.Open(openCtx, cfg.Store.DSN, cfg.Store.Database, logger)
	if err != nil {
		return nil, nil, domain.Wrap(domain.KindFatalStartup, "open store", err)
	}
	return reg, st, nil
}

// openApp connects the bot, store and relay and builds the engine. With
// persistCursors the cursor map is seeded from the store.
func openApp(ctx context.Context, cfg *config.Config, persistCursors bool) (*app, error) {
	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" || strings.HasPrefix(token, "${") {
		return nil, domain.Wrap(domain.KindFatalStartup, "telegram", errors.New("bot token is not set"))
	}

	reg, st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, registry: reg, store: st, metrics: metrics.New()}

	a.bot, err = telegram.New(telegram.Config{
		Token:             token,
		APIEndpoint:       cfg.Telegram.APIEndpoint,
		HistoryBuffer:     cfg.Telegram.HistoryBuffer,
		SendRatePerSecond: cfg.Telegram.SendRatePerSecond,
		SendBurst:         cfg.Telegram.SendBurst,
		HTTPTimeout:       cfg.Relay.Timeout(),
		Logger:            logger,
	})
	if err != nil {
		a.Close()
		return nil, domain.Wrap(domain.KindFatalStartup, "telegram", err)
	}
	// Updates are only kept for registered channels, so resolve them before
	// the first drain.
	refs := make([]string, 0, reg.Len())
	for _, ch := range reg.Channels() {
		refs = append(refs, ch.SourceID)
	}
	if err := a.bot.Watch(ctx, refs...); err != nil {
		logger.Warn("cannot resolve every channel yet", "err", err)
	}

	deps := syncer.Deps{
		Source:  a.bot,
		Store:   st,
		Metrics: a.metrics,
		Logger:  logger,
	}

	if cfg.Relay.URL != "" {
		host, err := relay.Open(cfg.Relay.URL, cfg.Relay.BaseURL, cfg.Relay.Timeout(), logger)
		if err != nil {
			a.Close()
			return nil, domain.Wrap(domain.KindFatalStartup, "relay", err)
		}
		maxBytes, _ := cfg.Relay.MaxMediaBytes()
		deps.Relay = host
		deps.Media = media.NewRelay(a.bot, host, media.Options{
			MaxBytes: maxBytes,
			TempDir:  cfg.Relay.TempDir,
			Logger:   logger,
		})
	} else {
		logger.Warn("relay.url is empty, media will not be relayed")
	}

	if persistCursors {
		deps.Cursors, err = cursor.Load(ctx, st, logger)
		if err != nil {
			a.Close()
			return nil, domain.Wrap(domain.KindFatalStartup, "cursors", err)
		}
	} else {
		deps.Cursors = cursor.New(nil)
	}

	a.engine = syncer.New(deps, syncer.Options{
		FetchWindow:       cfg.Sync.FetchWindow,
		OutboundBatch:     cfg.Sync.OutboundBatch,
		RetentionBatch:    cfg.Sync.RetentionBatch,
		AttributeOutbound: cfg.Sync.AttributeOutbound,
	})
	return a, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the realtime sync loop",
		Long:  "Runs inbound, outbound and retention for every registered channel until interrupted. Press Ctrl+C to stop.",
		RunE:  runSync,
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, cfg.Sync.PersistCursors)
	if err != nil {
		logger.Error("startup failed", "kind", domain.KindOf(err), "err", err)
		return err
	}
	defer a.Close()

	if cfg.Metrics.Enabled {
		go func() {
			if err := a.metrics.Serve(ctx, cfg.Metrics.Listen, logger); err != nil {
				logger.Error("metrics listener failed", "addr", cfg.Metrics.Listen, "err", err)
			}
		}()
	}

	logger.Info("tgmirror started",
		"version", version,
		"store", a.store.Backend(),
		"channels", a.registry.Len(),
		"persist_cursors", cfg.Sync.PersistCursors,
	)

	orch := syncer.NewOrchestrator(a.engine, a.registry.Channels(), cfg.Sync.Interval())
	return orch.Run(ctx)
}

func backfillCmd() *cobra.Command {
	var (
		channel     string
		pageSize    int
		maxMessages int
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Import channel history once",
		Long:  "Pages through the history the bot can see, newest first, and stores every message that is not stored yet. Cursors are not changed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if pageSize <= 0 {
				pageSize = cfg.Backfill.PageSize
			}
			if maxMessages <= 0 {
				maxMessages = cfg.Backfill.MaxMessages
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			channels := a.registry.Channels()
			if channel != "" {
				ch, ok := a.registry.Lookup(channel)
				if !ok {
					return fmt.Errorf("unknown channel: %s", channel)
				}
				channels = []domain.ChannelDescriptor{ch}
			}

			var failed int
			for _, ch := range channels {
				stats, err := a.engine.Backfill(ctx, ch, pageSize, maxMessages)
				fmt.Printf("%-20s seen=%d stored=%d skipped=%d failed=%d\n",
					ch.DisplayName, stats.Seen, stats.Stored, stats.Skipped, stats.Failed)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					logger.Error("backfill failed", "channel", ch.DisplayName, "kind", domain.KindOf(err), "err", err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("backfill failed for %d channel(s)", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "only this channel (source id, name or collection)")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "history page size (default: backfill.pageSize)")
	cmd.Flags().IntVar(&maxMessages, "max", 0, "stop after this many messages per channel (default: backfill.maxMessages)")
	return cmd
}

func postCmd() *cobra.Command {
	var (
		channel   string
		from      string
		mediaURL  string
		mediaType string
	)
	cmd := &cobra.Command{
		Use:   "post [text]",
		Short: "Store an application message for delivery to a channel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := context.Background()
			reg, st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ch, ok := reg.Lookup(channel)
			if !ok {
				return fmt.Errorf("unknown channel: %s", channel)
			}

			rec := domain.MessageRecord{
				ID:                uuid.NewString(),
				ChannelID:         ch.SourceID,
				SenderID:          "app_" + strings.ToLower(strings.ReplaceAll(from, " ", "_")),
				SenderDisplayName: from,
				Text:              strings.Join(args, " "),
				CreatedAt:         time.Now(),
				Origin:            domain.OriginApplication,
				MediaURL:          mediaURL,
				MediaType:         domain.MediaType(mediaType),
			}
			if mediaURL != "" && mediaType == "" {
				rec.MediaType = domain.MediaDocument
			}
			if err := st.Insert(ctx, ch.CollectionName, rec); err != nil {
				return fmt.Errorf("insert record: %w", err)
			}
			fmt.Printf("Queued %s for %s\n", rec.ID, ch.DisplayName)
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "target channel (source id, name or collection)")
	cmd.Flags().StringVar(&from, "from", "App User", "sender display name")
	cmd.Flags().StringVar(&mediaURL, "media-url", "", "attach media by public URL")
	cmd.Flags().StringVar(&mediaType, "media-type", "", "photo, video, audio or document")
	cmd.MarkFlagRequired("channel")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending deliveries and cursors per channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := context.Background()
			reg, st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			cursors, err := st.LoadCursors(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("tgmirror v%s  store=%s\n\n", version, st.Backend())
			fmt.Printf("%-20s %-24s %10s %10s %10s %12s\n", "CHANNEL", "COLLECTION", "RECORDS", "PENDING", "REJECTED", "CURSOR")
			for _, ch := range reg.Channels() {
				total, err := st.Count(ctx, ch.CollectionName, domain.Filter{Deleted: domain.Ptr(false)})
				if err != nil {
					return fmt.Errorf("count %s: %w", ch.CollectionName, err)
				}
				pending, err := st.Count(ctx, ch.CollectionName, domain.Filter{
					Origin:               domain.Ptr(domain.OriginApplication),
					SynchronizedToSource: domain.Ptr(false),
					Deleted:              domain.Ptr(false),
					Rejected:             domain.Ptr(false),
				})
				if err != nil {
					return fmt.Errorf("count %s: %w", ch.CollectionName, err)
				}
				rejected, err := st.Count(ctx, ch.CollectionName, domain.Filter{Rejected: domain.Ptr(true)})
				if err != nil {
					return fmt.Errorf("count %s: %w", ch.CollectionName, err)
				}
				cur := "-"
				if v, ok := cursors[ch.SourceID]; ok {
					cur = fmt.Sprint(v)
				}
				fmt.Printf("%-20s %-24s %10d %10d %10d %12s\n", ch.DisplayName, ch.CollectionName, total, pending, rejected, cur)
			}
			if !cfg.Sync.PersistCursors {
				fmt.Println("\nCursors are kept in memory by the running process (sync.persistCursors=false).")
			}
			return nil
		},
	}
}
