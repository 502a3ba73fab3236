// Package syncer mirrors channels between the source platform and the
// document store: inbound ingest, outbound delivery and retention.
package syncer

import (
	"context"
	"log/slog"
	"time"

	"tgmirror/internal/cursor"
	"tgmirror/internal/domain"
	"tgmirror/internal/media"
	"tgmirror/internal/metrics"
)

// MediaRelayer moves one attachment to the relay host.
type MediaRelayer interface {
	Relay(ctx context.Context, ch domain.ChannelDescriptor, ref domain.MediaRef, messageID int64, text string) (*media.Result, error)
}

type Options struct {
	// FetchWindow is how many of the newest source messages inbound reads.
	FetchWindow       int
	OutboundBatch     int
	RetentionBatch    int
	AttributeOutbound bool
}

func (o Options) withDefaults() Options {
	if o.FetchWindow < 1 {
		o.FetchWindow = 100
	}
	if o.OutboundBatch < 1 {
		o.OutboundBatch = 50
	}
	if o.RetentionBatch < 1 {
		o.RetentionBatch = 50
	}
	return o
}

// Deps are the collaborators of an Engine. Media and Relay may be nil, in
// which case attachments are not relayed and relay objects not deleted.
type Deps struct {
	Source  domain.Source
	Store   domain.DocumentStore
	Media   MediaRelayer
	Relay   domain.RelayHost
	Cursors *cursor.Map
	Metrics *metrics.Collector
	Clock   domain.Clock
	Logger  *slog.Logger
}

// Engine runs the three per-channel phases. It is not safe for concurrent
// use; the Orchestrator serializes all calls.
type Engine struct {
	source  domain.Source
	store   domain.DocumentStore
	media   MediaRelayer
	relay   domain.RelayHost
	cursors *cursor.Map
	metrics *metrics.Collector
	now     domain.Clock
	logger  *slog.Logger
	opts    Options
}

func New(deps Deps, opts Options) *Engine {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Cursors == nil {
		deps.Cursors = cursor.New(nil)
	}
	return &Engine{
		source:  deps.Source,
		store:   deps.Store,
		media:   deps.Media,
		relay:   deps.Relay,
		cursors: deps.Cursors,
		metrics: deps.Metrics,
		now:     deps.Clock,
		logger:  deps.Logger,
		opts:    opts.withDefaults(),
	}
}

// Cursors exposes the cursor map the inbound phase advances.
func (e *Engine) Cursors() *cursor.Map {
	return e.cursors
}

func (e *Engine) channelLogger(ch domain.ChannelDescriptor) *slog.Logger {
	return e.logger.With("channel", ch.DisplayName, "source", ch.SourceID)
}
