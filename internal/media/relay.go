// Package media moves message attachments from the source platform to the
// relay host.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"tgmirror/internal/domain"
)

// ErrTooLarge is returned for attachments above the configured size limit.
var ErrTooLarge = errors.New("attachment exceeds size limit")

// Downloader fetches attachment bytes from the source platform.
type Downloader interface {
	DownloadMedia(ctx context.Context, media domain.MediaRef, w io.Writer) (int64, error)
}

// Result describes a relayed attachment.
type Result struct {
	URL              string
	Path             string
	Type             domain.MediaType
	OriginalFileName string
}

// Relay downloads attachments into a temp file and uploads them to a host.
type Relay struct {
	source   Downloader
	host     domain.RelayHost
	maxBytes int64
	tempDir  string
	logger   *slog.Logger
}

type Options struct {
	// MaxBytes caps attachment size; 0 means unlimited.
	MaxBytes int64
	// TempDir holds transient downloads; empty uses os.TempDir.
	TempDir string
	Logger  *slog.Logger
}

func NewRelay(source Downloader, host domain.RelayHost, opts Options) *Relay {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Relay{
		source:   source,
		host:     host,
		maxBytes: opts.MaxBytes,
		tempDir:  opts.TempDir,
		logger:   opts.Logger,
	}
}

// Relay moves one attachment to ch's media folder. Every failure is
// returned as a media relay SyncError; the temp file is always removed.
func (r *Relay) Relay(ctx context.Context, ch domain.ChannelDescriptor, ref domain.MediaRef, messageID int64, text string) (*Result, error) {
	const op = "media relay"

	kind := Classify(ref)
	name := DeriveName(ref.FileName, text, ch.FilePrefix, messageID, kind)
	relayPath := RelayPath(ch.MediaNamespace, name)

	if r.maxBytes > 0 && ref.Size > r.maxBytes {
		return nil, domain.Wrap(domain.KindMediaRelay, op, fmt.Errorf("%s is %s, limit %s: %w",
			name, humanize.Bytes(uint64(ref.Size)), humanize.Bytes(uint64(r.maxBytes)), ErrTooLarge))
	}

	tmp, err := os.CreateTemp(r.tempDir, "tgmirror-media-*")
	if err != nil {
		return nil, domain.Wrap(domain.KindMediaRelay, op, fmt.Errorf("create temp file: %w", err))
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	var w io.Writer = tmp
	if r.maxBytes > 0 {
		w = &limitWriter{w: tmp, remaining: r.maxBytes}
	}
	n, err := r.source.DownloadMedia(ctx, ref, w)
	if err != nil {
		return nil, domain.Wrap(domain.KindMediaRelay, op, fmt.Errorf("download %s: %w", name, err))
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, domain.Wrap(domain.KindMediaRelay, op, err)
	}

	if err := r.host.Put(ctx, relayPath, tmp); err != nil {
		return nil, domain.Wrap(domain.KindMediaRelay, op, fmt.Errorf("upload %s: %w", relayPath, err))
	}

	size, ok, err := r.host.Size(ctx, relayPath)
	if err != nil || !ok || size != n {
		if delErr := r.host.Delete(ctx, relayPath); delErr != nil {
			r.logger.Warn("failed to remove incomplete upload", "path", relayPath, "err", delErr)
		}
		if err == nil {
			err = fmt.Errorf("uploaded size %d (present=%v), expected %d", size, ok, n)
		}
		return nil, domain.Wrap(domain.KindMediaRelay, op, fmt.Errorf("verify %s: %w", relayPath, err))
	}

	r.logger.Info("media relayed",
		"path", relayPath,
		"type", kind,
		"size", humanize.Bytes(uint64(n)),
	)
	return &Result{
		URL:              r.host.PublicURL(relayPath),
		Path:             relayPath,
		Type:             kind,
		OriginalFileName: ref.FileName,
	}, nil
}

// limitWriter fails once more than remaining bytes are written.
type limitWriter struct {
	w         io.Writer
	remaining int64
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.remaining {
		return 0, ErrTooLarge
	}
	n, err := l.w.Write(p)
	l.remaining -= int64(n)
	return n, err
}
