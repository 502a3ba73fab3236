// Package registry loads the static list of mirrored channels.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"tgmirror/internal/config"
	"tgmirror/internal/domain"

	"gopkg.in/yaml.v3"
)

// ErrEmpty is returned when no channel is configured.
var ErrEmpty = errors.New("channel registry is empty")

// Registry is an ordered, immutable list of channel descriptors.
type Registry struct {
	channels []domain.ChannelDescriptor
}

type file struct {
	Channels []config.ChannelConfig `yaml:"channels"`
}

// LoadFile reads a YAML registry:
//
//	channels:
//	  - source: "@ArchivChannel"
//	    name: Archive
//	    collection: archiv_messages
//	    mediaFolder: /videos/
func LoadFile(p string, defaultRetention time.Duration) (*Registry, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read channel registry %s: %w", p, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse channel registry %s: %w", p, err)
	}
	return New(f.Channels, defaultRetention)
}

// FromConfig builds the registry from channelsFile when set, otherwise from
// the inline channels list.
func FromConfig(cfg *config.Config) (*Registry, error) {
	if cfg.ChannelsFile != "" {
		return LoadFile(cfg.ChannelsFile, cfg.Sync.Retention())
	}
	return New(cfg.Channels, cfg.Sync.Retention())
}

// New validates entries and fills defaults. Order is preserved.
func New(entries []config.ChannelConfig, defaultRetention time.Duration) (*Registry, error) {
	if len(entries) == 0 {
		return nil, ErrEmpty
	}
	seenSource := make(map[string]bool, len(entries))
	seenCollection := make(map[string]bool, len(entries))
	out := make([]domain.ChannelDescriptor, 0, len(entries))

	for i, e := range entries {
		src := strings.TrimSpace(e.Source)
		coll := strings.TrimSpace(e.Collection)
		if src == "" || coll == "" {
			return nil, fmt.Errorf("channel %d: source and collection are required", i)
		}
		if seenSource[src] {
			return nil, fmt.Errorf("channel %d: duplicate source %s", i, src)
		}
		if seenCollection[coll] {
			return nil, fmt.Errorf("channel %d: collection %s is already mapped", i, coll)
		}
		seenSource[src] = true
		seenCollection[coll] = true

		name := strings.TrimSpace(e.Name)
		if name == "" {
			name = strings.TrimPrefix(src, "@")
		}
		retention := defaultRetention
		if e.RetentionHours > 0 {
			retention = time.Duration(e.RetentionHours) * time.Hour
		}
		prefix := e.FilePrefix
		if prefix == "" {
			prefix = DefaultFilePrefix(name)
		}

		out = append(out, domain.ChannelDescriptor{
			SourceID:       src,
			DisplayName:    name,
			CollectionName: coll,
			MediaNamespace: normalizeFolder(e.MediaFolder, coll),
			FilePrefix:     prefix,
			Retention:      retention,
		})
	}
	return &Registry{channels: out}, nil
}

// Channels returns the descriptors in registration order.
func (r *Registry) Channels() []domain.ChannelDescriptor {
	out := make([]domain.ChannelDescriptor, len(r.channels))
	copy(out, r.channels)
	return out
}

// Lookup finds a channel by source id, display name or collection.
func (r *Registry) Lookup(key string) (domain.ChannelDescriptor, bool) {
	for _, ch := range r.channels {
		if ch.SourceID == key || ch.DisplayName == key || ch.CollectionName == key {
			return ch, true
		}
	}
	return domain.ChannelDescriptor{}, false
}

func (r *Registry) Len() int { return len(r.channels) }

var prefixUnsafe = regexp.MustCompile(`[^a-z0-9_-]+`)

// DefaultFilePrefix lowercases the display name and drops anything that
// would not be safe in a file name.
func DefaultFilePrefix(name string) string {
	p := prefixUnsafe.ReplaceAllString(strings.ToLower(name), "")
	if p == "" {
		return "media"
	}
	return p
}

func normalizeFolder(folder, collection string) string {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		folder = collection
	}
	return path.Clean("/"+folder) + "/"
}
