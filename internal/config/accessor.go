package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// setting is one scalar option reachable by `tgmirror config get/set`.
type setting struct {
	get func(c *Config) any
	set func(c *Config, raw string) error
}

func intSetting(field func(c *Config) *int) setting {
	return setting{
		get: func(c *Config) any { return *field(c) },
		set: func(c *Config, raw string) error {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("expected an integer, got %q", raw)
			}
			*field(c) = n
			return nil
		},
	}
}

func boolSetting(field func(c *Config) *bool) setting {
	return setting{
		get: func(c *Config) any { return *field(c) },
		set: func(c *Config, raw string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("expected true or false, got %q", raw)
			}
			*field(c) = b
			return nil
		},
	}
}

func floatSetting(field func(c *Config) *float64) setting {
	return setting{
		get: func(c *Config) any { return *field(c) },
		set: func(c *Config, raw string) error {
			f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return fmt.Errorf("expected a number, got %q", raw)
			}
			*field(c) = f
			return nil
		},
	}
}

func stringSetting(field func(c *Config) *string) setting {
	return setting{
		get: func(c *Config) any { return *field(c) },
		set: func(c *Config, raw string) error {
			*field(c) = raw
			return nil
		},
	}
}

// sizeSetting stores a human size string after checking it parses.
func sizeSetting(field func(c *Config) *string) setting {
	s := stringSetting(field)
	s.set = func(c *Config, raw string) error {
		if strings.TrimSpace(raw) != "" {
			if _, err := humanize.ParseBytes(raw); err != nil {
				return fmt.Errorf("expected a size like 20MB, got %q", raw)
			}
		}
		*field(c) = raw
		return nil
	}
	return s
}

var settings = map[string]setting{
	"general.logLevel": stringSetting(func(c *Config) *string { return &c.General.LogLevel }),
	"general.logFile":  stringSetting(func(c *Config) *string { return &c.General.LogFile }),
	"general.dataDir":  stringSetting(func(c *Config) *string { return &c.General.DataDir }),

	"telegram.token":             stringSetting(func(c *Config) *string { return &c.Telegram.Token }),
	"telegram.apiEndpoint":       stringSetting(func(c *Config) *string { return &c.Telegram.APIEndpoint }),
	"telegram.historyBuffer":     intSetting(func(c *Config) *int { return &c.Telegram.HistoryBuffer }),
	"telegram.sendRatePerSecond": floatSetting(func(c *Config) *float64 { return &c.Telegram.SendRatePerSecond }),
	"telegram.sendBurst":         intSetting(func(c *Config) *int { return &c.Telegram.SendBurst }),

	"store.dsn":      stringSetting(func(c *Config) *string { return &c.Store.DSN }),
	"store.database": stringSetting(func(c *Config) *string { return &c.Store.Database }),

	"relay.url":            stringSetting(func(c *Config) *string { return &c.Relay.URL }),
	"relay.baseUrl":        stringSetting(func(c *Config) *string { return &c.Relay.BaseURL }),
	"relay.timeoutSeconds": intSetting(func(c *Config) *int { return &c.Relay.TimeoutSeconds }),
	"relay.maxMediaSize":   sizeSetting(func(c *Config) *string { return &c.Relay.MaxMediaSize }),
	"relay.tempDir":        stringSetting(func(c *Config) *string { return &c.Relay.TempDir }),

	"sync.intervalSeconds":   intSetting(func(c *Config) *int { return &c.Sync.IntervalSeconds }),
	"sync.fetchWindow":       intSetting(func(c *Config) *int { return &c.Sync.FetchWindow }),
	"sync.outboundBatch":     intSetting(func(c *Config) *int { return &c.Sync.OutboundBatch }),
	"sync.retentionBatch":    intSetting(func(c *Config) *int { return &c.Sync.RetentionBatch }),
	"sync.retentionHours":    intSetting(func(c *Config) *int { return &c.Sync.RetentionHours }),
	"sync.persistCursors":    boolSetting(func(c *Config) *bool { return &c.Sync.PersistCursors }),
	"sync.attributeOutbound": boolSetting(func(c *Config) *bool { return &c.Sync.AttributeOutbound }),

	"backfill.pageSize":    intSetting(func(c *Config) *int { return &c.Backfill.PageSize }),
	"backfill.maxMessages": intSetting(func(c *Config) *int { return &c.Backfill.MaxMessages }),

	"channelsFile": stringSetting(func(c *Config) *string { return &c.ChannelsFile }),

	"metrics.enabled": boolSetting(func(c *Config) *bool { return &c.Metrics.Enabled }),
	"metrics.listen":  stringSetting(func(c *Config) *string { return &c.Metrics.Listen }),
}

func lookup(key string) (setting, error) {
	s, ok := settings[key]
	if !ok {
		return setting{}, fmt.Errorf("unknown setting %q (see 'tgmirror config keys')", key)
	}
	return s, nil
}

// Keys lists every setting name in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetByPath returns the value of one setting, e.g. "sync.fetchWindow".
func GetByPath(cfg *Config, key string) (any, error) {
	s, err := lookup(key)
	if err != nil {
		return nil, err
	}
	return s.get(cfg), nil
}

// SetByPath parses raw into the typed field behind key.
func SetByPath(cfg *Config, key, raw string) error {
	s, err := lookup(key)
	if err != nil {
		return err
	}
	if err := s.set(cfg, raw); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// Set changes one setting in the config file at path. The result is
// validated with ${VAR} placeholders expanded, but the file keeps the
// placeholders so secrets from the environment never land on disk.
func Set(path, key, raw string) error {
	expanded, err := parse(path, true)
	if err != nil {
		return err
	}
	if err := SetByPath(expanded, key, raw); err != nil {
		return err
	}
	if err := Validate(expanded); err != nil {
		return err
	}

	stored, err := parse(path, false)
	if err != nil {
		return err
	}
	if err := SetByPath(stored, key, raw); err != nil {
		return err
	}
	return Save(ExpandPath(path), stored)
}

// Sanitize returns a copy of the config with the bot token and URL
// passwords masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var masked Config
	if err := json.Unmarshal(data, &masked); err != nil {
		return cfg
	}

	if masked.Telegram.Token != "" && !strings.HasPrefix(masked.Telegram.Token, "${") {
		masked.Telegram.Token = maskToken(masked.Telegram.Token)
	}
	masked.Relay.URL = maskURLPassword(masked.Relay.URL)
	masked.Store.DSN = maskURLPassword(masked.Store.DSN)
	return &masked
}

// maskToken keeps the first and last 4 characters.
func maskToken(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func maskURLPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "***")
	return u.String()
}

