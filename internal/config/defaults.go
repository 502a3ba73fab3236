package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			DataDir:  "~/.tgmirror",
		},
		Telegram: TelegramConfig{
			HistoryBuffer:     500,
			SendRatePerSecond: 1,
			SendBurst:         3,
		},
		Store: StoreConfig{
			DSN:      "~/.tgmirror/records.db",
			Database: "tgmirror",
		},
		Relay: RelayConfig{
			TimeoutSeconds: 30,
			MaxMediaSize:   "20MB",
		},
		Sync: SyncConfig{
			IntervalSeconds:   2,
			FetchWindow:       100,
			OutboundBatch:     50,
			RetentionBatch:    50,
			RetentionHours:    24,
			PersistCursors:    false,
			AttributeOutbound: true,
		},
		Backfill: BackfillConfig{
			PageSize:    100,
			MaxMessages: 10000,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
	}
}
