package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Matrix: MatrixConfig{
			Homeserver:         "https://matrix.org",
			Autojoin:           true,
			SyncTimeoutSeconds: 30,
		},
		Telegram: TelegramConfig{
			Enabled: false,
		},
		Bot: BotConfig{
			Prefix:           "!",
			SourceURL:        "https://ari.lt/gh/quotes-bot",
			CaptionMaxLength: 128,
			ScoreDefault:     10,
			Concurrency:      8,
		},
		Imag: ImagConfig{
			BaseURL:        "https://imag.example.com/",
			IDEndpoint:     "count",
			TimeoutSeconds: 30,
		},
		Store: StoreConfig{
			Enabled:       true,
			DBPath:        "~/.quotesbot/ledger.db",
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9100",
		},
	}
}
