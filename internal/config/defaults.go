package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:     "info",
			BusinessName: "relaybot",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			WebhookPath: "/webhook",
		},
		WhatsApp: WhatsAppConfig{
			APIBase: "https://graph.facebook.com/v21.0",
		},
		AI: AIConfig{
			APIBase:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 512,
		},
		Store: StoreConfig{
			DBPath: "~/.relaybot/relaybot.db",
		},
		Pipeline: PipelineConfig{
			DedupTTLSeconds:     60,
			GroupWaitSeconds:    3,
			GroupMaxWaitSeconds: 5,
			MaxConcurrent:       5,
		},
		Delivery: DeliveryConfig{
			MaxAttempts:         3,
			RetryDelaySeconds:   1,
			SentCacheTTLSeconds: 10,
		},
		Notify: NotifyConfig{
			DedupTTLMinutes: 5,
		},
	}
}
