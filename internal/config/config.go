package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the root configuration for relaybot.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Server   ServerConfig   `json:"server"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	AI       AIConfig       `json:"ai"`
	Store    StoreConfig    `json:"store"`
	Pipeline PipelineConfig `json:"pipeline"`
	Delivery DeliveryConfig `json:"delivery"`
	Notify   NotifyConfig   `json:"notify"`
}

type GeneralConfig struct {
	LogLevel     string `json:"logLevel"`
	BusinessName string `json:"businessName"`
	BusinessID   string `json:"businessId"`
}

type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	WebhookPath string `json:"webhookPath"`
	VerifyToken string `json:"verifyToken,omitempty"`
	AppSecret   string `json:"appSecret,omitempty"`
}

type WhatsAppConfig struct {
	AccessToken   string `json:"accessToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	APIBase       string `json:"apiBase,omitempty"`
}

type AIConfig struct {
	APIKey    string `json:"apiKey,omitempty"`
	APIBase   string `json:"apiBase,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type PipelineConfig struct {
	DedupTTLSeconds     int `json:"dedupTtlSeconds"`
	GroupWaitSeconds    int `json:"groupWaitSeconds"`
	GroupMaxWaitSeconds int `json:"groupMaxWaitSeconds"`
	MaxConcurrent       int `json:"maxConcurrent"`
}

type DeliveryConfig struct {
	MaxAttempts         int `json:"maxAttempts"`
	RetryDelaySeconds   int `json:"retryDelaySeconds"`
	SentCacheTTLSeconds int `json:"sentCacheTtlSeconds"`
}

type NotifyConfig struct {
	DedupTTLMinutes int                  `json:"dedupTtlMinutes"`
	PhrasesFile     string               `json:"phrasesFile,omitempty"`
	Telegram        TelegramNotifyConfig `json:"telegram,omitempty"`
	Slack           SlackNotifyConfig    `json:"slack,omitempty"`
	Discord         DiscordNotifyConfig  `json:"discord,omitempty"`
}

type TelegramNotifyConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chatId,omitempty"`
}

type SlackNotifyConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

type DiscordNotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
}

// secrets are the credential fields that may arrive through the process
// environment instead of the config file. A set env var wins over the file.
type secrets struct {
	WhatsAppAccessToken   string `env:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppPhoneNumberID string `env:"WHATSAPP_PHONE_NUMBER_ID"`
	WebhookVerifyToken    string `env:"WEBHOOK_VERIFY_TOKEN"`
	WebhookAppSecret      string `env:"WEBHOOK_APP_SECRET"`
	AIAPIKey              string `env:"AI_API_KEY"`
	TelegramToken         string `env:"TELEGRAM_BOT_TOKEN"`
	SlackBotToken         string `env:"SLACK_BOT_TOKEN"`
	DiscordToken          string `env:"DISCORD_BOT_TOKEN"`
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = expandPath(cfg.Store.DBPath)
	cfg.Notify.PhrasesFile = expandPath(cfg.Notify.PhrasesFile)

	if err := applySecrets(cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applySecrets overlays credential env vars onto the loaded config.
func applySecrets(cfg *Config) error {
	var s secrets
	if err := env.Parse(&s); err != nil {
		return err
	}
	if s.WhatsAppAccessToken != "" {
		cfg.WhatsApp.AccessToken = s.WhatsAppAccessToken
	}
	if s.WhatsAppPhoneNumberID != "" {
		cfg.WhatsApp.PhoneNumberID = s.WhatsAppPhoneNumberID
	}
	if s.WebhookVerifyToken != "" {
		cfg.Server.VerifyToken = s.WebhookVerifyToken
	}
	if s.WebhookAppSecret != "" {
		cfg.Server.AppSecret = s.WebhookAppSecret
	}
	if s.AIAPIKey != "" {
		cfg.AI.APIKey = s.AIAPIKey
	}
	if s.TelegramToken != "" {
		cfg.Notify.Telegram.Token = s.TelegramToken
	}
	if s.SlackBotToken != "" {
		cfg.Notify.Slack.BotToken = s.SlackBotToken
	}
	if s.DiscordToken != "" {
		cfg.Notify.Discord.Token = s.DiscordToken
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}
	if cfg.Pipeline.DedupTTLSeconds < 1 {
		errs = append(errs, "pipeline.dedupTtlSeconds must be at least 1")
	}
	if cfg.Pipeline.GroupWaitSeconds < 1 {
		errs = append(errs, "pipeline.groupWaitSeconds must be at least 1")
	}
	if cfg.Pipeline.GroupMaxWaitSeconds < cfg.Pipeline.GroupWaitSeconds {
		errs = append(errs, "pipeline.groupMaxWaitSeconds must be >= groupWaitSeconds")
	}
	if cfg.Pipeline.MaxConcurrent < 1 || cfg.Pipeline.MaxConcurrent > 100 {
		errs = append(errs, "pipeline.maxConcurrent must be between 1 and 100")
	}
	if cfg.Delivery.MaxAttempts < 1 || cfg.Delivery.MaxAttempts > 10 {
		errs = append(errs, "delivery.maxAttempts must be between 1 and 10")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// expandPath resolves a leading ~/ against the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
