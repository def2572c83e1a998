package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/config"
	"relaybot/internal/delivery"
	"relaybot/internal/domain"
	"relaybot/internal/notify"
	"relaybot/internal/pipeline"
	"relaybot/internal/responder"
	"relaybot/internal/store"
	"relaybot/internal/webhook"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.1"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "relaybot",
		Short: "relaybot: business-messaging AI relay",
		Long:  "relaybot relays customer messages between a business messaging channel and an AI responder, and alerts a human operator when a reply needs follow-up.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.relaybot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and message pipeline",
		RunE:  runServe,
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("relaybot", version)
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	logger = newLogger(cfg.General.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	convStore, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return err
	}
	defer convStore.Close()

	messageBus := bus.New(100, logger)
	defer messageBus.Close()

	sender := delivery.NewWhatsAppSender(cfg.WhatsApp, logger)
	manager := delivery.NewManager(delivery.ManagerConfig{
		Sender:      sender,
		Logger:      logger,
		MaxAttempts: cfg.Delivery.MaxAttempts,
		RetryDelay:  time.Duration(cfg.Delivery.RetryDelaySeconds) * time.Second,
		CacheTTL:    time.Duration(cfg.Delivery.SentCacheTTLSeconds) * time.Second,
	})

	trigger, err := buildTrigger(cfg)
	if err != nil {
		return err
	}

	pipe := pipeline.New(pipeline.Config{
		Bus:         messageBus,
		Store:       convStore,
		Responder:   responder.NewOpenAI(cfg.AI, logger),
		Delivery:    manager,
		Trigger:     trigger,
		BusinessID:  cfg.General.BusinessID,
		DedupTTL:    time.Duration(cfg.Pipeline.DedupTTLSeconds) * time.Second,
		GroupWait:   time.Duration(cfg.Pipeline.GroupWaitSeconds) * time.Second,
		GroupMax:    time.Duration(cfg.Pipeline.GroupMaxWaitSeconds) * time.Second,
		Concurrency: cfg.Pipeline.MaxConcurrent,
		Logger:      logger,
	})

	server := webhook.NewServer(cfg.Server, messageBus, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()
	go pipe.Run(ctx)

	logger.Info("relaybot started", "version", version, "business", cfg.General.BusinessName)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("webhook server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildTrigger assembles the handoff trigger from the configured rules
// file and alert backends.
func buildTrigger(cfg *config.Config) (*notify.Trigger, error) {
	rules := notify.DefaultRules()
	if cfg.Notify.PhrasesFile != "" {
		loaded, err := notify.LoadRules(cfg.Notify.PhrasesFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	var notifiers []domain.Notifier
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID, logger)
		if err != nil {
			logger.Error("telegram notifier disabled", "err", err)
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	if cfg.Notify.Slack.Enabled {
		notifiers = append(notifiers, notify.NewSlack(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channel, logger))
	}
	if cfg.Notify.Discord.Enabled {
		dc, err := notify.NewDiscord(cfg.Notify.Discord.Token, cfg.Notify.Discord.ChannelID, logger)
		if err != nil {
			logger.Error("discord notifier disabled", "err", err)
		} else {
			notifiers = append(notifiers, dc)
		}
	}
	if len(notifiers) == 0 {
		logger.Warn("no alert backends configured, handoff alerts will only be logged")
	}

	return notify.NewTrigger(notify.TriggerConfig{
		Rules:        rules,
		Notifiers:    notifiers,
		BusinessName: cfg.General.BusinessName,
		DedupTTL:     time.Duration(cfg.Notify.DedupTTLMinutes) * time.Minute,
		Logger:       logger,
	})
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config summary and recent conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			fmt.Println("relaybot", version)
			fmt.Println("config:  ", cfgPath)
			fmt.Println("webhook: ", fmt.Sprintf("%s:%d%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.WebhookPath))
			fmt.Println("channel: ", credState(cfg.WhatsApp.AccessToken != "" && cfg.WhatsApp.PhoneNumberID != ""))
			fmt.Println("ai:      ", credState(cfg.AI.APIKey != ""), "("+cfg.AI.Model+")")

			convStore, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				return err
			}
			defer convStore.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := convStore.Ping(ctx); err != nil {
				return fmt.Errorf("store unreachable: %w", err)
			}
			fmt.Println("store:   ", cfg.Store.DBPath)

			convs, err := convStore.ListConversations(ctx, 10)
			if err != nil {
				return err
			}

			fmt.Printf("\nrecent conversations (%d):\n", len(convs))
			for _, conv := range convs {
				state := "bot on"
				if !conv.BotActive {
					state = "bot off"
				}
				last := "never"
				if !conv.LastMessageAt.IsZero() {
					last = conv.LastMessageAt.Format(time.RFC3339)
				}
				fmt.Printf("  %-16s %-7s last=%s\n", conv.Phone, state, last)
			}
			return nil
		},
	}
}

func credState(ok bool) string {
	if ok {
		return "configured"
	}
	return "missing (simulated mode)"
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
