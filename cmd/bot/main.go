package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/pflag"
	"github.com/xaenox/voice-bot/internal/assistant"
	"github.com/xaenox/voice-bot/internal/bot"
	"github.com/xaenox/voice-bot/internal/classifier"
	"github.com/xaenox/voice-bot/internal/llm"
	"github.com/xaenox/voice-bot/internal/session"
	"github.com/xaenox/voice-bot/internal/speech"
	"github.com/xaenox/voice-bot/internal/storage"
	"github.com/xaenox/voice-bot/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "path to the config file")
	envPath := pflag.StringP("env", "e", ".env", "path to a dotenv file")
	pflag.Parse()

	// Bootstrap logger for config errors
	boot, _ := zap.NewProduction()

	if err := config.LoadEnv(*envPath); err != nil {
		boot.Fatal("Failed to load env file", zap.Error(err), zap.String("path", *envPath))
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		boot.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		boot.Fatal("Failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	// Initialize storage
	db, err := storage.Open(storage.DatabaseConfig{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		Path:     cfg.Database.Path,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Storage ready", zap.String("driver", cfg.Database.Driver))

	openaiClient, err := llm.NewClient(llm.ClientConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Proxy:   cfg.OpenAI.Proxy,
		Timeout: cfg.OpenAI.Timeout,
	})
	if err != nil {
		logger.Fatal("Failed to create OpenAI client", zap.Error(err))
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal("Failed to create Telegram client", zap.Error(err))
	}
	api.Debug = cfg.Telegram.Debug
	logger.Info("Bot authorized", zap.String("username", api.Self.UserName))

	b := bot.New(bot.Deps{
		API:      api,
		DB:       db,
		Sessions: session.NewStore(),
		Responder: assistant.NewClient(openaiClient, assistant.Config{
			Model:        cfg.OpenAI.Model,
			PollInterval: cfg.OpenAI.PollInterval,
		}, logger),
		Transcriber:       speech.NewWhisperTranscriber(openaiClient, cfg.OpenAI.STTModel, logger),
		Synthesizer:       speech.NewTTSSynthesizer(openaiClient, cfg.OpenAI.TTSModel, cfg.OpenAI.TTSVoice, logger),
		Confirmer:         classifier.NewGPTConfirmer(openaiClient, cfg.OpenAI.Model, 0, logger),
		Logger:            logger,
		Instructions:      cfg.OpenAI.Instructions,
		MentalAssistantID: cfg.OpenAI.MentalAssistantID,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Telegram.Timeout
	updates := api.GetUpdatesChan(u)

	// Start the bot
	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()
	if err := b.Run(ctx, updates); err != nil {
		logger.Error("Bot error", zap.Error(err))
	}
	logger.Info("Bot stopped")
}
