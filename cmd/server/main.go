package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc"
	"github.com/xaenox/agent-router/internal/agents"
	"github.com/xaenox/agent-router/internal/chat"
	"github.com/xaenox/agent-router/internal/classifier"
	"github.com/xaenox/agent-router/internal/dispatch"
	"github.com/xaenox/agent-router/internal/llm"
	"github.com/xaenox/agent-router/internal/notify"
	"github.com/xaenox/agent-router/internal/server"
	"github.com/xaenox/agent-router/internal/storage"
	"github.com/xaenox/agent-router/internal/stream"
	"github.com/xaenox/agent-router/internal/tools"
	"github.com/xaenox/agent-router/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", configPath))
	}
	if cfg.Log.Development {
		if dev, err := zap.NewDevelopment(); err == nil {
			logger = dev
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	registry := tools.NewRegistry(store, logger)
	profiles, err := agents.NewMemoryStore(cfg.Profiles(), registry)
	if err != nil {
		logger.Fatal("Invalid agent profiles", zap.Error(err))
	}

	// Initialize the model client
	var responder llm.Responder
	if cfg.OpenAI.APIKey != "" {
		responder = llm.NewBreakerResponder(llm.NewOpenAIResponder(llm.OpenAIConfig{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
		}, logger), llm.BreakerConfig{
			MaxFailures: cfg.Breaker.MaxFailures,
			Timeout:     cfg.Breaker.Timeout,
			Interval:    cfg.Breaker.Interval,
		}, logger)
	} else {
		logger.Warn("No OpenAI API key configured, agents answer with scripted echoes")
		responder = llm.NewScriptedResponder(nil)
	}

	policyCfg := classifier.DefaultPolicyConfig()
	policyCfg.ContinuityBoost = cfg.Classifier.ContinuityBoost
	policyCfg.FollowUpMaxWords = cfg.Classifier.FollowUpMaxWords
	policy := classifier.NewPolicy(policyCfg)

	var clf classifier.Classifier
	switch {
	case cfg.Classifier.Backend == "gpt" && cfg.OpenAI.APIKey != "":
		clf = classifier.NewGPTClassifier(responder, cfg.Classifier.Model, policy, logger)
	case cfg.Classifier.Backend == "gpt":
		logger.Warn("GPT classifier needs an API key, falling back to keywords")
		clf = classifier.NewKeywordClassifier(policy)
	default:
		clf = classifier.NewKeywordClassifier(policy)
	}

	// Notifications
	hub := notify.NewHub(0, logger)
	defer hub.Close()
	publishers := notify.Multi{hub}
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegramPublisher(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Fatal("Failed to create telegram publisher", zap.Error(err))
		}
		publishers = append(publishers, tg)
	}

	titler := chat.NewTitler(responder, store, store, cfg.OpenAI.Model, logger)
	svc := chat.NewService(chat.Deps{
		Conversations: store,
		Messages:      store,
		Profiles:      profiles,
		Classifier:    clf,
		Dispatch:      dispatch.NewPolicy(),
		Multiplexer:   stream.NewMultiplexer(responder, store, logger, stream.WithTitler(titler)),
		Notifier:      publishers,
	}, chat.Config{
		HistoryLimit: cfg.Server.HistoryLimit,
		QueueSize:    cfg.Background.QueueSize,
	}, logger)

	worker := chat.NewWorker(svc, responder, registry, titler, chat.WorkerConfig{
		MaxWorkers:     cfg.Background.MaxWorkers,
		Attempts:       cfg.Background.Attempts,
		Delay:          cfg.Background.Delay,
		AttemptTimeout: cfg.Background.AttemptTimeout,
	}, logger)

	var wg conc.WaitGroup
	wg.Go(func() { worker.Run(ctx) })

	srv := server.New(ctx, svc, hub, server.Config{
		Addr:            cfg.Server.Addr,
		RateLimitPerMin: cfg.Server.RateLimitPerMin,
		RateBurst:       cfg.Server.RateBurst,
		Heartbeat:       cfg.Server.Heartbeat,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, logger)

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server error", zap.Error(err))
		stop()
	}
	wg.Wait()
	svc.Close()
	logger.Info("Stopped")
}
